package memory

import (
	"context"
	"sync"
	"time"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
)

const durationWindow = 50

type DurationRepo struct {
	mu     sync.Mutex
	recent map[enums.QueueType][]time.Duration
}

func NewDurationRepo() *DurationRepo {
	return &DurationRepo{recent: make(map[enums.QueueType][]time.Duration)}
}

func (r *DurationRepo) Record(_ context.Context, qt enums.QueueType, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	window := append(r.recent[qt], d)
	if len(window) > durationWindow {
		window = window[len(window)-durationWindow:]
	}
	r.recent[qt] = window
	return nil
}

func (r *DurationRepo) Average(_ context.Context, qt enums.QueueType) (time.Duration, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	window := r.recent[qt]
	if len(window) == 0 {
		return 0, false, nil
	}
	var sum time.Duration
	for _, d := range window {
		sum += d
	}
	return sum / time.Duration(len(window)), true, nil
}
