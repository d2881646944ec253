package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ivankudzin/modqueue/internal/domain/model"
	"github.com/ivankudzin/modqueue/internal/pkg/validate"
	queuesvc "github.com/ivankudzin/modqueue/internal/services/queue"
	"github.com/ivankudzin/modqueue/internal/transport/http/dto"
	httperrors "github.com/ivankudzin/modqueue/internal/transport/http/errors"
)

type StatusHandler struct {
	service *queuesvc.Service
	logger  *zap.Logger
}

func NewStatusHandler(service *queuesvc.Service, logger *zap.Logger) *StatusHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusHandler{service: service, logger: logger}
}

func (h *StatusHandler) Status(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "QUEUE_SERVICE_UNAVAILABLE", "queue service is unavailable")
		return
	}
	contentID, ok := validate.UUID(chi.URLParam(r, "contentID"))
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "content id must be a uuid")
		return
	}

	st, err := h.service.GetStatus(r.Context(), contentID)
	if err != nil {
		if errors.Is(err, model.ErrItemNotFound) {
			writeNotFound(w, "ITEM_NOT_FOUND", "content was never queued")
			return
		}
		h.logger.Error("queue status failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to read queue status")
		return
	}
	httperrors.Write(w, http.StatusOK, toStatusResponse(st))
}

func (h *StatusHandler) Overview(w http.ResponseWriter, r *http.Request) {
	if h.service == nil {
		writeInternal(w, "QUEUE_SERVICE_UNAVAILABLE", "queue service is unavailable")
		return
	}

	overview, err := h.service.Overview(r.Context())
	if err != nil {
		h.logger.Error("queue overview failed", zap.Error(err))
		writeInternal(w, "INTERNAL_ERROR", "failed to read queue overview")
		return
	}

	resp := dto.QueueOverviewResponse{
		Queues:                   make([]dto.QueueLengthResponse, 0, len(overview.Queues)),
		AverageProcessingSeconds: overview.AverageProcessingTime.Seconds(),
		LastUpdated:              overview.LastUpdated.Truncate(time.Second),
	}
	for _, q := range overview.Queues {
		resp.Queues = append(resp.Queues, dto.QueueLengthResponse{
			QueueType:  string(q.QueueType),
			Pending:    q.Pending,
			Processing: q.Processing,
			Stuck:      q.Stuck,
		})
	}
	httperrors.Write(w, http.StatusOK, resp)
}
