package redis

import (
	"strings"
	"time"

	"github.com/ivankudzin/modqueue/internal/domain/enums"
)

type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "modq"
	}
	return keyspace{prefix: prefix}
}

func (k keyspace) pending(qt enums.QueueType) string {
	return k.prefix + ":queue:" + string(qt) + ":pending"
}

func (k keyspace) durations(qt enums.QueueType) string {
	return k.prefix + ":queue:" + string(qt) + ":durations"
}

func (k keyspace) health(qt enums.QueueType) string {
	return k.prefix + ":queue:" + string(qt) + ":health"
}

func (k keyspace) alert(name string) string {
	return k.prefix + ":alert:" + name
}

func (k keyspace) events(topic string) string {
	return k.prefix + ":events:" + topic
}

func (k keyspace) eventsPattern() string {
	return k.prefix + ":events:*"
}

func (k keyspace) rate(scope string, window time.Duration) string {
	return k.prefix + ":rate:" + scope + ":" + window.String()
}
