// Package events publishes pool lifecycle and job failure events.
package events

import (
	"context"
	"time"

	"github.com/fluxorio/jobpool/pkg/core"
	"github.com/fluxorio/jobpool/pkg/core/concurrency"
)

// Type names an event. It is appended to the publisher's subject prefix.
type Type string

const (
	PoolStarted Type = "pool.started"
	PoolStopped Type = "pool.stopped"
	JobPanicked Type = "job.panicked"
)

// Event is the JSON payload of every published message.
type Event struct {
	ID     string                 `json:"id"`
	Type   Type                   `json:"type"`
	Time   time.Time              `json:"time"`
	Source string                 `json:"source"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(typ Type, source string, data map[string]interface{}) Event {
	return Event{
		ID:     core.GenerateRequestID(),
		Type:   typ,
		Time:   time.Now().UTC(),
		Source: source,
		Data:   data,
	}
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// PanicObserver returns a job observer that publishes a JobPanicked event for
// every job that panicked. Publish failures are logged, never propagated.
func PanicObserver(pub Publisher, source string, logger core.Logger) concurrency.JobObserver {
	if logger == nil {
		logger = core.NewDefaultLogger()
	}
	return func(result concurrency.JobResult) {
		if result.Panic == nil {
			return
		}
		ev := New(JobPanicked, source, map[string]interface{}{
			"worker_id":  result.WorkerID,
			"job":        result.Name,
			"panic":      result.Panic.Error(),
			"elapsed_ms": result.Elapsed.Milliseconds(),
		})
		if err := pub.Publish(context.Background(), ev); err != nil {
			logger.Warnf("publish %s for %s: %v", ev.Type, result.Name, err)
		}
	}
}
