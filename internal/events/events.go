// Package events publishes job lifecycle transitions for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cuongbtq/contacts-extractor/internal/domain"
)

// Type names a lifecycle transition
type Type string

const (
	TypeCreated   Type = "created"
	TypeStarted   Type = "started"
	TypeCompleted Type = "completed"
	TypeFailed    Type = "failed"
	TypeCancelled Type = "cancelled"
	TypeRemoved   Type = "removed"
)

// RoutingKeyPrefix is prepended to the event type to form the routing key
const RoutingKeyPrefix = "extraction.job."

// Event describes one job transition
type Event struct {
	Type         Type      `json:"type"`
	JobID        string    `json:"job_id"`
	Status       string    `json:"status,omitempty"`
	RecordCount  int       `json:"record_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// RoutingKey returns the topic routing key of the event
func (e Event) RoutingKey() string {
	return RoutingKeyPrefix + string(e.Type)
}

// FromJob builds an event of type t from a job snapshot
func FromJob(t Type, job *domain.Job) Event {
	e := Event{
		Type:        t,
		JobID:       job.JobID,
		Status:      string(job.Status),
		RecordCount: job.RecordCount,
		OccurredAt:  time.Now().UTC(),
	}
	if job.ErrorMessage != nil {
		e.ErrorMessage = *job.ErrorMessage
	}
	return e
}

// Publisher delivers lifecycle events. Implementations must be safe for
// concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Broker is the subset of the RabbitMQ client used for publishing
type Broker interface {
	PublishWithRetry(ctx context.Context, routingKey string, body []byte, contentType string) error
}

// BrokerPublisher publishes events as JSON through a message broker
type BrokerPublisher struct {
	broker Broker
}

// NewBrokerPublisher creates a publisher on top of broker
func NewBrokerPublisher(broker Broker) *BrokerPublisher {
	return &BrokerPublisher{broker: broker}
}

func (p *BrokerPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return p.broker.PublishWithRetry(ctx, event.RoutingKey(), body, "application/json")
}

// Emit publishes event and logs, rather than returns, any failure.
// Lifecycle operations never fail because of event delivery.
func Emit(ctx context.Context, publisher Publisher, logger *slog.Logger, event Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.Warn("Failed to publish job event",
			slog.String("job_id", event.JobID),
			slog.String("type", string(event.Type)),
			slog.Any("error", err),
		)
	}
}
