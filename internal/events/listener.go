package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrDeliveriesClosed is returned by Run when the broker closes the delivery channel
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Source hands out deliveries of the bound event queue
type Source interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
}

// Handler processes one decoded event
type Handler func(ctx context.Context, event Event) error

// ListenerConfig configures a Listener
type ListenerConfig struct {
	Logger      *slog.Logger
	Source      Source
	Handler     Handler
	ConsumerTag string
	Prefetch    int
}

// Listener consumes lifecycle events published by the API service
type Listener struct {
	logger      *slog.Logger
	source      Source
	handler     Handler
	consumerTag string
	prefetch    int
}

// NewListener creates a listener; an empty consumer tag gets a random one
func NewListener(config *ListenerConfig) *Listener {
	tag := config.ConsumerTag
	if tag == "" {
		tag = "event-listener-" + uuid.NewString()
	}
	return &Listener{
		logger:      config.Logger,
		source:      config.Source,
		handler:     config.Handler,
		consumerTag: tag,
		prefetch:    config.Prefetch,
	}
}

// Run consumes until ctx is done or the broker closes the delivery channel
func (l *Listener) Run(ctx context.Context) error {
	deliveries, err := l.source.Consume(l.consumerTag, l.prefetch)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	l.logger.Info("Event listener started",
		slog.String("consumer_tag", l.consumerTag),
	)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("Event listener stopped - context canceled")
			return nil

		case delivery, ok := <-deliveries:
			if !ok {
				l.logger.Warn("RabbitMQ delivery channel closed")
				return ErrDeliveriesClosed
			}
			l.handle(ctx, delivery)
		}
	}
}

func (l *Listener) handle(ctx context.Context, delivery amqp.Delivery) {
	var event Event
	if err := json.Unmarshal(delivery.Body, &event); err != nil {
		l.logger.Error("Failed to parse event JSON",
			slog.Any("error", err),
			slog.String("body", string(delivery.Body)),
		)
		l.reject(delivery)
		return
	}

	if _, err := uuid.Parse(event.JobID); err != nil {
		l.logger.Error("Invalid job_id format - not a UUID",
			slog.String("job_id", event.JobID),
			slog.Any("error", err),
		)
		l.reject(delivery)
		return
	}

	if err := l.handler(ctx, event); err != nil {
		l.logger.Error("Failed to handle job event",
			slog.String("job_id", event.JobID),
			slog.String("type", string(event.Type)),
			slog.Any("error", err),
		)
		l.reject(delivery)
		return
	}

	if err := delivery.Ack(false); err != nil {
		l.logger.Error("Failed to ACK event",
			slog.String("job_id", event.JobID),
			slog.Any("error", err),
		)
	}
}

// reject drops the delivery without requeue so a poison message cannot loop
func (l *Listener) reject(delivery amqp.Delivery) {
	if err := delivery.Nack(false, false); err != nil {
		l.logger.Error("Failed to NACK event",
			slog.Any("error", err),
		)
	}
}

// LogHandler writes every event to logger
func LogHandler(logger *slog.Logger) Handler {
	return func(_ context.Context, event Event) error {
		attrs := []any{
			slog.String("job_id", event.JobID),
			slog.String("type", string(event.Type)),
			slog.String("status", event.Status),
			slog.Int("record_count", event.RecordCount),
			slog.Time("occurred_at", event.OccurredAt),
		}
		if event.ErrorMessage != "" {
			attrs = append(attrs, slog.String("error_message", event.ErrorMessage))
		}
		logger.Info("Job event received", attrs...)
		return nil
	}
}
