package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/legasicrypto/borrowing-protocol/internal/observability"
)

// OutboundPublisher publishes committed events to NATS for downstream
// consumers. Events go out only after persistence is confirmed.
// Subjects follow the pattern: lend.events.{event_type}[.{asset}]
type OutboundPublisher struct {
	js        jetstream.JetStream
	inputChan <-chan PublishableEvent
}

// PublishableEvent is a committed event ready for outbound publishing.
type PublishableEvent struct {
	Sequence       int64       `json:"sequence"`
	EventType      string      `json:"event_type"`
	IdempotencyKey string      `json:"idempotency_key"`
	Asset          *string     `json:"asset,omitempty"`
	Payload        interface{} `json:"payload"`
	StateHash      []byte      `json:"state_hash"`
	OccurredAt     int64       `json:"occurred_at"`
	PublishedAt    time.Time   `json:"published_at"`
}

func NewOutboundPublisher(js jetstream.JetStream, inputChan <-chan PublishableEvent) *OutboundPublisher {
	return &OutboundPublisher{
		js:        js,
		inputChan: inputChan,
	}
}

// Run starts the outbound publisher loop
func (op *OutboundPublisher) Run(ctx context.Context) error {
	log := observability.NewLogger("publisher")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case evt, ok := <-op.inputChan:
			if !ok {
				return nil
			}

			if err := op.publish(ctx, evt); err != nil {
				// Non-fatal: downstream consumers can query the event
				// log directly
				log.Warn().Int64("sequence", evt.Sequence).Err(err).Msg("outbound publish failed")
			}
		}
	}
}

func (op *OutboundPublisher) publish(ctx context.Context, evt PublishableEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("lend.events.%s", evt.EventType)
	if evt.Asset != nil {
		subject = fmt.Sprintf("%s.%s", subject, *evt.Asset)
	}

	_, err = op.js.Publish(ctx, subject, data)
	return err
}

// EnsureOutboundStream creates the outbound events stream.
func EnsureOutboundStream(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      "LEND_EVENTS",
		Subjects:  []string{"lend.events.>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	log := observability.NewLogger("publisher")
	log.Info().Msg("ensured outbound stream LEND_EVENTS")
	return nil
}
