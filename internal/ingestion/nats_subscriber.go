package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/legasicrypto/borrowing-protocol/internal/observability"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds raw
// commands into the shell, which parses and forwards them to the
// deterministic engine. Each subject maps to one command type so
// consumers can scale independently.
type NATSSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	metrics     *observability.Metrics
	consumers   []jetstream.ConsumeContext
}

// RawCommand is the received-but-untyped command from NATS, ready for
// the shell to validate and convert into a typed command.Command.
type RawCommand struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to command types
type SubjectConfig struct {
	Subject      string
	CommandType  string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "lend.admin.initialize.>", CommandType: "Initialize", ConsumerName: "risk-initialize", StreamName: "LEND_ADMIN"},
		{Subject: "lend.positions.open.>", CommandType: "OpenPosition", ConsumerName: "risk-pos-open", StreamName: "LEND_POSITIONS"},
		{Subject: "lend.positions.draw.>", CommandType: "Draw", ConsumerName: "risk-pos-draw", StreamName: "LEND_POSITIONS"},
		{Subject: "lend.positions.repay.>", CommandType: "Repay", ConsumerName: "risk-pos-repay", StreamName: "LEND_POSITIONS"},
		{Subject: "lend.positions.accrue.>", CommandType: "AccrueInterest", ConsumerName: "risk-pos-accrue", StreamName: "LEND_POSITIONS"},
		{Subject: "lend.positions.close.>", CommandType: "ClosePosition", ConsumerName: "risk-pos-close", StreamName: "LEND_POSITIONS"},
		{Subject: "lend.positions.restate.>", CommandType: "RestateCollateral", ConsumerName: "risk-pos-restate", StreamName: "LEND_POSITIONS"},
		{Subject: "lend.liquidation.emit.>", CommandType: "EmitIntent", ConsumerName: "risk-liq-emit", StreamName: "LEND_LIQUIDATION"},
		{Subject: "lend.liquidation.compose.>", CommandType: "ComposeIntent", ConsumerName: "risk-liq-compose", StreamName: "LEND_LIQUIDATION"},
		{Subject: "lend.liquidation.accept.>", CommandType: "AcceptReceipt", ConsumerName: "risk-liq-accept", StreamName: "LEND_LIQUIDATION"},
		{Subject: "lend.liquidation.cancel.>", CommandType: "CancelIntent", ConsumerName: "risk-liq-cancel", StreamName: "LEND_LIQUIDATION"},
		{Subject: "lend.prices.>", CommandType: "UpdatePrice", ConsumerName: "risk-prices", StreamName: "LEND_PRICES"},
		{Subject: "lend.policy.set.>", CommandType: "SetPolicy", ConsumerName: "risk-policy-set", StreamName: "LEND_POLICY"},
		{Subject: "lend.policy.breaker.>", CommandType: "ToggleCircuitBreaker", ConsumerName: "risk-policy-breaker", StreamName: "LEND_POLICY"},
		{Subject: "lend.policy.venue.add.>", CommandType: "AddVenue", ConsumerName: "risk-venue-add", StreamName: "LEND_POLICY"},
		{Subject: "lend.policy.venue.remove.>", CommandType: "RemoveVenue", ConsumerName: "risk-venue-remove", StreamName: "LEND_POLICY"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, commandChan chan<- RawCommand, metrics *observability.Metrics) *NATSSubscriber {
	return &NATSSubscriber{
		js:          js,
		commandChan: commandChan,
		metrics:     metrics,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	log := observability.NewLogger("nats-subscriber")

	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			enqueued := time.Now()
			select {
			case ns.commandChan <- raw:
				if ns.metrics != nil {
					ns.metrics.NATSEnqueueLatency.WithLabelValues(cfg.Subject).Observe(time.Since(enqueued).Seconds())
				}
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	log := observability.NewLogger("nats-subscriber")

	streams := []jetstream.StreamConfig{
		{
			Name:      "LEND_ADMIN",
			Subjects:  []string{"lend.admin.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEND_POSITIONS",
			Subjects:  []string{"lend.positions.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEND_LIQUIDATION",
			Subjects:  []string{"lend.liquidation.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEND_PRICES",
			Subjects:  []string{"lend.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "LEND_POLICY",
			Subjects:  []string{"lend.policy.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log := observability.NewLogger("nats-subscriber")
	log.Info().Msg("subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	log := observability.NewLogger("nats")

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
