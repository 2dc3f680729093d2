package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"lendpool/internal/observability"
)

// PriceSubscriber consumes oracle price ticks from NATS JetStream and feeds
// them into the engine loop via tickChan. Price ticks are the only streaming
// input; user actions arrive over HTTP.
type PriceSubscriber struct {
	js        jetstream.JetStream
	tickChan  chan<- RawTick
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawTick is a price message pulled off NATS, not yet validated. Ack after
// the engine has accepted or knowingly dropped it; Nak to force redelivery.
type RawTick struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func()
	NakFunc   func()
}

const (
	priceStreamName   = "LEND_PRICES"
	priceSubject      = "lend.prices.>"
	priceConsumerName = "lendpool-prices"
)

func NewPriceSubscriber(js jetstream.JetStream, tickChan chan<- RawTick) *PriceSubscriber {
	return &PriceSubscriber{
		js:       js,
		tickChan: tickChan,
		logger:   observability.NewLogger("feed"),
	}
}

// Subscribe creates the durable JetStream consumer for price ticks.
// Explicit ACK, max_deliver=5, ack_wait=30s.
func (ps *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, priceStreamName, jetstream.ConsumerConfig{
		Durable:       priceConsumerName,
		FilterSubject: priceSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", priceConsumerName, err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawTick{
			Subject:   msg.Subject(),
			Data:      msg.Data(),
			Timestamp: time.Now(),
			AckFunc:   func() { msg.Ack() },
			NakFunc:   func() { msg.Nak() },
		}

		select {
		case ps.tickChan <- raw:
		case <-ctx.Done():
			msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", priceConsumerName, err)
	}

	ps.consumers = append(ps.consumers, consumerContext)
	ps.logger.Info().Str("subject", priceSubject).Str("consumer", priceConsumerName).Msg("subscribed")
	return nil
}

// EnsureStreams creates the price stream if it does not exist. FileStorage,
// retention by limits, 72h max age.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      priceStreamName,
		Subjects:  []string{priceSubject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    72 * time.Hour,
		Replicas:  1,
	})
	if err != nil {
		return fmt.Errorf("create stream %s: %w", priceStreamName, err)
	}
	return nil
}

// Stop gracefully stops all consumers.
func (ps *PriceSubscriber) Stop() {
	for _, cc := range ps.consumers {
		cc.Stop()
	}
	ps.logger.Info().Msg("price subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	logger := observability.NewLogger("nats")

	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
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
