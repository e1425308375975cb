package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"eventdedup/internal/config"

	"github.com/nats-io/nats.go"
)

const transportNATS = "nats"

// NATSSubscriber consumes event payloads via JetStream queue consumer.
// Params: NATS connection, JetStream queue subscription, and processor.
// Returns: NATS ingest lifecycle handle.
type NATSSubscriber struct {
	nc        *nats.Conn
	sub       *nats.Subscription
	processor Processor
	observer  Observer
	logger    *slog.Logger
	nackDelay time.Duration
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewNATSSubscriber connects, ensures stream, and starts JetStream queue consumer.
// Params: ingest NATS config, processor, optional observer, and logger.
// Returns: started subscriber or initialization error.
func NewNATSSubscriber(cfg config.NATSIngestConfig, processor Processor, observer Observer, logger *slog.Logger) (*NATSSubscriber, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(strings.Join(cfg.URL, ","), nats.Name("eventdedup-ingest"))
	if err != nil {
		return nil, fmt.Errorf("connect nats ingest: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for ingest: %w", err)
	}
	if err := ensureStream(js, cfg.Stream, cfg.Subject); err != nil {
		nc.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	subscriber := &NATSSubscriber{
		nc:        nc,
		processor: processor,
		observer:  observer,
		logger:    logger,
		nackDelay: time.Duration(cfg.NackDelayMS) * time.Millisecond,
		ctx:       ctx,
		cancel:    cancel,
	}
	subOpts := []nats.SubOpt{
		nats.BindStream(cfg.Stream),
		nats.Durable(cfg.ConsumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(time.Duration(cfg.AckWaitSec) * time.Second),
		nats.MaxDeliver(cfg.MaxDeliver),
		nats.MaxAckPending(cfg.MaxAckPending),
		nats.DeliverAll(),
	}
	sub, err := js.QueueSubscribe(cfg.Subject, cfg.DeliverGroup, subscriber.handle, subOpts...)
	if err != nil {
		cancel()
		nc.Close()
		return nil, fmt.Errorf("queue subscribe %q/%q: %w", cfg.Subject, cfg.DeliverGroup, err)
	}
	subscriber.sub = sub
	return subscriber, nil
}

// handle processes one JetStream message.
// Malformed payloads are acked and dropped; admission failures are nacked for redelivery.
func (s *NATSSubscriber) handle(message *nats.Msg) {
	events, err := DecodePayload(message.Data)
	if err != nil {
		s.logger.Warn("nats ingest decode failed", "subject", message.Subject, "error", err.Error())
		s.observe(resultInvalid)
		s.ackMessage(message, "decode")
		return
	}

	summary := processAll(s.ctx, s.processor, events)
	if summary.Unavailable {
		s.logger.Warn("nats ingest dispatch unavailable, requesting redelivery",
			"subject", message.Subject, "events", len(events), "processed", len(summary.Decisions))
		s.observe(resultUnavailable)
		s.nackMessage(message)
		return
	}
	if summary.Rejected == len(events) {
		s.observe(resultInvalid)
	} else {
		s.observe(resultAccepted)
	}
	s.ackMessage(message, "processed")
}

func (s *NATSSubscriber) observe(result string) {
	if s.observer != nil {
		s.observer.ObserveIngest(transportNATS, result)
	}
}

// ackMessage acknowledges message and logs ack failures.
func (s *NATSSubscriber) ackMessage(message *nats.Msg, reason string) {
	if err := message.Ack(); err != nil {
		s.logger.Warn("nats ingest ack failed", "subject", message.Subject, "reason", reason, "error", err.Error())
	}
}

// nackMessage asks JetStream to redeliver message after configured delay.
func (s *NATSSubscriber) nackMessage(message *nats.Msg) {
	var err error
	if s.nackDelay > 0 {
		err = message.NakWithDelay(s.nackDelay)
	} else {
		err = message.Nak()
	}
	if err != nil {
		s.logger.Warn("nats ingest nack failed", "subject", message.Subject, "error", err.Error())
	}
}

// Close drains subscription, cancels in-flight processing, and closes connection.
// Params: none.
// Returns: subscription drain error.
func (s *NATSSubscriber) Close() error {
	var drainErr error
	if s.sub != nil {
		drainErr = s.sub.Drain()
	}
	s.cancel()
	s.nc.Close()
	return drainErr
}

// ensureStream creates ingest stream when it does not exist.
func ensureStream(js nats.JetStreamContext, streamName, subject string) error {
	if _, err := js.StreamInfo(streamName); err == nil {
		return nil
	} else if !errors.Is(err, nats.ErrStreamNotFound) && !strings.Contains(strings.ToLower(err.Error()), "stream not found") {
		return fmt.Errorf("stream info %q: %w", streamName, err)
	}
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      streamName,
		Subjects:  []string{subject},
		Retention: nats.WorkQueuePolicy,
		Storage:   nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("create stream %q: %w", streamName, err)
	}
	return nil
}
