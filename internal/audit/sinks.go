package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"eventdedup/internal/config"
	"eventdedup/internal/domain"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
)

// LogSink writes audit records into service log.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink creates log sink.
// Params: logger and level name (debug/info/warn/error).
// Returns: sink instance.
func NewLogSink(logger *slog.Logger, level string) *LogSink {
	parsed := slog.LevelInfo
	_ = parsed.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level))))
	return &LogSink{logger: logger, level: parsed}
}

// Name returns sink label.
func (s *LogSink) Name() string { return "log" }

// Write logs one record.
func (s *LogSink) Write(ctx context.Context, record domain.AuditRecord) error {
	attrs := []any{
		"audit_id", record.ID,
		"key", record.Key,
		"device_id", record.DeviceID,
		"message_id", record.MessageID,
		"decision", string(record.Decision),
		"suppressed_count", record.SuppressedCount,
	}
	if record.Reason != "" {
		attrs = append(attrs, "reason", record.Reason)
	}
	for _, outcome := range record.Outcomes {
		attrs = append(attrs, "action."+outcome.Action, string(outcome.Status))
	}
	s.logger.Log(ctx, s.level, "audit", attrs...)
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error { return nil }

// NATSSink publishes audit records as JSON to NATS subject.
type NATSSink struct {
	nc      *nats.Conn
	subject string
}

// NewNATSSink connects to NATS and creates sink.
// Params: audit.nats config.
// Returns: sink or connect error.
func NewNATSSink(cfg config.AuditNATSConfig) (*NATSSink, error) {
	nc, err := nats.Connect(strings.Join(cfg.URL, ","), nats.Name("eventdedup-audit"))
	if err != nil {
		return nil, fmt.Errorf("connect audit nats: %w", err)
	}
	return &NATSSink{nc: nc, subject: cfg.Subject}, nil
}

// Name returns sink label.
func (s *NATSSink) Name() string { return "nats" }

// Write publishes one record; Nats-Msg-Id carries record ID for JetStream dedup.
func (s *NATSSink) Write(_ context.Context, record domain.AuditRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	msg := nats.NewMsg(s.subject)
	msg.Data = body
	msg.Header.Set("Nats-Msg-Id", record.ID)
	msg.Header.Set("Audit-Decision", string(record.Decision))
	if err := s.nc.PublishMsg(msg); err != nil {
		return fmt.Errorf("publish audit record: %w", err)
	}
	return nil
}

// Close flushes and closes NATS connection.
func (s *NATSSink) Close() error {
	if s == nil || s.nc == nil {
		return nil
	}
	err := s.nc.Flush()
	s.nc.Close()
	return err
}

// messageWriter is the subset of kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink writes audit records as JSON to Kafka topic keyed by dedup key.
type KafkaSink struct {
	writer messageWriter
}

// NewKafkaSink creates Kafka sink.
// Params: audit.kafka config.
// Returns: sink backed by kafka.Writer; records with equal key land on one partition.
func NewKafkaSink(cfg config.AuditKafkaConfig) *KafkaSink {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
	}
	if cfg.BatchTimeoutMS > 0 {
		writer.BatchTimeout = time.Duration(cfg.BatchTimeoutMS) * time.Millisecond
	}
	return &KafkaSink{writer: writer}
}

// Name returns sink label.
func (s *KafkaSink) Name() string { return "kafka" }

// Write sends one record.
func (s *KafkaSink) Write(ctx context.Context, record domain.AuditRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(record.Key),
		Value: body,
		Time:  record.Timestamp,
		Headers: []kafka.Header{
			{Key: "decision", Value: []byte(record.Decision)},
		},
	})
	if err != nil {
		return fmt.Errorf("write audit record to kafka: %w", err)
	}
	return nil
}

// Close flushes pending writes.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// BuildSinks creates enabled sinks from config.
// Params: audit config and service logger.
// Returns: sinks in log, nats, kafka order, or first construction error (already created sinks are closed).
func BuildSinks(cfg config.AuditConfig, logger *slog.Logger) ([]Sink, error) {
	sinks := make([]Sink, 0, 3)
	if cfg.Log.Enabled {
		sinks = append(sinks, NewLogSink(logger, cfg.Log.Level))
	}
	if cfg.NATS.Enabled {
		sink, err := NewNATSSink(cfg.NATS)
		if err != nil {
			for _, created := range sinks {
				_ = created.Close()
			}
			return nil, err
		}
		sinks = append(sinks, sink)
	}
	if cfg.Kafka.Enabled {
		sinks = append(sinks, NewKafkaSink(cfg.Kafka))
	}
	return sinks, nil
}
