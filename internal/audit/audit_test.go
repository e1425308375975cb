package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"eventdedup/internal/config"
	"eventdedup/internal/domain"
	"eventdedup/test/testutil"

	"github.com/nats-io/nats.go"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type memorySink struct {
	mu      sync.Mutex
	records []domain.AuditRecord
	gate    chan struct{}
	err     error
	closed  atomic.Bool
}

func (s *memorySink) Name() string { return "memory" }

func (s *memorySink) Write(_ context.Context, record domain.AuditRecord) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	s.records = append(s.records, record)
	s.mu.Unlock()
	return s.err
}

func (s *memorySink) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *memorySink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func record(key string, decision domain.DecisionKind) domain.AuditRecord {
	return domain.AuditRecord{
		ID:        "id-" + key,
		Key:       key,
		DeviceID:  "Server-Rack3-Unit2",
		MessageID: "Alert.1.0.TemperatureCritical",
		Decision:  decision,
		Timestamp: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestEmitterDeliversToAllSinksAndFlushesOnClose(t *testing.T) {
	t.Parallel()

	first, second := &memorySink{}, &memorySink{}
	emitter := NewEmitter(16, []Sink{first, second}, slog.New(slog.NewTextHandler(io.Discard, nil)), Hooks{})
	emitter.Start()

	for i := 0; i < 5; i++ {
		require.True(t, emitter.Emit(record("k", domain.DecisionSuppressed)))
	}
	require.NoError(t, emitter.Close(context.Background()))

	require.Equal(t, 5, first.len())
	require.Equal(t, 5, second.len())
	require.True(t, first.closed.Load())
	require.False(t, emitter.Emit(record("late", domain.DecisionFresh)))
}

func TestEmitterDropsWhenBufferFull(t *testing.T) {
	t.Parallel()

	gate := make(chan struct{})
	sink := &memorySink{gate: gate}
	var drops atomic.Int32
	emitter := NewEmitter(1, []Sink{sink}, slog.New(slog.NewTextHandler(io.Discard, nil)), Hooks{
		OnDrop: func() { drops.Add(1) },
	})
	emitter.Start()

	require.True(t, emitter.Emit(record("a", domain.DecisionFresh)))
	require.Eventually(t, func() bool { return len(emitter.records) == 0 }, time.Second, time.Millisecond)
	require.True(t, emitter.Emit(record("b", domain.DecisionFresh)))

	done := make(chan bool)
	go func() { done <- emitter.Emit(record("c", domain.DecisionFresh)) }()
	select {
	case accepted := <-done:
		require.False(t, accepted)
	case <-time.After(time.Second):
		t.Fatalf("Emit blocked on full buffer")
	}
	require.Equal(t, uint64(1), emitter.Dropped())
	require.Equal(t, int32(1), drops.Load())

	close(gate)
	require.NoError(t, emitter.Close(context.Background()))
	require.Equal(t, 2, sink.len())
}

func TestEmitterCountsSinkErrors(t *testing.T) {
	t.Parallel()

	sink := &memorySink{err: errors.New("down")}
	var failed atomic.Value
	emitter := NewEmitter(4, []Sink{sink}, slog.New(slog.NewTextHandler(io.Discard, nil)), Hooks{
		OnSinkError: func(name string) { failed.Store(name) },
	})
	emitter.Start()
	emitter.Emit(record("k", domain.DecisionFresh))
	require.NoError(t, emitter.Close(context.Background()))
	require.Equal(t, "memory", failed.Load())
}

func TestLogSinkWritesOutcomes(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	sink := NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)), "info")
	rec := record("k", domain.DecisionDispatched)
	rec.Outcomes = []domain.ActionOutcome{{Action: "ShutdownServer", Status: domain.ActionFailed}}
	require.NoError(t, sink.Write(context.Background(), rec))
	require.Contains(t, buf.String(), `"decision":"dispatched"`)
	require.Contains(t, buf.String(), `"action.ShutdownServer":"failed"`)
}

type fakeKafkaWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
}

func (w *fakeKafkaWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeKafkaWriter) Close() error { return nil }

func TestKafkaSinkKeysMessagesByDedupKey(t *testing.T) {
	t.Parallel()

	writer := &fakeKafkaWriter{}
	sink := &KafkaSink{writer: writer}
	require.NoError(t, sink.Write(context.Background(), record("dev/a/b/c", domain.DecisionFresh)))

	require.Len(t, writer.msgs, 1)
	msg := writer.msgs[0]
	require.Equal(t, "dev/a/b/c", string(msg.Key))
	var decoded domain.AuditRecord
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, domain.DecisionFresh, decoded.Decision)
	require.Equal(t, "decision", msg.Headers[0].Key)
}

func TestNewKafkaSinkConfiguresWriter(t *testing.T) {
	t.Parallel()

	sink := NewKafkaSink(config.AuditKafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "redfish-audit", BatchTimeoutMS: 50})
	writer, ok := sink.writer.(*kafka.Writer)
	require.True(t, ok)
	require.Equal(t, "redfish-audit", writer.Topic)
	require.Equal(t, 50*time.Millisecond, writer.BatchTimeout)
	require.Equal(t, kafka.RequireAll, writer.RequiredAcks)
}

func TestNATSSinkPublishesRecord(t *testing.T) {
	url, stop := testutil.StartLocalNATSServer(t)
	defer stop()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	defer nc.Close()
	sub, err := nc.SubscribeSync("redfish.audit")
	require.NoError(t, err)
	require.NoError(t, nc.Flush())

	sink, err := NewNATSSink(config.AuditNATSConfig{Enabled: true, URL: []string{url}, Subject: "redfish.audit"})
	require.NoError(t, err)
	defer sink.Close()

	require.NoError(t, sink.Write(context.Background(), record("k", domain.DecisionSuppressed)))
	msg, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "id-k", msg.Header.Get("Nats-Msg-Id"))

	var decoded domain.AuditRecord
	require.NoError(t, json.Unmarshal(msg.Data, &decoded))
	require.Equal(t, domain.DecisionSuppressed, decoded.Decision)
}

func TestBuildSinksHonorsToggles(t *testing.T) {
	t.Parallel()

	sinks, err := BuildSinks(config.AuditConfig{
		Log:   config.AuditLogConfig{Enabled: true, Level: "debug"},
		Kafka: config.AuditKafkaConfig{Enabled: true, Brokers: []string{"127.0.0.1:9092"}, Topic: "t"},
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	require.Len(t, sinks, 2)
	require.Equal(t, "log", sinks[0].Name())
	require.Equal(t, "kafka", sinks[1].Name())
}
