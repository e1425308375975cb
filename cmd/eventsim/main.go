package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventdedup/internal/catalog"
	"eventdedup/internal/domain"
	"eventdedup/internal/ingest"

	"github.com/google/uuid"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run replays catalog event templates against a running service.
// Params: CLI args (--catalog, --target, --duplicates, --interval, --delay, --device) and output streams.
// Returns: exit code 2 on bad flags or catalog, 1 when any delivery failed or run was interrupted.
func run(args []string, stdout, stderr io.Writer) int {
	flags := flag.NewFlagSet("eventsim", flag.ContinueOnError)
	flags.SetOutput(stderr)
	var (
		catalogPath = flags.String("catalog", "examples/catalog", "catalog file or directory with event templates")
		target      = flags.String("target", "http://localhost:5001/events", "ingest endpoint URL")
		duplicates  = flags.Int("duplicates", 0, "extra copies sent for each event")
		interval    = flags.Duration("interval", time.Second, "pause between duplicate copies")
		delay       = flags.Duration("delay", 2*time.Second, "pause between distinct events")
		device      = flags.String("device", "", "only replay templates of this device")
	)
	if err := flags.Parse(args); err != nil {
		return 2
	}

	logger := slog.New(slog.NewTextHandler(stdout, nil))
	if *duplicates < 0 {
		_, _ = fmt.Fprintln(stderr, "--duplicates must be >=0")
		return 2
	}

	snapshot, err := catalog.Load(*catalogPath)
	if err != nil {
		_, _ = fmt.Fprintln(stderr, "load catalog:", err.Error())
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sim := &simulator{target: *target, client: &http.Client{Timeout: 10 * time.Second}, logger: logger}
	failed := 0
	for _, deviceID := range snapshot.DeviceIDs() {
		if *device != "" && deviceID != *device {
			continue
		}
		for _, template := range snapshot.Templates(deviceID) {
			for copyN := 0; copyN <= *duplicates; copyN++ {
				if err := sim.send(ctx, template); err != nil {
					failed++
					logger.Error("event delivery failed", "device_id", deviceID, "message_id", template.MessageID, "error", err.Error())
				}
				if copyN < *duplicates && !sleep(ctx, *interval) {
					return 1
				}
			}
			if !sleep(ctx, *delay) {
				return 1
			}
		}
	}
	logger.Info("simulation finished", "sent", sim.sent, "failed", failed)
	if failed > 0 {
		return 1
	}
	return 0
}

type simulator struct {
	target string
	client *http.Client
	logger *slog.Logger
	sent   int
}

// send posts one template instance as Redfish envelope.
func (s *simulator) send(ctx context.Context, template domain.Event) error {
	event := template
	event.EventID = uuid.NewString()
	event.Timestamp = time.Now().UTC()
	body, err := ingest.EncodeEnvelope("Redfish Event Simulator", []domain.Event{event})
	if err != nil {
		return err
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")
	response, err := s.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	s.sent++

	var summary ingest.Summary
	payload, _ := io.ReadAll(io.LimitReader(response.Body, 1<<20))
	if err := json.Unmarshal(payload, &summary); err != nil || len(summary.Decisions) == 0 {
		if response.StatusCode >= 300 {
			return fmt.Errorf("status %d: %s", response.StatusCode, bytes.TrimSpace(payload))
		}
		return errors.New("response carries no decisions")
	}
	decision := summary.Decisions[0]
	s.logger.Info("event delivered", "device_id", event.DeviceID, "message_id", event.MessageID,
		"event_id", event.EventID, "status", response.StatusCode, "decision", decision.Kind,
		"suppressed_count", decision.SuppressedCount, "reason", decision.Reason)
	if response.StatusCode >= 300 {
		return fmt.Errorf("status %d: %s", response.StatusCode, decision.Reason)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
