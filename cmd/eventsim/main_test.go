package main

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"eventdedup/internal/domain"
	"eventdedup/internal/ingest"

	"github.com/stretchr/testify/require"
)

type ingestRecorder struct {
	mu     sync.Mutex
	events []domain.Event
	status int
}

func (r *ingestRecorder) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	events, err := ingest.DecodePayload(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	r.mu.Lock()
	r.events = append(r.events, events...)
	status := r.status
	r.mu.Unlock()

	kind := domain.DecisionFresh
	if status >= 300 {
		kind = domain.DecisionRejected
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ingest.Summary{Decisions: []domain.Decision{{Kind: kind, Reason: "test"}}})
}

func (r *ingestRecorder) messageIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, event := range r.events {
		out = append(out, event.MessageID)
	}
	return out
}

func simArgs(target string, extra ...string) []string {
	args := []string{
		"--catalog", "../../examples/catalog",
		"--target", target,
		"--device", "NetworkSwitch-Floor2-SW1",
		"--interval", "0s",
		"--delay", "0s",
	}
	return append(args, extra...)
}

func TestRunReplaysDeviceTemplatesWithDuplicates(t *testing.T) {
	t.Parallel()

	rec := &ingestRecorder{status: http.StatusAccepted}
	server := httptest.NewServer(rec)
	defer server.Close()

	var stdout, stderr strings.Builder
	code := run(simArgs(server.URL, "--duplicates", "1"), &stdout, &stderr)

	require.Equal(t, 0, code, stderr.String())
	require.Equal(t, []string{
		"Update.1.0.FirmwareUpdated", "Update.1.0.FirmwareUpdated",
		"NetworkPort.1.0.LinkDown", "NetworkPort.1.0.LinkDown",
	}, rec.messageIDs())
	require.Contains(t, stdout.String(), "simulation finished")
}

func TestRunReturnsOneWhenDeliveryFails(t *testing.T) {
	t.Parallel()

	rec := &ingestRecorder{status: http.StatusServiceUnavailable}
	server := httptest.NewServer(rec)
	defer server.Close()

	var stdout, stderr strings.Builder
	require.Equal(t, 1, run(simArgs(server.URL), &stdout, &stderr))
	require.Len(t, rec.messageIDs(), 2)
}

func TestRunRejectsBadFlags(t *testing.T) {
	t.Parallel()

	var stdout, stderr strings.Builder
	require.Equal(t, 2, run([]string{"--duplicates", "-1"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "--duplicates")

	stderr.Reset()
	require.Equal(t, 2, run([]string{"--catalog", "missing/catalog"}, &stdout, &stderr))
	require.Contains(t, stderr.String(), "load catalog")

	require.Equal(t, 2, run([]string{"--no-such-flag"}, &stdout, &stderr))
}
