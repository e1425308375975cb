package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"eventdedup/internal/app"
	"eventdedup/internal/clock"
	"eventdedup/internal/config"
	"eventdedup/internal/domain"
	"eventdedup/internal/ingest"
	"eventdedup/test/testutil"
)

// writeConfig stores TOML body in temp dir.
// Params: test handle and TOML body.
// Returns: absolute config path.
func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// catalogDir returns repository example catalog directory.
func catalogDir(t *testing.T) string {
	t.Helper()
	path, err := filepath.Abs("../../examples/catalog")
	if err != nil {
		t.Fatalf("catalog path: %v", err)
	}
	return path
}

// freePort reserves local port or fails test.
func freePort(t *testing.T) int {
	t.Helper()
	port, err := testutil.FreePort()
	if err != nil {
		t.Fatalf("free port: %v", err)
	}
	return port
}

// newServiceFromConfig creates Service from file config path for e2e scenarios.
// Params: test handle and absolute config path.
// Returns: initialized service instance.
func newServiceFromConfig(t *testing.T, path string) *app.Service {
	t.Helper()

	source, err := config.FromCLI(path, "")
	if err != nil {
		t.Fatalf("config source: %v", err)
	}
	service, err := app.NewService(source, clock.RealClock{})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

// runService starts service in background with cancellable context.
// Params: test handle and initialized service.
// Returns: cancel callback and done channel with Run result.
func runService(t *testing.T, service *app.Service) (context.CancelFunc, <-chan error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- service.Run(ctx)
	}()
	return cancel, done
}

// waitReady waits for /readyz endpoint to return 200.
// Params: test handle and HTTP port.
// Returns: service is ready or test fails on timeout.
func waitReady(t *testing.T, port int) {
	t.Helper()
	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	waitFor(t, 8*time.Second, func() bool {
		response, err := http.Get(baseURL + "/readyz")
		if err != nil {
			return false
		}
		defer response.Body.Close()
		return response.StatusCode == http.StatusOK
	})
}

// waitServiceStop asserts service Run exits without error after cancellation.
// Params: test handle and done channel returned by runService.
// Returns: test fails if stop timeout/error happens.
func waitServiceStop(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case runErr := <-done:
		if runErr != nil {
			t.Fatalf("service run error: %v", runErr)
		}
	case <-time.After(8 * time.Second):
		t.Fatalf("service did not stop after cancel")
	}
}

// waitFor polls condition until it holds or timeout expires.
func waitFor(t *testing.T, timeout time.Duration, condition func() bool) {
	t.Helper()
	testutil.Eventually(t, timeout, condition)
}

// postEvents sends events as Redfish envelope.
// Params: test handle, ingest URL, and events.
// Returns: HTTP status and decoded summary.
func postEvents(t *testing.T, url string, events ...domain.Event) (int, ingest.Summary) {
	t.Helper()
	body, err := ingest.EncodeEnvelope("e2e", events)
	if err != nil {
		t.Fatalf("encode envelope: %v", err)
	}
	response, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post events: %v", err)
	}
	defer response.Body.Close()
	var summary ingest.Summary
	if err := json.NewDecoder(response.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	return response.StatusCode, summary
}

func temperatureEvent() domain.Event {
	return domain.Event{
		EventType:         domain.EventTypeAlert,
		Severity:          domain.SeverityCritical,
		Message:           "Temperature threshold exceeded on CPU1: 105C",
		MessageID:         "Alert.1.0.TemperatureCritical",
		MessageArgs:       []string{"CPU1", "105"},
		OriginOfCondition: "/redfish/v1/Chassis/1/Thermal",
		DeviceID:          "Server-Rack3-Unit2",
	}
}
