package e2e

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"eventdedup/internal/domain"
	"eventdedup/internal/executor"
	"eventdedup/test/testutil"

	"github.com/nats-io/nats.go"
)

type webhookRecorder struct {
	mu       sync.Mutex
	payloads []executor.Payload
}

func (r *webhookRecorder) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	body, _ := io.ReadAll(request.Body)
	var payload executor.Payload
	if err := json.Unmarshal(body, &payload); err == nil {
		r.mu.Lock()
		r.payloads = append(r.payloads, payload)
		r.mu.Unlock()
	}
	writer.WriteHeader(http.StatusNoContent)
}

func (r *webhookRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payloads)
}

func TestServiceSmokeHealthReadyAndIngest(t *testing.T) {
	port := freePort(t)
	hook := &webhookRecorder{}
	hookServer := httptest.NewServer(hook)
	defer hookServer.Close()

	path := writeConfig(t, fmt.Sprintf(`
[log.console]
enabled = true
level = "error"

[ingest.http]
listen = "127.0.0.1:%d"

[catalog]
path = %q

[metrics]
enabled = true

[action.NotifyAdmin]
type = "http"
url = %q
message = "{{ .Severity }} {{ .DeviceID }}"
`, port, catalogDir(t), hookServer.URL))

	service := newServiceFromConfig(t, path)
	cancel, done := runService(t, service)
	waitReady(t, port)

	baseURL := fmt.Sprintf("http://127.0.0.1:%d", port)
	status, summary := postEvents(t, baseURL+"/events", temperatureEvent(), temperatureEvent(), temperatureEvent())
	if status != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, status)
	}
	if summary.Fresh != 1 || summary.Suppressed != 2 {
		t.Fatalf("unexpected summary %+v", summary)
	}
	if summary.Decisions[2].SuppressedCount != 2 {
		t.Fatalf("expected suppressed count 2, got %d", summary.Decisions[2].SuppressedCount)
	}

	waitFor(t, 5*time.Second, func() bool { return hook.count() == 1 })
	hook.mu.Lock()
	got := hook.payloads[0]
	hook.mu.Unlock()
	if got.Action != "NotifyAdmin" || got.Text != "Critical Server-Rack3-Unit2" {
		t.Fatalf("unexpected webhook payload %+v", got)
	}

	response, err := http.Get(baseURL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	body, _ := io.ReadAll(response.Body)
	response.Body.Close()
	if !strings.Contains(string(body), `eventdedup_events_total{decision="suppressed"} 2`) {
		t.Fatalf("metrics missing suppressed counter")
	}

	cancel()
	waitServiceStop(t, done)
}

func TestServiceNATSIngestAndAudit(t *testing.T) {
	natsURL, stopNATS := testutil.StartLocalNATSServer(t)
	defer stopNATS()
	port := freePort(t)

	path := writeConfig(t, fmt.Sprintf(`
[log.console]
enabled = true
level = "error"

[ingest.http]
listen = "127.0.0.1:%d"

[ingest.nats]
enabled = true
url = [%q]
subject = "redfish.e2e.events"
stream = "REDFISH_E2E"

[catalog]
path = %q

[audit.nats]
enabled = true
subject = "redfish.e2e.audit"
`, port, natsURL, catalogDir(t)))

	nc, err := nats.Connect(natsURL)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	var (
		mu      sync.Mutex
		records []domain.AuditRecord
	)
	sub, err := nc.Subscribe("redfish.e2e.audit", func(message *nats.Msg) {
		var record domain.AuditRecord
		if err := json.Unmarshal(message.Data, &record); err == nil {
			mu.Lock()
			records = append(records, record)
			mu.Unlock()
		}
	})
	if err != nil {
		t.Fatalf("subscribe audit: %v", err)
	}
	defer sub.Unsubscribe()

	service := newServiceFromConfig(t, path)
	cancel, done := runService(t, service)
	waitReady(t, port)

	js, err := nc.JetStream()
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}
	firmware := domain.Event{
		EventType:         domain.EventTypeResourceUpdated,
		Severity:          domain.SeverityOK,
		MessageID:         "Update.1.0.FirmwareUpdated",
		MessageArgs:       []string{"4.2.1"},
		OriginOfCondition: "/redfish/v1/Managers/1",
		DeviceID:          "NetworkSwitch-Floor2-SW1",
	}
	for _, event := range []domain.Event{temperatureEvent(), temperatureEvent(), firmware, firmware} {
		body, err := json.Marshal(event)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if _, err := js.Publish("redfish.e2e.events", body); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	count := func(kind domain.DecisionKind) int {
		mu.Lock()
		defer mu.Unlock()
		n := 0
		for _, record := range records {
			if record.Decision == kind {
				n++
			}
		}
		return n
	}
	waitFor(t, 8*time.Second, func() bool {
		return count(domain.DecisionFresh) == 3 && count(domain.DecisionSuppressed) == 1 && count(domain.DecisionDispatched) == 3
	})

	cancel()
	waitServiceStop(t, done)
}
