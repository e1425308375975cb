package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestDecodeEventRedfishShape(t *testing.T) {
	t.Parallel()

	event, err := DecodeEvent([]byte(criticalTempJSON))
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.OriginOfCondition != "/redfish/v1/Chassis/1/Thermal" {
		t.Fatalf("unexpected origin %q", event.OriginOfCondition)
	}
	if len(event.MessageArgs) != 2 || event.MessageArgs[0] != "CPU1" || event.MessageArgs[1] != "105" {
		t.Fatalf("unexpected args %#v", event.MessageArgs)
	}
	if event.DedupWindowSeconds == nil || *event.DedupWindowSeconds != 300 {
		t.Fatalf("unexpected window %v", event.DedupWindowSeconds)
	}
	if event.Severity.Rank() != 2 {
		t.Fatalf("expected critical rank, got %d", event.Severity.Rank())
	}
}

func TestDecodeEventAcceptsLegacyMessageIDAndStringOrigin(t *testing.T) {
	t.Parallel()

	raw := `{"EventType":"ResourceUpdated","Severity":"OK","MessageID":"Update.1.0.FirmwareUpdated","OriginOfCondition":"/redfish/v1/Managers/1","DeviceId":"sw1"}`
	event, err := DecodeEvent([]byte(raw))
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event.MessageID != "Update.1.0.FirmwareUpdated" {
		t.Fatalf("unexpected message id %q", event.MessageID)
	}
	if event.OriginOfCondition != "/redfish/v1/Managers/1" {
		t.Fatalf("unexpected origin %q", event.OriginOfCondition)
	}
	if event.DedupWindowSeconds != nil {
		t.Fatalf("expected unset window")
	}
}

func TestDecodeEventRejectsDuplicateActions(t *testing.T) {
	t.Parallel()

	raw := `{"MessageId":"Alert.1.0.X","DeviceId":"d1","Actions":["NotifyAdmin","NotifyAdmin"]}`
	_, err := DecodeEvent([]byte(raw))
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected invalid event error, got %v", err)
	}
}

func TestDecodeEventRejectsUnknownSeverity(t *testing.T) {
	t.Parallel()

	raw := `{"MessageId":"Alert.1.0.X","DeviceId":"d1","Severity":"Fatal"}`
	if _, err := DecodeEvent([]byte(raw)); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected invalid event error, got %v", err)
	}
}

func TestEventMarshalRoundTripKeepsOriginReference(t *testing.T) {
	t.Parallel()

	event, err := DecodeEvent([]byte(criticalTempJSON))
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	body, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	var generic map[string]any
	if err := json.Unmarshal(body, &generic); err != nil {
		t.Fatalf("unmarshal generic: %v", err)
	}
	origin, ok := generic["OriginOfCondition"].(map[string]any)
	if !ok || origin["@odata.id"] != "/redfish/v1/Chassis/1/Thermal" {
		t.Fatalf("unexpected origin encoding: %#v", generic["OriginOfCondition"])
	}
}

func TestParseMessageID(t *testing.T) {
	t.Parallel()

	id, err := ParseMessageID("Alert.1.0.TemperatureCritical")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id.Registry != "Alert" || id.Major != "1" || id.Minor != "0" || id.Name != "TemperatureCritical" {
		t.Fatalf("unexpected parse %+v", id)
	}

	short, err := ParseMessageID("Alert.1.0")
	if err != nil {
		t.Fatalf("parse short: %v", err)
	}
	if short.Name != "" || short.Minor != "0" {
		t.Fatalf("unexpected short parse %+v", short)
	}

	if _, err := ParseMessageID(".1.0"); err == nil {
		t.Fatalf("expected empty registry error")
	}
}

func TestValidateRejectsMessageIDWithoutRegistry(t *testing.T) {
	t.Parallel()

	event := Event{DeviceID: "Server-Rack3-Unit2", MessageID: ".1.0.TemperatureCritical"}
	err := event.Validate()
	if !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}

	event.MessageID = "Alert.1.0"
	if err := event.Validate(); err != nil {
		t.Fatalf("short message id must validate: %v", err)
	}
}

const criticalTempJSON = `{
  "EventType": "Alert",
  "Severity": "Critical",
  "Message": "Temperature threshold exceeded on CPU1: 105C",
  "MessageId": "Alert.1.0.TemperatureCritical",
  "MessageArgs": ["CPU1", 105],
  "OriginOfCondition": {"@odata.id": "/redfish/v1/Chassis/1/Thermal"},
  "DeviceId": "Server-Rack3-Unit2",
  "DeduplicationTimeWindow": 300,
  "Actions": ["ShutdownServer", "NotifyAdmin"]
}`
