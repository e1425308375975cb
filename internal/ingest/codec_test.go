package ingest

import (
	"errors"
	"testing"

	"eventdedup/internal/domain"
)

func TestDecodePayloadShapes(t *testing.T) {
	t.Parallel()

	single := `{"EventType":"Alert","MessageId":"Alert.1.0.TemperatureCritical","MessageArgs":["CPU1",105],
		"OriginOfCondition":{"@odata.id":"/redfish/v1/Chassis/1/Thermal"},"DeviceId":"Server-Rack3-Unit2"}`
	cases := map[string]struct {
		body  string
		count int
	}{
		"single":   {single, 1},
		"array":    {"[" + single + "," + single + "]", 2},
		"envelope": {`{"Context":"x","Events":[` + single + `]}`, 1},
	}
	for name, tc := range cases {
		events, err := DecodePayload([]byte(tc.body))
		if err != nil {
			t.Fatalf("%s: decode: %v", name, err)
		}
		if len(events) != tc.count {
			t.Fatalf("%s: expected %d events, got %d", name, tc.count, len(events))
		}
		if events[0].OriginOfCondition != "/redfish/v1/Chassis/1/Thermal" || events[0].MessageArgs[1] != "105" {
			t.Fatalf("%s: unexpected event %+v", name, events[0])
		}
	}
}

func TestDecodePayloadErrors(t *testing.T) {
	t.Parallel()

	if _, err := DecodePayload([]byte("  ")); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload, got %v", err)
	}
	if _, err := DecodePayload([]byte(`{"Events":[]}`)); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("expected ErrEmptyPayload for empty envelope, got %v", err)
	}
	if _, err := DecodePayload([]byte(`[{"MessageArgs":[{"nested":1}]}]`)); err == nil {
		t.Fatalf("expected error for nested message arg")
	}
	if _, err := DecodePayload([]byte(`{"DeviceId":"a"} {"DeviceId":"b"}`)); err == nil {
		t.Fatalf("expected error for trailing object")
	}
}

func TestEncodeEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	body, err := EncodeEnvelope("sim", []domain.Event{{
		EventType: domain.EventTypeAlert,
		MessageID: "Alert.1.0.A",
		DeviceID:  "d1",
		Actions:   []string{"NotifyAdmin"},
	}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	events, err := DecodePayload(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(events) != 1 || events[0].DeviceID != "d1" || events[0].Actions[0] != "NotifyAdmin" {
		t.Fatalf("unexpected events %+v", events)
	}
}
