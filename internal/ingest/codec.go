package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"eventdedup/internal/domain"
)

// ErrEmptyPayload indicates body without any event.
var ErrEmptyPayload = errors.New("payload carries no events")

// envelope is Redfish event delivery wrapper.
type envelope struct {
	Context string            `json:"Context,omitempty"`
	Events  []json.RawMessage `json:"Events"`
}

// DecodePayload decodes single event object, JSON array of events, or Redfish envelope.
// Params: raw JSON body.
// Returns: decoded (not yet validated) events in payload order, or decode error.
func DecodePayload(raw []byte) ([]domain.Event, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	decoder := json.NewDecoder(bytes.NewReader(payload))
	var items []json.RawMessage
	switch payload[0] {
	case '[':
		if err := decoder.Decode(&items); err != nil {
			return nil, fmt.Errorf("decode event array: %w", err)
		}
	case '{':
		var probe map[string]json.RawMessage
		if err := decoder.Decode(&probe); err != nil {
			return nil, fmt.Errorf("decode event object: %w", err)
		}
		if _, wrapped := probe["Events"]; wrapped {
			var env envelope
			if err := json.Unmarshal(payload, &env); err != nil {
				return nil, fmt.Errorf("decode event envelope: %w", err)
			}
			items = env.Events
		} else {
			items = []json.RawMessage{payload}
		}
	default:
		return nil, errors.New("payload must be JSON object or array")
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, ErrEmptyPayload
	}

	events := make([]domain.Event, 0, len(items))
	for i, item := range items {
		var event domain.Event
		if err := json.Unmarshal(item, &event); err != nil {
			return nil, fmt.Errorf("event[%d]: %w", i, err)
		}
		events = append(events, event)
	}
	return events, nil
}

// EncodeEnvelope wraps events in Redfish delivery envelope.
// Params: context label and events.
// Returns: JSON body.
func EncodeEnvelope(context string, events []domain.Event) ([]byte, error) {
	items := make([]json.RawMessage, 0, len(events))
	for _, event := range events {
		encoded, err := json.Marshal(event)
		if err != nil {
			return nil, err
		}
		items = append(items, encoded)
	}
	return json.Marshal(envelope{Context: context, Events: items})
}

// ensureJSONEOF rejects trailing tokens after decoded JSON payload.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}
