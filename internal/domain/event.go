package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EventType identifies Redfish event category.
// Params: open string set; known values listed below.
// Returns: event category used in audit and metrics labels.
type EventType string

const (
	// EventTypeAlert marks hardware alert events.
	EventTypeAlert EventType = "Alert"
	// EventTypeResourceUpdated marks resource property changes.
	EventTypeResourceUpdated EventType = "ResourceUpdated"
	// EventTypeStatusChange marks resource health/state changes.
	EventTypeStatusChange EventType = "StatusChange"
	// EventTypeResourceAdded marks newly discovered resources.
	EventTypeResourceAdded EventType = "ResourceAdded"
	// EventTypeResourceRemoved marks removed resources.
	EventTypeResourceRemoved EventType = "ResourceRemoved"
)

// Severity is ordered Redfish event severity.
// Params: constants OK/Warning/Critical.
// Returns: severity value with rank ordering.
type Severity string

const (
	// SeverityOK marks informational events.
	SeverityOK Severity = "OK"
	// SeverityWarning marks degraded conditions.
	SeverityWarning Severity = "Warning"
	// SeverityCritical marks conditions requiring immediate action.
	SeverityCritical Severity = "Critical"
)

// Rank returns severity order for comparisons.
// Params: none.
// Returns: 0 for OK, 1 for Warning, 2 for Critical, -1 when unknown.
func (s Severity) Rank() int {
	switch s {
	case SeverityOK:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return -1
	}
}

// Event is one immutable device event received from an ingestion boundary.
// Params: Redfish event fields plus dedup window and remediation action list.
// Returns: validated event payload for router processing.
type Event struct {
	EventID            string
	EventType          EventType
	Severity           Severity
	Message            string
	MessageID          string
	MessageArgs        []string
	OriginOfCondition  string
	DeviceID           string
	DedupWindowSeconds *int64
	Actions            []string
	Timestamp          time.Time
}

// wireEvent mirrors Redfish JSON field names.
type wireEvent struct {
	EventID            string            `json:"EventId,omitempty"`
	EventType          EventType         `json:"EventType"`
	Severity           Severity          `json:"Severity"`
	Message            string            `json:"Message,omitempty"`
	MessageID          string            `json:"MessageId"`
	LegacyMessageID    string            `json:"MessageID,omitempty"`
	MessageArgs        []json.RawMessage `json:"MessageArgs,omitempty"`
	OriginOfCondition  json.RawMessage   `json:"OriginOfCondition,omitempty"`
	DeviceID           string            `json:"DeviceId"`
	DedupWindowSeconds *int64            `json:"DeduplicationTimeWindow,omitempty"`
	Actions            []string          `json:"Actions,omitempty"`
	Timestamp          *time.Time        `json:"EventTimestamp,omitempty"`
}

type originRef struct {
	ODataID string `json:"@odata.id"`
}

// UnmarshalJSON decodes Redfish event object into event fields.
// Params: JSON object; MessageID spelling and object/string origin are both accepted.
// Returns: decode error on malformed fields.
func (e *Event) UnmarshalJSON(raw []byte) error {
	var wire wireEvent
	if err := json.Unmarshal(raw, &wire); err != nil {
		return err
	}
	messageID := wire.MessageID
	if messageID == "" {
		messageID = wire.LegacyMessageID
	}
	args, err := decodeMessageArgs(wire.MessageArgs)
	if err != nil {
		return err
	}
	origin, err := decodeOrigin(wire.OriginOfCondition)
	if err != nil {
		return err
	}
	*e = Event{
		EventID:            wire.EventID,
		EventType:          wire.EventType,
		Severity:           wire.Severity,
		Message:            wire.Message,
		MessageID:          messageID,
		MessageArgs:        args,
		OriginOfCondition:  origin,
		DeviceID:           wire.DeviceID,
		DedupWindowSeconds: wire.DedupWindowSeconds,
		Actions:            wire.Actions,
	}
	if wire.Timestamp != nil {
		e.Timestamp = wire.Timestamp.UTC()
	}
	return nil
}

// MarshalJSON encodes event in Redfish wire shape.
// Params: none.
// Returns: JSON object with OriginOfCondition as @odata.id reference.
func (e Event) MarshalJSON() ([]byte, error) {
	args := make([]json.RawMessage, 0, len(e.MessageArgs))
	for _, arg := range e.MessageArgs {
		encoded, err := json.Marshal(arg)
		if err != nil {
			return nil, err
		}
		args = append(args, encoded)
	}
	wire := wireEvent{
		EventID:            e.EventID,
		EventType:          e.EventType,
		Severity:           e.Severity,
		Message:            e.Message,
		MessageID:          e.MessageID,
		MessageArgs:        args,
		DeviceID:           e.DeviceID,
		DedupWindowSeconds: e.DedupWindowSeconds,
		Actions:            e.Actions,
	}
	if e.OriginOfCondition != "" {
		origin, err := json.Marshal(originRef{ODataID: e.OriginOfCondition})
		if err != nil {
			return nil, err
		}
		wire.OriginOfCondition = origin
	}
	if !e.Timestamp.IsZero() {
		ts := e.Timestamp.UTC()
		wire.Timestamp = &ts
	}
	return json.Marshal(wire)
}

// decodeMessageArgs converts positional JSON args into strings.
// Params: raw JSON values (strings, numbers, booleans).
// Returns: stringified args or error for nested values.
func decodeMessageArgs(raw []json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(raw))
	for i, item := range raw {
		var value any
		if err := json.Unmarshal(item, &value); err != nil {
			return nil, fmt.Errorf("MessageArgs[%d]: %w", i, err)
		}
		str, err := StringifyArg(value)
		if err != nil {
			return nil, fmt.Errorf("MessageArgs[%d]: %w", i, err)
		}
		out = append(out, str)
	}
	return out, nil
}

// StringifyArg renders one scalar message argument as string.
// Params: decoded scalar value from JSON/YAML.
// Returns: string form or error for maps/lists.
func StringifyArg(value any) (string, error) {
	switch typed := value.(type) {
	case string:
		return typed, nil
	case nil:
		return "", nil
	case bool:
		return strconv.FormatBool(typed), nil
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(typed), nil
	case int64:
		return strconv.FormatInt(typed, 10), nil
	default:
		return "", fmt.Errorf("unsupported message arg type %T", value)
	}
}

// decodeOrigin accepts either a plain path string or an @odata.id reference object.
// Params: raw JSON value.
// Returns: origin path or decode error.
func decodeOrigin(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}
	if trimmed[0] == '"' {
		var path string
		if err := json.Unmarshal(raw, &path); err != nil {
			return "", fmt.Errorf("OriginOfCondition: %w", err)
		}
		return path, nil
	}
	var ref originRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", fmt.Errorf("OriginOfCondition: %w", err)
	}
	return ref.ODataID, nil
}

// Validate validates event against ingestion contract.
// Params: event fields parsed from transport or catalog.
// Returns: ErrInvalidEvent-wrapped error when schema is violated.
func (e Event) Validate() error {
	if strings.TrimSpace(e.DeviceID) == "" {
		return invalidEvent("DeviceId is required")
	}
	if strings.TrimSpace(e.MessageID) == "" {
		return invalidEvent("MessageId is required")
	}
	if _, err := ParseMessageID(e.MessageID); err != nil {
		return invalidEvent(err.Error())
	}
	if e.Severity != "" && e.Severity.Rank() < 0 {
		return invalidEvent(fmt.Sprintf("unsupported Severity %q", e.Severity))
	}
	seen := make(map[string]struct{}, len(e.Actions))
	for i, action := range e.Actions {
		name := strings.TrimSpace(action)
		if name == "" {
			return invalidEvent(fmt.Sprintf("Actions[%d] is empty", i))
		}
		if _, dup := seen[name]; dup {
			return invalidEvent(fmt.Sprintf("Actions[%d] duplicates %q", i, name))
		}
		seen[name] = struct{}{}
	}
	return nil
}

func invalidEvent(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidEvent, reason)
}

// DecodeEvent decodes and validates one event payload.
// Params: JSON document bytes.
// Returns: validated event or decode/validation error.
func DecodeEvent(raw []byte) (Event, error) {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if err := event.Validate(); err != nil {
		return Event{}, err
	}
	return event, nil
}

// MessageID is parsed form of "<Registry>.<Major>.<Minor>.<Name>".
type MessageID struct {
	Registry string
	Major    string
	Minor    string
	Name     string
}

// ParseMessageID splits message identifier into registry/version/name parts.
// Params: raw message ID; trailing parts may be absent (e.g. "Alert.1.0").
// Returns: parsed parts or error when registry part is empty.
func ParseMessageID(raw string) (MessageID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return MessageID{}, errors.New("message id is empty")
	}
	parts := strings.SplitN(trimmed, ".", 4)
	if parts[0] == "" {
		return MessageID{}, fmt.Errorf("message id %q has empty registry", raw)
	}
	id := MessageID{Registry: parts[0]}
	if len(parts) > 1 {
		id.Major = parts[1]
	}
	if len(parts) > 2 {
		id.Minor = parts[2]
	}
	if len(parts) > 3 {
		id.Name = parts[3]
	}
	return id, nil
}

// DeviceProfile is read-only device catalog entry.
// Params: identity, placement, and fallback dedup window.
// Returns: device metadata for window resolution.
type DeviceProfile struct {
	DeviceID           string
	DeviceName         string
	DeviceType         string
	Location           string
	DefaultDedupWindow *int64
}

// WindowSeconds returns pointer to seconds value for optional window fields.
// Params: window length in seconds.
// Returns: pointer usable in Event/DeviceProfile window fields.
func WindowSeconds(seconds int64) *int64 {
	return &seconds
}
