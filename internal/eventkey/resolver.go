package eventkey

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
	"hash/fnv"
	"io"
	"regexp"
	"strings"

	"eventdedup/internal/domain"
)

// EventKey is the dedup identity of one event.
// Params: device, message class, origin resource, and positional message args.
// Returns: comparable-by-ID key used by window store.
type EventKey struct {
	DeviceID          string
	MessageID         string
	OriginOfCondition string
	MessageArgs       []string
	id                string
}

// ID returns deterministic store identifier.
// Params: none.
// Returns: "dev/<device>/<message>/<sha1 hex of all key fields>".
func (k EventKey) ID() string {
	if k.id != "" {
		return k.id
	}
	return buildID(k.DeviceID, k.MessageID, k.OriginOfCondition, k.MessageArgs)
}

// Shard maps key onto one of n shards with FNV-32a.
// Params: shard count (>0).
// Returns: shard index in [0,n).
func (k EventKey) Shard(n int) int {
	return ShardOf(k.ID(), n)
}

// ShardOf maps raw key ID onto one of n shards.
func ShardOf(id string, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return int(h.Sum32() % uint32(n))
}

// Resolver derives dedup keys from events.
// Params: compiled message-id patterns whose args are excluded from key.
// Returns: pure key resolver safe for concurrent use.
type Resolver struct {
	ignoreArgs []*regexp.Regexp
}

// NewResolver creates resolver.
// Params: compiled case-insensitive patterns over MessageId; nil keeps args for every message.
// Returns: resolver instance.
func NewResolver(ignoreArgs []*regexp.Regexp) *Resolver {
	return &Resolver{ignoreArgs: ignoreArgs}
}

// Resolve builds key for event.
// Params: validated event.
// Returns: key over (device, message, origin, args); args dropped for ignore_args message classes.
func (r *Resolver) Resolve(event domain.Event) EventKey {
	args := event.MessageArgs
	if r != nil && r.ignoresArgs(event.MessageID) {
		args = nil
	}
	key := EventKey{
		DeviceID:          event.DeviceID,
		MessageID:         event.MessageID,
		OriginOfCondition: event.OriginOfCondition,
		MessageArgs:       args,
	}
	key.id = buildID(key.DeviceID, key.MessageID, key.OriginOfCondition, key.MessageArgs)
	return key
}

func (r *Resolver) ignoresArgs(messageID string) bool {
	if len(r.ignoreArgs) == 0 {
		return false
	}
	lowered := strings.ToLower(messageID)
	for _, pattern := range r.ignoreArgs {
		if pattern.MatchString(lowered) {
			return true
		}
	}
	return false
}

// buildID hashes every key field with length prefixes so ["a,b"] and ["a","b"] differ.
// Sanitized device and message prefixes only make IDs readable; the digest carries identity.
func buildID(deviceID, messageID, origin string, args []string) string {
	hasher := sha1.New()
	writeField(hasher, deviceID)
	writeField(hasher, messageID)
	writeField(hasher, origin)
	for _, arg := range args {
		writeField(hasher, arg)
	}
	digest := hasher.Sum(nil)
	hashValue := hex.EncodeToString(digest)

	device := sanitize(deviceID)
	message := sanitize(messageID)
	var builder strings.Builder
	builder.Grow(len("dev/") + len(device) + len(message) + len(hashValue) + 2)
	builder.WriteString("dev/")
	builder.WriteString(device)
	builder.WriteByte('/')
	builder.WriteString(message)
	builder.WriteByte('/')
	builder.WriteString(hashValue)
	return builder.String()
}

func writeField(w io.Writer, value string) {
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(value)))
	_, _ = w.Write(size[:])
	_, _ = io.WriteString(w, value)
}

// sanitize converts key path fragments into stable tokens.
// Params: raw device or message id.
// Returns: string with unsupported chars replaced by underscore; case is preserved.
func sanitize(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "_"
	}

	var b strings.Builder
	b.Grow(len(trimmed))
	for _, r := range trimmed {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
