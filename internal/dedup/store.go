package dedup

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"eventdedup/internal/domain"
	"eventdedup/internal/eventkey"
)

// Kind classifies one check-and-record result.
type Kind int

const (
	// Fresh marks first occurrence in a new window (or zero-window passthrough).
	Fresh Kind = iota
	// Duplicate marks occurrence inside open window.
	Duplicate
)

// String returns lower-case kind name.
func (k Kind) String() string {
	if k == Duplicate {
		return "duplicate"
	}
	return "fresh"
}

// Outcome is result of CheckAndRecord.
// Params: kind, duplicate counter, and window bounds of governing entry.
// Returns: classification consumed by router.
type Outcome struct {
	Kind            Kind
	SuppressedCount int64
	FirstSeen       time.Time
	WindowEnd       time.Time
	Recorded        bool
}

// Entry is a point-in-time copy of one dedup window.
type Entry struct {
	Key             string        `json:"key"`
	FirstSeen       time.Time     `json:"first_seen"`
	WindowEnd       time.Time     `json:"window_end"`
	SuppressedCount int64         `json:"suppressed_count"`
	Age             time.Duration `json:"age"`
	Remaining       time.Duration `json:"remaining"`
}

type entry struct {
	firstSeen       time.Time
	windowEnd       time.Time
	suppressedCount int64
}

type shard struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// Store keeps fixed dedup windows partitioned by key hash.
// Params: shard count; each shard owns a map guarded by its own mutex.
// Returns: concurrency-safe window store.
type Store struct {
	shards []*shard
}

// NewStore creates sharded store.
// Params: shard count; values <1 collapse to one shard.
// Returns: empty store.
func NewStore(shards int) *Store {
	if shards < 1 {
		shards = 1
	}
	s := &Store{shards: make([]*shard, shards)}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	return s.shards[eventkey.ShardOf(id, len(s.shards))]
}

// CheckAndRecord atomically classifies event occurrence and updates window state.
// Params: resolved key, window length in seconds, and arrival time.
// Returns: Fresh when no live window exists (a new one is opened), Duplicate with incremented count otherwise,
// or ErrInvalidWindow for negative windows without touching state.
func (s *Store) CheckAndRecord(key eventkey.EventKey, windowSeconds int64, now time.Time) (Outcome, error) {
	if windowSeconds < 0 {
		return Outcome{}, fmt.Errorf("%w: %d seconds", domain.ErrInvalidWindow, windowSeconds)
	}
	if windowSeconds == 0 {
		return Outcome{Kind: Fresh, FirstSeen: now, WindowEnd: now}, nil
	}

	id := key.ID()
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	current, ok := sh.entries[id]
	if ok && now.Before(current.windowEnd) {
		current.suppressedCount++
		return Outcome{
			Kind:            Duplicate,
			SuppressedCount: current.suppressedCount,
			FirstSeen:       current.firstSeen,
			WindowEnd:       current.windowEnd,
			Recorded:        true,
		}, nil
	}

	fresh := &entry{
		firstSeen: now,
		windowEnd: now.Add(time.Duration(windowSeconds) * time.Second),
	}
	sh.entries[id] = fresh
	return Outcome{Kind: Fresh, FirstSeen: fresh.firstSeen, WindowEnd: fresh.windowEnd, Recorded: true}, nil
}

// Release removes window opened by a Fresh outcome whose dispatch was never admitted.
// Params: key ID and window end returned with Fresh outcome.
// Returns: duplicates already counted against that window and whether entry was removed.
// A window with suppressed duplicates is kept; a newer window with different end is left alone.
func (s *Store) Release(id string, windowEnd time.Time) (int64, bool) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	current, ok := sh.entries[id]
	if !ok || !current.windowEnd.Equal(windowEnd) {
		return 0, false
	}
	if current.suppressedCount > 0 {
		return current.suppressedCount, false
	}
	delete(sh.entries, id)
	return 0, true
}

// Sweep evicts entries whose window_end <= now.
// Params: eviction reference time.
// Returns: number of evicted entries.
func (s *Store) Sweep(now time.Time) int {
	evicted := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, current := range sh.entries {
			if !now.Before(current.windowEnd) {
				delete(sh.entries, id)
				evicted++
			}
		}
		sh.mu.Unlock()
	}
	return evicted
}

// Lookup returns live entry for key ID.
// Params: key ID and reference time.
// Returns: entry copy and presence flag; expired entries are reported absent.
func (s *Store) Lookup(id string, now time.Time) (Entry, bool) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	current, ok := sh.entries[id]
	if !ok || !now.Before(current.windowEnd) {
		return Entry{}, false
	}
	return toEntry(id, current, now), true
}

// Snapshot lists live entries ordered by key.
// Params: reference time for age/remaining computation.
// Returns: entry copies.
func (s *Store) Snapshot(now time.Time) []Entry {
	out := make([]Entry, 0)
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, current := range sh.entries {
			if now.Before(current.windowEnd) {
				out = append(out, toEntry(id, current, now))
			}
		}
		sh.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Clear drops every entry.
// Params: none.
// Returns: number of removed entries.
func (s *Store) Clear() int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		removed += len(sh.entries)
		sh.entries = make(map[string]*entry)
		sh.mu.Unlock()
	}
	return removed
}

// Len returns number of stored entries including expired ones not yet swept.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

func toEntry(id string, current *entry, now time.Time) Entry {
	return Entry{
		Key:             id,
		FirstSeen:       current.firstSeen,
		WindowEnd:       current.windowEnd,
		SuppressedCount: current.suppressedCount,
		Age:             now.Sub(current.firstSeen),
		Remaining:       current.windowEnd.Sub(now),
	}
}
