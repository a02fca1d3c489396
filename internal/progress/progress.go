// Package progress is the in-memory registry that ingestion runs report to
// and that cancellation requests flow through. Cancellation is cooperative:
// requesting it only sets a flag, and the run observes the flag at its next
// checkpoint.
package progress

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

// State is the lifecycle of one tracked run.
type State string

const (
	StateRunning  State = "running"
	StateCanceled State = "canceled"
	StateDone     State = "done"
	StateError    State = "error"
)

// Entry is a point-in-time view of one run.
type Entry struct {
	Key       string
	Stage     string
	Inserted  int64
	Total     int64
	State     State
	Reason    string
	StartedAt time.Time
	UpdatedAt time.Time
}

// Tracker holds run entries keyed by the token from Key.
type Tracker struct {
	mu   sync.Mutex
	runs map[string]*Entry
	now  func() time.Time
}

// NewTracker returns an empty registry.
func NewTracker() *Tracker {
	return &Tracker{runs: map[string]*Entry{}, now: time.Now}
}

var keyInvalidChars = regexp.MustCompile(`[^a-z0-9_]`)

// Key derives a stable tracking token from a filename: the sanitized name
// plus a short hash so near-identical filenames cannot collide after
// sanitization.
func Key(filename string) string {
	token := keyInvalidChars.ReplaceAllString(strings.ToLower(filename), "_")
	return fmt.Sprintf("%s_%08x", token, uint32(xxh3.HashString(filename)))
}

// Init registers a fresh running entry, replacing any stale one for the key.
func (t *Tracker) Init(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.runs[key] = &Entry{Key: key, State: StateRunning, StartedAt: now, UpdatedAt: now}
}

// Update records progress. An empty stage or a negative counter leaves that
// field unchanged.
func (t *Tracker) Update(key, stage string, inserted, total int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.runs[key]
	if !ok {
		return
	}
	if stage != "" {
		e.Stage = stage
	}
	if inserted >= 0 {
		e.Inserted = inserted
	}
	if total >= 0 {
		e.Total = total
	}
	e.UpdatedAt = t.now()
}

// IsCanceled reports whether cancellation has been requested for the key.
func (t *Tracker) IsCanceled(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.runs[key]
	return ok && e.State == StateCanceled
}

// RequestCancel flags the run for cancellation. Requesting cancel for an
// unknown key registers a canceled entry, so an early cancel still lands.
func (t *Tracker) RequestCancel(key, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.runs[key]
	if !ok {
		now := t.now()
		e = &Entry{Key: key, StartedAt: now}
		t.runs[key] = e
	}
	if e.State == StateDone || e.State == StateError {
		return
	}
	e.State = StateCanceled
	e.Reason = reason
	e.UpdatedAt = t.now()
}

// MarkDone records normal completion. A canceled run stays canceled.
func (t *Tracker) MarkDone(key string) {
	t.setTerminal(key, StateDone, "")
}

// MarkError records a failed run with its message. A canceled run stays
// canceled.
func (t *Tracker) MarkError(key, message string) {
	t.setTerminal(key, StateError, message)
}

func (t *Tracker) setTerminal(key string, s State, reason string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.runs[key]
	if !ok || e.State == StateCanceled {
		return
	}
	e.State = s
	e.Reason = reason
	e.UpdatedAt = t.now()
}

// Snapshot returns a copy of the entry for key.
func (t *Tracker) Snapshot(key string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.runs[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}
