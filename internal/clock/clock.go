// Package clock provides the process-wide time source and identifier
// generator. Both are injected into the pipeline instead of being referenced
// globally so that tests can pin time and produce stable identifiers.
package clock

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock yields the current instant in UTC.
type Clock interface {
	Now() time.Time
}

// IDGenerator yields fresh opaque identifiers for queue entries, event
// records, and tap trace ids.
type IDGenerator interface {
	NewID() string
}

// System is the production Clock backed by time.Now.
type System struct{}

// Now returns the current wall-clock time in UTC.
func (System) Now() time.Time { return time.Now().UTC() }

// UUID is the production IDGenerator backed by random UUIDv4 strings.
type UUID struct{}

// NewID returns a fresh UUIDv4 string.
func (UUID) NewID() string { return uuid.NewString() }

// Fixed is a test Clock that returns a programmable instant. Advance moves
// the instant forward; all methods are safe for concurrent use.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

// NewFixed returns a Fixed clock pinned at t (normalized to UTC).
func NewFixed(t time.Time) *Fixed {
	return &Fixed{now: t.UTC()}
}

// Now returns the pinned instant.
func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the pinned instant forward by d and returns the new value.
func (f *Fixed) Advance(d time.Duration) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
	return f.now
}

// Set pins the instant to t (normalized to UTC).
func (f *Fixed) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t.UTC()
}

// Sequence is a test IDGenerator that emits "prefix-1", "prefix-2", …
// deterministically.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequence returns a Sequence generator with the given prefix.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// NewID returns the next identifier in the sequence.
func (s *Sequence) NewID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.prefix + "-" + itoa(s.n)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
