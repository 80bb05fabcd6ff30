// Package tap provides a non-blocking observability stream over the
// ingestion pipeline. Every stage publishes a redacted snapshot of what it
// saw; the tap buffers a bounded backlog and fans events out to debug
// subscribers. Publishing never blocks and never fails the pipeline: when
// the buffer is full the oldest event is dropped, and a slow subscriber is
// disconnected rather than slowing anyone down.
package tap

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Pipeline stages, in flow order.
const (
	StageReceived   = "webhook.received"
	StageDuplicate  = "webhook.duplicate"
	StageNormalized = "normalized"
	StagePolicy     = "policy.evaluated"
	StageExecuted   = "executed"
	StageBroadcast  = "broadcast"
	StageError      = "error"
)

// maxDataBytes bounds the serialized data attached to one event. Larger
// payloads are cut off and flagged rather than dropped.
const maxDataBytes = 64 * 1024

// Event is one pipeline observation. Data carries stage-specific detail and
// must already be redacted by the publisher.
type Event struct {
	At          time.Time `json:"at"`
	Broadcaster string    `json:"broadcaster_id,omitempty"`
	Stage       string    `json:"stage"`
	MsgID       string    `json:"msg_id,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	Data        any       `json:"data,omitempty"`
	Truncated   bool      `json:"truncated,omitempty"`
}

// Tap is the bounded event buffer plus its subscriber set.
type Tap struct {
	mu       sync.Mutex
	capacity int
	backlog  [][]byte
	nextID   int
	subs     map[int]chan []byte
}

// New builds a tap that retains at most capacity events.
func New(capacity int) *Tap {
	if capacity <= 0 {
		capacity = 256
	}
	return &Tap{
		capacity: capacity,
		subs:     make(map[int]chan []byte),
	}
}

// Publish records one event. The call never blocks: a full backlog drops its
// oldest entry, and a subscriber that cannot keep up is removed.
func (t *Tap) Publish(ev Event) {
	encoded, err := encodeEvent(ev)
	if err != nil {
		log.Warn().Err(err).Str("stage", ev.Stage).Msg("tap: drop unencodable event")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.backlog = append(t.backlog, encoded)
	if len(t.backlog) > t.capacity {
		t.backlog = t.backlog[1:]
	}

	for id, ch := range t.subs {
		select {
		case ch <- encoded:
		default:
			delete(t.subs, id)
			close(ch)
		}
	}
}

// Subscribe returns the retained backlog plus a live channel. The channel is
// closed when the subscriber falls behind or Unsubscribe is called.
func (t *Tap) Subscribe() (backlog [][]byte, ch <-chan []byte, cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	live := make(chan []byte, 64)
	t.subs[id] = live

	backlog = make([][]byte, len(t.backlog))
	copy(backlog, t.backlog)

	cancel = func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if ch, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(ch)
		}
	}
	return backlog, live, cancel
}

// Backlog returns a copy of the retained events, newest last.
func (t *Tap) Backlog() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([][]byte, len(t.backlog))
	copy(out, t.backlog)
	return out
}

// encodeEvent serializes one event, cutting oversized data down to a flagged
// prefix so a single huge payload cannot bloat the backlog.
func encodeEvent(ev Event) ([]byte, error) {
	if ev.Data != nil {
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, err
		}
		if len(raw) > maxDataBytes {
			ev.Data = string(raw[:maxDataBytes])
			ev.Truncated = true
		}
	}
	return json.Marshal(ev)
}
