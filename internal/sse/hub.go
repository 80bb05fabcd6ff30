// Package sse implements the patch fan-out layer: a hub that keeps a bounded
// redelivery ring per (broadcaster, audience) and streams versioned patches
// to subscribers, plus the JWT gate on subscriptions.
package sse

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-overlay-backend/internal/domain"
)

// Subscription audiences. Overlays are the public on-stream surface; admin
// is the broadcaster's control panel.
const (
	AudienceOverlay = "overlay"
	AudienceAdmin   = "admin"
)

// subscriberBuffer is the per-subscriber channel depth. A subscriber that
// falls this far behind is disconnected and reconnects with Last-Event-ID.
const subscriberBuffer = 64

// Event is one framed patch ready for the wire.
type Event struct {
	Version int64
	Kind    domain.PatchKind
	Data    []byte
	At      time.Time
}

type ringKey struct {
	tenant   string
	audience string
}

type ring struct {
	events []Event
}

// Subscription is one live SSE consumer.
type Subscription struct {
	ch       chan Event
	families map[string]bool
	closed   bool
	mu       sync.Mutex
}

// C returns the event stream. The hub closes it when the subscriber falls
// behind or Close is called.
func (s *Subscription) C() <-chan Event { return s.ch }

// Close detaches the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// wants reports whether the subscription's type filter admits the kind.
func (s *Subscription) wants(kind domain.PatchKind) bool {
	if len(s.families) == 0 {
		return true
	}
	return s.families[kind.Family()]
}

// deliver pushes one event, disconnecting the subscriber on overflow so a
// slow consumer never blocks the broadcast path.
func (s *Subscription) deliver(ev Event) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		s.closed = true
		close(s.ch)
		return false
	}
}

// Hub fans patches out to subscribers and retains a bounded per-key ring for
// redelivery after reconnects.
type Hub struct {
	mu         sync.Mutex
	maxEntries int
	ttl        time.Duration
	now        func() time.Time

	rings map[ringKey]*ring
	subs  map[ringKey]map[*Subscription]struct{}
}

// NewHub builds a hub whose rings keep at most maxEntries patches, each for
// at most ttl.
func NewHub(maxEntries int, ttl time.Duration, now func() time.Time) *Hub {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Hub{
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        now,
		rings:      make(map[ringKey]*ring),
		subs:       make(map[ringKey]map[*Subscription]struct{}),
	}
}

// Broadcast frames the patches and delivers them to every audience of the
// broadcaster, in order. Patches enter the redelivery ring even when nobody
// is connected.
func (h *Hub) Broadcast(tenant string, patches []domain.Patch) {
	if len(patches) == 0 {
		return
	}

	framed := make([]Event, 0, len(patches))
	for _, p := range patches {
		data, err := json.Marshal(p)
		if err != nil {
			log.Error().Err(err).Str("kind", string(p.Kind)).Msg("sse: drop unencodable patch")
			continue
		}
		framed = append(framed, Event{Version: p.Version, Kind: p.Kind, Data: data, At: p.At})
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, audience := range []string{AudienceOverlay, AudienceAdmin} {
		key := ringKey{tenant: tenant, audience: audience}
		r := h.rings[key]
		if r == nil {
			r = &ring{}
			h.rings[key] = r
		}
		r.events = append(r.events, framed...)
		h.trimLocked(r)

		for sub := range h.subs[key] {
			for _, ev := range framed {
				if !sub.wants(ev.Kind) {
					continue
				}
				if !sub.deliver(ev) {
					delete(h.subs[key], sub)
					break
				}
			}
		}
	}
}

// Subscribe attaches a consumer. since is the last version the client has
// applied; pass a negative value for a fresh client with no prior state.
//
// The returned replay slice holds the patches the ring can redeliver in
// order. needReplace reports a ring miss: the caller must send one
// state.replace snapshot before streaming, instead of any replay.
func (h *Hub) Subscribe(tenant, audience string, since int64, families []string) (*Subscription, []Event, bool) {
	sub := &Subscription{ch: make(chan Event, subscriberBuffer)}
	if len(families) > 0 {
		sub.families = make(map[string]bool, len(families))
		for _, f := range families {
			sub.families[f] = true
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	key := ringKey{tenant: tenant, audience: audience}
	if h.subs[key] == nil {
		h.subs[key] = make(map[*Subscription]struct{})
	}
	h.subs[key][sub] = struct{}{}

	if since < 0 {
		return sub, nil, true
	}

	r := h.rings[key]
	if r != nil {
		h.trimLocked(r)
	}
	if r == nil || len(r.events) == 0 {
		// Nothing retained. Only a client already at the head can continue
		// without a snapshot; anyone else may have missed patches.
		return sub, nil, false
	}

	last := r.events[len(r.events)-1].Version
	if since >= last {
		return sub, nil, false
	}
	first := r.events[0].Version
	if since < first-1 {
		return sub, nil, true
	}

	replay := make([]Event, 0, last-since)
	for _, ev := range r.events {
		if ev.Version > since && sub.wants(ev.Kind) {
			replay = append(replay, ev)
		}
	}
	return sub, replay, false
}

// Unsubscribe detaches and closes a subscription.
func (h *Hub) Unsubscribe(tenant, audience string, sub *Subscription) {
	h.mu.Lock()
	key := ringKey{tenant: tenant, audience: audience}
	if set := h.subs[key]; set != nil {
		delete(set, sub)
	}
	h.mu.Unlock()
	sub.Close()
}

// trimLocked drops ring entries beyond the size bound or older than the TTL.
func (h *Hub) trimLocked(r *ring) {
	if n := len(r.events) - h.maxEntries; n > 0 {
		r.events = r.events[n:]
	}
	cutoff := h.now().Add(-h.ttl)
	i := 0
	for i < len(r.events) && r.events[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		r.events = r.events[i:]
	}
}
