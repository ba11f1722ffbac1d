// Package news keeps the bounded append-only event log and fans events
// out to subscribers. The feed knows nothing about transports; the
// websocket hub and any other observer consume it through Subscribe.
package news

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aiverse/aiverse-api/internal/types"
)

// Event is the envelope pushed to subscribers: either a news entry or a
// raw trade.
type Event struct {
	Kind  string           `json:"kind"` // "news" or "trade"
	News  *types.NewsEvent `json:"news,omitempty"`
	Trade *types.Trade     `json:"trade,omitempty"`
}

// Feed is the append-only news log. Older entries are evicted past the
// retention limit; that is a policy choice, not a correctness invariant.
type Feed struct {
	mu        sync.Mutex
	items     []types.NewsEvent
	retention int
	subs      map[int]chan Event
	nextSub   int
}

func NewFeed(retention int) *Feed {
	if retention <= 0 {
		retention = 500
	}
	return &Feed{
		retention: retention,
		subs:      make(map[int]chan Event),
	}
}

// Publish appends a news event and fans it out. EventID and Timestamp
// are assigned here if unset.
func (f *Feed) Publish(ev types.NewsEvent) types.NewsEvent {
	if ev.EventID == "" {
		ev.EventID = uuid.New().String()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	f.mu.Lock()
	f.items = append(f.items, ev)
	if len(f.items) > f.retention {
		f.items = f.items[len(f.items)-f.retention:]
	}
	f.fanout(Event{Kind: "news", News: &ev})
	f.mu.Unlock()
	return ev
}

// PublishTrade pushes a trade to subscribers without entering the news
// log; every trade is visible on the push channel, the log keeps only
// notable events.
func (f *Feed) PublishTrade(t types.Trade) {
	f.mu.Lock()
	f.fanout(Event{Kind: "trade", Trade: &t})
	f.mu.Unlock()
}

// fanout delivers without blocking: a subscriber that cannot keep up
// loses events rather than stalling the exchange. Caller holds f.mu.
func (f *Feed) fanout(ev Event) {
	for _, ch := range f.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Recent returns up to limit news entries, newest first.
func (f *Feed) Recent(limit int) []types.NewsEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if limit <= 0 || limit > len(f.items) {
		limit = len(f.items)
	}
	out := make([]types.NewsEvent, 0, limit)
	for i := len(f.items) - 1; i >= len(f.items)-limit; i-- {
		out = append(out, f.items[i])
	}
	return out
}

// Subscribe registers a new consumer. The returned cancel func must be
// called to release the subscription.
func (f *Feed) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	f.mu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		if _, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(ch)
		}
		f.mu.Unlock()
	}
	return ch, cancel
}
