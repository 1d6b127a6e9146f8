package events

import (
	"context"
	"path"
	"sync"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// MemoryBus is an in-process publish/subscribe bus with the same subject
// semantics as the NATS publisher. Dev mode and tests run on it so the
// WebSocket hub works without a broker.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[int]*memorySub
	next int
}

type memorySub struct {
	pattern string
	handler func(subject string, payload []byte)
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[int]*memorySub)}
}

// Publish delivers the event synchronously to every matching subscriber.
func (b *MemoryBus) Publish(_ context.Context, subject string, payload []byte) error {
	b.mu.RLock()
	matched := make([]*memorySub, 0, len(b.subs))
	for _, s := range b.subs {
		if subjectMatches(s.pattern, subject) {
			matched = append(matched, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range matched {
		s.handler(subject, payload)
	}
	return nil
}

// Subscribe registers a handler for a subject pattern, e.g. "settlement.*".
// The returned function removes the subscription.
func (b *MemoryBus) Subscribe(pattern string, handler func(subject string, payload []byte)) (func(), error) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &memorySub{pattern: pattern, handler: handler}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}, nil
}

// subjectMatches supports glob-style patterns ("settlement.*") and the
// match-all ">". Exact subjects match themselves.
func subjectMatches(pattern, subject string) bool {
	if pattern == subject || pattern == ">" {
		return true
	}
	ok, err := path.Match(pattern, subject)
	return err == nil && ok
}

var _ domain.EventPublisher = (*MemoryBus)(nil)
