// Package broadcast is a publish/subscribe channel for non-chat domain events
// (task lifecycle updates and similar) multiplexed on the chat connection.
package broadcast

import (
	"slices"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hay-kot/pgchat/internal/core/chat"
)

// Handler receives a domain event.
type Handler func(chat.DomainEvent)

type subscription struct {
	id      uint64
	name    string
	pattern bool
	fn      Handler
}

func (s subscription) matches(name string) bool {
	if !s.pattern {
		return s.name == name
	}
	ok, err := doublestar.Match(s.name, name)
	return err == nil && ok
}

// Bus is safe for concurrent use. Handlers run on the publishing goroutine,
// outside the lock, so a handler may subscribe or unsubscribe.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscription
}

func New() *Bus {
	return &Bus{}
}

// Subscribe registers fn for events named name. Multiple handlers per name are
// allowed and run in registration order. The returned func removes only this
// handler.
func (b *Bus) Subscribe(name string, fn Handler) (unsubscribe func()) {
	return b.add(name, false, fn)
}

// SubscribePattern registers fn for every event whose name matches a glob
// pattern such as "task_*".
func (b *Bus) SubscribePattern(pattern string, fn Handler) (unsubscribe func(), err error) {
	if !doublestar.ValidatePattern(pattern) {
		return nil, doublestar.ErrBadPattern
	}
	return b.add(pattern, true, fn), nil
}

func (b *Bus) add(name string, pattern bool, fn Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, name: name, pattern: pattern, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.id == id })
		})
	}
}

// Unsubscribe removes every handler registered under name (exact or pattern).
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = slices.DeleteFunc(b.subs, func(s subscription) bool { return s.name == name })
}

// Publish delivers ev to matching handlers in registration order and reports
// how many handlers ran.
func (b *Bus) Publish(ev chat.DomainEvent) int {
	b.mu.Lock()
	var targets []Handler
	for _, s := range b.subs {
		if s.matches(ev.Name) {
			targets = append(targets, s.fn)
		}
	}
	b.mu.Unlock()

	for _, fn := range targets {
		fn(ev)
	}
	return len(targets)
}

// Names returns the distinct subscribed names and patterns in registration
// order.
func (b *Bus) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []string
	for _, s := range b.subs {
		if !slices.Contains(out, s.name) {
			out = append(out, s.name)
		}
	}
	return out
}
