// Copyright ©2023 Dan Kortschak. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package viewer

import "sync"

// Key codes handled by the controller.
const (
	KeySpace = 32
	KeyLeft  = 37
	KeyRight = 39
)

// KeyEvent is a key press.
type KeyEvent struct {
	Code int

	prevented bool
}

// PreventDefault marks the event as handled.
func (e *KeyEvent) PreventDefault() { e.prevented = true }

// DefaultPrevented returns whether PreventDefault has been called.
func (e *KeyEvent) DefaultPrevented() bool { return e.prevented }

// Keyboard is a source of key events.
type Keyboard interface {
	Subscribe(func(*KeyEvent)) Subscription
}

// Subscription is a registered key event handler.
type Subscription interface {
	Unsubscribe()
}

// Bus is a Keyboard that dispatches events to all its subscribers.
// The zero value is ready to use.
type Bus struct {
	mu   sync.Mutex
	next int
	subs map[int]func(*KeyEvent)
}

// Subscribe registers fn to receive events dispatched on the bus.
func (b *Bus) Subscribe(fn func(*KeyEvent)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs == nil {
		b.subs = make(map[int]func(*KeyEvent))
	}
	id := b.next
	b.next++
	b.subs[id] = fn
	return &subscription{bus: b, id: id}
}

// Dispatch sends ev to all subscribers and reports whether any of
// them prevented the default handling.
func (b *Bus) Dispatch(ev *KeyEvent) bool {
	b.mu.Lock()
	subs := make([]func(*KeyEvent), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
	return ev.DefaultPrevented()
}

// Len returns the number of subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

type subscription struct {
	bus  *Bus
	id   int
	once sync.Once
}

func (s *subscription) Unsubscribe() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s.id)
		s.bus.mu.Unlock()
	})
}
