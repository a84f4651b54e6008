// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package bus provides a small publish/subscribe hub that always holds the latest value.
package bus

import (
	"sync"

	"github.com/wneessen/waybar-bike/internal/vartype"
)

// Bus fans published values out to all subscribers. Slow subscribers never block a publisher:
// if a subscriber's buffer is full, its oldest pending value is replaced so that the most recent
// value is always delivered.
type Bus[T any] struct {
	mu     sync.RWMutex
	latest vartype.Variable[T]
	subs   map[chan T]struct{}
}

// New returns an empty Bus.
func New[T any]() *Bus[T] {
	return &Bus[T]{
		subs: make(map[chan T]struct{}),
	}
}

// Subscribe registers a subscriber with the given buffer size and returns its channel together
// with an unsubscribe function. If a value has been published before, it is delivered right away.
func (b *Bus[T]) Subscribe(size int) (<-chan T, func()) {
	if size < 1 {
		size = 1
	}
	ch := make(chan T, size)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	if latest, ok := b.latest.Get(); ok {
		ch <- latest
	}
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Publish stores v as the latest value and delivers it to every subscriber.
func (b *Bus[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latest.Set(v)
	for ch := range b.subs {
		deliver(ch, v)
	}
}

// Latest returns the most recently published value.
func (b *Bus[T]) Latest() (T, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest.Get()
}

// Subscribers returns the number of active subscribers.
func (b *Bus[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func deliver[T any](ch chan T, v T) {
	select {
	case ch <- v:
		return
	default:
	}
	// drop the oldest pending value
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
