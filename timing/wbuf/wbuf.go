// Package wbuf implements the posted-write buffer that decouples the data
// cache controller from bus latency. It is a bounded FIFO; drain order is
// exactly push order, which is what makes write-through coherent.
package wbuf

import (
	"fmt"

	"github.com/sarchlab/akita/v4/sim"
)

// Kind tells the bus engine what transaction an entry stands for.
type Kind int

const (
	// KindWrite is a plain posted store.
	KindWrite Kind = iota
	// KindStoreCond is the write half of a successful store-conditional.
	KindStoreCond
)

// Entry is one pending single-word write transaction.
type Entry struct {
	Addr uint32
	Data uint32
	BE   uint8
	Kind Kind
}

// Buffer is a bounded FIFO of write entries with exactly one producer (the
// data cache controller) and one consumer (the bus engine).
type Buffer struct {
	fifo sim.Buffer
	// shadow mirrors the fifo contents; sim.Buffer only exposes its head,
	// and the bus engine needs address matching against every pending entry.
	shadow []Entry
}

// New creates an empty buffer with the given capacity.
func New(name string, depth int) (*Buffer, error) {
	if depth < 1 {
		return nil, fmt.Errorf("write buffer depth must be at least 1, got %d", depth)
	}

	return &Buffer{
		fifo:   sim.NewBuffer(name, depth),
		shadow: make([]Entry, 0, depth),
	}, nil
}

// Push appends an entry. It reports false, leaving the buffer unchanged,
// when the buffer is full.
func (b *Buffer) Push(e Entry) bool {
	if !b.fifo.CanPush() {
		return false
	}

	b.fifo.Push(e)
	b.shadow = append(b.shadow, e)
	return true
}

// Pop removes and returns the oldest entry.
func (b *Buffer) Pop() (Entry, bool) {
	item := b.fifo.Pop()
	if item == nil {
		return Entry{}, false
	}

	b.shadow = b.shadow[1:]
	return item.(Entry), true
}

// Peek returns the oldest entry without removing it.
func (b *Buffer) Peek() (Entry, bool) {
	item := b.fifo.Peek()
	if item == nil {
		return Entry{}, false
	}
	return item.(Entry), true
}

// Full reports whether a push would be refused.
func (b *Buffer) Full() bool { return !b.fifo.CanPush() }

// Empty reports whether the buffer holds no entries.
func (b *Buffer) Empty() bool { return b.fifo.Size() == 0 }

// Len returns the number of pending entries.
func (b *Buffer) Len() int { return b.fifo.Size() }

// Cap returns the configured depth.
func (b *Buffer) Cap() int { return b.fifo.Capacity() }

// ContainsAddr reports whether any pending entry matches addr under mask.
// The bus engine uses it to order reads behind writes to the same line.
func (b *Buffer) ContainsAddr(addr, mask uint32) bool {
	for _, e := range b.shadow {
		if e.Addr&mask == addr&mask {
			return true
		}
	}
	return false
}
