// Package eventbus is the in-process fanout that carries directory,
// broadcast and task events to the audit log and diagnostics.
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event is a fire-and-forget signal. Publish never blocks, so a subscriber
// that falls behind loses events instead of stalling the publisher.
type Event struct {
	Type string
	Time time.Time
	Data any
}

const (
	TypeChannelRegistered = "directory.registered" // Data: DirectoryChange
	TypeChannelApproved   = "directory.approved"   // Data: DirectoryChange
	TypeChannelRejected   = "directory.rejected"   // Data: DirectoryChange
	TypeBroadcastFinished = "broadcast.finished"   // Data: broadcast.Report
)

// DirectoryChange describes a directory mutation for audit consumers.
type DirectoryChange struct {
	ChannelID int64
	Title     string
	ActorID   int64
	Source    string // "membership", "command" or "panel"
	Detail    string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Dropped counts deliveries lost to full subscribers.
	Dropped() uint64
}

func New() Bus {
	return &bus{subs: map[*sub]struct{}{}}
}

type sub struct {
	ch chan Event
}

type bus struct {
	// mu is held for reading during delivery, so unsubscribe cannot close
	// a channel that is being sent to.
	mu      sync.RWMutex
	subs    map[*sub]struct{}
	dropped atomic.Uint64
}

func (b *bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

// Subscribe returns a buffered channel (8 when buffer <= 0) and a func that
// closes it. Calling the func more than once is harmless.
func (b *bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	return s.ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[s]; ok {
			delete(b.subs, s)
			close(s.ch)
		}
	}
}

func (b *bus) Dropped() uint64 { return b.dropped.Load() }
