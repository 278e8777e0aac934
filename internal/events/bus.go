// Package events fans link lifecycle notifications out to any number of
// subscribers without ever blocking the link manager.
package events

import (
	"sync/atomic"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/internal/ringchan"
	"github.com/srg/btserial/pkg/link"
)

// DefaultCapacity is the per-subscriber buffer used when Subscribe gets a non-positive capacity.
const DefaultCapacity = 16

// Bus implements link.Notifier. Each subscriber owns a ring buffer; a slow
// subscriber loses its oldest events rather than stalling the publisher.
type Bus struct {
	subs   *hashmap.Map[uint64, *Subscription]
	nextID atomic.Uint64
	closed atomic.Bool
	logger *logrus.Logger
}

var _ link.Notifier = (*Bus)(nil)

// Subscription is one consumer of the bus.
type Subscription struct {
	id     uint64
	bus    *Bus
	ring   *ringchan.RingChannel[link.Event]
	filter map[link.EventType]struct{}
}

// New creates an empty Bus.
func New(logger *logrus.Logger) *Bus {
	if logger == nil {
		logger = logrus.New()
	}
	return &Bus{
		subs:   hashmap.New[uint64, *Subscription](),
		logger: logger,
	}
}

// Subscribe registers a consumer for the given event types, or for all types
// when none are given. Subscribing to a closed bus returns a closed subscription.
func (b *Bus) Subscribe(capacity int, types ...link.EventType) *Subscription {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	s := &Subscription{
		id:   b.nextID.Add(1),
		bus:  b,
		ring: ringchan.New[link.Event](capacity),
	}
	if len(types) > 0 {
		s.filter = make(map[link.EventType]struct{}, len(types))
		for _, t := range types {
			s.filter[t] = struct{}{}
		}
	}

	if b.closed.Load() {
		s.ring.Close()
		return s
	}
	b.subs.Set(s.id, s)
	return s
}

// Notify delivers ev to every interested subscriber. It never blocks.
func (b *Bus) Notify(ev link.Event) {
	if b.closed.Load() {
		return
	}

	b.subs.Range(func(id uint64, s *Subscription) bool {
		if !s.wants(ev.Type) {
			return true
		}
		if s.ring.Send(ev) {
			b.logger.WithFields(logrus.Fields{
				"subscriber": id,
				"event":      ev.Type.String(),
			}).Debug("Subscriber lagging, dropped oldest event")
		}
		return true
	})
}

// Len returns the number of active subscribers.
func (b *Bus) Len() int {
	return b.subs.Len()
}

// Close closes every subscription. Later notifications are ignored.
func (b *Bus) Close() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}

	var ids []uint64
	b.subs.Range(func(id uint64, _ *Subscription) bool {
		ids = append(ids, id)
		return true
	})
	for _, id := range ids {
		if s, ok := b.subs.Get(id); ok {
			s.Close()
		}
	}
}

func (s *Subscription) wants(t link.EventType) bool {
	if s.filter == nil {
		return true
	}
	_, ok := s.filter[t]
	return ok
}

// C returns the event channel. It is closed when the subscription or bus closes.
func (s *Subscription) C() <-chan link.Event {
	return s.ring.C()
}

// Dropped returns how many events this subscriber lost to overflow.
func (s *Subscription) Dropped() int64 {
	return s.ring.GetMetrics().Overwritten
}

// Close removes the subscription from the bus and closes its channel.
func (s *Subscription) Close() {
	s.bus.subs.Del(s.id)
	s.ring.Close()
}
