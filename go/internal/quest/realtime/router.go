package realtime

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/questline/questline/go/internal/quest/events"
)

const defaultSubscriptionBuffer = 64

// Subscription is a cancellable stream of frames for one event name.
type Subscription struct {
	event  events.Name
	ch     chan events.Frame
	router *Router
	once   sync.Once
}

// Frames returns the channel frames are delivered on. The channel is closed
// when the subscription is cancelled.
func (s *Subscription) Frames() <-chan events.Frame {
	return s.ch
}

// Event returns the event name this subscription observes.
func (s *Subscription) Event() events.Name {
	return s.event
}

// Cancel removes the subscription from the router. After Cancel returns no
// further frames are delivered. Idempotent.
func (s *Subscription) Cancel() {
	s.router.remove(s)
	s.once.Do(func() { close(s.ch) })
}

// Router maps event names to the current set of subscribers and fans each
// dispatched frame out to all of them. Subscribers added or removed while a
// dispatch is in progress never corrupt delivery to their siblings.
type Router struct {
	mu     sync.RWMutex
	subs   map[events.Name][]*Subscription
	buffer int
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		subs:   make(map[events.Name][]*Subscription),
		buffer: defaultSubscriptionBuffer,
	}
}

// Subscribe registers a new independent subscriber for an event name.
// Multiple subscribers to the same name all receive every dispatched frame.
func (r *Router) Subscribe(event events.Name) *Subscription {
	sub := &Subscription{
		event:  event,
		ch:     make(chan events.Frame, r.buffer),
		router: r,
	}

	r.mu.Lock()
	r.subs[event] = append(r.subs[event], sub)
	r.mu.Unlock()

	return sub
}

// Dispatch delivers a frame to every current subscriber of its event name.
// Sends are non-blocking: a subscriber that has fallen behind drops the frame
// rather than stalling delivery to the others.
func (r *Router) Dispatch(frame events.Frame) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, sub := range r.subs[frame.Event] {
		select {
		case sub.ch <- frame:
		default:
			log.Warn().
				Str("event", string(frame.Event)).
				Msg("subscriber buffer full, dropping frame")
		}
	}
}

// SubscriberCount returns the number of active subscribers for an event name.
func (r *Router) SubscriberCount(event events.Name) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[event])
}

// EventNames returns the event names that currently have subscribers.
func (r *Router) EventNames() []events.Name {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]events.Name, 0, len(r.subs))
	for name, subs := range r.subs {
		if len(subs) > 0 {
			names = append(names, name)
		}
	}
	return names
}

// Reset cancels every subscription. Used when a connection is torn down.
func (r *Router) Reset() {
	r.mu.Lock()
	var all []*Subscription
	for _, subs := range r.subs {
		all = append(all, subs...)
	}
	r.subs = make(map[events.Name][]*Subscription)
	r.mu.Unlock()

	for _, sub := range all {
		sub.once.Do(func() { close(sub.ch) })
	}
}

// remove deletes a single subscription from the registry. Removal of one
// subscriber leaves all other subscriptions to the same name untouched.
func (r *Router) remove(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[sub.event]
	for i, s := range subs {
		if s == sub {
			r.subs[sub.event] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(r.subs[sub.event]) == 0 {
		delete(r.subs, sub.event)
	}
}
