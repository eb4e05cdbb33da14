// Package overlay holds the latest overlay text per channel and fans updates out
// to connected viewers. Each channel has a single slot overwritten wholesale on
// publish (last-write-wins, no history). Publishing never blocks on slow or
// disconnected subscribers; a laggy viewer only skips intermediate values and
// still converges on the latest text.
package overlay

import (
	"context"
	"sync"
	"time"
)

// Placeholder is returned by Read for channels that have never published.
const Placeholder = "Overlay ready"

type slot struct {
	text      string
	updatedAt time.Time
}

type subscriber struct {
	ch chan string
}

// Registry is the per-channel overlay store. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	slots map[string]slot
	subs  map[string]map[*subscriber]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		slots: make(map[string]slot),
		subs:  make(map[string]map[*subscriber]struct{}),
	}
}

// Publish replaces the channel's slot and notifies subscribers. Delivery to each
// subscriber is coalescing: if a previous value is still pending, it is replaced
// by the new one rather than queued behind it.
func (r *Registry) Publish(channel, text string) {
	r.mu.Lock()
	r.slots[channel] = slot{text: text, updatedAt: time.Now()}
	for sub := range r.subs[channel] {
		select {
		case sub.ch <- text:
		default:
			// Drop the stale pending value, then deliver the latest.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- text:
			default:
			}
		}
	}
	r.mu.Unlock()
}

// Read returns the last published text for the channel, or Placeholder if the
// channel has never published, along with the update time (zero for Placeholder).
func (r *Registry) Read(channel string) (string, time.Time) {
	r.mu.RLock()
	s, ok := r.slots[channel]
	r.mu.RUnlock()
	if !ok {
		return Placeholder, time.Time{}
	}
	return s.text, s.updatedAt
}

// Subscribe registers a viewer for the channel and returns a stream of overlay
// values. The current value (or Placeholder) is delivered first so late joiners
// render immediately. The subscription ends when ctx is cancelled; the returned
// channel is closed at that point.
func (r *Registry) Subscribe(ctx context.Context, channel string) <-chan string {
	sub := &subscriber{ch: make(chan string, 1)}

	r.mu.Lock()
	if r.subs[channel] == nil {
		r.subs[channel] = make(map[*subscriber]struct{})
	}
	r.subs[channel][sub] = struct{}{}
	// Seed the current value under the lock: the buffer is empty here and no
	// publish can interleave, so this send cannot block.
	if cur, ok := r.slots[channel]; ok {
		sub.ch <- cur.text
	} else {
		sub.ch <- Placeholder
	}
	r.mu.Unlock()

	out := make(chan string)
	go func() {
		defer close(out)
		defer r.unsubscribe(channel, sub)
		for {
			select {
			case <-ctx.Done():
				return
			case text := <-sub.ch:
				select {
				case out <- text:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

// SubscriberCount reports how many viewers are attached to the channel.
func (r *Registry) SubscriberCount(channel string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[channel])
}

func (r *Registry) unsubscribe(channel string, sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs[channel], sub)
	if len(r.subs[channel]) == 0 {
		delete(r.subs, channel)
	}
}
