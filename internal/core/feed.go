package core

import "sync"

// Subscription receives table events for one subscribe stream.
type Subscription struct {
	ClientID int32
	Events   chan Event
}

// Feed fans events out to subscriptions.
type Feed struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

// NewFeed constructs a feed with no subscribers.
func NewFeed() *Feed {
	return &Feed{subs: make(map[*Subscription]struct{})}
}

// Add inserts a subscription. Returns true if newly added.
func (f *Feed) Add(s *Subscription) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.subs[s]; exists {
		return false
	}
	f.subs[s] = struct{}{}
	return true
}

// Remove deletes a subscription. Returns true if removed.
func (f *Feed) Remove(s *Subscription) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.subs[s]; !exists {
		return false
	}
	delete(f.subs, s)
	return true
}

// Broadcast sends an event to all subscriptions.
func (f *Feed) Broadcast(event Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for s := range f.subs {
		select {
		case s.Events <- event:
		default:
			// Drop if slow consumer.
		}
	}
}

// Len returns the number of subscriptions.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}
