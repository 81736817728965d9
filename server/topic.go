package server

import (
	"sync"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// Topic is a broadcast Destination: every subscriber receives its own copy of each message.
type Topic struct {
	name string

	// NewID creates message ids; stomp.MessageID when nil.
	NewID func() string

	mu   sync.RWMutex
	subs subscriptionList
}

// NewTopic creates an empty Topic.
func NewTopic(name string) *Topic {
	return &Topic{name: name}
}

// Name returns the topic name.
func (t *Topic) Name() string {
	return t.name
}

// Dispatch delivers a fresh MESSAGE to every subscriber.  Delivery happens outside the
// topic's lock.
func (t *Topic) Dispatch(send stomp.Frame) int {
	t.mu.RLock()
	subs := t.subs.clone()
	t.mu.RUnlock()
	n := 0
	for _, sub := range subs {
		if sub.Deliver(NewMessage(send, sub, t.newID())) {
			n++
		}
	}
	return n
}

func (t *Topic) newID() string {
	if t.NewID != nil {
		return t.NewID()
	}
	return stomp.MessageID()
}

// Subscribe attaches sub.
func (t *Topic) Subscribe(sub *Subscription) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.subs.add(sub)
}

// Unsubscribe detaches a subscription.
func (t *Topic) Unsubscribe(connID, subID string) (*Subscription, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sub, _ := t.subs.remove(connID, subID)
	return sub, sub != nil
}

// UnsubscribeConnection detaches every subscription of a connection.
func (t *Topic) UnsubscribeConnection(connID string) []*Subscription {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.subs.removeConnection(connID)
}

// Ack acknowledges a pending message.
func (t *Topic) Ack(connID, msgID string) ([]stomp.Frame, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if sub := t.subs.pending(connID, msgID); sub != nil {
		return sub.Ack(msgID), true
	}
	return nil, false
}

// Nack rejects a pending message; topics never redeliver.
func (t *Topic) Nack(connID, msgID string) ([]stomp.Frame, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if sub := t.subs.pending(connID, msgID); sub != nil {
		return sub.Nack(msgID), true
	}
	return nil, false
}

// Subscriptions returns the attached subscriptions.
func (t *Topic) Subscriptions() []*Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.subs.clone()
}

// Close is a no-op.
func (t *Topic) Close() error {
	return nil
}
