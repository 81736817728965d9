package server

import (
	"sync"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// Queue is a work-sharing Destination: each message is delivered to exactly one
// subscriber chosen by a rotating cursor.  A subscriber that refuses a message, because
// its connection is closing, passes it on to the rest of the rotation.
//
// Rejected messages are redelivered once to the next subscriber in rotation, skipping
// the subscriber that rejected them.  A redelivery that is rejected again is not retried
// unless another subscriber is still available at that time.
type Queue struct {
	name string

	// NewID creates message ids; stomp.MessageID when nil.
	NewID func() string

	mu     sync.Mutex
	subs   subscriptionList
	cursor int
}

// NewQueue creates an empty Queue.
func NewQueue(name string) *Queue {
	return &Queue{name: name}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Dispatch delivers send to the subscriber under the cursor and advances it.  If that
// subscriber refuses the message it is offered to the others in rotation order, at most
// once around.
func (q *Queue) Dispatch(send stomp.Frame) int {
	q.mu.Lock()
	rotation := q.rotation()
	q.mu.Unlock()
	if len(rotation) == 0 {
		return 0
	}
	id := q.newID()
	for _, sub := range rotation {
		if sub.Deliver(NewMessage(send, sub, id)) {
			return 1
		}
	}
	return 0
}

// rotation returns the subscribers starting at the cursor and advances the cursor.
// Callers hold q.mu.
func (q *Queue) rotation() []*Subscription {
	n := len(q.subs)
	if n == 0 {
		return nil
	}
	start := q.cursor % n
	q.cursor = (start + 1) % n
	rv := make([]*Subscription, 0, n)
	rv = append(rv, q.subs[start:]...)
	return append(rv, q.subs[:start]...)
}

// next returns the subscriber under the cursor and advances it.  If that subscriber is
// skip and another subscriber exists the following one is returned instead.
func (q *Queue) next(skip *Subscription) *Subscription {
	n := len(q.subs)
	if n == 0 {
		return nil
	}
	sub := q.subs[q.cursor%n]
	q.cursor = (q.cursor + 1) % n
	if sub == skip {
		if n == 1 {
			return nil
		}
		sub = q.subs[q.cursor%n]
		q.cursor = (q.cursor + 1) % n
	}
	return sub
}

func (q *Queue) newID() string {
	if q.NewID != nil {
		return q.NewID()
	}
	return stomp.MessageID()
}

// Subscribe attaches sub at the end of the rotation.
func (q *Queue) Subscribe(sub *Subscription) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs.add(sub)
}

// Unsubscribe detaches a subscription, keeping the cursor on the same next subscriber.
func (q *Queue) Unsubscribe(connID, subID string) (*Subscription, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	sub, at := q.subs.remove(connID, subID)
	if sub == nil {
		return nil, false
	}
	if at < q.cursor {
		q.cursor--
	}
	q.fixCursor()
	return sub, true
}

// UnsubscribeConnection detaches every subscription of a connection.
func (q *Queue) UnsubscribeConnection(connID string) []*Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := q.subs.removeConnection(connID)
	q.fixCursor()
	return removed
}

func (q *Queue) fixCursor() {
	if n := len(q.subs); n == 0 || q.cursor >= n || q.cursor < 0 {
		q.cursor = 0
	}
}

// Ack acknowledges a pending message.
func (q *Queue) Ack(connID, msgID string) ([]stomp.Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if sub := q.subs.pending(connID, msgID); sub != nil {
		return sub.Ack(msgID), true
	}
	return nil, false
}

// Nack rejects a pending message and redelivers the removed messages to another subscriber.
func (q *Queue) Nack(connID, msgID string) ([]stomp.Frame, bool) {
	q.mu.Lock()
	sub := q.subs.pending(connID, msgID)
	if sub == nil {
		q.mu.Unlock()
		return nil, false
	}
	removed := sub.Nack(msgID)
	var to *Subscription
	if len(removed) > 0 {
		to = q.next(sub)
	}
	q.mu.Unlock()
	if to != nil {
		for _, msg := range removed {
			to.Deliver(NewMessage(msg, to, q.newID()))
		}
	}
	return removed, true
}

// Subscriptions returns the attached subscriptions in rotation order.
func (q *Queue) Subscriptions() []*Subscription {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.subs.clone()
}

// Close is a no-op.
func (q *Queue) Close() error {
	return nil
}
