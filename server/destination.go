package server

import (
	"strings"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// Destination is a named target of SEND frames.
//
// Implementations must be safe for concurrent use by many connections.
type Destination interface {
	// Name returns the destination name.
	Name() string

	// Dispatch delivers send to subscribers and returns the number of deliveries.
	Dispatch(send stomp.Frame) int

	// Subscribe attaches sub.
	Subscribe(sub *Subscription)

	// Unsubscribe detaches the subscription identified by connection and subscription id.
	Unsubscribe(connID, subID string) (*Subscription, bool)

	// UnsubscribeConnection detaches every subscription of a connection.
	UnsubscribeConnection(connID string) []*Subscription

	// Ack acknowledges message id for the connection's subscription holding it pending.
	Ack(connID, msgID string) ([]stomp.Frame, bool)

	// Nack rejects message id for the connection's subscription holding it pending.
	Nack(connID, msgID string) ([]stomp.Frame, bool)

	// Subscriptions returns the attached subscriptions.
	Subscriptions() []*Subscription

	// Close releases resources held by the destination once it has no subscribers.
	Close() error
}

// DestinationFactory creates destinations by name.
type DestinationFactory interface {
	Create(name string) Destination
}

// DestinationFactoryFunc is a function implementing DestinationFactory.
type DestinationFactoryFunc func(name string) Destination

// Create calls fn.
func (fn DestinationFactoryFunc) Create(name string) Destination {
	return fn(name)
}

// DefaultFactory creates a Queue for names beginning with queuePrefix and a Topic for
// every other name.  An empty prefix makes every destination a Topic.
func DefaultFactory(queuePrefix string) DestinationFactory {
	return DestinationFactoryFunc(func(name string) Destination {
		if queuePrefix != "" && strings.HasPrefix(name, queuePrefix) {
			return NewQueue(name)
		}
		return NewTopic(name)
	})
}

// NewMessage transforms send, either a SEND frame or a previously delivered MESSAGE, into
// a MESSAGE frame for sub with message id.
//
// Sender headers are preserved except transaction, receipt and content-length.
func NewMessage(send stomp.Frame, sub *Subscription, id string) stomp.Frame {
	headers := send.Headers.Clone()
	if headers == nil {
		headers = stomp.Headers{}
	}
	for _, name := range []string{stomp.HeaderTransaction, stomp.HeaderReceipt, stomp.HeaderContentLength, stomp.HeaderAck} {
		delete(headers, name)
	}
	headers[stomp.HeaderDestination] = sub.Destination
	headers[stomp.HeaderMessageID] = id
	headers[stomp.HeaderSubscription] = sub.ID
	if sub.Mode != AckAuto {
		headers[stomp.HeaderAck] = id
	}
	return stomp.Frame{
		Command: stomp.CommandMessage,
		Headers: headers,
		Body:    send.Body,
	}
}

// subscriptionList is the subscriber bookkeeping shared by Topic and Queue.  Callers
// hold the owning destination's lock.
type subscriptionList []*Subscription

func (l *subscriptionList) add(sub *Subscription) {
	*l = append(*l, sub)
}

func (l *subscriptionList) remove(connID, subID string) (*Subscription, int) {
	for k, sub := range *l {
		if sub.ConnID == connID && sub.ID == subID {
			*l = append((*l)[:k:k], (*l)[k+1:]...)
			return sub, k
		}
	}
	return nil, -1
}

func (l *subscriptionList) removeConnection(connID string) []*Subscription {
	var removed []*Subscription
	kept := (*l)[:0:0]
	for _, sub := range *l {
		if sub.ConnID == connID {
			removed = append(removed, sub)
		} else {
			kept = append(kept, sub)
		}
	}
	*l = kept
	return removed
}

// pending returns the connection's subscription holding message id.
func (l subscriptionList) pending(connID, msgID string) *Subscription {
	for _, sub := range l {
		if sub.ConnID == connID && sub.IsPending(msgID) {
			return sub
		}
	}
	return nil
}

func (l subscriptionList) clone() []*Subscription {
	return append([]*Subscription(nil), l...)
}
