package server

import (
	"sync"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// AckMode is the acknowledgment policy of a subscription.
type AckMode string

const (
	// AckAuto considers messages acknowledged as soon as they are sent.
	AckAuto AckMode = "auto"

	// AckClient is cumulative: acknowledging a message acknowledges every older pending message.
	AckClient AckMode = "client"

	// AckClientIndividual acknowledges exactly one message.
	AckClientIndividual AckMode = "client-individual"
)

// ParseAckMode parses the ack header of a SUBSCRIBE frame; empty means AckAuto.
func ParseAckMode(s string) (AckMode, bool) {
	switch m := AckMode(s); m {
	case "":
		return AckAuto, true
	case AckAuto, AckClient, AckClientIndividual:
		return m, true
	}
	return "", false
}

// Receiver is the connection side of a Subscription.
type Receiver interface {
	// Deliver writes msg to the subscriber and returns false if the connection is gone.
	Deliver(sub *Subscription, msg stomp.Frame) bool
}

// A Subscription is one connection's interest in a destination.
//
// Messages delivered to client and client-individual subscriptions stay pending until
// they are acknowledged or rejected.
type Subscription struct {
	// ConnID is the id of the owning connection.
	ConnID string

	// ID is the subscription id chosen by the client; unique per connection.
	ID string

	// Destination is the subscribed destination name.
	Destination string

	// Mode is the acknowledgment mode.
	Mode AckMode

	receiver Receiver

	mu      sync.Mutex
	pending []stomp.Frame
}

// NewSubscription creates a subscription whose messages are written to r.
func NewSubscription(connID, id, destination string, ack AckMode, r Receiver) *Subscription {
	return &Subscription{
		ConnID:      connID,
		ID:          id,
		Destination: destination,
		Mode:        ack,
		receiver:    r,
	}
}

// Deliver sends msg to the subscriber, tracking it as pending unless the mode is auto.
// A refused message is not left pending.
func (s *Subscription) Deliver(msg stomp.Frame) bool {
	if s.Mode == AckAuto {
		return s.receiver.Deliver(s, msg)
	}
	s.mu.Lock()
	s.pending = append(s.pending, msg)
	s.mu.Unlock()
	if s.receiver.Deliver(s, msg) {
		return true
	}
	s.forget(msg.Headers[stomp.HeaderMessageID])
	return false
}

// forget drops the pending message with id without touching older messages.
func (s *Subscription) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := len(s.pending) - 1; k >= 0; k-- {
		if s.pending[k].Headers[stomp.HeaderMessageID] == id {
			s.pending = append(s.pending[:k:k], s.pending[k+1:]...)
			return
		}
	}
}

// Ack removes and returns the messages acknowledged by message id.
//
// The pending queue is walked in delivery order up to the first message with the id.
// In client mode that message and every older one are removed; in client-individual
// mode only that message.  No match, or auto mode, removes nothing.
func (s *Subscription) Ack(id string) []stomp.Frame {
	if s.Mode == AckAuto {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	at := -1
	for k, msg := range s.pending {
		if msg.Headers[stomp.HeaderMessageID] == id {
			at = k
			break
		}
	}
	if at == -1 {
		return nil
	}
	var removed []stomp.Frame
	if s.Mode == AckClient {
		removed = append(removed, s.pending[:at+1]...)
		s.pending = append([]stomp.Frame(nil), s.pending[at+1:]...)
	} else {
		removed = []stomp.Frame{s.pending[at]}
		s.pending = append(s.pending[:at:at], s.pending[at+1:]...)
	}
	return removed
}

// Nack removes and returns the messages rejected by message id; removal follows the
// same rules as Ack.
func (s *Subscription) Nack(id string) []stomp.Frame {
	return s.Ack(id)
}

// IsPending returns true if a message with id awaits acknowledgment.
func (s *Subscription) IsPending(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range s.pending {
		if msg.Headers[stomp.HeaderMessageID] == id {
			return true
		}
	}
	return false
}

// Pending returns a copy of the messages awaiting acknowledgment in delivery order.
func (s *Subscription) Pending() []stomp.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stomp.Frame(nil), s.pending...)
}
