package testsuite

import (
	"sync"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/server"
)

// Receiver is a server.Receiver that records deliveries.
type Receiver struct {
	// Refuse=true makes Deliver report a closed connection.
	Refuse bool

	mu       sync.Mutex
	messages []Delivery
}

// Delivery is one recorded delivery.
type Delivery struct {
	Subscription *server.Subscription
	Message      stomp.Frame
}

// Deliver implements server.Receiver.
func (r *Receiver) Deliver(sub *server.Subscription, msg stomp.Frame) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Refuse {
		return false
	}
	r.messages = append(r.messages, Delivery{Subscription: sub, Message: msg})
	return true
}

// Messages returns the recorded deliveries.
func (r *Receiver) Messages() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Delivery(nil), r.messages...)
}

// For returns the messages delivered to the subscription with id.
func (r *Receiver) For(id string) []stomp.Frame {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rv []stomp.Frame
	for _, d := range r.messages {
		if d.Subscription.ID == id {
			rv = append(rv, d.Message)
		}
	}
	return rv
}

// Reset forgets the recorded deliveries.
func (r *Receiver) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
}
