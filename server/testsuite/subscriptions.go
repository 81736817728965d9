package testsuite

import (
	"fmt"

	"github.com/nofeaturesonlybugs/stomp/v2/frames"
	"github.com/nofeaturesonlybugs/stomp/v2/server"
)

// Subscriptions is a list of subscription types.
//
// Many of the server tests use a variable number of destinations and send a
// variable number of messages per destination.
//
// The Subscriptions type reduces the boiler plate of generating frames, iterating
// destinations to send various client commands, etc.
type Subscriptions []Subscription

// NewSubscriptions creates a subscriptions type with n subscriptions where each subscription
// has dest as a prefix and "/n" as a suffix.
func NewSubscriptions(dest string, n int) Subscriptions {
	var subs Subscriptions
	for k := 0; k < n; k++ {
		topic := fmt.Sprintf("%v/%v", dest, k)
		subs = append(subs, Subscription{
			ID:    fmt.Sprintf("sub-%v", k),
			Topic: topic,
		})
	}
	return subs
}

// NewCountMap returns a new map[string]int where the key is the subscription destination
// and the value is initially zero.  This is useful for tests that want to count messages-by-destination.
func (subs Subscriptions) NewCountMap() map[string]int {
	rv := map[string]int{}
	for _, s := range subs {
		rv[s.Topic] = 0
	}
	return rv
}

// Subscribe subscribes client to every destination and waits for the receipts.
func (subs Subscriptions) Subscribe(client MockClient, ack server.AckMode) error {
	for _, s := range subs {
		if err := client.Request(frames.Subscribe(s.Topic, string(ack), s.ID), "subscribe-"+s.ID); err != nil {
			return err
		}
	}
	return nil
}

// Unsubscribe removes every subscription of client and waits for the receipts.
func (subs Subscriptions) Unsubscribe(client MockClient) error {
	for _, s := range subs {
		if err := client.Request(frames.Unsubscribe(s.ID), "unsubscribe-"+s.ID); err != nil {
			return err
		}
	}
	return nil
}

// Send sends n messages to every destination through client; the last frame requests a
// receipt which is awaited.
func (subs Subscriptions) Send(client MockClient, n int) error {
	for k := 0; k < n; k++ {
		for i, s := range subs {
			f := frames.SendString(s.Topic, fmt.Sprintf("%v-%v", s.Topic, k))
			if k == n-1 && i == len(subs)-1 {
				return client.Request(f, "send-done")
			}
			if err := client.Frame(f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Subscription contains meta information describing a destination and subscription id.
type Subscription struct {
	ID    string
	Topic string
}
