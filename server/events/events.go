// Package events is a collection of events emitted by the STOMP server.
package events

// ClientConnect is emitted after a client's CONNECT succeeds.
type ClientConnect struct {
	SessionID string
}

// ClientDisconnect is emitted after a connected client's connection closes.
type ClientDisconnect struct {
	SessionID string
}

// ServerStop is the last event emitted by a server.
type ServerStop struct{}

type SubscriptionStart struct {
	Destination string
}

type SubscriptionStop struct {
	Destination string
}
