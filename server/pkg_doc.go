// Package server contains a STOMP server implementation.
//
// Every connection is served by its own goroutine which handles the client's frames in
// order.  State shared by connections, the destination table and the subscription and
// transaction registries, belongs to one Server and is guarded by its mutex; each
// Destination guards its own subscribers.
//
// Destinations are created on first SUBSCRIBE by a DestinationFactory and discarded
// when their last subscription ends.  The default factory creates broadcast Topics and,
// for names with the queue prefix, round-robin Queues.
//
// TODO
//
// Destination authorization.  Currently an authenticated client can subscribe and send
// to any destination.
package server
