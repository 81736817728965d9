package server

import (
	"runtime"
	"strings"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/frames"
	"github.com/nofeaturesonlybugs/stomp/v2/server/events"
)

// Handler handles one client frame on a connection.  A returned error is sent to the
// client as an ERROR frame and the connection is closed.
type Handler interface {
	Handle(c *Conn, f stomp.Frame) error
}

// HandlerFunc is a function implementing Handler.
type HandlerFunc func(c *Conn, f stomp.Frame) error

// Handle calls fn.
func (fn HandlerFunc) Handle(c *Conn, f stomp.Frame) error {
	return fn(c, f)
}

// Handlers maps client commands to their handlers.
type Handlers map[stomp.Command]Handler

// DefaultHandlers returns the handlers for every client command.
func DefaultHandlers() Handlers {
	return Handlers{
		stomp.CommandConnect:     HandlerFunc(Connect),
		stomp.CommandStomp:       HandlerFunc(Connect),
		stomp.CommandSend:        HandlerFunc(Send),
		stomp.CommandSubscribe:   HandlerFunc(Subscribe),
		stomp.CommandUnsubscribe: HandlerFunc(Unsubscribe),
		stomp.CommandAck:         HandlerFunc(Ack),
		stomp.CommandNack:        HandlerFunc(Nack),
		stomp.CommandBegin:       HandlerFunc(Begin),
		stomp.CommandCommit:      HandlerFunc(Commit),
		stomp.CommandAbort:       HandlerFunc(Abort),
		stomp.CommandDisconnect:  HandlerFunc(Disconnect),
	}
}

// clone returns a copy of h.
func (h Handlers) clone() Handlers {
	rv := make(Handlers, len(h))
	for c, handler := range h {
		rv[c] = handler
	}
	return rv
}

// Connect negotiates the protocol version and heartbeats, authenticates the client and
// replies CONNECTED.
func Connect(c *Conn, f stomp.Frame) error {
	srv, opts := c.srv, c.srv.Options
	version, err := stomp.NegotiateVersion(f.Headers[stomp.HeaderAcceptVersion], opts.Versions)
	if err != nil {
		pe := protocolError(stomp.ErrUnsupportedVersion, f, "supported versions are %v", strings.Join(opts.Versions, ","))
		pe.Headers = stomp.Headers{stomp.HeaderVersion: strings.Join(opts.Versions, ",")}
		return pe
	}
	remote, err := stomp.ParseHeartBeat(f.Headers[stomp.HeaderHeartBeat])
	if err != nil {
		return protocolError(stomp.ErrFrame, f, "%v", err)
	}
	login := f.Headers[stomp.HeaderLogin]
	if srv.Authenticator != nil {
		ok, err := srv.Authenticator.Authenticate(srv.ctx, login, f.Headers[stomp.HeaderPasscode])
		if err != nil {
			c.Warnf("authenticate %v: %v", login, err)
		}
		if err != nil || !ok {
			return protocolError(ErrAuthentication, frames.Empty, "invalid login or passcode")
		}
	}
	local := opts.ServerHeartBeat()
	ping, silence := stomp.NegotiateHeartBeat(local, remote)
	//
	c.Version, c.Session, c.Login = version, srv.newSessionID(), login
	c.state = stateConnected
	c.Logger = stomp.WithField(c.Logger, "session", c.Session)
	c.write(frames.Connected(version, c.Session, opts.ServerName, local))
	c.startHeartbeat(ping, silence)
	c.Infof("connected: version=%v remote=%v heart-beat=%v,%v", version, c.Remote, ping, silence)
	srv.emit(events.ClientConnect{SessionID: c.Session})
	return nil
}

// Send dispatches a message or buffers it into a transaction.
func Send(c *Conn, f stomp.Frame) error {
	if f.Headers[stomp.HeaderDestination] == "" {
		return missingHeader(f, stomp.HeaderDestination)
	}
	if tx := f.Headers[stomp.HeaderTransaction]; tx != "" {
		return c.srv.buffer(c, tx, f)
	}
	return c.srv.send(c, f)
}

// Subscribe attaches a new subscription to its destination.
func Subscribe(c *Conn, f stomp.Frame) error {
	dest, id := f.Headers[stomp.HeaderDestination], f.Headers[stomp.HeaderID]
	if dest == "" {
		return missingHeader(f, stomp.HeaderDestination)
	}
	if id == "" {
		return missingHeader(f, stomp.HeaderID)
	}
	ack, ok := ParseAckMode(f.Headers[stomp.HeaderAck])
	if !ok {
		return protocolError(ErrInvalidAck, f, "ack must be one of %v, %v, %v", AckAuto, AckClient, AckClientIndividual)
	}
	if err := c.srv.subscribe(NewSubscription(c.ID, id, dest, ack, c)); err != nil {
		return protocolError(err, f, "subscription id %v is already in use", id)
	}
	return nil
}

// Unsubscribe detaches a subscription.
func Unsubscribe(c *Conn, f stomp.Frame) error {
	id := f.Headers[stomp.HeaderID]
	if id == "" {
		return missingHeader(f, stomp.HeaderID)
	}
	if !c.srv.unsubscribe(c.ID, id) {
		return protocolError(ErrUnknownSubscription, f, "no subscription with id %v", id)
	}
	return nil
}

// ackID returns the message id acknowledged by an ACK or NACK frame.  Version 1.2 uses
// id; earlier versions use message-id.
func ackID(f stomp.Frame) (string, error) {
	if id := f.Headers[stomp.HeaderID]; id != "" {
		return id, nil
	}
	if id := f.Headers[stomp.HeaderMessageID]; id != "" {
		return id, nil
	}
	return "", missingHeader(f, stomp.HeaderID)
}

// Ack acknowledges a message or buffers the acknowledgment into a transaction.
func Ack(c *Conn, f stomp.Frame) error {
	id, err := ackID(f)
	if err != nil {
		return err
	}
	if tx := f.Headers[stomp.HeaderTransaction]; tx != "" {
		return c.srv.buffer(c, tx, f)
	}
	c.cancelAcks(c.srv.ack(c, id))
	return nil
}

// Nack rejects a message or buffers the rejection into a transaction.
func Nack(c *Conn, f stomp.Frame) error {
	id, err := ackID(f)
	if err != nil {
		return err
	}
	if tx := f.Headers[stomp.HeaderTransaction]; tx != "" {
		return c.srv.buffer(c, tx, f)
	}
	c.cancelAcks(c.srv.nack(c, id))
	return nil
}

// Begin starts a transaction.
func Begin(c *Conn, f stomp.Frame) error {
	tx := f.Headers[stomp.HeaderTransaction]
	if tx == "" {
		return missingHeader(f, stomp.HeaderTransaction)
	}
	if err := c.srv.begin(c.ID, tx); err != nil {
		return protocolError(err, f, "transaction %v is already active", tx)
	}
	return nil
}

// Commit replays a transaction's frames in order.  The replay yields the processor every
// Options.TxChunkSize frames.
func Commit(c *Conn, f stomp.Frame) error {
	id := f.Headers[stomp.HeaderTransaction]
	if id == "" {
		return missingHeader(f, stomp.HeaderTransaction)
	}
	tx := c.srv.take(c.ID, id)
	if tx == nil {
		return protocolError(ErrUnknownTransaction, f, "no transaction with id %v", id)
	}
	chunk := c.srv.Options.TxChunkSize
	for k, buffered := range tx.Frames() {
		if chunk > 0 && k > 0 && k%chunk == 0 {
			runtime.Gosched()
		}
		if err := c.srv.replay(c, buffered); err != nil {
			return err
		}
	}
	c.Debugf("commit %v: %v frames", id, tx.Len())
	tx.Clear()
	c.srv.Metrics.transaction("commit")
	return nil
}

// Abort discards a transaction.
func Abort(c *Conn, f stomp.Frame) error {
	id := f.Headers[stomp.HeaderTransaction]
	if id == "" {
		return missingHeader(f, stomp.HeaderTransaction)
	}
	tx := c.srv.take(c.ID, id)
	if tx == nil {
		return protocolError(ErrUnknownTransaction, f, "no transaction with id %v", id)
	}
	c.Debugf("abort %v: %v frames discarded", id, tx.Len())
	tx.Clear()
	c.srv.Metrics.transaction("abort")
	return nil
}

// Disconnect marks the connection for closing after any receipt is sent.
func Disconnect(c *Conn, f stomp.Frame) error {
	c.disconnect = true
	return nil
}
