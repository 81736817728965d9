package server

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/frames"
	"github.com/nofeaturesonlybugs/stomp/v2/server/events"
)

type connState int

const (
	stateUnconnected connState = iota
	stateConnected
	stateClosed
)

// Conn is one client connection to a Server.
//
// Frames from the client are handled sequentially by the connection's own goroutine;
// handlers may therefore use the connection state without locking.  Other connections
// write to a Conn when they deliver messages to its subscriptions.
//
// Writes never block: units are appended to an outbox that a second goroutine feeds to
// the peer, so a client that stops reading only stalls its own connection.
type Conn struct {
	stomp.Peer

	// ID identifies the connection within the server.
	ID string

	// Remote describes the remote endpoint.
	Remote string

	// Session and Version are set by a successful CONNECT.
	Session string
	Version string

	// Login is the authenticated login, if any.
	Login string

	stomp.Logger

	srv        *Server
	state      connState
	disconnect bool

	mu     sync.Mutex // guards the fields below
	closed bool
	outbox []stomp.Unit
	timers []Timer
	acks   map[string]Timer

	wake    chan stomp.Signal
	flushed chan stomp.Signal

	killOnce sync.Once
	killed   chan stomp.Signal
	reason   error
}

func newConn(srv *Server, peer stomp.Peer, id, remote string) *Conn {
	return &Conn{
		Peer:   peer,
		ID:     id,
		Remote: remote,
		Logger: stomp.WithField(srv.log, "conn", id),
		srv:    srv,
		acks:   map[string]Timer{},
		killed: make(chan stomp.Signal),
		//
		wake:    make(chan stomp.Signal, 1),
		flushed: make(chan stomp.Signal),
	}
}

// Connected returns true once CONNECT succeeded.
func (c *Conn) Connected() bool {
	return c.state == stateConnected
}

// Kill asks the connection to close.  If reason is a *ProtocolError or ErrShutdown the
// client is sent an ERROR frame first.
func (c *Conn) Kill(reason error) {
	c.killOnce.Do(func() {
		c.reason = reason
		close(c.killed)
	})
}

// run is the connection loop; it returns when the connection is closed.
func (c *Conn) run() {
	go c.flush()
	defer c.close()
	for {
		select {
		case f, open := <-c.Receive:
			if !open {
				c.readError()
				return
			}
			if err := c.handle(f); err != nil {
				c.fail(asProtocolError(err, f))
				return
			}
			if c.disconnect {
				c.Debugf("disconnected")
				return
			}
		case <-c.killed:
			switch {
			case errors.Is(c.reason, ErrShutdown):
				c.fail(&ProtocolError{Message: "server shutting down", Detail: "The server is shutting down.", Err: c.reason})
			case c.reason != nil:
				var pe *ProtocolError
				if errors.As(c.reason, &pe) {
					c.fail(pe)
				} else {
					c.Infof("closing: %v", c.reason)
				}
			}
			return
		}
	}
}

// readError reports why the reader stopped; malformed input is answered with ERROR.
func (c *Conn) readError() {
	var err error
	select {
	case err = <-c.Error:
	default:
	}
	if err == nil || errors.Is(err, io.EOF) {
		c.Debugf("remote closed")
		return
	}
	if errors.Is(err, stomp.ErrFrame) {
		c.fail(&ProtocolError{Message: "malformed frame", Detail: err.Error(), Err: err})
		return
	}
	c.Warnf("read: %v", err)
}

// handle dispatches f to its Handler and sends any requested receipt.
func (c *Conn) handle(f stomp.Frame) error {
	c.srv.Metrics.frame(f.Command)
	connect := f.Command == stomp.CommandConnect || f.Command == stomp.CommandStomp
	switch {
	case c.state == stateUnconnected && !connect:
		return protocolError(ErrNotConnected, f, "expected %v or %v", stomp.CommandConnect, stomp.CommandStomp)
	case c.state == stateConnected && connect:
		return protocolError(ErrAlreadyConnected, f, "%v received twice", f.Command)
	}
	h, ok := c.srv.handlers[f.Command]
	if !ok {
		return protocolError(ErrUnknownCommand, f, "%v is not supported", f.Name())
	}
	if err := h.Handle(c, f); err != nil {
		return err
	}
	if receipt := f.Headers[stomp.HeaderReceipt]; receipt != "" && !connect {
		c.write(frames.Receipt(receipt))
	}
	return nil
}

// fail writes the ERROR frame for err; the caller closes the connection afterwards.
func (c *Conn) fail(err *ProtocolError) {
	c.srv.Metrics.protocolError()
	c.Infof("error: %v", err)
	c.write(err.ErrorFrame())
}

// write queues u for the client; it returns false once the connection is closed.
func (c *Conn) write(u stomp.Unit) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.outbox = append(c.outbox, u)
	c.mu.Unlock()
	c.notify()
	return true
}

// notify wakes the flush goroutine.
func (c *Conn) notify() {
	select {
	case c.wake <- stomp.Signal{}:
	default:
	}
}

// flush moves queued units to the peer.  It returns once the connection is closed and
// the outbox is empty.
func (c *Conn) flush() {
	defer close(c.flushed)
	for {
		c.mu.Lock()
		units, closed := c.outbox, c.closed
		c.outbox = nil
		c.mu.Unlock()
		if len(units) == 0 {
			if closed {
				return
			}
			<-c.wake
			continue
		}
		for _, u := range units {
			c.Send <- u
		}
	}
}

// Deliver writes a MESSAGE for sub and arms its ack timeout.
func (c *Conn) Deliver(sub *Subscription, msg stomp.Frame) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	if timeout := c.srv.Options.Scale(c.srv.Options.AckTimeout); sub.Mode != AckAuto && timeout > 0 {
		id := msg.Headers[stomp.HeaderMessageID]
		c.acks[id] = c.srv.Scheduler.AfterFunc(timeout, func() {
			c.ackTimeout(sub, id)
		})
	}
	c.outbox = append(c.outbox, msg)
	c.mu.Unlock()
	c.notify()
	c.srv.Metrics.delivered()
	return true
}

// ackTimeout treats an unacknowledged message as rejected.
func (c *Conn) ackTimeout(sub *Subscription, id string) {
	c.mu.Lock()
	_, armed := c.acks[id]
	delete(c.acks, id)
	closed := c.closed
	c.mu.Unlock()
	if !armed || closed || !sub.IsPending(id) {
		return
	}
	c.Debugf("ack timeout: subscription=%v message-id=%v", sub.ID, id)
	c.cancelAcks(c.srv.nackDestination(c, sub.Destination, id))
}

// cancelAcks stops the ack timeouts of acknowledged or rejected messages.
func (c *Conn) cancelAcks(removed []stomp.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, msg := range removed {
		id := msg.Headers[stomp.HeaderMessageID]
		if t, ok := c.acks[id]; ok {
			t.Stop()
			delete(c.acks, id)
		}
	}
}

// startHeartbeat arms the ping timer and the liveness sampler.
func (c *Conn) startHeartbeat(ping, silence time.Duration) {
	opts, sched := c.srv.Options, c.srv.Scheduler
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if ping > 0 {
		c.timers = append(c.timers, sched.Every(opts.Scale(ping), func() {
			c.write(stomp.Heartbeat{})
		}))
	}
	if silence > 0 {
		limit := 2 * opts.Scale(silence)
		c.timers = append(c.timers, sched.Every(opts.Scale(silence), func() {
			if idle := sched.Now().Sub(c.LastActivity()); idle > limit {
				c.Kill(errors.Wrapf(ErrHeartbeatTimeout, "silent for %v", idle))
			}
		}))
	}
}

// close tears the connection down; it runs on the connection goroutine.
func (c *Conn) close() {
	c.mu.Lock()
	c.closed = true
	for _, t := range c.timers {
		t.Stop()
	}
	for _, t := range c.acks {
		t.Stop()
	}
	c.timers, c.acks = nil, nil
	c.mu.Unlock()
	c.notify()
	//
	wasConnected := c.state == stateConnected
	c.state = stateClosed
	c.srv.drop(c)
	<-c.flushed
	if err := c.Shutdown(); err != nil {
		c.Debugf("shutdown: %v", err)
	}
	if wasConnected {
		c.srv.emit(events.ClientDisconnect{SessionID: c.Session})
	}
}
