package server

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/server/events"
)

// ServerSignals allows notification of a Server's lifecycle.
type ServerSignals struct {
	// SigShutdown is closed when the server has been told to begin shutting down.
	SigShutdown <-chan stomp.Signal

	// AwaitStopped is closed when the server is stopped.
	AwaitStopped <-chan stomp.Signal

	// internal handles are necessary so server can close() them.
	sigShutdown  chan stomp.Signal
	awaitStopped chan stomp.Signal
}

// newServerSignals creates the server signals type.
func newServerSignals() ServerSignals {
	sigShutdown := make(chan stomp.Signal)
	awaitStopped := make(chan stomp.Signal)
	return ServerSignals{
		SigShutdown:  sigShutdown,
		AwaitStopped: awaitStopped,
		// internal handles
		sigShutdown:  sigShutdown,
		awaitStopped: awaitStopped,
	}
}

// Server is a STOMP server.
//
// Exported fields are read when the server starts, which is the first call to Pipe,
// ListenAndServe, Serve or WebSocketHandler; they must not be changed afterwards.
//
// Server should not be copied once started.
type Server struct {
	// Addr specifies the TCP address for the server to listen on
	// in the form of "host:port".
	//
	// If empty then Options.Addr() is used and this field is updated with the
	// listener's address.
	Addr string

	// Options configures protocol limits and behavior; defaults are applied to unset fields.
	Options Options

	// Events is an optional channel for the server to push event notifications into.
	// The channel is closed when the server stops.
	Events chan<- interface{}

	// Signals allows notification of the server's lifecycle.
	Signals ServerSignals

	// TLSConfig specifies an optional TLS configuration.
	TLSConfig *tls.Config

	// Logger!=nil means messages and information are logged to the
	// provided Logger.
	stomp.Logger

	// NewSessionID is the provider for client session IDs.
	//
	// NewSessionID=nil means SessionID will be used as this provider.
	NewSessionID func() string

	// Handlers are the command handlers; nil means DefaultHandlers.
	Handlers Handlers

	// Authenticator!=nil means CONNECT credentials must be accepted by it.
	Authenticator Authenticator

	// Factory creates destinations; nil means DefaultFactory(Options.QueuePrefix).
	Factory DestinationFactory

	// Scheduler provides timers; nil means SystemScheduler.
	Scheduler Scheduler

	// Metrics!=nil means server activity is recorded in it.
	Metrics *Metrics

	once     sync.Once
	log      stomp.Logger
	handlers Handlers
	ctx      context.Context
	cancel   context.CancelFunc
	events   chan interface{}
	eventsWG sync.WaitGroup
	wg       sync.WaitGroup
	seq      atomic.Uint64

	mu            sync.Mutex
	closing       bool
	listeners     []net.Listener
	conns         map[string]*Conn
	destinations  map[string]*entry
	subscriptions map[string]map[string]*Subscription
	transactions  map[string]map[string]*Transaction
}

// start prepares the server state; it runs once.
func (srv *Server) start() {
	if srv.log = srv.Logger; srv.log == nil {
		srv.log = stomp.NilLogger
	}
	srv.Options.SetDefaults()
	if srv.Handlers == nil {
		srv.Handlers = DefaultHandlers()
	}
	srv.handlers = srv.Handlers.clone()
	if srv.NewSessionID == nil {
		srv.NewSessionID = stomp.SessionID
	}
	if srv.Factory == nil {
		srv.Factory = DefaultFactory(srv.Options.QueuePrefix)
	}
	if srv.Scheduler == nil {
		srv.Scheduler = SystemScheduler
	}
	srv.ctx, srv.cancel = context.WithCancel(context.Background())
	srv.Signals = newServerSignals()
	srv.conns = map[string]*Conn{}
	srv.destinations = map[string]*entry{}
	srv.subscriptions = map[string]map[string]*Subscription{}
	srv.transactions = map[string]map[string]*Transaction{}
	//
	// Events are forwarded by their own goroutine so slow consumers never stall a connection.
	srv.events = make(chan interface{}, 256)
	srv.eventsWG.Add(1)
	go func() {
		defer srv.eventsWG.Done()
		for ev := range srv.events {
			if srv.Events != nil {
				srv.Events <- ev
			}
		}
		if srv.Events != nil {
			close(srv.Events)
		}
	}()
}

// emit publishes an event without blocking.
func (srv *Server) emit(ev interface{}) {
	select {
	case srv.events <- ev:
	default:
		srv.log.Warnf("stomp.server: event dropped: %T", ev)
	}
}

func (srv *Server) newSessionID() string {
	return srv.NewSessionID()
}

// accept starts peer and its connection goroutine.
func (srv *Server) accept(peer stomp.Peer, remote string) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.closing {
		_ = peer.Close()
		return
	}
	peer.Limits = srv.Options.Limits()
	peer.Start(&srv.wg)
	id := strconv.FormatUint(srv.seq.Add(1), 10)
	c := newConn(srv, peer, id, remote)
	srv.conns[id] = c
	srv.Metrics.connected(1)
	c.Debugf("accepted %v", remote)
	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		c.run()
	}()
}

// Pipe creates a pair of Peers whose R and W fields are linked to each other via
// pipes created by calls to io.Pipe.
//
// One Peer is inserted into the server and the other is returned.  The returned Peer
// can be used to communicate with the Server as if it had joined via network connection.
func (srv *Server) Pipe() stomp.Peer {
	srv.once.Do(srv.start)
	server, client := stomp.Pipe()
	srv.accept(server, "pipe")
	return client
}

// ListenAndServe listens on the TCP network address Server.Addr and then calls Serve
// to accept incoming connections.
//
// Unlike ListenAndServe in standard library net/http this method is non-blocking
// and returns a nil error if the server is running or an error if it is not.
func (srv *Server) ListenAndServe() error {
	srv.once.Do(srv.start)
	var listener net.Listener
	var err error
	//
	addr := srv.Addr
	if addr == "" {
		addr = srv.Options.Addr()
	}
	//
	if srv.TLSConfig != nil {
		if listener, err = tls.Listen("tcp", addr, srv.TLSConfig); err != nil {
			return errors.Wrapf(err, "listen %v", addr)
		}
	} else {
		if listener, err = net.Listen("tcp", addr); err != nil {
			return errors.Wrapf(err, "listen %v", addr)
		}
	}
	//
	srv.Addr = listener.Addr().String()
	srv.Serve(listener)
	//
	return nil
}

// Serve starts necessary internal goroutines to accept and handle connections on
// the net.Listener l and then returns.
func (srv *Server) Serve(l net.Listener) {
	srv.once.Do(srv.start)
	//
	srv.mu.Lock()
	if srv.closing {
		srv.mu.Unlock()
		_ = l.Close()
		return
	}
	srv.listeners = append(srv.listeners, l)
	srv.wg.Add(1)
	srv.mu.Unlock()
	srv.log.Infof("stomp.server: listening on %v", l.Addr())
	go func() {
		defer srv.wg.Done()
		for {
			conn, err := l.Accept()
			if err != nil {
				select {
				case <-srv.Signals.SigShutdown:
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				srv.log.Warnf("stomp.server: accept: %v", err)
				continue
			}
			srv.accept(stomp.Peer{R: conn, W: conn}, conn.RemoteAddr().String())
		}
	}()
}

// Shutdown closes the listeners, sends an ERROR frame to every connection, closes them
// and waits until every goroutine has stopped.
func (srv *Server) Shutdown() error {
	srv.once.Do(srv.start)
	srv.mu.Lock()
	if srv.closing {
		srv.mu.Unlock()
		<-srv.Signals.AwaitStopped
		return nil
	}
	srv.closing = true
	close(srv.Signals.sigShutdown)
	srv.cancel()
	listeners := srv.listeners
	conns := make([]*Conn, 0, len(srv.conns))
	for _, c := range srv.conns {
		conns = append(conns, c)
	}
	srv.mu.Unlock()
	//
	var err error
	for _, l := range listeners {
		if e := l.Close(); e != nil && !errors.Is(e, net.ErrClosed) && err == nil {
			err = errors.Wrap(e, "closing listener")
		}
	}
	for _, c := range conns {
		c.Kill(ErrShutdown)
	}
	srv.wg.Wait()
	//
	srv.mu.Lock()
	table := srv.destinations
	srv.destinations = map[string]*entry{}
	srv.mu.Unlock()
	for name, d := range table {
		if e := d.Close(); e != nil && err == nil {
			err = errors.Wrapf(e, "closing destination %v", name)
		}
	}
	//
	srv.events <- events.ServerStop{}
	close(srv.events)
	srv.eventsWG.Wait()
	srv.log.Infof("stomp.server: stopped")
	close(srv.Signals.awaitStopped)
	return err
}

// Destinations returns the names of the active destinations.
func (srv *Server) Destinations() []string {
	srv.once.Do(srv.start)
	srv.mu.Lock()
	defer srv.mu.Unlock()
	names := make([]string, 0, len(srv.destinations))
	for name := range srv.destinations {
		names = append(names, name)
	}
	return names
}

// Destination returns the active destination with name.
func (srv *Server) Destination(name string) (Destination, bool) {
	srv.once.Do(srv.start)
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if d, ok := srv.destinations[name]; ok {
		return d.Destination, true
	}
	return nil, false
}

// entry is a destination in the server's table.  refs counts the registered
// subscriptions naming it; the entry is discarded when refs drops to zero.
type entry struct {
	Destination
	refs int
}

// subscribe registers sub and attaches it to its destination, creating the destination
// if necessary.  The factory and the destination are called without holding srv.mu.
func (srv *Server) subscribe(sub *Subscription) error {
	name := sub.Destination
	srv.mu.Lock()
	subs := srv.subscriptions[sub.ConnID]
	if subs == nil {
		subs = map[string]*Subscription{}
		srv.subscriptions[sub.ConnID] = subs
	}
	if _, ok := subs[sub.ID]; ok {
		srv.mu.Unlock()
		return stomp.ErrDuplicateSubscription
	}
	d, ok := srv.destinations[name]
	if !ok {
		srv.mu.Unlock()
		created := srv.Factory.Create(name)
		srv.mu.Lock()
		if d, ok = srv.destinations[name]; ok {
			defer srv.closeDestination(created)
		} else {
			d = &entry{Destination: created}
			srv.destinations[name] = d
		}
	}
	d.refs++
	subs[sub.ID] = sub
	srv.Metrics.subscribed(1)
	srv.emit(events.SubscriptionStart{Destination: name})
	srv.mu.Unlock()
	d.Subscribe(sub)
	return nil
}

// release drops one reference to the named destination.  It returns the destination
// and whether it was removed from the table.  Callers hold srv.mu.
func (srv *Server) release(name string) (*entry, bool) {
	d, ok := srv.destinations[name]
	if !ok {
		return nil, false
	}
	if d.refs--; d.refs > 0 {
		return d, false
	}
	delete(srv.destinations, name)
	return d, true
}

// closeDestination closes a destination that left the table.
func (srv *Server) closeDestination(d Destination) {
	if err := d.Close(); err != nil {
		srv.log.Warnf("stomp.server: closing destination %v: %v", d.Name(), err)
	}
}

// unsubscribe detaches a subscription and discards its destination when left empty.
func (srv *Server) unsubscribe(connID, id string) bool {
	srv.mu.Lock()
	sub, ok := srv.subscriptions[connID][id]
	if !ok {
		srv.mu.Unlock()
		return false
	}
	delete(srv.subscriptions[connID], id)
	d, discard := srv.release(sub.Destination)
	srv.Metrics.subscribed(-1)
	srv.emit(events.SubscriptionStop{Destination: sub.Destination})
	srv.mu.Unlock()
	if d != nil {
		d.Unsubscribe(connID, id)
		if discard {
			srv.closeDestination(d)
		}
	}
	return true
}

// drop removes every trace of a closed connection.  Pending transactions are discarded
// without replay.
func (srv *Server) drop(c *Conn) {
	type detach struct {
		d       *entry
		discard bool
	}
	var detached []detach
	srv.mu.Lock()
	if _, ok := srv.conns[c.ID]; !ok {
		srv.mu.Unlock()
		return
	}
	delete(srv.conns, c.ID)
	srv.Metrics.connected(-1)
	seen := map[*entry]int{}
	for _, sub := range srv.subscriptions[c.ID] {
		srv.Metrics.subscribed(-1)
		srv.emit(events.SubscriptionStop{Destination: sub.Destination})
		d, discard := srv.release(sub.Destination)
		if d == nil {
			continue
		}
		if k, ok := seen[d]; ok {
			detached[k].discard = detached[k].discard || discard
			continue
		}
		seen[d] = len(detached)
		detached = append(detached, detach{d: d, discard: discard})
	}
	delete(srv.subscriptions, c.ID)
	delete(srv.transactions, c.ID)
	srv.mu.Unlock()
	for _, x := range detached {
		x.d.UnsubscribeConnection(c.ID)
		if x.discard {
			srv.closeDestination(x.d)
		}
	}
}

// send dispatches a SEND frame.
func (srv *Server) send(c *Conn, f stomp.Frame) error {
	name := f.Headers[stomp.HeaderDestination]
	srv.mu.Lock()
	var d Destination
	if e, ok := srv.destinations[name]; ok {
		d = e.Destination
	}
	srv.mu.Unlock()
	if d == nil {
		// Destinations without subscribers still get a chance to forward the message.
		d = srv.Factory.Create(name)
		defer srv.closeDestination(d)
	}
	if n := d.Dispatch(f); n == 0 && srv.Options.ErrorOnUnmatched {
		return protocolError(ErrNoSubscribers, f, "%v has no subscribers", name)
	}
	return nil
}

// pendingDestination returns the destination of the connection's subscription holding
// message id.
func (srv *Server) pendingDestination(c *Conn, id string) Destination {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for _, sub := range srv.subscriptions[c.ID] {
		if d, ok := srv.destinations[sub.Destination]; ok && sub.IsPending(id) {
			return d.Destination
		}
	}
	return nil
}

// ack acknowledges message id for c; unknown ids are ignored.
func (srv *Server) ack(c *Conn, id string) []stomp.Frame {
	if d := srv.pendingDestination(c, id); d != nil {
		removed, _ := d.Ack(c.ID, id)
		return removed
	}
	return nil
}

// nack rejects message id for c; unknown ids are ignored.
func (srv *Server) nack(c *Conn, id string) []stomp.Frame {
	if d := srv.pendingDestination(c, id); d != nil {
		removed, _ := d.Nack(c.ID, id)
		return removed
	}
	return nil
}

// nackDestination rejects message id on a named destination.
func (srv *Server) nackDestination(c *Conn, name, id string) []stomp.Frame {
	srv.mu.Lock()
	d, ok := srv.destinations[name]
	srv.mu.Unlock()
	if !ok {
		return nil
	}
	removed, _ := d.Nack(c.ID, id)
	return removed
}

// begin registers a new transaction for a connection.
func (srv *Server) begin(connID, id string) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	txs := srv.transactions[connID]
	if txs == nil {
		txs = map[string]*Transaction{}
		srv.transactions[connID] = txs
	}
	if _, ok := txs[id]; ok {
		return ErrDuplicateTransaction
	}
	txs[id] = NewTransaction(connID, id, srv.Options.TxMaxFrames)
	return nil
}

// buffer adds f to a connection's transaction.
func (srv *Server) buffer(c *Conn, id string, f stomp.Frame) error {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	tx, ok := srv.transactions[c.ID][id]
	if !ok {
		return protocolError(ErrUnknownTransaction, f, "no transaction with id %v", id)
	}
	if err := tx.Add(f); err != nil {
		return protocolError(ErrTransactionFull, f, "%v", err)
	}
	return nil
}

// take unregisters and returns a connection's transaction.
func (srv *Server) take(connID, id string) *Transaction {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	tx, ok := srv.transactions[connID][id]
	if !ok {
		return nil
	}
	delete(srv.transactions[connID], id)
	return tx
}

// replay applies a frame buffered by a transaction.
func (srv *Server) replay(c *Conn, f stomp.Frame) error {
	switch f.Command {
	case stomp.CommandSend:
		return srv.send(c, f)
	case stomp.CommandAck:
		id, _ := ackID(f)
		c.cancelAcks(srv.ack(c, id))
	case stomp.CommandNack:
		id, _ := ackID(f)
		c.cancelAcks(srv.nack(c, id))
	}
	return nil
}
