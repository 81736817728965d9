package stomp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// ErrHeartbeatTimeout is passed to Client.OnDropped when the server stays silent past
// the negotiated threshold.
var ErrHeartbeatTimeout = errors.New("stomp: heartbeat timeout")

// Dial connects to addr and returns a Peer whose R and W are the connection.  When
// tlsConfig is non-nil the connection uses TLS.  dialer is optional.
func Dial(ctx context.Context, network, addr string, dialer *net.Dialer, tlsConfig *tls.Config) (Peer, error) {
	var conn net.Conn
	var err error
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	if tlsConfig != nil {
		d := tls.Dialer{
			NetDialer: dialer,
			Config:    tlsConfig,
		}
		conn, err = d.DialContext(ctx, network, addr)
	} else {
		conn, err = dialer.DialContext(ctx, network, addr)
	}
	if err != nil {
		return Peer{}, err
	}
	return Peer{R: conn, W: conn}, nil
}

// ClientSubscription is an active subscription of a Client.
type ClientSubscription struct {
	ID          string
	Destination string
	Ack         string

	// C receives the MESSAGE frames for this subscription.  It is closed when the
	// client is closed.
	C <-chan Frame

	c      chan Frame
	client *Client
}

// Unsubscribe removes the subscription.
func (s *ClientSubscription) Unsubscribe() error {
	return s.client.Unsubscribe(s)
}

// Client is a STOMP client connection.
//
// Configure the exported fields before calling Connect; Client should not be copied
// once connected.
type Client struct {
	// Login, Passcode and Host are sent in the CONNECT frame when non-empty.
	Login    string
	Passcode string
	Host     string

	// AcceptVersion is the accept-version header; empty means "1.0,1.1,1.2".
	AcceptVersion string

	// HeartBeat is the client's heart-beat declaration.
	HeartBeat HeartBeat

	// Scheduler drives the heartbeat timers; nil means SystemScheduler.
	Scheduler Scheduler

	// TimeScale multiplies the negotiated heartbeat periods; zero means 1.
	TimeScale float64

	// OnDropped is called once if the connection is lost for any reason other than a
	// call to Disconnect or Close, for example a heartbeat timeout or an ERROR frame.
	// It is called from an internal goroutine and may create a new Client to reconnect.
	OnDropped func(error)

	// Logger!=nil means messages and information are logged to the provided Logger.
	Logger

	peer          Peer
	wg            sync.WaitGroup
	seq           atomic.Uint64
	disconnecting atomic.Bool

	mu       sync.Mutex
	started  bool
	running  bool
	closed   bool
	receipts map[string]chan Frame
	subs     map[string]*ClientSubscription
	retired  []*ClientSubscription
	err      error

	connected Frame
	done      chan Signal
	once      sync.Once
}

// NewClient returns a client that will speak STOMP over peer.  peer must not be started.
func NewClient(peer Peer) *Client {
	return &Client{
		peer:     peer,
		receipts: map[string]chan Frame{},
		subs:     map[string]*ClientSubscription{},
		done:     make(chan Signal),
	}
}

// Version returns the negotiated protocol version.
func (c *Client) Version() string {
	return c.connected.Headers[HeaderVersion]
}

// Session returns the session id assigned by the server.
func (c *Client) Session() string {
	return c.connected.Headers[HeaderSession]
}

// Server returns the server header of the CONNECTED frame.
func (c *Client) Server() string {
	return c.connected.Headers[HeaderServer]
}

// Done is closed when the client is closed.
func (c *Client) Done() <-chan Signal {
	return c.done
}

// Err returns the error that closed the client, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Connect sends the CONNECT frame and waits for CONNECTED.  An ERROR reply closes the
// client and is returned as an error.
func (c *Client) Connect(ctx context.Context) error {
	if c.Logger == nil {
		c.Logger = NilLogger
	}
	if c.Scheduler == nil {
		c.Scheduler = SystemScheduler
	}
	c.peer.Start(&c.wg)
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	//
	accept := c.AcceptVersion
	if accept == "" {
		accept = "1.0,1.1,1.2"
	}
	f := Frame{
		Command: CommandConnect,
		Headers: Headers{
			HeaderAcceptVersion: accept,
			HeaderHeartBeat:     c.HeartBeat.String(),
		},
	}
	for k, v := range map[string]string{HeaderHost: c.Host, HeaderLogin: c.Login, HeaderPasscode: c.Passcode} {
		if v != "" {
			f.Headers[k] = v
		}
	}
	if err := c.write(f); err != nil {
		return err
	}
	//
	var reply Frame
	var ok bool
	select {
	case reply, ok = <-c.peer.Receive:
		if !ok {
			err := <-c.peer.Error
			if err == nil {
				err = ErrClosed
			}
			c.close(err, false)
			return err
		}
	case <-ctx.Done():
		c.close(ctx.Err(), false)
		return ctx.Err()
	}
	switch reply.Command {
	case CommandConnected:
	case CommandError:
		err := fmt.Errorf("stomp: connect refused: %v", reply.Headers[HeaderMessage])
		c.close(err, false)
		return err
	default:
		err := fmt.Errorf("%w: expected %v; got %v", ErrFrame, CommandConnected, reply.Name())
		c.close(err, false)
		return err
	}
	c.connected = reply
	//
	remote, err := ParseHeartBeat(reply.Headers[HeaderHeartBeat])
	if err != nil {
		c.close(err, false)
		return err
	}
	ping, silence := NegotiateHeartBeat(c.HeartBeat, remote)
	ping, silence = c.scale(ping), c.scale(silence)
	c.Debugf("stomp client: connected version=%v session=%v ping=%v silence=%v", c.Version(), c.Session(), ping, silence)
	c.mu.Lock()
	c.running = true
	c.mu.Unlock()
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.closeSubscriptions()
		c.run(ping, silence)
	}()
	return nil
}

// run reads frames from the peer while the scheduler drives the heartbeat timers.
func (c *Client) run(ping, silence time.Duration) {
	if ping > 0 {
		t := c.Scheduler.Every(ping, func() {
			_ = c.write(Heartbeat{})
		})
		defer t.Stop()
	}
	if silence > 0 {
		limit := 2 * silence
		t := c.Scheduler.Every(silence, func() {
			if idle := c.Scheduler.Now().Sub(c.peer.LastActivity()); idle > limit {
				c.Debugf("stomp client: silent for %v", idle)
				c.close(ErrHeartbeatTimeout, true)
			}
		})
		defer t.Stop()
	}
	for {
		select {
		case f, ok := <-c.peer.Receive:
			if !ok {
				err := <-c.peer.Error
				if c.disconnecting.Load() {
					c.close(nil, false)
					return
				}
				if err == nil {
					err = ErrClosed
				}
				c.close(err, true)
				return
			}
			c.handle(f)
		case <-c.done:
			return
		}
	}
}

// scale multiplies d by TimeScale.
func (c *Client) scale(d time.Duration) time.Duration {
	if c.TimeScale <= 0 || c.TimeScale == 1 {
		return d
	}
	return time.Duration(float64(d) * c.TimeScale)
}

// handle routes a frame received after CONNECTED.
func (c *Client) handle(f Frame) {
	switch f.Command {
	case CommandMessage:
		c.mu.Lock()
		sub := c.subs[f.Headers[HeaderSubscription]]
		c.mu.Unlock()
		if sub == nil {
			c.Warnf("stomp client: message for unknown subscription %q", f.Headers[HeaderSubscription])
			return
		}
		select {
		case sub.c <- f:
		case <-c.done:
		}
	case CommandReceipt:
		c.mu.Lock()
		waiter := c.receipts[f.Headers[HeaderReceiptID]]
		delete(c.receipts, f.Headers[HeaderReceiptID])
		c.mu.Unlock()
		if waiter != nil {
			waiter <- f
		}
	case CommandError:
		c.Errorf("stomp client: server error: %v", f.Headers[HeaderMessage])
		c.close(fmt.Errorf("stomp: server error: %v", f.Headers[HeaderMessage]), true)
	default:
		c.Debugf("stomp client: ignoring %v frame", f.Name())
	}
}

// write queues unit for the peer unless the client is closed.
func (c *Client) write(u Unit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.peer.Send <- u
	return nil
}

// nextID returns a client-unique identifier with the given prefix.
func (c *Client) nextID(prefix string) string {
	return prefix + strconv.FormatUint(c.seq.Add(1), 10)
}

// Request sends f with a receipt header and waits for the matching RECEIPT.
func (c *Client) Request(ctx context.Context, f Frame) error {
	id := c.nextID("receipt-")
	waiter := make(chan Frame, 1)
	c.mu.Lock()
	c.receipts[id] = waiter
	c.mu.Unlock()
	//
	f.Headers = f.Headers.Clone()
	f.Headers[HeaderReceipt] = id
	if err := c.write(f); err != nil {
		return err
	}
	select {
	case <-waiter:
		return nil
	case <-c.done:
		if err := c.Err(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.receipts, id)
		c.mu.Unlock()
		return ctx.Err()
	}
}

// Send sends body to dest.  headers are optional extra headers.
func (c *Client) Send(dest string, body []byte, headers Headers) error {
	f := Frame{
		Command: CommandSend,
		Headers: headers.Clone(),
		Body:    body,
	}
	f.Headers[HeaderDestination] = dest
	return c.write(f)
}

// Subscribe subscribes to dest with the given ack mode; empty means auto.
func (c *Client) Subscribe(dest, ack string) (*ClientSubscription, error) {
	ch := make(chan Frame, 128)
	sub := &ClientSubscription{
		ID:          c.nextID("sub-"),
		Destination: dest,
		Ack:         ack,
		C:           ch,
		c:           ch,
		client:      c,
	}
	f := Frame{
		Command: CommandSubscribe,
		Headers: Headers{
			HeaderDestination: dest,
			HeaderID:          sub.ID,
		},
	}
	if ack != "" {
		f.Headers[HeaderAck] = ack
	}
	c.mu.Lock()
	c.subs[sub.ID] = sub
	c.mu.Unlock()
	if err := c.write(f); err != nil {
		c.mu.Lock()
		delete(c.subs, sub.ID)
		c.mu.Unlock()
		return nil, err
	}
	return sub, nil
}

// Unsubscribe removes sub.  No further messages are delivered on sub.C.
func (c *Client) Unsubscribe(sub *ClientSubscription) error {
	c.mu.Lock()
	_, ok := c.subs[sub.ID]
	if ok {
		delete(c.subs, sub.ID)
		c.retired = append(c.retired, sub)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.write(Frame{
		Command: CommandUnsubscribe,
		Headers: Headers{HeaderID: sub.ID},
	})
}

// closeSubscriptions closes every subscription channel.  Only the goroutine sending on
// those channels, or close when that goroutine never ran, may call it.
func (c *Client) closeSubscriptions() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, sub := range c.subs {
		close(sub.c)
		delete(c.subs, id)
	}
	for _, sub := range c.retired {
		close(sub.c)
	}
	c.retired = nil
}

// Ack acknowledges msg; tx is optional.
func (c *Client) Ack(msg Frame, tx string) error {
	return c.ack(CommandAck, msg, tx)
}

// Nack rejects msg; tx is optional.
func (c *Client) Nack(msg Frame, tx string) error {
	return c.ack(CommandNack, msg, tx)
}

func (c *Client) ack(cmd Command, msg Frame, tx string) error {
	id := msg.Headers[HeaderAck]
	if id == "" {
		id = msg.Headers[HeaderMessageID]
	}
	f := Frame{
		Command: cmd,
		Headers: Headers{HeaderID: id},
	}
	if tx != "" {
		f.Headers[HeaderTransaction] = tx
	}
	return c.write(f)
}

// Begin starts transaction tx.
func (c *Client) Begin(tx string) error {
	return c.write(Frame{Command: CommandBegin, Headers: Headers{HeaderTransaction: tx}})
}

// Commit commits transaction tx.
func (c *Client) Commit(tx string) error {
	return c.write(Frame{Command: CommandCommit, Headers: Headers{HeaderTransaction: tx}})
}

// Abort aborts transaction tx.
func (c *Client) Abort(tx string) error {
	return c.write(Frame{Command: CommandAbort, Headers: Headers{HeaderTransaction: tx}})
}

// Disconnect sends DISCONNECT, waits for its receipt, and closes the client.
func (c *Client) Disconnect(ctx context.Context) error {
	c.disconnecting.Store(true)
	err := c.Request(ctx, Frame{Command: CommandDisconnect, Headers: Headers{}})
	c.close(nil, false)
	c.wg.Wait()
	return err
}

// Close closes the client without a DISCONNECT.
func (c *Client) Close() error {
	c.close(nil, false)
	c.wg.Wait()
	return nil
}

// close shuts the client down once; dropped means OnDropped is notified.
func (c *Client) close(err error, dropped bool) {
	c.once.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.err = err
		started, running := c.started, c.running
		c.mu.Unlock()
		close(c.done)
		if !running {
			c.closeSubscriptions()
		}
		if !started {
			return
		}
		if shutdownErr := c.peer.Shutdown(); shutdownErr != nil && c.Logger != nil {
			c.Debugf("stomp client: shutdown: %v", shutdownErr)
		}
		if dropped && c.OnDropped != nil {
			c.OnDropped(err)
		}
	})
}
