package server_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/frames"
	"github.com/nofeaturesonlybugs/stomp/v2/server"
	"github.com/nofeaturesonlybugs/stomp/v2/server/testsuite"
)

// message returns the next message of sub or stops the test.
func message(t *testing.T, sub *stomp.ClientSubscription) stomp.Frame {
	t.Helper()
	select {
	case f, open := <-sub.C:
		if !open {
			t.Fatalf("subscription %v closed", sub.ID)
		}
		return f
	case <-time.After(testsuite.Timeout):
		t.Fatalf("timeout waiting for message on %v", sub.ID)
	}
	return stomp.Frame{}
}

// dropped returns an OnDropped callback and the channel it reports to.
func dropped() (func(error), <-chan error) {
	c := make(chan error, 1)
	return func(err error) { c <- err }, c
}

func TestClient(t *testing.T) {
	chk := assert.New(t)
	fx := newFixture(t, server.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), testsuite.Timeout)
	defer cancel()
	//
	client := stomp.NewClient(fx.Pipe())
	onDropped, droppedC := dropped()
	client.OnDropped = onDropped
	must(t, client.Connect(ctx))
	chk.Equal("1.2", client.Version())
	chk.Equal("stompd/2", client.Server())
	chk.NotEmpty(client.Session())
	//
	sub, err := client.Subscribe("/queue/client", "client-individual")
	must(t, err)
	must(t, client.Send("/queue/client", []byte("hello"), stomp.Headers{"x-trace": "1"}))
	msg := message(t, sub)
	chk.Equal("hello", string(msg.Body))
	chk.Equal("1", msg.Headers["x-trace"])
	chk.Equal(sub.ID, msg.Headers[stomp.HeaderSubscription])
	chk.NotEmpty(msg.Headers[stomp.HeaderAck])
	must(t, client.Ack(msg, ""))
	must(t, client.Request(ctx, frames.SendString("/queue/client", "second")))
	msg = message(t, sub)
	chk.Equal("second", string(msg.Body))
	// Rejected messages only move to other subscribers; with none they are dropped.
	must(t, client.Nack(msg, ""))
	//
	must(t, client.Begin("tx"))
	must(t, client.Send("/queue/client", []byte("in tx"), stomp.Headers{stomp.HeaderTransaction: "tx"}))
	must(t, client.Commit("tx"))
	msg = message(t, sub)
	chk.Equal("in tx", string(msg.Body))
	chk.Empty(msg.Headers[stomp.HeaderTransaction])
	must(t, client.Begin("acks"))
	must(t, client.Ack(msg, "acks"))
	must(t, client.Commit("acks"))
	//
	must(t, client.Begin("discard"))
	must(t, client.Send("/queue/client", []byte("aborted"), stomp.Headers{stomp.HeaderTransaction: "discard"}))
	must(t, client.Abort("discard"))
	//
	must(t, sub.Unsubscribe())
	must(t, client.Request(ctx, frames.SendString("/topic/sync", "")))
	_, ok := fx.Destination("/queue/client")
	chk.False(ok)
	//
	must(t, client.Disconnect(ctx))
	<-client.Done()
	chk.NoError(client.Err())
	chk.ErrorIs(client.Send("/queue/client", nil, nil), stomp.ErrClosed)
	_, open := <-sub.C
	chk.False(open)
	select {
	case err := <-droppedC:
		t.Fatalf("unexpected drop: %v", err)
	default:
	}
}

func TestClient_Topic(t *testing.T) {
	chk := assert.New(t)
	fx := newFixture(t, server.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), testsuite.Timeout)
	defer cancel()
	//
	var subs []*stomp.ClientSubscription
	var clients []*stomp.Client
	for k := 0; k < 3; k++ {
		client := stomp.NewClient(fx.Pipe())
		must(t, client.Connect(ctx))
		sub, err := client.Subscribe("/topic/news", "")
		must(t, err)
		must(t, client.Request(ctx, frames.SendString("/topic/sync", "")))
		clients, subs = append(clients, client), append(subs, sub)
	}
	must(t, clients[0].Request(ctx, frames.SendString("/topic/news", "extra")))
	for _, sub := range subs {
		msg := message(t, sub)
		chk.Equal("extra", string(msg.Body))
		chk.Empty(msg.Headers[stomp.HeaderAck])
	}
	for _, client := range clients {
		chk.NoError(client.Close())
	}
}

func TestClient_Version10(t *testing.T) {
	chk := assert.New(t)
	fx := newFixture(t, server.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), testsuite.Timeout)
	defer cancel()
	//
	client := stomp.NewClient(fx.Pipe())
	client.AcceptVersion = "1.0"
	must(t, client.Connect(ctx))
	chk.Equal("1.0", client.Version())
	sub, err := client.Subscribe("/queue/old", "client")
	must(t, err)
	must(t, client.Send("/queue/old", []byte("v1.0"), nil))
	msg := message(t, sub)
	chk.NotEmpty(msg.Headers[stomp.HeaderMessageID])
	chk.Equal(msg.Headers[stomp.HeaderMessageID], msg.Headers[stomp.HeaderAck])
	must(t, client.Ack(msg, ""))
	must(t, client.Disconnect(ctx))
}

func TestClient_ConnectRefused(t *testing.T) {
	chk := assert.New(t)
	fx := newFixture(t, server.Options{})
	fx.Authenticator = server.NewStaticAuthenticator(map[string]string{"guest": "guest"})
	ctx, cancel := context.WithTimeout(context.Background(), testsuite.Timeout)
	defer cancel()
	//
	client := stomp.NewClient(fx.Pipe())
	client.Login, client.Passcode = "guest", "wrong"
	err := client.Connect(ctx)
	chk.ErrorContains(err, "connect refused")
	<-client.Done()
	chk.Equal(err, client.Err())
	_, err = client.Subscribe("/queue/a", "")
	chk.ErrorIs(err, stomp.ErrClosed)
	//
	client = stomp.NewClient(fx.Pipe())
	client.Login, client.Passcode = "guest", "guest"
	chk.NoError(client.Connect(ctx))
	chk.NoError(client.Disconnect(ctx))
}

func TestClient_ServerError(t *testing.T) {
	chk := assert.New(t)
	fx := newFixture(t, server.Options{})
	ctx, cancel := context.WithTimeout(context.Background(), testsuite.Timeout)
	defer cancel()
	//
	client := stomp.NewClient(fx.Pipe())
	onDropped, droppedC := dropped()
	client.OnDropped = onDropped
	must(t, client.Connect(ctx))
	sub, err := client.Subscribe("", "")
	must(t, err)
	select {
	case err := <-droppedC:
		chk.ErrorContains(err, "server error")
	case <-time.After(testsuite.Timeout):
		t.Fatalf("timeout waiting for drop")
	}
	<-client.Done()
	chk.ErrorContains(client.Err(), "server error")
	_, open := <-sub.C
	chk.False(open)
	chk.ErrorIs(client.Request(ctx, frames.SendString("/queue/a", "")), stomp.ErrClosed)
	chk.NoError(client.Close())
}

func TestClient_Heartbeat(t *testing.T) {
	chk := assert.New(t)
	fx := newFixture(t, server.Options{HeartBeat: [2]int{0, 50}})
	ctx, cancel := context.WithTimeout(context.Background(), testsuite.Timeout)
	defer cancel()
	//
	client := stomp.NewClient(fx.Pipe())
	client.HeartBeat = stomp.HeartBeat{Send: 50 * time.Millisecond}
	onDropped, droppedC := dropped()
	client.OnDropped = onDropped
	must(t, client.Connect(ctx))
	time.Sleep(300 * time.Millisecond)
	chk.NoError(client.Request(ctx, frames.SendString("/topic/alive", "")))
	chk.Empty(droppedC)
	chk.NoError(client.Disconnect(ctx))
}

func TestClient_HeartbeatTimeout(t *testing.T) {
	chk := assert.New(t)
	fx := newFixture(t, server.Options{HeartBeat: [2]int{50, 0}})
	// The server promises heartbeats but its clock never moves.
	fx.Scheduler = testsuite.NewManualScheduler()
	ctx, cancel := context.WithTimeout(context.Background(), testsuite.Timeout)
	defer cancel()
	//
	client := stomp.NewClient(fx.Pipe())
	client.HeartBeat = stomp.HeartBeat{Receive: 50 * time.Millisecond}
	onDropped, droppedC := dropped()
	client.OnDropped = onDropped
	must(t, client.Connect(ctx))
	select {
	case err := <-droppedC:
		chk.ErrorIs(err, stomp.ErrHeartbeatTimeout)
	case <-time.After(testsuite.Timeout):
		t.Fatalf("timeout waiting for heartbeat timeout")
	}
	<-client.Done()
	chk.ErrorIs(client.Err(), stomp.ErrHeartbeatTimeout)
	chk.NoError(client.Close())
}

func TestClient_ConnectCanceled(t *testing.T) {
	chk := assert.New(t)
	remote, local := stomp.Pipe()
	remote.Start(nil)
	defer func() { _ = remote.Shutdown() }()
	//
	ctx, cancel := context.WithCancel(context.Background())
	client := stomp.NewClient(local)
	go func() {
		<-remote.Receive
		cancel()
	}()
	err := client.Connect(ctx)
	chk.ErrorIs(err, context.Canceled)
	<-client.Done()
	chk.NoError(client.Close())
}

// acceptClient answers the CONNECT frame read from remote with CONNECTED declaring hb.
func acceptClient(remote stomp.Peer, hb stomp.HeartBeat) {
	go func() {
		if _, ok := <-remote.Receive; ok {
			remote.Send <- frames.Connected("1.2", "s", "", hb)
		}
	}()
}

func TestClient_HeartbeatScheduler(t *testing.T) {
	chk := assert.New(t)
	remote, local := stomp.Pipe()
	remote.Start(nil)
	defer func() { _ = remote.Shutdown() }()
	acceptClient(remote, stomp.HeartBeat{Receive: 50 * time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), testsuite.Timeout)
	defer cancel()
	//
	sched := testsuite.NewManualScheduler()
	client := stomp.NewClient(local)
	client.HeartBeat = stomp.HeartBeat{Send: 50 * time.Millisecond}
	client.Scheduler = sched
	client.TimeScale = 2
	must(t, client.Connect(ctx))
	defer client.Close()
	chk.Eventually(func() bool { return sched.Pending() == 1 }, testsuite.Timeout, time.Millisecond)
	//
	// The ping period is the negotiated 50ms scaled to 100ms on the client's clock.
	before := remote.LastActivity()
	sched.Advance(99 * time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	chk.Equal(before, remote.LastActivity())
	sched.Advance(time.Millisecond)
	chk.Eventually(func() bool { return remote.LastActivity().After(before) }, testsuite.Timeout, time.Millisecond)
}

func TestClient_HeartbeatSchedulerTimeout(t *testing.T) {
	type TimeoutTest struct {
		Name    string
		Scale   float64
		Advance time.Duration
		Dropped bool
	}
	tests := []TimeoutTest{
		{Name: "within", Scale: 2, Advance: 150 * time.Millisecond, Dropped: false},
		{Name: "past", Scale: 2, Advance: 300 * time.Millisecond, Dropped: true},
		{Name: "unscaled", Scale: 0, Advance: 150 * time.Millisecond, Dropped: true},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			chk := assert.New(t)
			remote, local := stomp.Pipe()
			remote.Start(nil)
			defer func() { _ = remote.Shutdown() }()
			acceptClient(remote, stomp.HeartBeat{Send: 50 * time.Millisecond})
			ctx, cancel := context.WithTimeout(context.Background(), testsuite.Timeout)
			defer cancel()
			//
			sched := testsuite.NewManualScheduler()
			client := stomp.NewClient(local)
			client.HeartBeat = stomp.HeartBeat{Receive: 50 * time.Millisecond}
			client.Scheduler = sched
			client.TimeScale = test.Scale
			onDropped, droppedC := dropped()
			client.OnDropped = onDropped
			must(t, client.Connect(ctx))
			defer client.Close()
			chk.Eventually(func() bool { return sched.Pending() == 1 }, testsuite.Timeout, time.Millisecond)
			//
			sched.Advance(test.Advance)
			if !test.Dropped {
				chk.Empty(droppedC)
				chk.NoError(client.Err())
				return
			}
			select {
			case err := <-droppedC:
				chk.ErrorIs(err, stomp.ErrHeartbeatTimeout)
			case <-time.After(testsuite.Timeout):
				t.Fatalf("timeout waiting for heartbeat timeout")
			}
		})
	}
}
