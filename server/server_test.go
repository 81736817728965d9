package server_test

import (
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/frames"
	"github.com/nofeaturesonlybugs/stomp/v2/server"
	"github.com/nofeaturesonlybugs/stomp/v2/server/events"
	"github.com/nofeaturesonlybugs/stomp/v2/server/testsuite"
)

func TestServer_ListenAndServe(t *testing.T) {
	defer goleak.VerifyNone(t)
	chk := assert.New(t)
	//
	srv := server.Server{
		Logger: stomp.NilLogger,
	}
	err := srv.ListenAndServe()
	chk.NoError(err)
	//
	chk.NotEmpty(srv.Addr)
	//
	c, err := net.Dial("tcp", srv.Addr)
	chk.NoError(err)
	time.Sleep(100 * time.Microsecond)
	err = c.Close()
	chk.NoError(err)
	//
	err = srv.Shutdown()
	chk.NoError(err)
	_, err = net.Dial("tcp", srv.Addr)
	chk.Error(err)
}

func TestServer_ConnectFrame(t *testing.T) {
	sessionID := 0
	NewSessionID := func() string {
		sessionID++
		return fmt.Sprintf("session #%v", sessionID)
	}
	//
	type ConnectTest struct {
		Name    string
		Write   []byte
		Expect  stomp.Headers
		Command stomp.Command
		Closed  bool
	}
	tests := []ConnectTest{
		{
			Name:    "good",
			Write:   []byte("CONNECT\nlogin:USERNAME\npasscode:PASSWORD\n\n\x00"),
			Command: stomp.CommandConnected,
			Expect: stomp.Headers{
				"version":    "1.0",
				"session":    "session #1",
				"server":     "stompd/2",
				"heart-beat": "0,0",
			},
		},
		{
			Name:    "stomp alias",
			Write:   []byte("STOMP\naccept-version:1.2\nhost:localhost\n\n\x00"),
			Command: stomp.CommandConnected,
			Expect: stomp.Headers{
				"version":    "1.2",
				"session":    "session #2",
				"server":     "stompd/2",
				"heart-beat": "0,0",
			},
		},
		{
			Name:    "negotiate",
			Write:   []byte("CONNECT\naccept-version:1.0,1.1\n\n\x00"),
			Command: stomp.CommandConnected,
			Expect: stomp.Headers{
				"version":    "1.1",
				"session":    "session #3",
				"server":     "stompd/2",
				"heart-beat": "0,0",
			},
		},
		{
			Name:    "no common version",
			Write:   []byte("CONNECT\naccept-version:2.0,3.0\n\n\x00"),
			Command: stomp.CommandError,
			Expect: stomp.Headers{
				"message": "stomp: unsupported protocol version",
				"version": "1.2,1.1,1.0",
			},
			Closed: true,
		},
		{
			Name:    "not connected",
			Write:   []byte("SEND\ndestination:/topic/a\n\nhi\x00"),
			Command: stomp.CommandError,
			Expect: stomp.Headers{
				"message": "stomp: not connected",
			},
			Closed: true,
		},
		{
			Name:    "unknown command",
			Write:   []byte("BAD-COMMAND\nlogin:USERNAME\n\n\x00"),
			Command: stomp.CommandError,
			Expect: stomp.Headers{
				"message": "stomp: not connected",
			},
			Closed: true,
		},
		{
			Name:    "bad header",
			Write:   []byte("CONNECT\nloginUSERNAME\npasscodePASSWORD\n\n\x00"),
			Command: stomp.CommandError,
			Expect: stomp.Headers{
				"message": "malformed frame",
			},
			Closed: true,
		},
		{
			Name:    "bad heart-beat",
			Write:   []byte("CONNECT\nheart-beat:soon\n\n\x00"),
			Command: stomp.CommandError,
			Expect: stomp.Headers{
				"message": "stomp: invalid frame",
			},
			Closed: true,
		},
	}
	//
	srv := server.Server{
		Logger:       stomp.NilLogger,
		NewSessionID: NewSessionID,
	}
	defer srv.Shutdown()
	//
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			chk := assert.New(t)
			//
			p := srv.Pipe()
			framesC := readFrames(p.R)
			n, err := p.W.Write(test.Write)
			chk.NoError(err)
			chk.Equal(len(test.Write), n)
			//
			f := next(t, framesC)
			chk.Equal(test.Command, f.Command)
			for name, value := range test.Expect {
				chk.Equal(value, f.Headers[name], name)
			}
			if test.Closed {
				closed(t, framesC)
			}
			//
			err = p.Close()
			chk.NoError(err)
		})
	}
}

func TestServer_AlreadyConnected(t *testing.T) {
	fx := newFixture(t, server.Options{})
	client := fx.client(t)
	//
	must(t, client.Frame(frames.Connect("", "")))
	f, err := client.Expect(stomp.CommandError)
	must(t, err)
	assert.Equal(t, server.ErrAlreadyConnected.Error(), f.Headers[stomp.HeaderMessage])
	must(t, client.ExpectClosed())
}

func TestServer_Authentication(t *testing.T) {
	hashed, err := bcryptHash("s3cret")
	must(t, err)
	auth := server.NewStaticAuthenticator(map[string]string{
		"plain":  "passcode",
		"hashed": hashed,
	})
	type AuthTest struct {
		Login, Passcode string
		Accept          bool
	}
	tests := []AuthTest{
		{Login: "plain", Passcode: "passcode", Accept: true},
		{Login: "plain", Passcode: "wrong", Accept: false},
		{Login: "hashed", Passcode: "s3cret", Accept: true},
		{Login: "hashed", Passcode: "s3cre", Accept: false},
		{Login: "nobody", Passcode: "passcode", Accept: false},
		{Login: "", Passcode: "", Accept: false},
	}
	srv := testsuite.TestServer{
		Server: server.Server{
			Authenticator: auth,
		},
	}
	var wg sync.WaitGroup
	defer func() {
		srv.Close()
		wg.Wait()
	}()
	for _, test := range tests {
		t.Run(test.Login+"/"+test.Passcode, func(t *testing.T) {
			chk := assert.New(t)
			client, err := srv.Dial(&wg)
			must(t, err)
			defer client.Shutdown()
			//
			must(t, client.Frame(frames.Connect(test.Login, test.Passcode)))
			f, err := client.Next()
			must(t, err)
			if test.Accept {
				chk.Equal(stomp.CommandConnected, f.Command)
				return
			}
			chk.Equal(stomp.CommandError, f.Command)
			chk.Equal(server.ErrAuthentication.Error(), f.Headers[stomp.HeaderMessage])
			chk.Equal("invalid login or passcode\n", string(f.Body))
			chk.NoError(client.ExpectClosed())
		})
	}
}

func TestServer_MissingHeaders(t *testing.T) {
	type MissingTest struct {
		Name  string
		Frame stomp.Frame
	}
	tests := []MissingTest{
		{Name: "send destination", Frame: frames.SendString("", "hi")},
		{Name: "subscribe destination", Frame: frames.Subscribe("", "", "sub-0")},
		{Name: "subscribe id", Frame: frames.Subscribe("/topic/a", "", "")},
		{Name: "unsubscribe id", Frame: frames.Unsubscribe("")},
		{Name: "ack id", Frame: frames.Ack("", "")},
		{Name: "nack id", Frame: frames.Nack("", "")},
		{Name: "begin transaction", Frame: frames.Begin("")},
		{Name: "commit transaction", Frame: frames.Commit("")},
		{Name: "abort transaction", Frame: frames.Abort("")},
	}
	fx := newFixture(t, server.Options{})
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			chk := assert.New(t)
			client, err := fx.Dial(&fx.wg)
			must(t, err)
			defer client.Shutdown()
			must(t, client.Connect(""))
			//
			must(t, client.Frame(test.Frame))
			f, err := client.Expect(stomp.CommandError)
			must(t, err)
			chk.Equal(stomp.ErrMissingHeader.Error(), f.Headers[stomp.HeaderMessage])
			chk.NoError(client.ExpectClosed())
		})
	}
}

func TestServer_ProtocolErrors(t *testing.T) {
	type ErrorTest struct {
		Name    string
		Frames  []stomp.Frame
		Message string
	}
	tests := []ErrorTest{
		{
			Name: "duplicate subscription",
			Frames: []stomp.Frame{
				frames.Subscribe("/topic/a", "", "sub-0"),
				frames.Subscribe("/topic/b", "", "sub-0"),
			},
			Message: stomp.ErrDuplicateSubscription.Error(),
		},
		{
			Name:    "unknown subscription",
			Frames:  []stomp.Frame{frames.Unsubscribe("sub-9")},
			Message: server.ErrUnknownSubscription.Error(),
		},
		{
			Name:    "invalid ack mode",
			Frames:  []stomp.Frame{frames.Subscribe("/topic/a", "sometimes", "sub-0")},
			Message: server.ErrInvalidAck.Error(),
		},
		{
			Name:    "send unknown transaction",
			Frames:  []stomp.Frame{frames.SendTx("/topic/a", nil, "tx-9")},
			Message: server.ErrUnknownTransaction.Error(),
		},
		{
			Name:    "ack unknown transaction",
			Frames:  []stomp.Frame{frames.Ack("msg", "tx-9")},
			Message: server.ErrUnknownTransaction.Error(),
		},
		{
			Name:    "commit unknown transaction",
			Frames:  []stomp.Frame{frames.Commit("tx-9")},
			Message: server.ErrUnknownTransaction.Error(),
		},
		{
			Name:    "abort unknown transaction",
			Frames:  []stomp.Frame{frames.Abort("tx-9")},
			Message: server.ErrUnknownTransaction.Error(),
		},
		{
			Name:    "duplicate transaction",
			Frames:  []stomp.Frame{frames.Begin("tx-0"), frames.Begin("tx-0")},
			Message: server.ErrDuplicateTransaction.Error(),
		},
		{
			Name: "transaction full",
			Frames: []stomp.Frame{
				frames.Begin("tx-0"),
				frames.SendTx("/topic/a", nil, "tx-0"),
				frames.SendTx("/topic/a", nil, "tx-0"),
				frames.SendTx("/topic/a", nil, "tx-0"),
			},
			Message: server.ErrTransactionFull.Error(),
		},
		{
			Name:    "unknown command",
			Frames:  []stomp.Frame{{Command: stomp.CommandUnknown, Verb: "PUBLISH", Headers: stomp.Headers{}}},
			Message: server.ErrUnknownCommand.Error(),
		},
	}
	fx := newFixture(t, server.Options{TxMaxFrames: 2})
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			chk := assert.New(t)
			client, err := fx.Dial(&fx.wg)
			must(t, err)
			defer client.Shutdown()
			must(t, client.Connect(""))
			//
			for _, f := range test.Frames {
				must(t, client.Frame(f))
			}
			f, err := client.Expect(stomp.CommandError)
			must(t, err)
			chk.Equal(test.Message, f.Headers[stomp.HeaderMessage])
			chk.NoError(client.ExpectClosed())
		})
	}
}

func TestServer_ErrorOnUnmatched(t *testing.T) {
	fx := newFixture(t, server.Options{ErrorOnUnmatched: true})
	client := fx.client(t)
	//
	must(t, client.Frame(frames.SendString("/topic/nobody", "hello")))
	f, err := client.Expect(stomp.CommandError)
	must(t, err)
	assert.Equal(t, server.ErrNoSubscribers.Error(), f.Headers[stomp.HeaderMessage])
	must(t, client.ExpectClosed())
}

func TestServer_ErrorEchoesReceipt(t *testing.T) {
	fx := newFixture(t, server.Options{})
	client := fx.client(t)
	//
	must(t, client.Frame(frames.WithReceipt(frames.Unsubscribe("nope"), "r-1")))
	f, err := client.Expect(stomp.CommandError)
	must(t, err)
	assert.Equal(t, "r-1", f.Headers[stomp.HeaderReceiptID])
}

func TestServer_Receipts(t *testing.T) {
	fx := newFixture(t, server.Options{})
	client := fx.client(t)
	//
	must(t, client.Request(frames.Subscribe("/topic/r", "", "sub-0"), "r-1"))
	must(t, client.Request(frames.Begin("tx-0"), "r-2"))
	must(t, client.Request(frames.Abort("tx-0"), "r-3"))
	must(t, client.Request(frames.Unsubscribe("sub-0"), "r-4"))
	must(t, client.Request(frames.SendString("/topic/r", "nobody listens"), "r-5"))
}

func TestServer_Disconnect(t *testing.T) {
	defer goleak.VerifyNone(t)
	chk := assert.New(t)
	eventsC := make(chan interface{}, 16)
	srv := server.Server{
		Events:       eventsC,
		NewSessionID: func() string { return "session-x" },
	}
	p := srv.Pipe()
	framesC := readFrames(p.R)
	_, err := frames.Connect("", "").WriteTo(p.W)
	chk.NoError(err)
	chk.Equal(stomp.CommandConnected, next(t, framesC).Command)
	_, err = frames.Subscribe("/topic/d", "", "sub-0").WriteTo(p.W)
	chk.NoError(err)
	_, err = frames.Disconnect("bye").WriteTo(p.W)
	chk.NoError(err)
	//
	f := next(t, framesC)
	chk.Equal(stomp.CommandReceipt, f.Command)
	chk.Equal("bye", f.Headers[stomp.HeaderReceiptID])
	closed(t, framesC)
	chk.NoError(p.Close())
	//
	chk.NoError(srv.Shutdown())
	var got []interface{}
	for ev := range eventsC {
		got = append(got, ev)
	}
	chk.Equal([]interface{}{
		events.ClientConnect{SessionID: "session-x"},
		events.SubscriptionStart{Destination: "/topic/d"},
		events.SubscriptionStop{Destination: "/topic/d"},
		events.ClientDisconnect{SessionID: "session-x"},
		events.ServerStop{},
	}, got)
	chk.Empty(srv.Destinations())
}

func TestServer_ShutdownSendsError(t *testing.T) {
	chk := assert.New(t)
	srv := server.Server{}
	p := srv.Pipe()
	framesC := readFrames(p.R)
	_, err := frames.Connect("", "").WriteTo(p.W)
	chk.NoError(err)
	chk.Equal(stomp.CommandConnected, next(t, framesC).Command)
	//
	chk.NoError(srv.Shutdown())
	f := next(t, framesC)
	chk.Equal(stomp.CommandError, f.Command)
	chk.Equal("server shutting down", f.Headers[stomp.HeaderMessage])
	closed(t, framesC)
	chk.NoError(p.Close())
	chk.NoError(srv.Shutdown())
}

func TestServer_PeerDisconnectStopsSubscriptions(t *testing.T) {
	// Clients connect and establish N subscriptions.
	// Producer connects and begins sending messages on the N subscriptions.
	//
	// When a peer has received one message per subscription it disconnects without unsubscribing.
	//
	// Expect:  The server will clean up after the client (which disconnected without unsubscribing)
	//          and discards every destination.
	//
	const Topic string = "/topic/peer-disconnect"
	type TestCase struct {
		Clients       int
		Subscriptions int
	}
	tests := []TestCase{
		{Clients: 1, Subscriptions: 1},
		{Clients: 1, Subscriptions: 5},
		{Clients: 5, Subscriptions: 1},
		{Clients: 5, Subscriptions: 5},
		{Clients: 20, Subscriptions: 10},
	}
	Fn := func(test TestCase, network bool, t *testing.T) {
		chk := assert.New(t)
		//
		var wg sync.WaitGroup
		subscriptions := testsuite.NewSubscriptions(Topic, test.Subscriptions)
		eventsC := make(chan interface{}, 4*test.Clients*test.Subscriptions+16)
		srv := testsuite.TestServer{
			Server: server.Server{
				Events: eventsC,
			},
			AsNetwork: network,
		}
		//
		var consumers []testsuite.MockClient
		for n := 0; n < test.Clients; n++ {
			consumer, err := srv.Dial(&wg)
			must(t, err)
			must(t, consumer.Connect(""))
			must(t, subscriptions.Subscribe(consumer, server.AckAuto))
			consumers = append(consumers, consumer)
		}
		producer, err := srv.Producer(&wg)
		must(t, err)
		must(t, subscriptions.Send(producer, 1))
		//
		for _, consumer := range consumers {
			want := subscriptions.NewCountMap()
			for len(want) > 0 {
				f, err := consumer.Expect(stomp.CommandMessage)
				must(t, err)
				delete(want, f.Headers[stomp.HeaderDestination])
			}
			chk.NoError(consumer.Shutdown())
		}
		//
		start, stop := 0, 0
		timeout := time.After(testsuite.Timeout)
	EventLoop:
		for start == 0 || start != stop {
			select {
			case opaque := <-eventsC:
				switch opaque.(type) {
				case events.SubscriptionStart:
					start++
				case events.SubscriptionStop:
					stop++
				}
			case <-timeout:
				t.Error("timeout waiting for subscriptions to stop")
				break EventLoop
			}
		}
		chk.Equal(test.Clients*test.Subscriptions, start)
		chk.Empty(srv.Destinations())
		chk.NoError(srv.Close())
		wg.Wait()
	}
	for _, test := range tests {
		name := fmt.Sprintf("clients=%v subscriptions=%v", test.Clients, test.Subscriptions)
		t.Run("pipe "+name, func(t *testing.T) {
			Fn(test, false, t)
		})
		t.Run("network "+name, func(t *testing.T) {
			Fn(test, true, t)
		})
	}
}

func TestServer_FramesDeliveredIfClientEOFs(t *testing.T) {
	// If a client connects to the server, sends frames, and then disconnects
	// the server should deliver all of the sent frames.
	const Topic string = "/test/server-frames-delivered-if-client-eofs"
	type TestCase struct {
		Producers     int
		Consumers     int
		Subscriptions int
		Send          int
	}
	Fn := func(test TestCase, network bool, t *testing.T) {
		chk := assert.New(t)
		//
		var wg sync.WaitGroup
		srv := testsuite.TestServer{
			AsNetwork: network,
		}
		defer func() {
			chk.NoError(srv.Close())
			wg.Wait()
		}()
		subscriptions := testsuite.NewSubscriptions(Topic, test.Subscriptions)
		for n := 0; n < test.Consumers; n++ {
			consumer, err := srv.Consumer(&wg)
			must(t, err)
			must(t, subscriptions.Subscribe(consumer, server.AckAuto))
		}
		//
		var producers sync.WaitGroup
		for n := 0; n < test.Producers; n++ {
			producer, err := srv.Dial(&wg)
			must(t, err)
			must(t, producer.Connect(""))
			producers.Add(1)
			go func() {
				defer producers.Done()
				for k := 0; k < test.Send; k++ {
					for _, s := range subscriptions {
						producer.Send <- frames.SendString(s.Topic, "-")
					}
				}
				producer.Send <- frames.Disconnect("")
				chk.NoError(producer.Shutdown())
			}()
		}
		//
		ExpectCount := test.Producers * test.Subscriptions * test.Send
		for _, consumer := range srv.Consumers {
			for got := 0; got < ExpectCount; got++ {
				if _, err := consumer.Expect(stomp.CommandMessage); err != nil {
					t.Errorf("after %v of %v: %v", got, ExpectCount, err)
					break
				}
			}
		}
		producers.Wait()
	}
	tests := []TestCase{
		{Producers: 1, Consumers: 1, Subscriptions: 1, Send: 10},
		{Producers: 2, Consumers: 1, Subscriptions: 1, Send: 10},
		{Producers: 5, Consumers: 1, Subscriptions: 5, Send: 10},
		//
		{Producers: 5, Consumers: 5, Subscriptions: 5, Send: 10},
	}
	for _, test := range tests {
		name := fmt.Sprintf("producers=%v consumers=%v subscriptions=%v send=%v", test.Producers, test.Consumers, test.Subscriptions, test.Send)
		t.Run("pipe "+name, func(t *testing.T) {
			Fn(test, false, t)
		})
		t.Run("network "+name, func(t *testing.T) {
			Fn(test, true, t)
		})
	}
}

func BenchmarkServer(b *testing.B) {
	const Topic string = "/bench/server"
	type Bench struct {
		Consumers     int
		Subscriptions int
		Send          int
	}
	Fn := func(bench Bench, network bool, b *testing.B) {
		var wg sync.WaitGroup
		srv := testsuite.TestServer{
			AsNetwork: network,
		}
		subscriptions := testsuite.NewSubscriptions(Topic, bench.Subscriptions)
		for n := 0; n < bench.Consumers; n++ {
			consumer, err := srv.Consumer(&wg)
			if err == nil {
				err = subscriptions.Subscribe(consumer, server.AckAuto)
			}
			if err != nil {
				b.Fatal(err)
			}
		}
		producer, err := srv.Producer(&wg)
		if err != nil {
			b.Fatal(err)
		}
		//
		done := make(chan error, bench.Consumers)
		for _, consumer := range srv.Consumers {
			go func(consumer testsuite.MockClient) {
				for got := 0; got < bench.Subscriptions*bench.Send; got++ {
					if _, err := consumer.Expect(stomp.CommandMessage); err != nil {
						done <- err
						return
					}
				}
				done <- nil
			}(consumer)
		}
		if err := subscriptions.Send(producer, bench.Send); err != nil {
			b.Fatal(err)
		}
		for n := bench.Consumers; n != 0; n-- {
			if err := <-done; err != nil {
				b.Fatal(err)
			}
		}
		if err := srv.Close(); err != nil {
			b.Fatal(err)
		}
		wg.Wait()
	}
	benches := []Bench{
		{Consumers: 1, Subscriptions: 1, Send: 10},
		{Consumers: 1, Subscriptions: 1, Send: 100},
		{Consumers: 10, Subscriptions: 1, Send: 10},
		{Consumers: 10, Subscriptions: 10, Send: 10},
	}
	for _, bench := range benches {
		name := fmt.Sprintf("consumers=%v subscriptions=%v send=%v", bench.Consumers, bench.Subscriptions, bench.Send)
		b.Run("pipe "+name, func(b *testing.B) {
			for n := 0; n < b.N; n++ {
				Fn(bench, false, b)
			}
		})
		b.Run("network "+name, func(b *testing.B) {
			for n := 0; n < b.N; n++ {
				Fn(bench, true, b)
			}
		})
	}
}
