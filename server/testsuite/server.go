package testsuite

import (
	"fmt"
	"net"
	"sync"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/server"
)

// TestServer embeds the stomp server type and provides utility.
type TestServer struct {
	server.Server

	// List of connected clients
	Clients []MockClient

	// When tests create clients with calls to Consumer or Producer then the
	// returned client is also placed in the following slices.
	Consumers []MockClient
	Producers []MockClient

	// AsNetwork=true means the server is a network server and peers
	// connect as network clients.
	AsNetwork bool

	mu                 sync.Mutex
	sessions           int
	onceInit           sync.Once // only init server once
	onceListenAndServe sync.Once // only start network one time
	listenErr          error
}

// init sets initial values on server by setting any fields on Server that aren't explicitly set.
func (s *TestServer) init() {
	if s.Logger == nil {
		s.Logger = stomp.NilLogger
	}
	if s.NewSessionID == nil {
		s.NewSessionID = func() string {
			s.mu.Lock()
			defer s.mu.Unlock()
			id := fmt.Sprintf("session #%v", s.sessions)
			s.sessions++
			return id
		}
	}
}

// Dial returns a started but unconnected client.
//
// AsNetwork=true means the underlying client is a net.Conn.
// AsNetwork=false means the underlying client is created from io.Pipe.
func (s *TestServer) Dial(wg *sync.WaitGroup) (MockClient, error) {
	s.onceInit.Do(s.init)
	var client MockClient
	//
	if s.AsNetwork {
		s.onceListenAndServe.Do(func() {
			s.listenErr = s.ListenAndServe()
		})
		if s.listenErr != nil {
			return MockClient{}, s.listenErr
		}
		conn, err := net.Dial("tcp", s.Addr)
		if err != nil {
			return MockClient{}, err
		}
		client = MockClient{
			Peer: stomp.Peer{
				R: conn,
				W: conn,
			},
		}
	} else {
		client = MockClient{
			Peer: s.Pipe(),
		}
	}
	client.Start(wg)
	return client, nil
}

// Client connects a client to the server and returns the MockClient instance.
//
// The client's Start method is called with wg as its argument and a CONNECT frame
// is sent.
func (s *TestServer) Client(wg *sync.WaitGroup) (MockClient, error) {
	client, err := s.Dial(wg)
	if err != nil {
		return client, err
	}
	if err := client.Connect(""); err != nil {
		_ = client.Shutdown()
		return MockClient{}, err
	}
	s.mu.Lock()
	s.Clients = append(s.Clients, client)
	s.mu.Unlock()
	return client, nil
}

// Consumer is identical to Client except the returned client is also added to the
// Consumers slice of the test server.
func (s *TestServer) Consumer(wg *sync.WaitGroup) (MockClient, error) {
	client, err := s.Client(wg)
	s.Consumers = append(s.Consumers, client)
	return client, err
}

// Producer is identical to Client except the returned client is also added to the
// Producers slice of the test server.
func (s *TestServer) Producer(wg *sync.WaitGroup) (MockClient, error) {
	client, err := s.Client(wg)
	s.Producers = append(s.Producers, client)
	return client, err
}

// Close shuts down every client and then the server.
func (s *TestServer) Close() error {
	s.mu.Lock()
	clients := s.Clients
	s.Clients = nil
	s.mu.Unlock()
	for _, client := range clients {
		_ = client.Shutdown()
	}
	return s.Shutdown()
}
