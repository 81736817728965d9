package testsuite

import (
	"net"
	"sync"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// PeerFactory facilitates creating linked peer pairs for tests.
//
// By default Make returns peers created with stomp.Pipe and the peers are
// connected by memory pipes; see io.Pipe.
//
// By calling AsNetwork the peer factory will start a net.Listener and peers
// created by Make will be created by a net.Dial (remote peer) and Listener.Accept (local peer).
type PeerFactory struct {
	// WaitGroup is passed to Start.
	WaitGroup *sync.WaitGroup

	// Limits are applied to both peers.
	Limits stomp.ParserOptions

	// StartLocal=true means Make will call Start method on local stomp.Peer.
	// StartRemote=true means Make will call Start method on remote stomp.Peer
	StartLocal  bool
	StartRemote bool

	// Locals are the local stomp.Peers and remotes are the remote stomp.Peers.
	Locals  []stomp.Peer
	Remotes []stomp.Peer

	// Listener is created and set by the AsNetwork method.
	Listener net.Listener
}

// Make returns a linked pair of peers.
func (factory *PeerFactory) Make() (Local stomp.Peer, Remote stomp.Peer, err error) {
	if factory.Listener == nil {
		// as pipes
		Local, Remote = stomp.Pipe()
	} else {
		// as net conns
		var lconn, rconn net.Conn
		var errAccept error
		acceptC := make(chan stomp.Signal)
		go func() {
			defer close(acceptC)
			lconn, errAccept = factory.Listener.Accept()
		}()
		rconn, err = net.Dial(factory.Listener.Addr().Network(), factory.Listener.Addr().String())
		if err != nil {
			return
		}
		<-acceptC // need to block until the goroutine returns otherwise errAccept and lconn may not yet be set
		if err = errAccept; err != nil {
			_ = rconn.Close()
			return
		}
		Local = stomp.Peer{
			R: lconn,
			W: lconn,
		}
		Remote = stomp.Peer{
			R: rconn,
			W: rconn,
		}
	}
	Local.Limits, Remote.Limits = factory.Limits, factory.Limits
	if factory.StartLocal {
		Local.Start(factory.WaitGroup)
	}
	if factory.StartRemote {
		Remote.Start(factory.WaitGroup)
	}
	factory.Locals = append(factory.Locals, Local)
	factory.Remotes = append(factory.Remotes, Remote)
	return
}

// AsNetwork configures the peer factory to create net worked peers using net.Listener and net.Dial.
func (factory *PeerFactory) AsNetwork() error {
	var err error
	factory.Listener, err = net.Listen("tcp", "127.0.0.1:")
	return err
}

// Close closes the listener, if any.
func (factory *PeerFactory) Close() error {
	if factory.Listener != nil {
		return factory.Listener.Close()
	}
	return nil
}
