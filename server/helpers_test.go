package server_test

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/server"
	"github.com/nofeaturesonlybugs/stomp/v2/server/testsuite"
)

// readFrames parses frames from r until r fails.  The channel is closed when r is done.
func readFrames(r io.Reader) <-chan stomp.Frame {
	c := make(chan stomp.Frame, 64)
	go func() {
		defer close(c)
		parser := stomp.NewParser(stomp.ParserOptions{})
		parser.OnFrame = func(f stomp.Frame) {
			c <- f
		}
		_, _ = io.Copy(parser, r)
	}()
	return c
}

// next returns the next frame from c.
func next(t *testing.T, c <-chan stomp.Frame) stomp.Frame {
	t.Helper()
	select {
	case f, open := <-c:
		if !open {
			t.Fatalf("connection closed")
		}
		return f
	case <-time.After(testsuite.Timeout):
		t.Fatalf("timeout waiting for frame")
	}
	return stomp.Frame{}
}

// closed fails unless c is closed without delivering frames first.
func closed(t *testing.T, c <-chan stomp.Frame) {
	t.Helper()
	select {
	case f, open := <-c:
		if open {
			t.Fatalf("unexpected %v frame", f.Command)
		}
	case <-time.After(testsuite.Timeout):
		t.Fatalf("timeout waiting for close")
	}
}

// fixture is a test server with its wait group.
type fixture struct {
	*testsuite.TestServer
	wg sync.WaitGroup
}

func newFixture(t *testing.T, opts server.Options) *fixture {
	fx := &fixture{
		TestServer: &testsuite.TestServer{
			Server: server.Server{
				Options: opts,
			},
		},
	}
	t.Cleanup(func() {
		assert.NoError(t, fx.Close())
		fx.wg.Wait()
	})
	return fx
}

// client returns a connected client or stops the test.
func (fx *fixture) client(t *testing.T) testsuite.MockClient {
	t.Helper()
	client, err := fx.Client(&fx.wg)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	return client
}

// must stops the test on err.
func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
