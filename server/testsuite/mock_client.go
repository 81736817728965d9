package testsuite

import (
	"errors"
	"fmt"
	"time"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/frames"
)

const (
	TestLogin    = "testlogin"
	TestPasscode = "testpasscode"
)

// Timeout bounds every wait performed by MockClient.
var Timeout = 2 * time.Second

// MockClient is a raw client peer for interacting with a stomp/server.Server.
type MockClient struct {
	stomp.Peer
}

// Connect sends a CONNECT frame and verifies the session value received.  An empty
// sessionID accepts any session.
func (client MockClient) Connect(sessionID string) error {
	_, err := client.ConnectWith(frames.Connect(TestLogin, TestPasscode), sessionID)
	return err
}

// ConnectWith sends connect, which must be a CONNECT or STOMP frame, and returns the
// CONNECTED reply.
func (client MockClient) ConnectWith(connect stomp.Frame, sessionID string) (stomp.Frame, error) {
	if err := client.Frame(connect); err != nil {
		return stomp.Frame{}, err
	}
	frame, err := client.Expect(stomp.CommandConnected)
	if err != nil {
		return frame, err
	}
	if id := frame.Headers[stomp.HeaderSession]; sessionID != "" && id != sessionID {
		return frame, fmt.Errorf("expected %v session; got %v", sessionID, id)
	}
	return frame, nil
}

// Frame sends a single frame.
func (client MockClient) Frame(frame stomp.Frame) error {
	select {
	case client.Send <- frame:
	case <-time.After(Timeout):
		return errors.New("unable to send frame")
	}
	return nil
}

// Next returns the next frame from the server.
func (client MockClient) Next() (stomp.Frame, error) {
	select {
	case frame, open := <-client.Receive:
		if !open {
			return stomp.Frame{}, errors.New("connection closed")
		}
		return frame, nil
	case <-time.After(Timeout):
		return stomp.Frame{}, errors.New("timeout waiting for frame")
	}
}

// Expect returns the next frame from the server and fails unless its command is c.
func (client MockClient) Expect(c stomp.Command) (stomp.Frame, error) {
	frame, err := client.Next()
	if err != nil {
		return frame, fmt.Errorf("expecting %v: %w", c, err)
	}
	if frame.Command != c {
		return frame, fmt.Errorf("expected %v frame; got %v %v", c, frame.Command, frame.Headers[stomp.HeaderMessage])
	}
	return frame, nil
}

// ExpectNothing fails if a frame arrives within d.
func (client MockClient) ExpectNothing(d time.Duration) error {
	select {
	case frame, open := <-client.Receive:
		if !open {
			return nil
		}
		return fmt.Errorf("unexpected %v frame", frame.Command)
	case <-time.After(d):
		return nil
	}
}

// ExpectClosed waits until the server closes the connection.
func (client MockClient) ExpectClosed() error {
	deadline := time.After(Timeout)
	for {
		select {
		case _, open := <-client.Receive:
			if !open {
				return nil
			}
		case <-deadline:
			return errors.New("timeout waiting for close")
		}
	}
}

// Request sends frame with a receipt header and waits for the RECEIPT.
func (client MockClient) Request(frame stomp.Frame, receipt string) error {
	if err := client.Frame(frames.WithReceipt(frame, receipt)); err != nil {
		return err
	}
	f, err := client.Expect(stomp.CommandReceipt)
	if err != nil {
		return err
	}
	if id := f.Headers[stomp.HeaderReceiptID]; id != receipt {
		return fmt.Errorf("expected receipt %v; got %v", receipt, id)
	}
	return nil
}
