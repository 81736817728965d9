package server

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/nofeaturesonlybugs/stomp/v2"
	"github.com/nofeaturesonlybugs/stomp/v2/frames"
)

var (
	// ErrUnknownTransaction occurs when a frame references a transaction that was never begun.
	ErrUnknownTransaction = errors.New("stomp: unknown transaction")

	// ErrDuplicateTransaction occurs when BEGIN reuses an active transaction id.
	ErrDuplicateTransaction = errors.New("stomp: duplicate transaction")

	// ErrTransactionFull occurs when a transaction exceeds its maximum frame count.
	ErrTransactionFull = errors.New("stomp: transaction full")

	// ErrUnknownSubscription occurs when UNSUBSCRIBE references an unknown subscription id.
	ErrUnknownSubscription = errors.New("stomp: unknown subscription")

	// ErrNoSubscribers occurs when SEND targets a destination without subscribers and the
	// server is configured to treat that as an error.
	ErrNoSubscribers = errors.New("stomp: no subscribers")

	// ErrNotConnected occurs when a frame other than CONNECT or STOMP arrives first.
	ErrNotConnected = errors.New("stomp: not connected")

	// ErrUnknownCommand occurs when the client sends a command the server does not handle.
	ErrUnknownCommand = errors.New("stomp: unknown command")

	// ErrAuthentication occurs when CONNECT credentials are rejected.
	ErrAuthentication = errors.New("stomp: authentication failed")

	// ErrAlreadyConnected occurs when CONNECT or STOMP arrives on a connected connection.
	ErrAlreadyConnected = errors.New("stomp: already connected")

	// ErrInvalidAck occurs when SUBSCRIBE names an unknown ack mode.
	ErrInvalidAck = errors.New("stomp: invalid ack mode")

	// ErrHeartbeatTimeout occurs when a client is silent for longer than twice the
	// negotiated threshold.
	ErrHeartbeatTimeout = errors.New("stomp: heartbeat timeout")

	// ErrShutdown occurs when connections are closed by Server.Shutdown.
	ErrShutdown = errors.New("stomp: server shutting down")
)

// ProtocolError is a protocol violation.  It is reported to the client as an ERROR
// frame after which the connection is closed.
type ProtocolError struct {
	// Message is the short description placed in the message header.
	Message string

	// Detail is placed in the ERROR frame body.
	Detail string

	// Frame is the offending frame, if any.
	Frame stomp.Frame

	// Headers are added to the ERROR frame.
	Headers stomp.Headers

	// Err is the underlying error.
	Err error
}

// Error implements error.
func (e *ProtocolError) Error() string {
	if e.Detail != "" {
		return e.Message + ": " + e.Detail
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// ErrorFrame returns the ERROR frame describing e.
func (e *ProtocolError) ErrorFrame() stomp.Frame {
	f := frames.Error(e.Message, e.Detail, e.Frame)
	for name, value := range e.Headers {
		f.Headers.Add(name, value)
	}
	return f
}

// asProtocolError converts err into a *ProtocolError for frame f.
func asProtocolError(err error, f stomp.Frame) *ProtocolError {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe
	}
	return &ProtocolError{
		Message: errors.Cause(err).Error(),
		Detail:  err.Error(),
		Frame:   f,
		Err:     err,
	}
}

// protocolError creates a ProtocolError for frame f.
func protocolError(err error, f stomp.Frame, format string, args ...interface{}) *ProtocolError {
	return &ProtocolError{
		Message: err.Error(),
		Detail:  fmt.Sprintf(format, args...),
		Frame:   f,
		Err:     err,
	}
}

// missingHeader creates the ProtocolError for a frame without a mandatory header.
func missingHeader(f stomp.Frame, header string) *ProtocolError {
	return protocolError(stomp.ErrMissingHeader, f, "%v requires the %v header", f.Command, header)
}
