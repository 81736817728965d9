package stomp

import "errors"

var (
	// ErrBodyNotAllowed occurs when a frame whose command forbids a body carries one.
	ErrBodyNotAllowed = errors.New("stomp: body not allowed")

	// ErrDuplicateSubscription occurs when a client reuses an active subscription id.
	ErrDuplicateSubscription = errors.New("stomp: duplicate subscription")

	// ErrFrame occurs when the reader returns any error during parsing of a STOMP frame.
	ErrFrame = errors.New("stomp: invalid frame")

	// ErrInvalidEscape occurs when a header contains an escape sequence that is not
	// allowed for the frame's command.
	ErrInvalidEscape = errors.New("stomp: invalid escape sequence")

	// ErrLimitExceeded occurs when a frame exceeds one of the parser's configured limits.
	ErrLimitExceeded = errors.New("stomp: limit exceeded")

	// ErrMissingHeader occurs when a frame is missing a required header.
	ErrMissingHeader = errors.New("stomp: missing required header")

	// ErrUnsupportedVersion occurs when version negotiation finds no common version.
	ErrUnsupportedVersion = errors.New("stomp: unsupported protocol version")

	// ErrClosed is returned by Client methods after the connection is closed.
	ErrClosed = errors.New("stomp: connection closed")
)
