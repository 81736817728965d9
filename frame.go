package stomp

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Unit is a single protocol unit exchanged on the wire: either a Frame or a Heartbeat.
type Unit interface {
	// WriteTo writes the unit's wire form to w.
	WriteTo(w io.Writer) (int64, error)

	unit()
}

// Heartbeat is the synthetic heartbeat unit.  On the wire it is a single newline with no
// command, headers, or terminator and it is never validated as a Frame.
type Heartbeat struct{}

func (Heartbeat) unit() {}

// WriteTo writes a single newline to w.
func (Heartbeat) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write([]byte{'\n'})
	return int64(n), err
}

// Frame is a STOMP frame.
type Frame struct {
	Command Command
	Headers Headers
	Body    []byte

	// Verb holds the original command text when Command is CommandUnknown.
	Verb string
}

func (Frame) unit() {}

// NewFrame creates a frame and validates it.
func NewFrame(c Command, headers Headers, body []byte) (Frame, error) {
	if headers == nil {
		headers = Headers{}
	}
	f := Frame{
		Command: c,
		Headers: headers,
		Body:    body,
	}
	return f, f.Validate()
}

// Validate returns an error if the frame carries a body but its command does not permit one.
func (f Frame) Validate() error {
	if len(f.Body) > 0 && !f.Command.HasBody() {
		return fmt.Errorf("%w: %w: %v", ErrFrame, ErrBodyNotAllowed, f.Command)
	}
	return nil
}

// Empty returns true if the frame is empty.  An empty frame has no command,
// no headers, and a zero-length body.
func (f Frame) Empty() bool {
	return f.Command == "" && len(f.Headers) == 0 && len(f.Body) == 0
}

// Header returns the value of the named header or the empty string.
func (f Frame) Header(name string) string {
	return f.Headers[name]
}

// Name returns the command line text for the frame.
func (f Frame) Name() string {
	if f.Command == CommandUnknown && f.Verb != "" {
		return f.Verb
	}
	return string(f.Command)
}

// String returns the STOMP frame as a string.
func (f Frame) String() string {
	s := &strings.Builder{}
	if _, err := f.WriteTo(s); err != nil {
		return ""
	}
	return s.String()
}

// Bytes returns the wire form of the frame.
func (f Frame) Bytes() []byte {
	buf := &bytes.Buffer{}
	_, _ = f.WriteTo(buf) // bytes.Buffer writes do not fail
	return buf.Bytes()
}

// WriteTo writes data to w until there's no more data to write or when an error occurs.
// The return value n is the number of bytes written. Any error encountered during the
// write is also returned.
//
// A content-length header is written whenever the frame has a body; any content-length
// in Headers is ignored in favor of the computed one.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	var total, n int
	var err error
	//
	n, err = io.WriteString(w, f.Name()+"\n")
	total += n
	if err != nil {
		return int64(total), err
	}
	//
	if contentLength := len(f.Body); contentLength > 0 {
		n, err = io.WriteString(w, HeaderContentLength+":"+strconv.Itoa(contentLength)+"\n")
		total += n
		if err != nil {
			return int64(total), err
		}
	}
	//
	for _, header := range f.Headers.SortedKeys() {
		if header == HeaderContentLength {
			continue
		}
		value := f.Headers[header]
		n, err = io.WriteString(w, EscapeHeader(f.Command, header)+":"+EscapeHeader(f.Command, value)+"\n")
		total += n
		if err != nil {
			return int64(total), err
		}
	}
	n, err = io.WriteString(w, "\n")
	total += n
	if err != nil {
		return int64(total), err
	}
	//
	n, err = w.Write(f.Body)
	total += n
	if err != nil {
		return int64(total), err
	}
	n, err = w.Write([]byte{0x00})
	total += n
	if err != nil {
		return int64(total), err
	}
	//
	return int64(total), nil
}
