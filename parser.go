package stomp

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// parserState is the section of the frame the Parser is currently reading.
type parserState int

const (
	stateCommand parserState = iota
	stateHeaders
	stateBody
)

// ParserOptions are the resource limits enforced by a Parser.  A zero value means
// the limit is not enforced.
type ParserOptions struct {
	// MaxHeaders is the maximum number of header lines in a frame.
	MaxHeaders int

	// MaxHeaderLength is the maximum length of a single header name or value.
	MaxHeaderLength int

	// MaxBodyLength is the maximum number of body bytes in a frame.
	MaxBodyLength int
}

// Parser is an incremental STOMP parser.  Bytes are fed to the parser with Write in
// chunks of any size; a frame may span any number of chunks and a chunk may contain
// any number of frames.
//
// Complete frames are passed to OnFrame and heartbeats (empty lines between frames)
// to OnHeartbeat.  Fatal errors reset the parser; if OnError is set the error is passed
// to it and Write returns a nil error, otherwise Write returns the error.
type Parser struct {
	ParserOptions

	OnFrame     func(Frame)
	OnHeartbeat func()
	OnError     func(error)

	state         parserState
	line          []byte
	frame         Frame
	headers       int
	contentLength int // -1 means the body is delimited by the null byte
	body          []byte
	bodyLength    int
}

// NewParser returns a new STOMP Parser.
func NewParser(opts ParserOptions) *Parser {
	p := &Parser{
		ParserOptions: opts,
	}
	p.reset()
	return p
}

// Idle returns true if the parser is between frames.
func (p *Parser) Idle() bool {
	return p.state == stateCommand && len(p.line) == 0
}

// reset prepares the parser to read the next frame.
func (p *Parser) reset() {
	p.state = stateCommand
	p.line = p.line[:0]
	p.frame = Frame{}
	p.headers = 0
	p.contentLength = -1
	p.body = nil
	p.bodyLength = 0
}

// Write feeds b into the parser.
func (p *Parser) Write(b []byte) (int, error) {
	var n, used int
	var err error
	for n < len(b) {
		if p.state == stateBody {
			used, err = p.readBody(b[n:])
		} else {
			used, err = p.readLine(b[n:])
		}
		n += used
		if err != nil {
			p.reset()
			if p.OnError != nil {
				p.OnError(err)
				return len(b), nil
			}
			return n, err
		}
	}
	return n, nil
}

// readLine consumes bytes up to and including the next newline.
func (p *Parser) readLine(b []byte) (int, error) {
	nl := bytes.IndexByte(b, '\n')
	if nl == -1 {
		p.line = append(p.line, b...)
		if limit := p.MaxHeaderLength; limit > 0 && len(p.line) > 4*limit+2 {
			return len(b), fmt.Errorf("%w: %w: line exceeds %v bytes", ErrFrame, ErrLimitExceeded, 4*limit+2)
		}
		return len(b), nil
	}
	p.line = append(p.line, b[:nl]...)
	line := p.line
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	var err error
	if p.state == stateCommand {
		err = p.command(line)
	} else {
		err = p.header(line)
	}
	p.line = p.line[:0]
	return nl + 1, err
}

// command interprets a line read in the COMMAND state.
func (p *Parser) command(line []byte) error {
	text := strings.TrimSpace(string(line))
	if text == "" {
		if p.OnHeartbeat != nil {
			p.OnHeartbeat()
		}
		return nil
	}
	c, ok := ParseCommand(text)
	p.frame = Frame{
		Command: c,
		Headers: Headers{},
	}
	if !ok {
		p.frame.Verb = text
	}
	p.state = stateHeaders
	return nil
}

// header interprets a line read in the HEADERS state.
func (p *Parser) header(line []byte) error {
	if len(line) == 0 {
		if limit := p.MaxBodyLength; limit > 0 && p.contentLength > limit {
			return fmt.Errorf("%w: %w: content-length %v exceeds %v", ErrFrame, ErrLimitExceeded, p.contentLength, limit)
		}
		p.state = stateBody
		return nil
	}
	colon := bytes.IndexByte(line, ':')
	if colon == -1 {
		return fmt.Errorf("%w: header missing colon: %v", ErrFrame, string(line))
	}
	if p.headers++; p.MaxHeaders > 0 && p.headers > p.MaxHeaders {
		return fmt.Errorf("%w: %w: more than %v headers", ErrFrame, ErrLimitExceeded, p.MaxHeaders)
	}
	name, err := UnescapeHeader(p.frame.Command, string(line[:colon]))
	if err != nil {
		return err
	}
	value, err := UnescapeHeader(p.frame.Command, string(line[colon+1:]))
	if err != nil {
		return err
	}
	if limit := p.MaxHeaderLength; limit > 0 && (len(name) > limit || len(value) > limit) {
		return fmt.Errorf("%w: %w: header %v longer than %v", ErrFrame, ErrLimitExceeded, name, limit)
	}
	if !p.frame.Headers.Add(name, value) || name != HeaderContentLength {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil || n < 0 {
		return fmt.Errorf("%w: invalid content-length: %v", ErrFrame, value)
	}
	p.contentLength = n
	return nil
}

// readBody consumes body bytes and the null terminator.
func (p *Parser) readBody(b []byte) (int, error) {
	if p.contentLength >= 0 {
		take := p.contentLength - len(p.body)
		if take > len(b) {
			take = len(b)
		}
		if err := p.accumulate(b[:take]); err != nil {
			return take, err
		}
		if len(p.body) < p.contentLength || take == len(b) {
			return take, nil
		}
		if b[take] != 0x00 {
			return take + 1, fmt.Errorf("%w: expected null byte after %v byte body", ErrFrame, p.contentLength)
		}
		return take + 1, p.emit()
	}
	null := bytes.IndexByte(b, 0x00)
	if null == -1 {
		return len(b), p.accumulate(b)
	}
	if err := p.accumulate(b[:null]); err != nil {
		return null + 1, err
	}
	return null + 1, p.emit()
}

// accumulate appends b to the body while enforcing MaxBodyLength across chunks.
func (p *Parser) accumulate(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	p.bodyLength += len(b)
	if limit := p.MaxBodyLength; limit > 0 && p.bodyLength > limit {
		return fmt.Errorf("%w: %w: body exceeds %v bytes", ErrFrame, ErrLimitExceeded, limit)
	}
	p.body = append(p.body, b...)
	return nil
}

// emit validates and delivers the current frame.
func (p *Parser) emit() error {
	f := p.frame
	if len(p.body) > 0 {
		f.Body = p.body
	}
	if err := f.Validate(); err != nil {
		return err
	}
	p.reset()
	if p.OnFrame != nil {
		p.OnFrame(f)
	}
	return nil
}
