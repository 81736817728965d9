// Package frames contains constructors for the STOMP frames exchanged by clients and servers.
package frames

import (
	"bytes"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// Empty is an empty STOMP frame and is provided as a convenience.
var Empty stomp.Frame

// Connect creates a CONNECT frame using the given credentials.  Empty credentials are omitted.
func Connect(login, passcode string) stomp.Frame {
	f := stomp.Frame{
		Command: stomp.CommandConnect,
		Headers: stomp.Headers{
			stomp.HeaderAcceptVersion: "1.0,1.1,1.2",
		},
	}
	if login != "" {
		f.Headers[stomp.HeaderLogin] = login
	}
	if passcode != "" {
		f.Headers[stomp.HeaderPasscode] = passcode
	}
	return f
}

// Connected creates a CONNECTED frame.
func Connected(version, session, server string, hb stomp.HeartBeat) stomp.Frame {
	f := stomp.Frame{
		Command: stomp.CommandConnected,
		Headers: stomp.Headers{
			stomp.HeaderVersion:   version,
			stomp.HeaderSession:   session,
			stomp.HeaderHeartBeat: hb.String(),
		},
	}
	if server != "" {
		f.Headers[stomp.HeaderServer] = server
	}
	return f
}

// Error creates an ERROR frame from an existing frame.
//
// message becomes the message header in the returned frame which should
// be a short description of the error.
//
// If present body becomes the leading portion of the frame body.
//
// If frame is a non-empty frame then it will be partially inserted into the returned
// frame's body to allow for contextual information about a frame causing the error.
// A receipt requested by frame is echoed as receipt-id.
func Error(message string, body string, frame stomp.Frame) stomp.Frame {
	f := stomp.Frame{
		Command: stomp.CommandError,
		Headers: stomp.Headers{
			stomp.HeaderMessage: message,
		},
	}
	if receipt := frame.Headers[stomp.HeaderReceipt]; receipt != "" {
		f.Headers[stomp.HeaderReceiptID] = receipt
	}
	buf := &bytes.Buffer{}
	if !frame.Empty() {
		buf.WriteString("The frame\n----\n")
		_, _ = frame.WriteTo(buf)
		buf.WriteString("\n----\n")
	}
	if body != "" {
		buf.WriteString(body)
		buf.WriteString("\n")
	}
	if buf.Len() > 0 {
		f.Headers[stomp.HeaderContentType] = "text/plain"
		f.Body = buf.Bytes()
	}
	return f
}

// Receipt creates a RECEIPT frame.
func Receipt(id string) stomp.Frame {
	return stomp.Frame{
		Command: stomp.CommandReceipt,
		Headers: stomp.Headers{
			stomp.HeaderReceiptID: id,
		},
	}
}

// Send creates a SEND frame.
//
// dest is required by STOMP protocol but not enforced by this function.
func Send(dest string, body []byte) stomp.Frame {
	f := stomp.Frame{
		Command: stomp.CommandSend,
		Headers: stomp.Headers{
			stomp.HeaderDestination: dest,
		},
		Body: body,
	}
	return f
}

// SendString creates a SEND frame from a string message body.
//
// dest is required by STOMP protocol but not enforced by this function.
func SendString(dest string, body string) stomp.Frame {
	return Send(dest, []byte(body))
}

// SendTx creates a SEND frame belonging to transaction tx.
func SendTx(dest string, body []byte, tx string) stomp.Frame {
	f := Send(dest, body)
	f.Headers[stomp.HeaderTransaction] = tx
	return f
}

// Subscribe creates a SUBSCRIBE frame.
//
// dest and id are required by STOMP protocol but not enforced by this function.
// ack is optional and omitted when empty.
func Subscribe(dest, ack, id string) stomp.Frame {
	f := stomp.Frame{
		Command: stomp.CommandSubscribe,
		Headers: stomp.Headers{
			stomp.HeaderDestination: dest,
		},
	}
	if ack != "" {
		f.Headers[stomp.HeaderAck] = ack
	}
	if id != "" {
		f.Headers[stomp.HeaderID] = id
	}
	return f
}

// Unsubscribe creates an UNSUBSCRIBE frame.
func Unsubscribe(id string) stomp.Frame {
	f := stomp.Frame{
		Command: stomp.CommandUnsubscribe,
		Headers: stomp.Headers{},
	}
	if id != "" {
		f.Headers[stomp.HeaderID] = id
	}
	return f
}

// Ack creates an ACK frame; tx is optional.
func Ack(id, tx string) stomp.Frame {
	return ackFrame(stomp.CommandAck, id, tx)
}

// Nack creates a NACK frame; tx is optional.
func Nack(id, tx string) stomp.Frame {
	return ackFrame(stomp.CommandNack, id, tx)
}

func ackFrame(c stomp.Command, id, tx string) stomp.Frame {
	f := stomp.Frame{
		Command: c,
		Headers: stomp.Headers{
			stomp.HeaderID: id,
		},
	}
	if tx != "" {
		f.Headers[stomp.HeaderTransaction] = tx
	}
	return f
}

// Begin creates a BEGIN frame.
func Begin(tx string) stomp.Frame {
	return txFrame(stomp.CommandBegin, tx)
}

// Commit creates a COMMIT frame.
func Commit(tx string) stomp.Frame {
	return txFrame(stomp.CommandCommit, tx)
}

// Abort creates an ABORT frame.
func Abort(tx string) stomp.Frame {
	return txFrame(stomp.CommandAbort, tx)
}

func txFrame(c stomp.Command, tx string) stomp.Frame {
	return stomp.Frame{
		Command: c,
		Headers: stomp.Headers{
			stomp.HeaderTransaction: tx,
		},
	}
}

// Disconnect creates a DISCONNECT frame; receipt is optional.
func Disconnect(receipt string) stomp.Frame {
	f := stomp.Frame{
		Command: stomp.CommandDisconnect,
		Headers: stomp.Headers{},
	}
	if receipt != "" {
		f.Headers[stomp.HeaderReceipt] = receipt
	}
	return f
}

// WithReceipt returns frame with a receipt header added.
func WithReceipt(frame stomp.Frame, receipt string) stomp.Frame {
	frame.Headers = frame.Headers.Clone()
	frame.Headers[stomp.HeaderReceipt] = receipt
	return frame
}
