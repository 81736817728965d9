package server

import (
	"github.com/pkg/errors"

	"github.com/nofeaturesonlybugs/stomp/v2"
)

// Transaction buffers a connection's SEND, ACK and NACK frames until COMMIT.
//
// A Transaction is only touched by its owning connection.
type Transaction struct {
	ConnID string
	ID     string

	// Max bounds the number of buffered frames; zero is unbounded.
	Max int

	frames []stomp.Frame
}

// NewTransaction creates an empty transaction.
func NewTransaction(connID, id string, limit int) *Transaction {
	return &Transaction{
		ConnID: connID,
		ID:     id,
		Max:    limit,
	}
}

// Add buffers f.
func (tx *Transaction) Add(f stomp.Frame) error {
	if tx.Max > 0 && len(tx.frames) >= tx.Max {
		return errors.Wrapf(ErrTransactionFull, "transaction %v holds %v frames", tx.ID, tx.Max)
	}
	tx.frames = append(tx.frames, f)
	return nil
}

// Frames returns the buffered frames in the order they were added.
func (tx *Transaction) Frames() []stomp.Frame {
	return tx.frames
}

// Len returns the number of buffered frames.
func (tx *Transaction) Len() int {
	return len(tx.frames)
}

// Clear discards the buffered frames.
func (tx *Transaction) Clear() {
	tx.frames = nil
}
