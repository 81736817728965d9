package stomp

import (
	"strings"

	"github.com/google/uuid"
)

// SessionID generates and returns a session SessionID.
func SessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// MessageID generates and returns a unique message id.
func MessageID() string {
	return uuid.NewString()
}
