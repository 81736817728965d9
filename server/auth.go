package server

import (
	"context"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator validates CONNECT credentials.
type Authenticator interface {
	// Authenticate returns true if login and passcode are accepted.  A non-nil error
	// rejects the connection as well.
	Authenticate(ctx context.Context, login, passcode string) (bool, error)
}

// AuthenticatorFunc is a function implementing Authenticator.
type AuthenticatorFunc func(ctx context.Context, login, passcode string) (bool, error)

// Authenticate calls fn.
func (fn AuthenticatorFunc) Authenticate(ctx context.Context, login, passcode string) (bool, error) {
	return fn(ctx, login, passcode)
}

// StaticAuthenticator authenticates against a fixed set of users.
//
// Passcodes beginning with "$2" are treated as bcrypt hashes; anything else is compared
// literally.
type StaticAuthenticator struct {
	mu    sync.RWMutex
	users map[string]string
}

// NewStaticAuthenticator creates a StaticAuthenticator from login → passcode pairs.
func NewStaticAuthenticator(users map[string]string) *StaticAuthenticator {
	a := &StaticAuthenticator{users: map[string]string{}}
	for login, passcode := range users {
		a.users[login] = passcode
	}
	return a
}

// AddUser adds or replaces a user.
func (a *StaticAuthenticator) AddUser(login, passcode string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[login] = passcode
}

// Authenticate implements Authenticator.
func (a *StaticAuthenticator) Authenticate(ctx context.Context, login, passcode string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a.mu.RLock()
	expected, ok := a.users[login]
	a.mu.RUnlock()
	if !ok {
		return false, nil
	}
	if strings.HasPrefix(expected, "$2") {
		err := bcrypt.CompareHashAndPassword([]byte(expected), []byte(passcode))
		if err == bcrypt.ErrMismatchedHashAndPassword {
			return false, nil
		}
		return err == nil, err
	}
	return expected == passcode, nil
}
