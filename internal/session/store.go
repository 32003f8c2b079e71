// Package session provides the session-store collaborator the handshake
// authenticates against. The WebSocket tier never creates or mutates
// sessions; it only resolves the cookie-derived session id to the user
// record the HTTP tier stored.
package session

import (
	"context"
	"errors"

	"signoffws/pkg/types"
)

// ErrNoSession is returned when the session id is unknown, expired, or
// carries no user record. The handshake maps it to a 401.
var ErrNoSession = errors.New("no session for id")

// Store resolves a session id to the authenticated user.
type Store interface {
	Lookup(ctx context.Context, sessionID string) (*types.User, error)
}
