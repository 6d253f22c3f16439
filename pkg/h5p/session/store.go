// Package session keeps per-visitor values between requests: the redirect
// target after an editor save and one-shot flash messages.
package session

import (
	"context"
	"errors"
)

// ErrNoSession is returned when a request carries no session.
var ErrNoSession = errors.New("no session in context")

// Store persists string values per session id.
type Store interface {
	Get(ctx context.Context, sid, key string) (string, bool, error)
	Set(ctx context.Context, sid, key, value string) error
	// Pull returns the value and removes it.
	Pull(ctx context.Context, sid, key string) (string, bool, error)
	// Append adds value to the list under key in one atomic step.
	Append(ctx context.Context, sid, key, value string) error
	// PullList returns the list under key and removes it.
	PullList(ctx context.Context, sid, key string) ([]string, error)
}
