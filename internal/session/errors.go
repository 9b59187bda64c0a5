package session

import (
	"errors"
	"fmt"
)

// FatalKind classifies an unrecoverable session failure.
type FatalKind string

const (
	KindInitialConnect   FatalKind = "initial_connect"
	KindBackoffExhausted FatalKind = "backoff_exhausted"
	KindTransport        FatalKind = "transport"
)

var (
	ErrNotRunning       = errors.New("session not running")
	ErrInitialConnect   = errors.New("book not synchronized before connect deadline")
	ErrBackoffExhausted = errors.New("reconnect backoff exhausted")
)

// FatalError is published on a session's error channel, or returned by
// Connect for initial connect failures. The session is disconnected when it
// is raised.
type FatalError struct {
	Kind   FatalKind
	Venue  string
	Symbol string
	Err    error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Venue, e.Symbol, e.Kind, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }
