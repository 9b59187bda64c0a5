// Package protocol implements the order book synchronization strategies a
// venue can be driven by. Every strategy keeps its correlation state private
// and only exposes the book once it holds a validated view.
package protocol

import (
	"errors"
	"fmt"

	"booksync/internal/book"
	"booksync/logger"
	"booksync/models"
)

var (
	// ErrDesync means the book can no longer be trusted and must be rebuilt
	// from a fresh snapshot.
	ErrDesync = errors.New("order book unsynchronized")
	// ErrGap is a desync caused by missing update ids.
	ErrGap = fmt.Errorf("sequence gap: %w", ErrDesync)
)

// Env is the session side a protocol drives. Calls happen on the session
// goroutine only.
type Env interface {
	Book() *book.Book
	// MarkSynced exposes the book and moves the session to connected.
	MarkSynced()
	// Touch records an applied update on handle for the staleness watchdog.
	Touch(handle int)
	Send(handle int, payload []byte) error
	// RequestSnapshot schedules an out-of-band snapshot fetch; the result is
	// delivered through OnSnapshot or OnSnapshotFailed.
	RequestSnapshot()
	Log() *logger.Entry
}

// Protocol consumes canonical venue events for one book.
type Protocol interface {
	OnSnapshot(env Env, handle int, snap *models.Snapshot) error
	OnDelta(env Env, handle int, delta *models.Delta) error
	// Reset drops all correlation state. Called on every disconnect.
	Reset()
}

// OpenHandler is implemented by protocols reacting to a handle opening.
type OpenHandler interface {
	OnOpen(env Env, handle int) error
}

// ControlHandler is implemented by protocols driven by subscription acks.
type ControlHandler interface {
	OnControl(env Env, handle int, ctrl *models.Control) error
}

// SnapshotFailureHandler is implemented by protocols that requested a
// snapshot and need to know it will not arrive.
type SnapshotFailureHandler interface {
	OnSnapshotFailed(env Env, err error)
}

// Kind names a synchronization strategy.
type Kind string

const (
	KindWindowed Kind = "windowed"
	KindChained  Kind = "chained"
	KindReplay   Kind = "replay"
	KindDual     Kind = "dual"
	KindReplace  Kind = "replace"
	KindAction   Kind = "action"
)

// Options carries strategy parameters supplied by the venue.
type Options struct {
	// MaxBuffered caps delta backlogs; the oldest entry is dropped first.
	MaxBuffered int
	// DiffChannel is the channel whose subscription ack starts the replay
	// handshake.
	DiffChannel string
	// DetailSubscribe and DetailUnsubscribe are written on handle 0 to
	// request and release the one-shot detailed snapshot.
	DetailSubscribe   []byte
	DetailUnsubscribe []byte
}

const defaultMaxBuffered = 10000

// New builds the strategy named by kind.
func New(kind Kind, opts Options) (Protocol, error) {
	if opts.MaxBuffered <= 0 {
		opts.MaxBuffered = defaultMaxBuffered
	}
	switch kind {
	case KindWindowed:
		return NewWindowed(opts.MaxBuffered), nil
	case KindChained:
		return NewChained(), nil
	case KindReplay:
		if len(opts.DetailSubscribe) == 0 || len(opts.DetailUnsubscribe) == 0 {
			return nil, fmt.Errorf("replay protocol requires detail subscribe and unsubscribe payloads")
		}
		return NewReplay(opts), nil
	case KindDual:
		return NewDual(), nil
	case KindReplace:
		return NewReplace(), nil
	case KindAction:
		return NewAction(), nil
	default:
		return nil, fmt.Errorf("unknown protocol kind %q", kind)
	}
}

// apply writes a delta into the book and logs id misses.
func apply(env Env, delta *models.Delta) {
	if missed := env.Book().Apply(delta.Changes); missed > 0 {
		env.Log().WithFields(logger.Fields{"missed": missed}).Debug("update referenced unknown level id")
	}
}
