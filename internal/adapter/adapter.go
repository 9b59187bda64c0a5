// Package adapter defines what a book session needs from a venue transport.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"booksync/models"

	"github.com/gorilla/websocket"
)

// ErrClosed is returned by Send when the transport is not open.
var ErrClosed = errors.New("transport closed")

// Handler receives transport lifecycle events. Implementations are called at
// most once per event and in transport order.
type Handler interface {
	OnOpen()
	OnClose()
	OnError(err error)
	OnMessage(raw []byte)
}

// Adapter is one venue connection. Connect starts it asynchronously and
// reports progress through h; a fresh Handler is passed on every connect.
type Adapter interface {
	Connect(h Handler) error
	Disconnect() error
	Send(raw []byte) error
}

// Codec turns one raw venue message into canonical events. Messages that
// carry nothing for the book decode to no events and no error.
type Codec interface {
	Decode(raw []byte) ([]models.Event, error)
}

// SnapshotFetcher retrieves a full book out of band.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, symbol string) (*models.Snapshot, error)
}

// TransientError marks a benign server condition worth retrying.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("unexpected server response: %d: %v", e.StatusCode, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// HandshakeError wraps a failed websocket upgrade, classifying 503 and 504
// responses as transient.
func HandshakeError(err error, resp *http.Response) error {
	if resp != nil && isTransientStatus(resp.StatusCode) {
		return &TransientError{StatusCode: resp.StatusCode, Err: err}
	}
	return err
}

func isTransientStatus(code int) bool {
	return code == http.StatusServiceUnavailable || code == http.StatusGatewayTimeout
}

// IsTransient reports whether err should be swallowed without any state
// change.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code == websocket.CloseTryAgainLater
	}
	msg := err.Error()
	return strings.Contains(msg, "Unexpected server response: 503") ||
		strings.Contains(msg, "Unexpected server response: 504")
}
