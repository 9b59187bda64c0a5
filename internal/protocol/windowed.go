package protocol

import (
	"fmt"

	"booksync/logger"
	"booksync/models"

	"github.com/gammazero/deque"
)

// Windowed buffers update-id ranged deltas while a snapshot is fetched out of
// band, then replays the backlog from the first delta covering the
// snapshot's lastUpdateId+1.
type Windowed struct {
	maxBuffered int
	buffer      deque.Deque[*models.Delta]
	pending     *models.Snapshot
	requested   bool
	synced      bool
	lastID      int64
}

func NewWindowed(maxBuffered int) *Windowed {
	return &Windowed{maxBuffered: maxBuffered}
}

func (w *Windowed) Reset() {
	w.buffer.Clear()
	w.pending = nil
	w.requested = false
	w.synced = false
	w.lastID = 0
}

func (w *Windowed) OnOpen(env Env, _ int) error {
	w.request(env)
	return nil
}

func (w *Windowed) request(env Env) {
	if w.requested {
		return
	}
	w.requested = true
	env.RequestSnapshot()
}

func (w *Windowed) OnSnapshotFailed(env Env, err error) {
	w.requested = false
	env.Log().WithError(err).Warn("snapshot request failed, retrying on next update")
}

func (w *Windowed) OnSnapshot(env Env, handle int, snap *models.Snapshot) error {
	w.requested = false
	if w.synced {
		return nil
	}
	w.pending = snap
	return w.trySync(env, handle)
}

func (w *Windowed) OnDelta(env Env, handle int, delta *models.Delta) error {
	if w.synced {
		return w.applyLive(env, handle, delta)
	}

	if w.buffer.Len() >= w.maxBuffered {
		w.buffer.PopFront()
		env.Log().WithFields(logger.Fields{"max_buffered": w.maxBuffered}).Warn("delta backlog full, dropping oldest")
	}
	w.buffer.PushBack(delta)

	if w.pending != nil {
		return w.trySync(env, handle)
	}
	w.request(env)
	return nil
}

func (w *Windowed) applyLive(env Env, handle int, delta *models.Delta) error {
	if delta.LastID <= w.lastID {
		return nil
	}
	if delta.PrevID != 0 {
		if delta.PrevID != w.lastID {
			return fmt.Errorf("%w: previous id %d, last applied %d", ErrGap, delta.PrevID, w.lastID)
		}
	} else if delta.FirstID > w.lastID+1 {
		return fmt.Errorf("%w: range [%d,%d] after %d", ErrGap, delta.FirstID, delta.LastID, w.lastID)
	}
	apply(env, delta)
	w.lastID = delta.LastID
	env.Touch(handle)
	return nil
}

// trySync aligns the pending snapshot with the backlog. A snapshot older than
// every buffered delta is discarded and requested again; with an empty
// backlog it stays pending until the next delta.
func (w *Windowed) trySync(env Env, handle int) error {
	next := w.pending.LastUpdateID + 1
	for w.buffer.Len() > 0 && w.buffer.Front().LastID < next {
		w.buffer.PopFront()
	}
	if w.buffer.Len() == 0 {
		return nil
	}

	first := w.buffer.Front()
	if first.FirstID > next {
		env.Log().WithFields(logger.Fields{
			"last_update_id": w.pending.LastUpdateID,
			"first_buffered": first.FirstID,
		}).Info("snapshot older than buffered updates, requesting a new one")
		w.pending = nil
		w.request(env)
		return nil
	}

	env.Book().Replace(w.pending.Asks, w.pending.Bids)
	w.lastID = w.pending.LastUpdateID
	w.pending = nil
	for w.buffer.Len() > 0 {
		d := w.buffer.PopFront()
		apply(env, d)
		w.lastID = d.LastID
	}
	w.synced = true
	env.MarkSynced()
	env.Touch(handle)
	return nil
}
