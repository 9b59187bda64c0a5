package protocol

import (
	"fmt"

	"booksync/logger"
	"booksync/models"

	"github.com/gammazero/deque"
)

// Replay buffers a diff channel, asks for a one-time detailed snapshot once
// the diff subscription is acknowledged, and replays only the diffs stamped
// after the snapshot.
type Replay struct {
	opts      Options
	buffer    deque.Deque[*models.Delta]
	requested bool
	synced    bool
}

func NewReplay(opts Options) *Replay {
	return &Replay{opts: opts}
}

func (r *Replay) Reset() {
	r.buffer.Clear()
	r.requested = false
	r.synced = false
}

func (r *Replay) OnControl(env Env, handle int, ctrl *models.Control) error {
	if ctrl.Kind != models.ControlSubscribed || r.synced || r.requested {
		return nil
	}
	if r.opts.DiffChannel != "" && ctrl.Channel != r.opts.DiffChannel {
		return nil
	}
	if err := env.Send(handle, r.opts.DetailSubscribe); err != nil {
		return fmt.Errorf("subscribe detail snapshot: %w", err)
	}
	r.requested = true
	return nil
}

func (r *Replay) OnDelta(env Env, handle int, delta *models.Delta) error {
	if r.synced {
		apply(env, delta)
		env.Touch(handle)
		return nil
	}
	if r.buffer.Len() >= r.opts.MaxBuffered {
		r.buffer.PopFront()
		env.Log().WithFields(logger.Fields{"max_buffered": r.opts.MaxBuffered}).Warn("diff backlog full, dropping oldest")
	}
	r.buffer.PushBack(delta)
	return nil
}

func (r *Replay) OnSnapshot(env Env, handle int, snap *models.Snapshot) error {
	if r.synced {
		return nil
	}
	if err := env.Send(handle, r.opts.DetailUnsubscribe); err != nil {
		return fmt.Errorf("unsubscribe detail snapshot: %w", err)
	}

	env.Book().Replace(snap.Asks, snap.Bids)
	replayed := 0
	for r.buffer.Len() > 0 {
		d := r.buffer.PopFront()
		fresh := make([]models.Change, 0, len(d.Changes))
		for _, c := range d.Changes {
			ts := c.Timestamp
			if ts == 0 {
				ts = d.Timestamp
			}
			if ts > snap.Timestamp {
				fresh = append(fresh, c)
			}
		}
		if len(fresh) == 0 {
			continue
		}
		apply(env, &models.Delta{Channel: d.Channel, Timestamp: d.Timestamp, Changes: fresh})
		replayed++
	}

	env.Log().WithFields(logger.Fields{"replayed": replayed, "snapshot_ts": snap.Timestamp}).Debug("diff backlog replayed")
	r.synced = true
	r.requested = false
	env.MarkSynced()
	env.Touch(handle)
	return nil
}
