package protocol

import "booksync/models"

// Replace rebuilds the book from every message. There is nothing to
// correlate, so deltas are ignored.
type Replace struct {
	synced bool
}

func NewReplace() *Replace { return &Replace{} }

func (p *Replace) Reset() { p.synced = false }

func (p *Replace) OnSnapshot(env Env, handle int, snap *models.Snapshot) error {
	env.Book().Replace(snap.Asks, snap.Bids)
	if !p.synced {
		p.synced = true
		env.MarkSynced()
	}
	env.Touch(handle)
	return nil
}

func (p *Replace) OnDelta(env Env, _ int, _ *models.Delta) error {
	env.Log().Debug("full-replace protocol ignores deltas")
	return nil
}
