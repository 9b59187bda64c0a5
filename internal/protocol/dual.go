package protocol

import "booksync/models"

// Dual merges a snapshot-only channel with an update-only channel. Updates
// seen before the first snapshot are dropped since the next replace
// supersedes them.
type Dual struct {
	synced bool
}

func NewDual() *Dual { return &Dual{} }

func (p *Dual) Reset() { p.synced = false }

func (p *Dual) OnSnapshot(env Env, handle int, snap *models.Snapshot) error {
	env.Book().Replace(snap.Asks, snap.Bids)
	if !p.synced {
		p.synced = true
		env.MarkSynced()
	}
	env.Touch(handle)
	return nil
}

func (p *Dual) OnDelta(env Env, handle int, delta *models.Delta) error {
	if !p.synced {
		return nil
	}
	apply(env, delta)
	env.Touch(handle)
	return nil
}
