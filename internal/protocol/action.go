package protocol

import "booksync/models"

// Action applies insert/update/delete messages in arrival order after an
// initial partial snapshot. Ordering is trusted to the transport; updates
// and deletes naming an unknown level are no-ops.
type Action struct {
	synced bool
}

func NewAction() *Action { return &Action{} }

func (p *Action) Reset() { p.synced = false }

func (p *Action) OnSnapshot(env Env, handle int, snap *models.Snapshot) error {
	env.Book().Replace(snap.Asks, snap.Bids)
	if !p.synced {
		p.synced = true
		env.MarkSynced()
	}
	env.Touch(handle)
	return nil
}

func (p *Action) OnDelta(env Env, handle int, delta *models.Delta) error {
	if !p.synced {
		return nil
	}
	apply(env, delta)
	env.Touch(handle)
	return nil
}
