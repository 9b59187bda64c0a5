package protocol

import (
	"fmt"

	"booksync/models"
)

// Chained links every delta to its predecessor through PrevID. A broken
// link is never patched.
type Chained struct {
	synced bool
	lastID int64
}

func NewChained() *Chained { return &Chained{} }

func (c *Chained) Reset() {
	c.synced = false
	c.lastID = 0
}

func (c *Chained) OnSnapshot(env Env, handle int, snap *models.Snapshot) error {
	env.Book().Replace(snap.Asks, snap.Bids)
	c.lastID = snap.LastUpdateID
	if !c.synced {
		c.synced = true
		env.MarkSynced()
	}
	env.Touch(handle)
	return nil
}

func (c *Chained) OnDelta(env Env, handle int, delta *models.Delta) error {
	if !c.synced {
		return nil
	}
	if delta.PrevID != c.lastID {
		return fmt.Errorf("%w: previous id %d, last applied %d", ErrDesync, delta.PrevID, c.lastID)
	}
	apply(env, delta)
	c.lastID = delta.LastID
	env.Touch(handle)
	return nil
}
