package protocol

import (
	"errors"
	"testing"

	"booksync/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for _, kind := range []Kind{KindWindowed, KindChained, KindDual, KindReplace, KindAction} {
		p, err := New(kind, Options{})
		require.NoError(t, err, kind)
		require.NotNil(t, p)
	}

	_, err := New(KindReplay, Options{})
	assert.Error(t, err)
	p, err := New(KindReplay, Options{DetailSubscribe: []byte("s"), DetailUnsubscribe: []byte("u")})
	require.NoError(t, err)
	assert.IsType(t, &Replay{}, p)

	_, err = New("bogus", Options{})
	assert.Error(t, err)
}

func TestChainedSeedsFromSnapshot(t *testing.T) {
	env := newFakeEnv()
	c := NewChained()

	require.NoError(t, c.OnDelta(env, 0, &models.Delta{PrevID: 1, LastID: 2}), "deltas before the snapshot are ignored")
	assert.Zero(t, env.synced)

	require.NoError(t, c.OnSnapshot(env, 0, &models.Snapshot{LastUpdateID: 10, Asks: []models.PriceLevel{level(5, 1)}}))
	assert.Equal(t, 1, env.synced)

	require.NoError(t, c.OnDelta(env, 0, &models.Delta{PrevID: 10, LastID: 11, Changes: []models.Change{upsert(models.Ask, 5, 3)}}))
	size, _ := sizeAt(env.book, models.Ask, 5)
	assert.Equal(t, "3", size.String())
}

func TestChainedMismatchIsNeverApplied(t *testing.T) {
	env := newFakeEnv()
	c := NewChained()
	require.NoError(t, c.OnSnapshot(env, 0, &models.Snapshot{LastUpdateID: 10, Asks: []models.PriceLevel{level(5, 1)}}))

	err := c.OnDelta(env, 0, &models.Delta{PrevID: 9, LastID: 12, Changes: []models.Change{upsert(models.Ask, 5, 8)}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDesync))
	size, _ := sizeAt(env.book, models.Ask, 5)
	assert.Equal(t, "1", size.String())

	c.Reset()
	assert.False(t, c.synced)
	assert.Zero(t, c.lastID)
}

func replayOpts() Options {
	return Options{
		MaxBuffered:       100,
		DiffChannel:       "diff_order_book_btcusd",
		DetailSubscribe:   []byte(`sub-detail`),
		DetailUnsubscribe: []byte(`unsub-detail`),
	}
}

func TestReplayHandshake(t *testing.T) {
	env := newFakeEnv()
	r := NewReplay(replayOpts())

	require.NoError(t, r.OnControl(env, 0, &models.Control{Kind: models.ControlSubscribed, Channel: "other"}))
	assert.Empty(t, env.sent)

	require.NoError(t, r.OnControl(env, 0, &models.Control{Kind: models.ControlSubscribed, Channel: "diff_order_book_btcusd"}))
	require.Len(t, env.sent, 1)
	assert.Equal(t, "sub-detail", string(env.sent[0]))

	old := upsert(models.Ask, 101, 9)
	old.Timestamp = 1000
	fresh := upsert(models.Ask, 102, 4)
	fresh.Timestamp = 2001
	require.NoError(t, r.OnDelta(env, 0, &models.Delta{Timestamp: 2001, Changes: []models.Change{old, fresh}}))
	require.NoError(t, r.OnDelta(env, 0, &models.Delta{Timestamp: 2000, Changes: []models.Change{upsert(models.Bid, 100, 6)}}))
	require.NoError(t, r.OnDelta(env, 0, &models.Delta{Timestamp: 2500, Changes: []models.Change{upsert(models.Bid, 99, 6)}}))
	assert.Zero(t, env.synced)

	snap := &models.Snapshot{
		Timestamp: 2000,
		Asks:      []models.PriceLevel{level(101, 1)},
		Bids:      []models.PriceLevel{level(100, 1)},
	}
	require.NoError(t, r.OnSnapshot(env, 0, snap))
	require.Len(t, env.sent, 2)
	assert.Equal(t, "unsub-detail", string(env.sent[1]))
	assert.Equal(t, 1, env.synced)
	assert.Zero(t, r.buffer.Len())

	size, _ := sizeAt(env.book, models.Ask, 101)
	assert.Equal(t, "1", size.String(), "entries at or before the snapshot are filtered")
	size, _ = sizeAt(env.book, models.Ask, 102)
	assert.Equal(t, "4", size.String())
	size, _ = sizeAt(env.book, models.Bid, 100)
	assert.Equal(t, "1", size.String())
	size, _ = sizeAt(env.book, models.Bid, 99)
	assert.Equal(t, "6", size.String())

	require.NoError(t, r.OnDelta(env, 0, &models.Delta{Timestamp: 1, Changes: []models.Change{upsert(models.Bid, 98, 2)}}))
	_, ok := sizeAt(env.book, models.Bid, 98)
	assert.True(t, ok, "live diffs apply directly once synced")
}

func TestReplaySendFailure(t *testing.T) {
	env := newFakeEnv()
	env.sendError = errors.New("closed")
	r := NewReplay(replayOpts())
	err := r.OnControl(env, 0, &models.Control{Kind: models.ControlSubscribed, Channel: "diff_order_book_btcusd"})
	assert.Error(t, err)
}

func TestDualIgnoresUpdatesBeforeSnapshot(t *testing.T) {
	env := newFakeEnv()
	p := NewDual()

	require.NoError(t, p.OnDelta(env, 1, &models.Delta{Changes: []models.Change{upsert(models.Ask, 50, 1)}}))
	require.NoError(t, p.OnSnapshot(env, 0, &models.Snapshot{Asks: []models.PriceLevel{level(60, 1)}}))
	assert.Equal(t, 1, env.synced)
	_, ok := sizeAt(env.book, models.Ask, 50)
	assert.False(t, ok)

	require.NoError(t, p.OnDelta(env, 1, &models.Delta{Changes: []models.Change{upsert(models.Ask, 55, 2)}}))
	_, ok = sizeAt(env.book, models.Ask, 55)
	assert.True(t, ok)
	assert.Equal(t, 1, env.touched[0])
	assert.Equal(t, 1, env.touched[1])

	require.NoError(t, p.OnSnapshot(env, 0, &models.Snapshot{Asks: []models.PriceLevel{level(70, 1)}}))
	assert.Equal(t, 1, env.synced, "later snapshots do not resync")
	_, ok = sizeAt(env.book, models.Ask, 55)
	assert.False(t, ok)
}

func TestReplaceEveryMessage(t *testing.T) {
	env := newFakeEnv()
	p := NewReplace()
	require.NoError(t, p.OnSnapshot(env, 0, &models.Snapshot{Bids: []models.PriceLevel{level(1, 1)}}))
	require.NoError(t, p.OnSnapshot(env, 0, &models.Snapshot{Bids: []models.PriceLevel{level(2, 1)}}))
	require.NoError(t, p.OnDelta(env, 0, &models.Delta{Changes: []models.Change{upsert(models.Bid, 3, 1)}}))

	assert.Equal(t, 1, env.synced)
	_, bids, ok := env.book.Snapshot(0)
	require.True(t, ok)
	require.Len(t, bids, 1)
	assert.True(t, bids[0].Price.Equal(decimal.NewFromInt(2)))
}

func TestActionMutations(t *testing.T) {
	env := newFakeEnv()
	p := NewAction()

	require.NoError(t, p.OnDelta(env, 0, &models.Delta{Changes: []models.Change{{Side: models.Bid, Action: models.ActionInsert, ID: "x", Price: decimal.NewFromInt(1), Size: decimal.NewFromInt(1)}}}))
	assert.Zero(t, env.synced)

	require.NoError(t, p.OnSnapshot(env, 0, &models.Snapshot{
		Bids: []models.PriceLevel{{ID: "a", Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(1)}},
		Asks: []models.PriceLevel{{ID: "b", Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1)}},
	}))
	require.Equal(t, 1, env.synced)

	require.NoError(t, p.OnDelta(env, 0, &models.Delta{Changes: []models.Change{
		{Side: models.Bid, Action: models.ActionInsert, ID: "c", Price: decimal.NewFromInt(99), Size: decimal.NewFromInt(3)},
		{Side: models.Bid, Action: models.ActionUpdate, ID: "a", Size: decimal.NewFromInt(4)},
		{Side: models.Ask, Action: models.ActionDelete, ID: "b"},
		{Side: models.Ask, Action: models.ActionUpdate, ID: "missing", Size: decimal.NewFromInt(4)},
		{Side: models.Ask, Action: models.ActionDelete, ID: "missing"},
	}}))

	asks, bids, _ := env.book.Snapshot(0)
	assert.Empty(t, asks)
	require.Len(t, bids, 2)
	assert.Equal(t, "100", bids[0].Price.String())
	assert.Equal(t, "4", bids[0].Size.String())
	assert.Equal(t, "99", bids[1].Price.String())
}
