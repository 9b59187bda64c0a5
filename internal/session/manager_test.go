package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"booksync/internal/adapter"
	"booksync/internal/protocol"
	"booksync/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAutoSession(t *testing.T, symbol string) (*Session, *fakeAdapter) {
	t.Helper()
	codec := newFakeCodec()
	codec.add("snap", snapshotEvent(0, []models.PriceLevel{lvl(101, 1)}, []models.PriceLevel{lvl(99, 1)}))
	a := newFakeAdapter()
	a.onConnect = func(h adapter.Handler) {
		h.OnOpen()
		h.OnMessage([]byte("snap"))
	}
	s, err := New(Options{
		Venue:    "test",
		Symbol:   symbol,
		Handles:  []Handle{{Name: "book", Adapter: a, Codec: codec}},
		Protocol: protocol.NewReplace(),
		Config:   testConfig(),
	})
	require.NoError(t, err)
	return s, a
}

func TestManagerLifecycle(t *testing.T) {
	s1, a1 := newAutoSession(t, "BTCUSD")
	s2, _ := newAutoSession(t, "ETHUSD")
	m := NewManager(s1, s2)

	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Start(context.Background()))
	require.NoError(t, m.ConnectAll(context.Background()))

	counts := m.StatusCounts()
	assert.Equal(t, float64(2), counts["SessionsConnected"])
	assert.Equal(t, float64(0), counts["SessionsDisconnected"])

	h := a1.next(t)
	h.OnError(errors.New("tls: bad record"))

	select {
	case err := <-m.Errors():
		var fatal *FatalError
		require.ErrorAs(t, err, &fatal)
		assert.Equal(t, "BTCUSD", fatal.Symbol)
	case <-time.After(2 * time.Second):
		t.Fatal("fatal error not forwarded")
	}

	m.Stop()
	_, open := <-m.Errors()
	assert.False(t, open)
	for _, s := range m.Sessions() {
		assert.Equal(t, models.StatusDisconnected, s.Status())
	}
	m.Stop()
}

func TestManagerConnectAllJoinsFailures(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPolls = 3
	a := newFakeAdapter()
	s, err := New(Options{
		Venue:    "test",
		Symbol:   "BTCUSD",
		Handles:  []Handle{{Name: "book", Adapter: a, Codec: newFakeCodec()}},
		Protocol: protocol.NewReplace(),
		Config:   cfg,
	})
	require.NoError(t, err)
	ok, _ := newAutoSession(t, "ETHUSD")

	m := NewManager(s, ok)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	err = m.ConnectAll(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInitialConnect)
	assert.Equal(t, models.StatusConnected, ok.Status())
}
