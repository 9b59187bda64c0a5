package ladder

import (
	"math/rand"
	"testing"

	"booksync/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func lvl(price, size string) models.PriceLevel {
	return models.PriceLevel{Price: d(price), Size: d(size)}
}

func prices(l *Ladder) []string {
	out := make([]string, 0, l.Len())
	for _, x := range l.BestN(0) {
		out = append(out, x.Price.String())
	}
	return out
}

func assertOrdered(t *testing.T, l *Ladder) {
	t.Helper()
	levels := l.BestN(0)
	for i := 1; i < len(levels); i++ {
		require.True(t, l.better(levels[i-1].Price, levels[i].Price),
			"%s side out of order at %d: %s then %s", l.Side(), i, levels[i-1].Price, levels[i].Price)
	}
	for _, x := range levels {
		require.True(t, x.Size.IsPositive(), "non-positive size at %s", x.Price)
	}
}

func TestUpsertKeepsSideOrder(t *testing.T) {
	asks := New(models.Ask)
	bids := New(models.Bid)
	for _, p := range []string{"101", "99", "100", "102.5", "98"} {
		asks.Upsert(d(p), d("1"))
		bids.Upsert(d(p), d("1"))
	}
	assert.Equal(t, []string{"98", "99", "100", "101", "102.5"}, prices(asks))
	assert.Equal(t, []string{"102.5", "101", "100", "99", "98"}, prices(bids))
}

func TestUpsertReplacesSize(t *testing.T) {
	asks := New(models.Ask)
	asks.Upsert(d("100"), d("1"))
	asks.Upsert(d("100.0"), d("3"))
	require.Equal(t, 1, asks.Len())
	best, ok := asks.Best()
	require.True(t, ok)
	assert.True(t, best.Size.Equal(d("3")))
}

func TestUpsertZeroRemoves(t *testing.T) {
	bids := New(models.Bid)
	bids.Upsert(d("10"), d("0"))
	assert.Equal(t, 0, bids.Len())

	bids.Upsert(d("10"), d("1"))
	bids.Upsert(d("11"), d("1"))
	bids.Upsert(d("10"), d("0"))
	assert.Equal(t, []string{"11"}, prices(bids))
}

func TestRandomUpsertsPreserveInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for _, side := range []models.Side{models.Ask, models.Bid} {
		l := New(side)
		ref := map[string]bool{}
		for i := 0; i < 2000; i++ {
			price := decimal.New(int64(rng.Intn(200)+1), -1)
			size := decimal.NewFromInt(int64(rng.Intn(4)))
			l.Upsert(price, size)
			ref[price.String()] = size.IsPositive()
			if size.IsZero() {
				_, found := l.search(price)
				require.False(t, found)
			}
			assertOrdered(t, l)
		}
		live := 0
		for _, ok := range ref {
			if ok {
				live++
			}
		}
		assert.Equal(t, live, l.Len())
	}
}

func TestReplaceAllMergesDuplicates(t *testing.T) {
	raw := New(models.Bid)
	raw.ReplaceAll([]models.PriceLevel{
		lvl("100", "0.1"), lvl("100", "0.2"), lvl("99", "1"), lvl("101", "0.00000001"), lvl("101", "0.00000002"),
	})

	merged := New(models.Bid)
	merged.ReplaceAll([]models.PriceLevel{lvl("101", "0.00000003"), lvl("100", "0.3"), lvl("99", "1")})

	require.Equal(t, merged.Len(), raw.Len())
	for i, x := range merged.BestN(0) {
		got := raw.BestN(0)[i]
		assert.True(t, x.Price.Equal(got.Price))
		assert.True(t, x.Size.Equal(got.Size), "size at %s: %s vs %s", x.Price, x.Size, got.Size)
	}
	assertOrdered(t, raw)
}

func TestReplaceAllClearsPreviousState(t *testing.T) {
	asks := New(models.Ask)
	asks.Upsert(d("5"), d("1"))
	asks.Insert(models.PriceLevel{ID: "x", Price: d("6"), Size: d("1")})
	asks.ReplaceAll([]models.PriceLevel{lvl("7", "1"), lvl("8", "0")})
	assert.Equal(t, []string{"7"}, prices(asks))
	assert.False(t, asks.DeleteByID("x"))
}

func TestBestN(t *testing.T) {
	asks := New(models.Ask)
	asks.ReplaceAll([]models.PriceLevel{lvl("3", "1"), lvl("1", "1"), lvl("2", "1")})

	top := asks.BestN(2)
	assert.Equal(t, []string{"1", "2"}, []string{top[0].Price.String(), top[1].Price.String()})
	assert.Len(t, asks.BestN(10), 3)

	top[0].Size = d("99")
	best, _ := asks.Best()
	assert.True(t, best.Size.Equal(d("1")), "BestN must return a copy")
}

func TestIDOperations(t *testing.T) {
	bids := New(models.Bid)
	bids.ReplaceAll([]models.PriceLevel{
		{ID: "a", Price: d("100"), Size: d("1")},
		{ID: "b", Price: d("98"), Size: d("1")},
	})
	bids.Insert(models.PriceLevel{ID: "c", Price: d("99"), Size: d("2")})
	assert.Equal(t, []string{"100", "99", "98"}, prices(bids))

	assert.True(t, bids.UpdateByID("c", d("5")))
	assert.False(t, bids.UpdateByID("missing", d("5")))
	assert.True(t, bids.DeleteByID("a"))
	assert.False(t, bids.DeleteByID("a"))
	assert.Equal(t, []string{"99", "98"}, prices(bids))

	best, _ := bids.Best()
	assert.True(t, best.Size.Equal(d("5")))
}

func TestInsertExistingPriceReplacesLevel(t *testing.T) {
	asks := New(models.Ask)
	asks.Insert(models.PriceLevel{ID: "1", Price: d("10"), Size: d("1")})
	asks.Insert(models.PriceLevel{ID: "2", Price: d("10"), Size: d("4")})
	require.Equal(t, 1, asks.Len())
	assert.False(t, asks.UpdateByID("1", d("3")))
	assert.True(t, asks.UpdateByID("2", d("3")))
}
