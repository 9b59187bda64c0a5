// Package ladder holds the sorted price levels of one side of an order book.
package ladder

import (
	"slices"
	"sort"

	"booksync/models"

	"github.com/shopspring/decimal"
)

// MergePrecision is the number of fractional digits kept when duplicate
// snapshot prices are summed.
const MergePrecision int32 = 8

// Ladder keeps levels best-first: ascending price for asks, descending for
// bids. Prices are unique and sizes strictly positive. A Ladder is not safe
// for concurrent use.
type Ladder struct {
	side   models.Side
	levels []models.PriceLevel
	byID   map[string]decimal.Decimal
}

// New returns an empty ladder for side.
func New(side models.Side) *Ladder {
	return &Ladder{side: side, byID: make(map[string]decimal.Decimal)}
}

func (l *Ladder) Side() models.Side { return l.side }

func (l *Ladder) Len() int { return len(l.levels) }

// better reports whether price a sorts ahead of price b on this side.
func (l *Ladder) better(a, b decimal.Decimal) bool {
	if l.side == models.Ask {
		return a.LessThan(b)
	}
	return a.GreaterThan(b)
}

// search returns the position of price and whether a level already sits there.
func (l *Ladder) search(price decimal.Decimal) (int, bool) {
	i := sort.Search(len(l.levels), func(i int) bool {
		return !l.better(l.levels[i].Price, price)
	})
	return i, i < len(l.levels) && l.levels[i].Price.Equal(price)
}

func (l *Ladder) removeAt(i int) {
	if id := l.levels[i].ID; id != "" {
		delete(l.byID, id)
	}
	l.levels = slices.Delete(l.levels, i, i+1)
}

// Upsert sets the size at price. A zero or negative size removes the level.
func (l *Ladder) Upsert(price, size decimal.Decimal) {
	i, found := l.search(price)
	if size.Sign() <= 0 {
		if found {
			l.removeAt(i)
		}
		return
	}
	if found {
		l.levels[i].Size = size
		return
	}
	l.levels = slices.Insert(l.levels, i, models.PriceLevel{Price: price, Size: size})
}

// ReplaceAll clears the ladder and loads levels. Duplicate prices are merged
// in arrival order by summing their sizes rounded to MergePrecision; levels
// that end up without size are dropped.
func (l *Ladder) ReplaceAll(levels []models.PriceLevel) {
	merged := make([]models.PriceLevel, 0, len(levels))
	index := make(map[string]int, len(levels))
	for _, lvl := range levels {
		key := lvl.Price.String()
		if i, ok := index[key]; ok {
			merged[i].Size = merged[i].Size.Add(lvl.Size).Round(MergePrecision)
			continue
		}
		index[key] = len(merged)
		merged = append(merged, lvl)
	}

	slices.SortStableFunc(merged, func(a, b models.PriceLevel) int {
		switch {
		case l.better(a.Price, b.Price):
			return -1
		case l.better(b.Price, a.Price):
			return 1
		default:
			return 0
		}
	})

	l.levels = merged[:0]
	clear(l.byID)
	for _, lvl := range merged {
		if lvl.Size.Sign() <= 0 {
			continue
		}
		l.levels = append(l.levels, lvl)
		if lvl.ID != "" {
			l.byID[lvl.ID] = lvl.Price
		}
	}
}

// Clear removes every level.
func (l *Ladder) Clear() {
	l.levels = l.levels[:0]
	clear(l.byID)
}

// BestN returns a copy of the first n levels. n <= 0 returns all of them.
func (l *Ladder) BestN(n int) []models.PriceLevel {
	if n <= 0 || n > len(l.levels) {
		n = len(l.levels)
	}
	out := make([]models.PriceLevel, n)
	copy(out, l.levels[:n])
	return out
}

// Best returns the top of the ladder.
func (l *Ladder) Best() (models.PriceLevel, bool) {
	if len(l.levels) == 0 {
		return models.PriceLevel{}, false
	}
	return l.levels[0], true
}

// Insert adds an id-addressed level at its price position. A level already
// holding the price or the id is replaced.
func (l *Ladder) Insert(level models.PriceLevel) {
	if level.ID != "" {
		if old, ok := l.byID[level.ID]; ok && !old.Equal(level.Price) {
			if i, found := l.search(old); found {
				l.removeAt(i)
			}
		}
	}
	if level.Size.Sign() <= 0 {
		if i, found := l.search(level.Price); found {
			l.removeAt(i)
		}
		return
	}
	i, found := l.search(level.Price)
	if found {
		if prev := l.levels[i].ID; prev != "" && prev != level.ID {
			delete(l.byID, prev)
		}
		l.levels[i] = level
	} else {
		l.levels = slices.Insert(l.levels, i, level)
	}
	if level.ID != "" {
		l.byID[level.ID] = level.Price
	}
}

// UpdateByID sets the size of the level addressed by id. It reports false
// and changes nothing when the id is unknown.
func (l *Ladder) UpdateByID(id string, size decimal.Decimal) bool {
	price, ok := l.byID[id]
	if !ok {
		return false
	}
	i, found := l.search(price)
	if !found {
		delete(l.byID, id)
		return false
	}
	if size.Sign() <= 0 {
		l.removeAt(i)
		return true
	}
	l.levels[i].Size = size
	return true
}

// DeleteByID removes the level addressed by id. It reports false when the id
// is unknown.
func (l *Ladder) DeleteByID(id string) bool {
	price, ok := l.byID[id]
	if !ok {
		return false
	}
	i, found := l.search(price)
	if !found {
		delete(l.byID, id)
		return false
	}
	l.removeAt(i)
	return true
}
