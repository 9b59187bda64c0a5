// Package book pairs the two ladders of one instrument behind a read/write
// guard so consumers never observe a half-applied replace.
package book

import (
	"sync"
	"time"

	"booksync/internal/ladder"
	"booksync/models"

	"github.com/shopspring/decimal"
)

// Book is written by a single session goroutine and read by any number of
// consumers. Ladders are only handed out while the book is marked valid.
type Book struct {
	mu         sync.RWMutex
	asks       *ladder.Ladder
	bids       *ladder.Ladder
	valid      bool
	lastUpdate time.Time
}

func New() *Book {
	return &Book{asks: ladder.New(models.Ask), bids: ladder.New(models.Bid)}
}

func (b *Book) side(s models.Side) *ladder.Ladder {
	if s == models.Ask {
		return b.asks
	}
	return b.bids
}

// Replace loads a full snapshot into both ladders.
func (b *Book) Replace(asks, bids []models.PriceLevel) {
	b.mu.Lock()
	b.asks.ReplaceAll(asks)
	b.bids.ReplaceAll(bids)
	b.lastUpdate = time.Now()
	b.mu.Unlock()
}

// Apply performs changes in order and returns how many id-addressed
// mutations referenced an unknown level.
func (b *Book) Apply(changes []models.Change) (missed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range changes {
		l := b.side(c.Side)
		switch c.Action {
		case models.ActionInsert:
			l.Insert(models.PriceLevel{ID: c.ID, Price: c.Price, Size: c.Size})
		case models.ActionUpdate:
			if c.ID == "" {
				l.Upsert(c.Price, c.Size)
			} else if !l.UpdateByID(c.ID, c.Size) {
				missed++
			}
		case models.ActionDelete:
			if c.ID == "" {
				l.Upsert(c.Price, decimal.Zero)
			} else if !l.DeleteByID(c.ID) {
				missed++
			}
		default:
			l.Upsert(c.Price, c.Size)
		}
	}
	b.lastUpdate = time.Now()
	return missed
}

// MarkValid exposes the ladders to readers.
func (b *Book) MarkValid() {
	b.mu.Lock()
	b.valid = true
	b.mu.Unlock()
}

// Clear empties both ladders and hides them from readers.
func (b *Book) Clear() {
	b.mu.Lock()
	b.asks.Clear()
	b.bids.Clear()
	b.valid = false
	b.mu.Unlock()
}

func (b *Book) Valid() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.valid
}

// Snapshot copies the best depth levels of each side. ok is false, and both
// slices empty, while the book is not valid. depth <= 0 copies everything.
func (b *Book) Snapshot(depth int) (asks, bids []models.PriceLevel, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.valid {
		return []models.PriceLevel{}, []models.PriceLevel{}, false
	}
	return b.asks.BestN(depth), b.bids.BestN(depth), true
}

// Top returns the best bid and ask of a valid book.
func (b *Book) Top() (bid, ask models.PriceLevel, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.valid {
		return bid, ask, false
	}
	bid, hasBid := b.bids.Best()
	ask, hasAsk := b.asks.Best()
	return bid, ask, hasBid && hasAsk
}

// Depth reports the number of levels on each side.
func (b *Book) Depth() (asks, bids int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.asks.Len(), b.bids.Len()
}

func (b *Book) LastUpdate() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastUpdate
}
