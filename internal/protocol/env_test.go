package protocol

import (
	"bytes"

	"booksync/internal/book"
	"booksync/logger"
	"booksync/models"

	"github.com/shopspring/decimal"
)

// fakeEnv records everything a protocol asks of its session.
type fakeEnv struct {
	book      *book.Book
	synced    int
	touched   map[int]int
	sent      [][]byte
	requests  int
	log       *logger.Log
	sendError error
}

func newFakeEnv() *fakeEnv {
	log := logger.Logger()
	log.SetOutput(&bytes.Buffer{})
	return &fakeEnv{book: book.New(), touched: map[int]int{}, log: log}
}

func (e *fakeEnv) Book() *book.Book { return e.book }

func (e *fakeEnv) MarkSynced() {
	e.synced++
	e.book.MarkValid()
}

func (e *fakeEnv) Touch(handle int) { e.touched[handle]++ }

func (e *fakeEnv) Send(_ int, payload []byte) error {
	if e.sendError != nil {
		return e.sendError
	}
	e.sent = append(e.sent, payload)
	return nil
}

func (e *fakeEnv) RequestSnapshot() { e.requests++ }

func (e *fakeEnv) Log() *logger.Entry { return e.log.WithComponent("protocol_test") }

func level(price, size int64) models.PriceLevel {
	return models.PriceLevel{Price: decimal.NewFromInt(price), Size: decimal.NewFromInt(size)}
}

func upsert(side models.Side, price, size int64) models.Change {
	return models.Change{Side: side, Action: models.ActionUpsert, Price: decimal.NewFromInt(price), Size: decimal.NewFromInt(size)}
}

func ranged(first, last int64, changes ...models.Change) *models.Delta {
	return &models.Delta{FirstID: first, LastID: last, Changes: changes}
}

func sizeAt(b *book.Book, side models.Side, price int64) (decimal.Decimal, bool) {
	asks, bids, _ := b.Snapshot(0)
	levels := bids
	if side == models.Ask {
		levels = asks
	}
	for _, l := range levels {
		if l.Price.Equal(decimal.NewFromInt(price)) {
			return l.Size, true
		}
	}
	return decimal.Zero, false
}
