package venue

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"booksync/config"
	"booksync/internal/protocol"
	"booksync/models"

	"github.com/shopspring/decimal"
)

const bitmexURL = "wss://ws.bitmex.com/realtime"

// Bitmex addresses levels by id: a partial seeds the book, then inserts,
// updates and deletes apply in arrival order.
func Bitmex(symbol string, cfg config.VenueConfig) (*Spec, error) {
	return &Spec{
		Kind: protocol.KindAction,
		Streams: []Stream{{
			Name: "orderBookL2_25",
			URL:  orDefault(cfg.URL, bitmexURL),
			Subscribe: [][]byte{mustJSON(map[string]any{
				"op":   "subscribe",
				"args": []string{"orderBookL2_25:" + symbol},
			})},
			Codec:        bitmexCodec{},
			PingInterval: 20 * time.Second,
			PingPayload:  []byte("ping"),
		}},
		StaleAfter: 10 * time.Second,
	}, nil
}

type bitmexRow struct {
	Symbol string `json:"symbol"`
	ID     int64  `json:"id"`
	Side   string `json:"side"`
	Size   number `json:"size"`
	Price  number `json:"price"`
}

type bitmexMessage struct {
	Table     string      `json:"table"`
	Action    string      `json:"action"`
	Data      []bitmexRow `json:"data"`
	Success   bool        `json:"success"`
	Subscribe string      `json:"subscribe"`
	Error     string      `json:"error"`
}

func bitmexSide(side string) (models.Side, error) {
	switch side {
	case "Sell":
		return models.Ask, nil
	case "Buy":
		return models.Bid, nil
	default:
		return 0, fmt.Errorf("unknown bitmex side %q", side)
	}
}

func optionalDecimal(n number) (decimal.Decimal, error) {
	if n == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(n.String())
}

type bitmexCodec struct{}

func (bitmexCodec) Decode(raw []byte) ([]models.Event, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("pong")) {
		return nil, nil
	}
	var msg bitmexMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode bitmex message: %w", err)
	}
	if msg.Error != "" {
		return nil, fmt.Errorf("bitmex error: %s", msg.Error)
	}
	if msg.Success && msg.Subscribe != "" {
		return single(models.Event{Control: &models.Control{Kind: models.ControlSubscribed, Channel: msg.Subscribe}}), nil
	}
	if msg.Table != "orderBookL2_25" {
		return nil, nil
	}

	var action models.Action
	switch msg.Action {
	case "partial":
		return bitmexPartial(msg)
	case "insert":
		action = models.ActionInsert
	case "update":
		action = models.ActionUpdate
	case "delete":
		action = models.ActionDelete
	default:
		return nil, fmt.Errorf("unknown bitmex action %q", msg.Action)
	}

	changes := make([]models.Change, 0, len(msg.Data))
	for _, row := range msg.Data {
		side, err := bitmexSide(row.Side)
		if err != nil {
			return nil, err
		}
		price, err := optionalDecimal(row.Price)
		if err != nil {
			return nil, fmt.Errorf("bitmex price %q: %w", row.Price, err)
		}
		size, err := optionalDecimal(row.Size)
		if err != nil {
			return nil, fmt.Errorf("bitmex size %q: %w", row.Size, err)
		}
		changes = append(changes, models.Change{
			Side:   side,
			Action: action,
			ID:     strconv.FormatInt(row.ID, 10),
			Price:  price,
			Size:   size,
		})
	}
	return single(models.Event{Delta: &models.Delta{Channel: msg.Table, Changes: changes}}), nil
}

func bitmexPartial(msg bitmexMessage) ([]models.Event, error) {
	snap := &models.Snapshot{Channel: msg.Table}
	for _, row := range msg.Data {
		side, err := bitmexSide(row.Side)
		if err != nil {
			return nil, err
		}
		lvl, err := models.ParseLevel(row.Price.String(), row.Size.String())
		if err != nil {
			return nil, err
		}
		lvl.ID = strconv.FormatInt(row.ID, 10)
		if side == models.Ask {
			snap.Asks = append(snap.Asks, lvl)
		} else {
			snap.Bids = append(snap.Bids, lvl)
		}
	}
	return single(models.Event{Snapshot: snap}), nil
}
