package venue

import (
	"encoding/json"
	"fmt"
	"time"

	"booksync/config"
	"booksync/internal/protocol"
	"booksync/models"
)

const krakenFuturesURL = "wss://futures.kraken.com/ws/v1"

// KrakenFutures streams a book_snapshot followed by one price-keyed change
// per message on the book feed.
func KrakenFutures(symbol string, cfg config.VenueConfig) (*Spec, error) {
	return &Spec{
		Kind: protocol.KindAction,
		Streams: []Stream{{
			Name: "book",
			URL:  orDefault(cfg.URL, krakenFuturesURL),
			Subscribe: [][]byte{mustJSON(map[string]any{
				"event":       "subscribe",
				"feed":        "book",
				"product_ids": []string{symbol},
			})},
			Codec: krakenFuturesCodec{productID: symbol},
		}},
		StaleAfter: 60 * time.Second,
	}, nil
}

type krakenFuturesLevel struct {
	Price number `json:"price"`
	Qty   number `json:"qty"`
}

type krakenFuturesMessage struct {
	Event     string               `json:"event"`
	Message   string               `json:"message"`
	Feed      string               `json:"feed"`
	ProductID string               `json:"product_id"`
	Seq       int64                `json:"seq"`
	Timestamp int64                `json:"timestamp"`
	Side      string               `json:"side"`
	Price     number               `json:"price"`
	Qty       number               `json:"qty"`
	Bids      []krakenFuturesLevel `json:"bids"`
	Asks      []krakenFuturesLevel `json:"asks"`
}

type krakenFuturesCodec struct {
	productID string
}

func (c krakenFuturesCodec) Decode(raw []byte) ([]models.Event, error) {
	var msg krakenFuturesMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode kraken futures message: %w", err)
	}
	switch msg.Event {
	case "subscribed":
		return single(models.Event{Control: &models.Control{Kind: models.ControlSubscribed, Channel: msg.Feed}}), nil
	case "error", "alert":
		return nil, fmt.Errorf("kraken futures %s: %s", msg.Event, msg.Message)
	case "":
	default:
		return nil, nil
	}
	if msg.ProductID != c.productID {
		return nil, nil
	}

	switch msg.Feed {
	case "book_snapshot":
		asks, err := krakenFuturesLevels(msg.Asks)
		if err != nil {
			return nil, err
		}
		bids, err := krakenFuturesLevels(msg.Bids)
		if err != nil {
			return nil, err
		}
		return single(models.Event{Snapshot: &models.Snapshot{
			Channel:      msg.Feed,
			LastUpdateID: msg.Seq,
			Timestamp:    msg.Timestamp,
			Asks:         asks,
			Bids:         bids,
		}}), nil
	case "book":
		side := models.Bid
		switch msg.Side {
		case "sell":
			side = models.Ask
		case "buy":
		default:
			return nil, fmt.Errorf("unknown kraken futures side %q", msg.Side)
		}
		lvl, err := models.ParseLevel(msg.Price.String(), msg.Qty.String())
		if err != nil {
			return nil, err
		}
		return single(models.Event{Delta: &models.Delta{
			Channel:   msg.Feed,
			LastID:    msg.Seq,
			Timestamp: msg.Timestamp,
			Changes:   models.Upserts(side, []models.PriceLevel{lvl}, msg.Timestamp),
		}}), nil
	}
	return nil, nil
}

func krakenFuturesLevels(rows []krakenFuturesLevel) ([]models.PriceLevel, error) {
	out := make([]models.PriceLevel, 0, len(rows))
	for _, row := range rows {
		lvl, err := models.ParseLevel(row.Price.String(), row.Qty.String())
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, nil
}
