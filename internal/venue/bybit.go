package venue

import (
	"encoding/json"
	"fmt"
	"time"

	"booksync/config"
	"booksync/internal/protocol"
	"booksync/models"
)

const bybitURL = "wss://stream.bybit.com/v5/public/linear"

// Bybit streams v5 orderbook.50 snapshots followed by price-keyed deltas.
func Bybit(symbol string, cfg config.VenueConfig) (*Spec, error) {
	return &Spec{
		Kind: protocol.KindAction,
		Streams: []Stream{{
			Name: "orderbook",
			URL:  orDefault(cfg.URL, bybitURL),
			Subscribe: [][]byte{mustJSON(map[string]any{
				"op":   "subscribe",
				"args": []string{"orderbook.50." + symbol},
			})},
			Codec:        bybitCodec{},
			PingInterval: 20 * time.Second,
			PingPayload:  mustJSON(map[string]string{"op": "ping"}),
		}},
		StaleAfter: 10 * time.Second,
	}, nil
}

type bybitMessage struct {
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Ts      int64  `json:"ts"`
	Data    struct {
		Symbol   string     `json:"s"`
		Bids     [][]number `json:"b"`
		Asks     [][]number `json:"a"`
		UpdateID int64      `json:"u"`
	} `json:"data"`
}

type bybitCodec struct{}

func (bybitCodec) Decode(raw []byte) ([]models.Event, error) {
	var msg bybitMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode bybit message: %w", err)
	}
	if msg.Success != nil {
		if !*msg.Success {
			return nil, fmt.Errorf("bybit %s failed: %s", msg.Op, msg.RetMsg)
		}
		if msg.Op == "subscribe" {
			return single(models.Event{Control: &models.Control{Kind: models.ControlSubscribed}}), nil
		}
		return nil, nil
	}
	if msg.Topic == "" {
		return nil, nil
	}

	asks, err := upserts(models.Ask, msg.Data.Asks, msg.Ts)
	if err != nil {
		return nil, err
	}
	bids, err := upserts(models.Bid, msg.Data.Bids, msg.Ts)
	if err != nil {
		return nil, err
	}

	switch msg.Type {
	case "snapshot":
		return single(models.Event{Snapshot: &models.Snapshot{
			Channel:      msg.Topic,
			LastUpdateID: msg.Data.UpdateID,
			Timestamp:    msg.Ts,
			Asks:         changesToLevels(asks),
			Bids:         changesToLevels(bids),
		}}), nil
	case "delta":
		return single(models.Event{Delta: &models.Delta{
			Channel:   msg.Topic,
			LastID:    msg.Data.UpdateID,
			Timestamp: msg.Ts,
			Changes:   append(asks, bids...),
		}}), nil
	}
	return nil, fmt.Errorf("unknown bybit message type %q", msg.Type)
}
