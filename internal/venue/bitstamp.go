package venue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"booksync/config"
	"booksync/internal/protocol"
	"booksync/models"
)

const bitstampURL = "wss://ws.bitstamp.net"

func bitstampRequest(event, channel string) []byte {
	return mustJSON(map[string]any{"event": event, "data": map[string]string{"channel": channel}})
}

// Bitstamp buffers the diff channel, takes a one-shot detailed book once the
// diff subscription is acknowledged and replays diffs newer than it.
func Bitstamp(symbol string, cfg config.VenueConfig) (*Spec, error) {
	pair := strings.ToLower(symbol)
	diff := "diff_order_book_" + pair
	detail := "detail_order_book_" + pair
	return &Spec{
		Kind: protocol.KindReplay,
		Options: protocol.Options{
			DiffChannel:       diff,
			DetailSubscribe:   bitstampRequest("bts:subscribe", detail),
			DetailUnsubscribe: bitstampRequest("bts:unsubscribe", detail),
		},
		Streams: []Stream{{
			Name:      "diff",
			URL:       orDefault(cfg.URL, bitstampURL),
			Subscribe: [][]byte{bitstampRequest("bts:subscribe", diff)},
			Codec:     bitstampCodec{},
		}},
		StaleAfter: 10 * time.Second,
	}, nil
}

type bitstampMessage struct {
	Event   string `json:"event"`
	Channel string `json:"channel"`
	Data    struct {
		Microtimestamp number     `json:"microtimestamp"`
		Asks           [][]number `json:"asks"`
		Bids           [][]number `json:"bids"`
	} `json:"data"`
}

type bitstampCodec struct{}

func (bitstampCodec) Decode(raw []byte) ([]models.Event, error) {
	var msg bitstampMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode bitstamp message: %w", err)
	}

	switch msg.Event {
	case "bts:subscription_succeeded":
		return single(models.Event{Control: &models.Control{Kind: models.ControlSubscribed, Channel: msg.Channel}}), nil
	case "bts:unsubscription_succeeded":
		return single(models.Event{Control: &models.Control{Kind: models.ControlUnsubscribed, Channel: msg.Channel}}), nil
	case "bts:request_reconnect":
		return nil, fmt.Errorf("bitstamp requested reconnect")
	case "bts:error":
		return nil, fmt.Errorf("bitstamp error on %s", msg.Channel)
	case "data":
	default:
		return nil, nil
	}

	ts, err := strconv.ParseInt(msg.Data.Microtimestamp.String(), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("bitstamp microtimestamp %q: %w", msg.Data.Microtimestamp, err)
	}

	switch {
	case strings.HasPrefix(msg.Channel, "detail_order_book_"):
		snap := &models.Snapshot{Channel: msg.Channel, Timestamp: ts}
		if snap.Asks, err = levels(msg.Data.Asks); err != nil {
			return nil, err
		}
		if snap.Bids, err = levels(msg.Data.Bids); err != nil {
			return nil, err
		}
		return single(models.Event{Snapshot: snap}), nil
	case strings.HasPrefix(msg.Channel, "diff_order_book_"):
		asks, err := bitstampDiffs(models.Ask, msg.Data.Asks)
		if err != nil {
			return nil, err
		}
		bids, err := bitstampDiffs(models.Bid, msg.Data.Bids)
		if err != nil {
			return nil, err
		}
		return single(models.Event{Delta: &models.Delta{
			Channel:   msg.Channel,
			Timestamp: ts,
			Changes:   append(asks, bids...),
		}}), nil
	}
	return nil, nil
}

// bitstampDiffs keeps the per-row microtimestamp at index 3 when the venue
// sends one.
func bitstampDiffs(side models.Side, rows [][]number) ([]models.Change, error) {
	changes, err := upserts(side, rows, 0)
	if err != nil {
		return nil, err
	}
	for i, row := range rows {
		if len(row) < 4 {
			continue
		}
		if ts, err := strconv.ParseInt(row[3].String(), 10, 64); err == nil {
			changes[i].Timestamp = ts
		}
	}
	return changes, nil
}
