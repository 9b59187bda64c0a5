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
)

const okxURL = "wss://ws.okx.com:8443/ws/v5/public"

// Okx streams the v5 books channel, chained by seqId/prevSeqId.
func Okx(symbol string, cfg config.VenueConfig) (*Spec, error) {
	return &Spec{
		Kind: protocol.KindChained,
		Streams: []Stream{{
			Name: "books",
			URL:  orDefault(cfg.URL, okxURL),
			Subscribe: [][]byte{mustJSON(map[string]any{
				"op":   "subscribe",
				"args": []map[string]string{{"channel": "books", "instId": symbol}},
			})},
			Codec:        okxCodec{},
			PingInterval: 20 * time.Second,
			PingPayload:  []byte("ping"),
		}},
		StaleAfter: 10 * time.Second,
	}, nil
}

type okxMessage struct {
	Event string `json:"event"`
	Code  string `json:"code"`
	Msg   string `json:"msg"`
	Arg   struct {
		Channel string `json:"channel"`
		InstID  string `json:"instId"`
	} `json:"arg"`
	Action string `json:"action"`
	Data   []struct {
		Asks      [][]number `json:"asks"`
		Bids      [][]number `json:"bids"`
		Ts        string     `json:"ts"`
		SeqID     int64      `json:"seqId"`
		PrevSeqID int64      `json:"prevSeqId"`
	} `json:"data"`
}

type okxCodec struct{}

func (okxCodec) Decode(raw []byte) ([]models.Event, error) {
	if bytes.Equal(bytes.TrimSpace(raw), []byte("pong")) {
		return nil, nil
	}
	var msg okxMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode okx message: %w", err)
	}
	switch msg.Event {
	case "":
	case "error":
		return nil, fmt.Errorf("okx error %s: %s", msg.Code, msg.Msg)
	case "subscribe":
		return single(models.Event{Control: &models.Control{Kind: models.ControlSubscribed, Channel: msg.Arg.Channel}}), nil
	default:
		return nil, nil
	}
	if msg.Arg.Channel != "books" {
		return nil, nil
	}

	events := make([]models.Event, 0, len(msg.Data))
	for _, d := range msg.Data {
		ts, _ := strconv.ParseInt(d.Ts, 10, 64)
		asks, err := upserts(models.Ask, d.Asks, ts)
		if err != nil {
			return nil, err
		}
		bids, err := upserts(models.Bid, d.Bids, ts)
		if err != nil {
			return nil, err
		}
		if msg.Action == "snapshot" {
			events = append(events, models.Event{Snapshot: &models.Snapshot{
				Channel:      msg.Arg.InstID,
				LastUpdateID: d.SeqID,
				Timestamp:    ts,
				Asks:         changesToLevels(asks),
				Bids:         changesToLevels(bids),
			}})
			continue
		}
		events = append(events, models.Event{Delta: &models.Delta{
			Channel:   msg.Arg.InstID,
			LastID:    d.SeqID,
			PrevID:    d.PrevSeqID,
			Timestamp: ts,
			Changes:   append(asks, bids...),
		}})
	}
	return events, nil
}
