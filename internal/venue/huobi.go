package venue

import (
	"encoding/json"
	"fmt"
	"time"

	"booksync/config"
	"booksync/internal/protocol"
	"booksync/internal/transport/ws"
	"booksync/models"
)

const huobiURL = "wss://api.hbdm.com/swap-ws"

// Huobi pushes the whole step0 depth on every tick in gzip frames.
func Huobi(symbol string, cfg config.VenueConfig) (*Spec, error) {
	return &Spec{
		Kind: protocol.KindReplace,
		Streams: []Stream{{
			Name: "depth",
			URL:  orDefault(cfg.URL, huobiURL),
			Subscribe: [][]byte{mustJSON(map[string]string{
				"sub": "market." + symbol + ".depth.step0",
				"id":  "booksync",
			})},
			Codec:       huobiCodec{},
			Compression: ws.CompressionGzip,
		}},
		StaleAfter: 60 * time.Second,
	}, nil
}

type huobiMessage struct {
	Ping    *int64 `json:"ping"`
	Status  string `json:"status"`
	Subbed  string `json:"subbed"`
	ErrCode string `json:"err-code"`
	ErrMsg  string `json:"err-msg"`
	Ch      string `json:"ch"`
	Ts      int64  `json:"ts"`
	Tick    *struct {
		Version int64      `json:"version"`
		Asks    [][]number `json:"asks"`
		Bids    [][]number `json:"bids"`
	} `json:"tick"`
}

type huobiCodec struct{}

func (huobiCodec) Decode(raw []byte) ([]models.Event, error) {
	var msg huobiMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode huobi message: %w", err)
	}

	switch {
	case msg.Ping != nil:
		reply := mustJSON(map[string]int64{"pong": *msg.Ping})
		return single(models.Event{Control: &models.Control{Kind: models.ControlPing, Reply: reply}}), nil
	case msg.Status == "error":
		return nil, fmt.Errorf("huobi error %s: %s", msg.ErrCode, msg.ErrMsg)
	case msg.Subbed != "":
		return single(models.Event{Control: &models.Control{Kind: models.ControlSubscribed, Channel: msg.Subbed}}), nil
	case msg.Tick == nil:
		return nil, nil
	}

	snap := &models.Snapshot{Channel: msg.Ch, LastUpdateID: msg.Tick.Version, Timestamp: msg.Ts}
	var err error
	if snap.Asks, err = levels(msg.Tick.Asks); err != nil {
		return nil, err
	}
	if snap.Bids, err = levels(msg.Tick.Bids); err != nil {
		return nil, err
	}
	return single(models.Event{Snapshot: snap}), nil
}
