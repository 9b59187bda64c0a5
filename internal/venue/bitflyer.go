package venue

import (
	"encoding/json"
	"fmt"
	"strings"

	"booksync/config"
	"booksync/internal/protocol"
	"booksync/models"
)

const bitflyerURL = "wss://ws.lightstream.bitflyer.com/json-rpc"

// Bitflyer merges the board snapshot channel and the board update channel,
// each on its own connection. Snapshots arrive on a slow cadence, so the
// staleness watchdog is off by default.
func Bitflyer(symbol string, cfg config.VenueConfig) (*Spec, error) {
	url := orDefault(cfg.URL, bitflyerURL)
	subscribe := func(channel string) [][]byte {
		return [][]byte{mustJSON(map[string]any{
			"jsonrpc": "2.0",
			"method":  "subscribe",
			"params":  map[string]string{"channel": channel},
			"id":      1,
		})}
	}
	return &Spec{
		Kind: protocol.KindDual,
		Streams: []Stream{
			{Name: "snapshots", URL: url, Subscribe: subscribe("lightning_board_snapshot_" + symbol), Codec: bitflyerCodec{}},
			{Name: "updates", URL: url, Subscribe: subscribe("lightning_board_" + symbol), Codec: bitflyerCodec{}},
		},
	}, nil
}

type bitflyerLevel struct {
	Price number `json:"price"`
	Size  number `json:"size"`
}

type bitflyerMessage struct {
	Method string `json:"method"`
	Params struct {
		Channel string `json:"channel"`
		Message struct {
			Bids []bitflyerLevel `json:"bids"`
			Asks []bitflyerLevel `json:"asks"`
		} `json:"message"`
	} `json:"params"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func bitflyerLevels(in []bitflyerLevel) ([]models.PriceLevel, error) {
	out := make([]models.PriceLevel, 0, len(in))
	for _, l := range in {
		lvl, err := models.ParseLevel(l.Price.String(), l.Size.String())
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, nil
}

type bitflyerCodec struct{}

func (bitflyerCodec) Decode(raw []byte) ([]models.Event, error) {
	var msg bitflyerMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode bitflyer message: %w", err)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("bitflyer error %d: %s", msg.Error.Code, msg.Error.Message)
	}
	if msg.Method != "channelMessage" {
		return nil, nil
	}

	channel := msg.Params.Channel
	asks, err := bitflyerLevels(msg.Params.Message.Asks)
	if err != nil {
		return nil, err
	}
	bids, err := bitflyerLevels(msg.Params.Message.Bids)
	if err != nil {
		return nil, err
	}

	switch {
	case strings.HasPrefix(channel, "lightning_board_snapshot_"):
		return single(models.Event{Snapshot: &models.Snapshot{Channel: channel, Asks: asks, Bids: bids}}), nil
	case strings.HasPrefix(channel, "lightning_board_"):
		changes := append(models.Upserts(models.Ask, asks, 0), models.Upserts(models.Bid, bids, 0)...)
		return single(models.Event{Delta: &models.Delta{Channel: channel, Changes: changes}}), nil
	}
	return nil, nil
}
