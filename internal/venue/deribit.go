package venue

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"booksync/config"
	"booksync/internal/protocol"
	"booksync/models"
)

const (
	deribitURL       = "wss://www.deribit.com/ws/api/v2"
	deribitHeartbeat = 30
)

// Deribit streams change_id chained book updates over JSON-RPC.
func Deribit(symbol string, cfg config.VenueConfig) (*Spec, error) {
	channel := "book." + symbol + ".100ms"
	return &Spec{
		Kind: protocol.KindChained,
		Streams: []Stream{{
			Name: "book",
			URL:  orDefault(cfg.URL, deribitURL),
			Subscribe: [][]byte{
				mustJSON(map[string]any{
					"jsonrpc": "2.0",
					"id":      1,
					"method":  "public/set_heartbeat",
					"params":  map[string]any{"interval": deribitHeartbeat},
				}),
				mustJSON(map[string]any{
					"jsonrpc": "2.0",
					"id":      2,
					"method":  "public/subscribe",
					"params":  map[string]any{"channels": []string{channel}},
				}),
			},
			Codec: deribitCodec{},
		}},
		StaleAfter: 10 * time.Second,
	}, nil
}

type deribitMessage struct {
	Method string `json:"method"`
	Params struct {
		Type    string          `json:"type"`
		Channel string          `json:"channel"`
		Data    json.RawMessage `json:"data"`
	} `json:"params"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type deribitBook struct {
	Type         string     `json:"type"`
	Timestamp    int64      `json:"timestamp"`
	ChangeID     int64      `json:"change_id"`
	PrevChangeID int64      `json:"prev_change_id"`
	Bids         [][]number `json:"bids"`
	Asks         [][]number `json:"asks"`
}

var deribitTestReply = mustJSON(map[string]any{"jsonrpc": "2.0", "id": 3, "method": "public/test", "params": map[string]any{}})

type deribitCodec struct{}

func (deribitCodec) Decode(raw []byte) ([]models.Event, error) {
	var msg deribitMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode deribit message: %w", err)
	}
	if msg.Error != nil {
		return nil, fmt.Errorf("deribit error %d: %s", msg.Error.Code, msg.Error.Message)
	}

	switch msg.Method {
	case "heartbeat":
		if msg.Params.Type == "test_request" {
			return single(models.Event{Control: &models.Control{Kind: models.ControlPing, Reply: deribitTestReply}}), nil
		}
		return nil, nil
	case "subscription":
	default:
		return nil, nil
	}
	if !strings.HasPrefix(msg.Params.Channel, "book.") {
		return nil, nil
	}

	var book deribitBook
	if err := json.Unmarshal(msg.Params.Data, &book); err != nil {
		return nil, fmt.Errorf("decode deribit book: %w", err)
	}
	asks, err := deribitEntries(models.Ask, book.Asks, book.Timestamp)
	if err != nil {
		return nil, err
	}
	bids, err := deribitEntries(models.Bid, book.Bids, book.Timestamp)
	if err != nil {
		return nil, err
	}

	if book.Type == "snapshot" {
		return single(models.Event{Snapshot: &models.Snapshot{
			Channel:      msg.Params.Channel,
			LastUpdateID: book.ChangeID,
			Timestamp:    book.Timestamp,
			Asks:         changesToLevels(asks),
			Bids:         changesToLevels(bids),
		}}), nil
	}
	return single(models.Event{Delta: &models.Delta{
		Channel:   msg.Params.Channel,
		LastID:    book.ChangeID,
		PrevID:    book.PrevChangeID,
		Timestamp: book.Timestamp,
		Changes:   append(asks, bids...),
	}}), nil
}

// deribitEntries maps ["new"|"change"|"delete", price, amount] rows to
// price-keyed upserts; a delete carries size zero.
func deribitEntries(side models.Side, rows [][]number, ts int64) ([]models.Change, error) {
	changes := make([]models.Change, 0, len(rows))
	for _, row := range rows {
		if len(row) < 3 {
			return nil, fmt.Errorf("deribit entry has %d fields", len(row))
		}
		size := row[2].String()
		switch row[0] {
		case "new", "change":
		case "delete":
			size = "0"
		default:
			return nil, fmt.Errorf("unknown deribit action %q", row[0])
		}
		lvl, err := models.ParseLevel(row[1].String(), size)
		if err != nil {
			return nil, err
		}
		changes = append(changes, models.Change{Side: side, Action: models.ActionUpsert, Price: lvl.Price, Size: lvl.Size, Timestamp: ts})
	}
	return changes, nil
}

func changesToLevels(changes []models.Change) []models.PriceLevel {
	out := make([]models.PriceLevel, 0, len(changes))
	for _, c := range changes {
		out = append(out, models.PriceLevel{Price: c.Price, Size: c.Size})
	}
	return out
}
