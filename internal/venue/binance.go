package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"booksync/config"
	"booksync/internal/protocol"
	"booksync/models"

	"github.com/adshao/go-binance/v2/futures"
)

const (
	binanceURL        = "wss://fstream.binance.com/ws"
	binanceDepthLimit = 1000
)

// Binance streams USD-M futures depth diffs and recovers from a REST
// snapshot.
func Binance(symbol string, cfg config.VenueConfig) (*Spec, error) {
	stream := strings.ToLower(symbol) + "@depth@100ms"
	fetcher, err := NewBinanceFetcher(cfg.RestURL, cfg.DepthLimit)
	if err != nil {
		return nil, err
	}
	return &Spec{
		Kind: protocol.KindWindowed,
		Streams: []Stream{{
			Name: "depth",
			URL:  orDefault(cfg.URL, binanceURL),
			Subscribe: [][]byte{mustJSON(map[string]any{
				"method": "SUBSCRIBE",
				"params": []string{stream},
				"id":     1,
			})},
			Codec: binanceCodec{},
		}},
		Fetcher:    fetcher,
		StaleAfter: 10 * time.Second,
	}, nil
}

type binanceDepthUpdate struct {
	Event     string     `json:"e"`
	EventTime int64      `json:"E"`
	Symbol    string     `json:"s"`
	FirstID   int64      `json:"U"`
	LastID    int64      `json:"u"`
	PrevID    int64      `json:"pu"`
	Bids      [][]number `json:"b"`
	Asks      [][]number `json:"a"`
}

type binanceCodec struct{}

func (binanceCodec) Decode(raw []byte) ([]models.Event, error) {
	var msg binanceDepthUpdate
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("decode binance message: %w", err)
	}
	// subscription acks and anything else but depth
	if msg.Event != "depthUpdate" {
		return nil, nil
	}

	asks, err := upserts(models.Ask, msg.Asks, 0)
	if err != nil {
		return nil, err
	}
	bids, err := upserts(models.Bid, msg.Bids, 0)
	if err != nil {
		return nil, err
	}
	return single(models.Event{Delta: &models.Delta{
		Channel:   msg.Symbol,
		FirstID:   msg.FirstID,
		LastID:    msg.LastID,
		PrevID:    msg.PrevID,
		Timestamp: msg.EventTime,
		Changes:   append(asks, bids...),
	}}), nil
}

// BinanceFetcher reads depth snapshots through the futures REST client.
type BinanceFetcher struct {
	client *futures.Client
	limit  int
}

// NewBinanceFetcher builds a fetcher against restURL, or the client's
// default endpoint when empty.
func NewBinanceFetcher(restURL string, limit int) (*BinanceFetcher, error) {
	client := futures.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	if restURL != "" {
		parsed, err := url.Parse(restURL)
		if err != nil || parsed.Host == "" {
			return nil, fmt.Errorf("invalid binance rest url %q", restURL)
		}
		client.SetApiEndpoint(fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host))
	}
	if limit <= 0 {
		limit = binanceDepthLimit
	}
	return &BinanceFetcher{client: client, limit: limit}, nil
}

func (f *BinanceFetcher) FetchSnapshot(ctx context.Context, symbol string) (*models.Snapshot, error) {
	res, err := f.client.NewDepthService().
		Symbol(strings.ToUpper(symbol)).
		Limit(f.limit).
		Do(ctx)
	if err != nil {
		return nil, err
	}

	asks := make([][]string, len(res.Asks))
	for i, a := range res.Asks {
		asks[i] = []string{a.Price, a.Quantity}
	}
	bids := make([][]string, len(res.Bids))
	for i, b := range res.Bids {
		bids[i] = []string{b.Price, b.Quantity}
	}

	snap := &models.Snapshot{Channel: symbol, LastUpdateID: res.LastUpdateID}
	if snap.Asks, err = models.ParseLevels(asks); err != nil {
		return nil, err
	}
	if snap.Bids, err = models.ParseLevels(bids); err != nil {
		return nil, err
	}
	return snap, nil
}
