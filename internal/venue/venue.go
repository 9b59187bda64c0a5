// Package venue describes how each supported exchange streams its order
// book and builds ready-to-run sessions from configuration.
package venue

import (
	"fmt"
	"sort"
	"time"

	"booksync/config"
	"booksync/internal/adapter"
	"booksync/internal/protocol"
	"booksync/internal/session"
	"booksync/internal/transport/ws"
)

// Stream is one websocket connection of a book.
type Stream struct {
	Name         string
	URL          string
	Subscribe    [][]byte
	Codec        adapter.Codec
	Compression  ws.Compression
	PingInterval time.Duration
	PingPayload  []byte
}

// Spec is everything needed to synchronize one instrument on a venue.
type Spec struct {
	Kind    protocol.Kind
	Options protocol.Options
	Streams []Stream
	// Fetcher is set for venues whose snapshot comes out of band.
	Fetcher    adapter.SnapshotFetcher
	StaleAfter time.Duration
}

// Factory describes symbol on a venue, honoring endpoint overrides.
type Factory func(symbol string, cfg config.VenueConfig) (*Spec, error)

var registry = map[string]Factory{
	"binance":       Binance,
	"bitflyer":      Bitflyer,
	"bitmex":        Bitmex,
	"bitstamp":      Bitstamp,
	"bybit":         Bybit,
	"deribit":       Deribit,
	"huobi":         Huobi,
	"krakenfutures": KrakenFutures,
	"okx":           Okx,
}

func Lookup(name string) (Factory, bool) {
	f, ok := registry[name]
	return f, ok
}

// Names lists the supported venues in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// staleAfter resolves a book's watchdog threshold: positive overrides,
// negative disables, zero keeps the venue default.
func staleAfter(book config.BookConfig, def time.Duration) time.Duration {
	switch {
	case book.StaleAfter > 0:
		return book.StaleAfter
	case book.StaleAfter < 0:
		return 0
	default:
		return def
	}
}

// Build wires a session for book.
func Build(book config.BookConfig, cfg *config.Config) (*session.Session, error) {
	factory, ok := Lookup(book.Venue)
	if !ok {
		return nil, fmt.Errorf("unsupported venue %q", book.Venue)
	}
	venueCfg := cfg.Venue(book.Venue)
	spec, err := factory(book.Symbol, venueCfg)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", book.Venue, book.Symbol, err)
	}

	opts := spec.Options
	opts.MaxBuffered = cfg.Session.MaxBufferedDeltas
	proto, err := protocol.New(spec.Kind, opts)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", book.Venue, book.Symbol, err)
	}

	threshold := staleAfter(book, spec.StaleAfter)
	handles := make([]session.Handle, 0, len(spec.Streams))
	for _, st := range spec.Streams {
		ping := st.PingInterval
		if venueCfg.PingInterval > 0 {
			ping = venueCfg.PingInterval
		}
		handles = append(handles, session.Handle{
			Name: st.Name,
			Adapter: ws.New(ws.Config{
				Name:         fmt.Sprintf("%s:%s:%s", book.Venue, book.Symbol, st.Name),
				URL:          st.URL,
				Subscribe:    st.Subscribe,
				LocalIP:      book.LocalIP,
				PingInterval: ping,
				PingPayload:  st.PingPayload,
				Compression:  st.Compression,
			}),
			Codec:      st.Codec,
			StaleAfter: threshold,
		})
	}

	return session.New(session.Options{
		Venue:    book.Venue,
		Symbol:   book.Symbol,
		Handles:  handles,
		Protocol: proto,
		Fetcher:  spec.Fetcher,
		Config:   cfg.Session,
	})
}

// BuildAll builds a session for every configured book.
func BuildAll(cfg *config.Config) ([]*session.Session, error) {
	sessions := make([]*session.Session, 0, len(cfg.Books))
	for _, book := range cfg.Books {
		s, err := Build(book, cfg)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func orDefault(value, def string) string {
	if value == "" {
		return def
	}
	return value
}
