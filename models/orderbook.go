package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

/////////////////////////////////////////////////////////////////////////////
///////////////////////////////// GENERAL ///////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Side identifies one half of an order book.
type Side int8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Ask {
		return "ask"
	}
	return "bid"
}

// Status is the lifecycle state of a book session.
type Status int32

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// PriceLevel is a single resting size at a unique price. ID is only set by
// venues that address levels by their own identifier.
type PriceLevel struct {
	ID    string          `json:"id,omitempty"`
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// ParseLevel builds a PriceLevel from the string pair most venues send.
func ParseLevel(price, size string) (PriceLevel, error) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("invalid price %q: %w", price, err)
	}
	s, err := decimal.NewFromString(size)
	if err != nil {
		return PriceLevel{}, fmt.Errorf("invalid size %q: %w", size, err)
	}
	return PriceLevel{Price: p, Size: s}, nil
}

// ParseLevels converts [[price, size, ...], ...] rows into levels.
func ParseLevels(rows [][]string) ([]PriceLevel, error) {
	levels := make([]PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("level row has %d fields", len(row))
		}
		lvl, err := ParseLevel(row[0], row[1])
		if err != nil {
			return nil, err
		}
		levels = append(levels, lvl)
	}
	return levels, nil
}

// BookSnapshot is the read-only view handed to downstream consumers.
type BookSnapshot struct {
	Venue     string       `json:"venue"`
	Symbol    string       `json:"symbol"`
	Status    string       `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Asks      []PriceLevel `json:"asks"`
	Bids      []PriceLevel `json:"bids"`
}
