package venue

import (
	"bytes"
	"encoding/json"
	"fmt"

	"booksync/models"
)

// number keeps the text of a JSON string or number so prices reach decimal
// parsing without a float round trip.
type number string

func (n *number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*n = number(s)
		return nil
	}
	if bytes.Equal(b, []byte("null")) {
		*n = ""
		return nil
	}
	*n = number(b)
	return nil
}

func (n number) String() string { return string(n) }

// levels parses [[price, size, ...], ...] rows.
func levels(rows [][]number) ([]models.PriceLevel, error) {
	out := make([]models.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("level row has %d fields", len(row))
		}
		lvl, err := models.ParseLevel(row[0].String(), row[1].String())
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, nil
}

// upserts parses rows into price-keyed changes for side.
func upserts(side models.Side, rows [][]number, ts int64) ([]models.Change, error) {
	lvls, err := levels(rows)
	if err != nil {
		return nil, err
	}
	return models.Upserts(side, lvls, ts), nil
}

// mustJSON encodes static subscription payloads.
func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("encode payload: %v", err))
	}
	return b
}

func single(ev models.Event) []models.Event {
	return []models.Event{ev}
}
