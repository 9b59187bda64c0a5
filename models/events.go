package models

import "github.com/shopspring/decimal"

/////////////////////////////////////////////////////////////////////////////
////////////////////////////// CANONICAL EVENTS /////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Action tells how a Change mutates a ladder.
type Action int8

const (
	// ActionUpsert sets the size at a price, removing the level on zero.
	ActionUpsert Action = iota
	// ActionInsert adds a new id-addressed level positioned by price.
	ActionInsert
	// ActionUpdate changes the size of an existing id-addressed level.
	ActionUpdate
	// ActionDelete removes an id-addressed level.
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionUpdate:
		return "update"
	case ActionDelete:
		return "delete"
	default:
		return "upsert"
	}
}

// Change is one ladder mutation carried by a Delta. Timestamp is in venue
// units and zero when the venue does not stamp individual entries.
type Change struct {
	Side      Side
	Action    Action
	ID        string
	Price     decimal.Decimal
	Size      decimal.Decimal
	Timestamp int64
}

// Snapshot is a full replacement of both ladders.
type Snapshot struct {
	Channel      string
	LastUpdateID int64
	Timestamp    int64
	Asks         []PriceLevel
	Bids         []PriceLevel
}

// Delta is an incremental update. FirstID/LastID carry an update-id range,
// PrevID the id of the update this one follows. Unused ids stay zero.
type Delta struct {
	Channel   string
	FirstID   int64
	LastID    int64
	PrevID    int64
	Timestamp int64
	Changes   []Change
}

// ControlKind enumerates non-data venue messages a protocol may react to.
type ControlKind int8

const (
	ControlSubscribed ControlKind = iota
	ControlUnsubscribed
	ControlPing
)

// Control is a subscription ack or keepalive. Reply, when set, is written
// back on the same handle.
type Control struct {
	Kind    ControlKind
	Channel string
	Reply   []byte
}

// Event is the decoded form of one raw venue message. Exactly one field is set.
type Event struct {
	Snapshot *Snapshot
	Delta    *Delta
	Control  *Control
}

// Upserts builds price-keyed changes for one side.
func Upserts(side Side, levels []PriceLevel, ts int64) []Change {
	changes := make([]Change, 0, len(levels))
	for _, lvl := range levels {
		changes = append(changes, Change{Side: side, Action: ActionUpsert, Price: lvl.Price, Size: lvl.Size, Timestamp: ts})
	}
	return changes
}
