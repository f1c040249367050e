package order

import "github.com/ethereum/go-ethereum/common"

// Side is the direction of an energy order.
type Side int8

const (
	Buy Side = iota + 1
	Sell
)

func (s Side) String() string {
	switch s {
	case Buy:
		return "buy"
	case Sell:
		return "sell"
	default:
		return "unknown"
	}
}

func (s Side) Valid() bool { return s == Buy || s == Sell }

// Status is the lifecycle state of an order. Transitions only move forward:
//
//	Open → Matched → Completed
//	Open → Completed
//	Open → Cancelled
//
// Matched is a reachable intermediate; the pairwise engine settles in a
// single step and commits orders straight to Completed.
type Status int8

const (
	StatusOpen Status = iota
	StatusMatched
	StatusCompleted
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusMatched:
		return "matched"
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CanTransition reports whether moving from s to next is a forward transition.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusOpen:
		return next == StatusMatched || next == StatusCompleted || next == StatusCancelled
	case StatusMatched:
		return next == StatusCompleted
	default:
		return false
	}
}

// Order is an energy buy or sell offer. Quantity is whole kilowatt-hours,
// Price is token units per kWh. Orders are retained forever for audit; the
// id is unique, monotonically assigned from 1, and never reused.
type Order struct {
	ID       uint64         `json:"id"`
	Owner    common.Address `json:"owner"`
	Side     Side           `json:"side"`
	Quantity int64          `json:"quantity"`
	Price    int64          `json:"price"`
	Status   Status         `json:"status"`
	DeviceID string         `json:"device_id"`

	// Settlement outcome, populated when the order completes. YieldEarned
	// is only set on the sell side.
	SettledPrice int64 `json:"settled_price,omitempty"`
	YieldEarned  int64 `json:"yield_earned,omitempty"`

	// Unix milliseconds
	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// IsOpen reports whether the order can still participate in a match.
func (o *Order) IsOpen() bool { return o.Status == StatusOpen }
