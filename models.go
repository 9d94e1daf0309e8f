package stoporder

import (
	"time"

	"github.com/shopspring/decimal"
)

// StopOrderSubmission is the input for placing a stop order. It is the parent
// specification for at most one underlying order, created only upon trigger.
type StopOrderSubmission struct {
	MarketID       string          `json:"market_id"`
	Party          string          `json:"party"`
	Side           Side            `json:"side"`
	Size           decimal.Decimal `json:"size"`
	Trigger        Trigger         `json:"trigger"`
	OrderType      OrderType       `json:"order_type"`
	LimitPrice     decimal.Decimal `json:"limit_price,omitempty"` // required iff OrderType == Limit
	TimeInForce    TimeInForce     `json:"time_in_force"`
	Expiry         *time.Time      `json:"expiry,omitempty"` // nil means good till cancelled
	ExpiryStrategy ExpiryStrategy  `json:"expiry_strategy,omitempty"`
}

// StopOrder is the runtime state of an accepted submission. Instances handed
// out by the engine are copies; mutating them has no effect on engine state.
type StopOrder struct {
	ID             string          `json:"id"`
	MarketID       string          `json:"market_id"`
	Party          string          `json:"party"`
	Side           Side            `json:"side"`
	Size           decimal.Decimal `json:"size"`
	Trigger        Trigger         `json:"trigger"`
	OrderType      OrderType       `json:"order_type"`
	LimitPrice     decimal.Decimal `json:"limit_price,omitempty"`
	TimeInForce    TimeInForce     `json:"time_in_force"`
	Expiry         *time.Time      `json:"expiry,omitempty"`
	ExpiryStrategy ExpiryStrategy  `json:"expiry_strategy,omitempty"`

	// OCOLinkID is the id of the sibling leg when the order is part of a
	// one-cancels-other pair. Links are symmetric and never chain.
	OCOLinkID string `json:"oco_link_id,omitempty"`

	Status Status `json:"status"`
	// Reason is a human-readable explanation for terminal non-trigger
	// statuses, e.g. "Rejected: margin check failed".
	Reason string `json:"reason,omitempty"`
	// Warning is set at submission when the trigger condition is already
	// satisfied by the current mark price.
	Warning string `json:"warning,omitempty"`
	// ResultingOrderID references the order placed into the book once the
	// stop order has triggered.
	ResultingOrderID string `json:"resulting_order_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// TrailingRef is the best mark price observed so far for trailing
	// triggers (highest for falls-below, lowest for rises-above). Nil until
	// the first tick after submission.
	TrailingRef *decimal.Decimal `json:"trailing_ref,omitempty"`
}

func (o *StopOrder) clone() *StopOrder {
	cpy := *o
	if o.Expiry != nil {
		exp := *o.Expiry
		cpy.Expiry = &exp
	}
	if o.TrailingRef != nil {
		ref := *o.TrailingRef
		cpy.TrailingRef = &ref
	}
	return &cpy
}

// OrderSubmission is the order synthesized on trigger and handed to the trade
// engine collaborator.
type OrderSubmission struct {
	OrderID     string          `json:"order_id"`
	MarketID    string          `json:"market_id"`
	Party       string          `json:"party"`
	Side        Side            `json:"side"`
	Type        OrderType       `json:"type"`
	Price       decimal.Decimal `json:"price,omitempty"` // limit orders only
	Size        decimal.Decimal `json:"size"`
	TimeInForce TimeInForce     `json:"time_in_force"`
	ReduceOnly  bool            `json:"reduce_only"`
}

// OrderResult is the immediate accept/reject outcome returned by the trade
// engine. A rejection here is not an error: the stop order transitions to
// Rejected and the reason is recorded on it.
type OrderResult struct {
	OrderID  string `json:"order_id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Position is a party's open position in a market as reported by the
// position service collaborator.
type Position struct {
	Side Side            `json:"side"`
	Size decimal.Decimal `json:"size"`
}
