package stoporder

const (
	// EngineVersion is the current version of the stop-order engine
	EngineVersion = "v1.0.0"

	// SnapshotSchemaVersion is the current version of the snapshot schema
	// Increment this when the snapshot format changes in a backward-incompatible way
	SnapshotSchemaVersion = 1
)

// DefaultMaxActivePerParty is the maximum number of active (pending) stop
// orders a single party may hold in one market unless overridden with
// WithMaxActivePerParty.
const DefaultMaxActivePerParty = 4

// WarningTriggerImmediate is attached to a stop order whose trigger condition
// is already satisfied by the current mark price at submission time. The order
// is not triggered at submission; it fires on the next evaluation pass.
const WarningTriggerImmediate = "Stop order will be triggered immediately"

type Side int8

const (
	Buy  Side = 1
	Sell Side = 2
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

// Opposite returns the other side. Used for the reduce-only check: a stop
// order may only close out a position held on the opposite side.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// TriggerDirection selects whether a trigger fires on the mark price rising
// above or falling below the trigger price.
type TriggerDirection int8

const (
	RisesAbove TriggerDirection = 1
	FallsBelow TriggerDirection = 2
)

func (d TriggerDirection) String() string {
	switch d {
	case RisesAbove:
		return "rises_above"
	case FallsBelow:
		return "falls_below"
	default:
		return "unknown"
	}
}

// OrderType is the type of the underlying order synthesized when a stop order
// triggers.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

type TimeInForce string

const (
	GTC TimeInForce = "gtc"
	IOC TimeInForce = "ioc"
	FOK TimeInForce = "fok"
)

// ExpiryStrategy governs what happens when a stop order's expiry elapses
// before its trigger fires.
type ExpiryStrategy string

const (
	// ExpirySubmit submits the underlying order at the expiry moment, as if
	// the trigger had fired.
	ExpirySubmit ExpiryStrategy = "submit"
	// ExpiryCancel expires the stop order without submitting anything.
	ExpiryCancel ExpiryStrategy = "cancel"
)

// Status is the lifecycle status of a stop order. The string values are the
// ones rendered by downstream consumers (e.g. a console's stop orders grid).
type Status string

const (
	StatusPending   Status = "Pending"
	StatusTriggered Status = "Triggered"
	StatusRejected  Status = "Rejected"
	StatusCancelled Status = "Cancelled"
	StatusExpired   Status = "Expired"

	// OCO-linked variants. StoppedOCO is the forced terminal status applied
	// to the sibling of an OCO leg that resolved first; it is distinct from
	// CancelledOCO because the order was never cancelled by its owner.
	StatusPendingOCO   Status = "PendingOCO"
	StatusTriggeredOCO Status = "TriggeredOCO"
	StatusRejectedOCO  Status = "RejectedOCO"
	StatusCancelledOCO Status = "CancelledOCO"
	StatusExpiredOCO   Status = "ExpiredOCO"
	StatusStoppedOCO   Status = "StoppedOCO"
)

// IsPending reports whether the order is still live and subject to
// evaluation passes.
func (s Status) IsPending() bool {
	return s == StatusPending || s == StatusPendingOCO
}

// IsTerminal reports whether the status is final. Every non-pending status is
// terminal; no terminal status can transition further.
func (s Status) IsTerminal() bool {
	return s != "" && !s.IsPending()
}
