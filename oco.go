package stoporder

import (
	"fmt"
	"time"
)

// ReasonStoppedOCO is recorded on the sibling that was forced terminal
// because its OCO partner resolved first.
const ReasonStoppedOCO = "Stopped: OCO linked order resolved"

// ocoVariant maps a natural terminal status onto its OCO-suffixed
// counterpart. Non-OCO statuses pass through unchanged for orders without a
// link.
func ocoVariant(s Status) Status {
	switch s {
	case StatusTriggered:
		return StatusTriggeredOCO
	case StatusRejected:
		return StatusRejectedOCO
	case StatusCancelled:
		return StatusCancelledOCO
	case StatusExpired:
		return StatusExpiredOCO
	default:
		return s
	}
}

// validatePair checks the pair-level constraints of an OCO submission: both
// legs must target the same market and the same party. Per-leg validation is
// performed separately.
func validatePair(a, b *StopOrderSubmission) error {
	if a.MarketID != b.MarketID {
		return fmt.Errorf("%w: OCO legs must target the same market", ErrValidation)
	}
	if a.Party != b.Party {
		return fmt.Errorf("%w: OCO legs must belong to the same party", ErrValidation)
	}
	return nil
}

// settleSibling applies the one-cancels-other rule after an order resolved
// naturally. The sibling is forced to StoppedOCO unless it already resolved
// on its own (first resolution wins, no status is downgraded) or it resolves
// naturally in the same evaluation pass.
func (m *market) settleSibling(o *StopOrder, dueThisPass map[string]struct{}, at time.Time) {
	if o.OCOLinkID == "" {
		return
	}
	sibling, found := m.orders[o.OCOLinkID]
	if !found {
		return
	}
	if sibling.Status.IsTerminal() {
		// First resolution won; the sibling keeps its status.
		return
	}
	if dueThisPass != nil {
		if _, due := dueThisPass[sibling.ID]; due {
			// Simultaneous resolution: both legs keep their natural status.
			return
		}
	}
	m.transition(sibling, StatusStoppedOCO, ReasonStoppedOCO, at)
}
