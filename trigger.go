package stoporder

import (
	"fmt"

	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

// Trigger is the condition that turns a stop order into a live order.
// Exactly one of Price or TrailingPercentOffset is set: a price trigger fires
// when the mark price crosses a fixed level, a trailing trigger fires when the
// mark price retraces the configured percentage from its best observed level.
type Trigger struct {
	Direction             TriggerDirection `json:"direction"`
	Price                 decimal.Decimal  `json:"price,omitempty"`
	TrailingPercentOffset decimal.Decimal  `json:"trailing_percent_offset,omitempty"`
}

// IsTrailing reports whether this is a trailing-percent-offset trigger.
func (t Trigger) IsTrailing() bool {
	return t.TrailingPercentOffset.IsPositive()
}

// IsSatisfied reports whether the given mark price satisfies a price trigger.
// RisesAbove fires when mark >= price, FallsBelow when mark <= price.
// Trailing triggers are never satisfied by a single observation; they are
// evaluated against their reference price during the evaluation pass.
func (t Trigger) IsSatisfied(mark decimal.Decimal) bool {
	if t.IsTrailing() {
		return false
	}
	switch t.Direction {
	case RisesAbove:
		return mark.GreaterThanOrEqual(t.Price)
	case FallsBelow:
		return mark.LessThanOrEqual(t.Price)
	default:
		return false
	}
}

// String renders the trigger the way a trading console displays it,
// e.g. "Mark > 103.00" or "Mark -5% trailing".
func (t Trigger) String() string {
	if t.IsTrailing() {
		sign := "+"
		if t.Direction == FallsBelow {
			sign = "-"
		}
		return fmt.Sprintf("Mark %s%s%% trailing", sign, t.TrailingPercentOffset.String())
	}
	cmp := ">"
	if t.Direction == FallsBelow {
		cmp = "<"
	}
	return fmt.Sprintf("Mark %s %s", cmp, t.Price.StringFixed(2))
}

// triggerLevel groups pending stop orders sharing the same trigger price.
type triggerLevel struct {
	price  decimal.Decimal
	orders []*StopOrder
}

// triggerIndex keeps pending price-triggered stop orders ordered by trigger
// price so an evaluation pass only touches the orders that are due. The
// rises-above index is ascending (lowest trigger first), the falls-below
// index descending (highest trigger first): due levels are always at the
// front.
type triggerIndex struct {
	direction TriggerDirection
	levelList *skiplist.SkipList
	levels    map[string]*skiplist.Element
	count     int
}

func newTriggerIndex(direction TriggerDirection) *triggerIndex {
	cmp := skiplist.GreaterThanFunc(func(lhs, rhs any) int {
		d1, _ := lhs.(decimal.Decimal)
		d2, _ := rhs.(decimal.Decimal)
		c := d1.Cmp(d2)
		if direction == FallsBelow {
			return -c
		}
		return c
	})

	return &triggerIndex{
		direction: direction,
		levelList: skiplist.New(cmp),
		levels:    make(map[string]*skiplist.Element),
	}
}

func (idx *triggerIndex) add(o *StopOrder) {
	key := o.Trigger.Price.String()
	el, found := idx.levels[key]
	if !found {
		unit := &triggerLevel{price: o.Trigger.Price}
		el = idx.levelList.Set(o.Trigger.Price, unit)
		idx.levels[key] = el
	}
	unit, _ := el.Value.(*triggerLevel)
	unit.orders = append(unit.orders, o)
	idx.count++
}

func (idx *triggerIndex) remove(o *StopOrder) {
	key := o.Trigger.Price.String()
	el, found := idx.levels[key]
	if !found {
		return
	}
	unit, _ := el.Value.(*triggerLevel)
	for i, cur := range unit.orders {
		if cur.ID == o.ID {
			unit.orders = append(unit.orders[:i], unit.orders[i+1:]...)
			idx.count--
			break
		}
	}
	if len(unit.orders) == 0 {
		idx.levelList.Remove(unit.price)
		delete(idx.levels, key)
	}
}

// collectDue removes and returns every order whose trigger is satisfied by
// the given mark price, in trigger-price order.
func (idx *triggerIndex) collectDue(mark decimal.Decimal) []*StopOrder {
	var due []*StopOrder
	for {
		el := idx.levelList.Front()
		if el == nil {
			return due
		}
		unit, _ := el.Value.(*triggerLevel)

		satisfied := unit.price.LessThanOrEqual(mark)
		if idx.direction == FallsBelow {
			satisfied = unit.price.GreaterThanOrEqual(mark)
		}
		if !satisfied {
			return due
		}

		due = append(due, unit.orders...)
		idx.count -= len(unit.orders)
		idx.levelList.Remove(unit.price)
		delete(idx.levels, unit.price.String())
	}
}

func (idx *triggerIndex) size() int {
	return idx.count
}
