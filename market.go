package stoporder

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"github.com/shopspring/decimal"
)

// commandType represents the type of command sent to a market actor.
type commandType int

const (
	cmdSubmit commandType = iota
	cmdSubmitPair
	cmdCancel
	cmdList
	cmdMarkPrice
	cmdSweep
	cmdSnapshot
)

// marketCommand is the unified command sent to a market actor. Using a single
// channel keeps command ordering deterministic: an evaluation pass can never
// interleave with a submission or a cancel.
type marketCommand struct {
	Type    commandType
	Payload any
	Resp    chan any // optional: for synchronous responses
}

type submitResult struct {
	order *StopOrder
	err   error
}

type pairResult struct {
	a, b *StopOrder
	err  error
}

type cancelResult struct {
	order *StopOrder
	err   error
}

type listRequest struct {
	party string
}

// market owns all stop orders of a single market. All state is mutated
// exclusively by the actor loop in Start, which gives every market the
// single-threaded evaluation pass the OCO atomicity contract requires;
// different markets run their loops concurrently with no shared state.
type market struct {
	marketID         string
	cfg              *engineConfig
	isShutdown       atomic.Bool
	cmdChan          chan marketCommand
	done             chan struct{}
	shutdownComplete chan struct{}

	orders   map[string]*StopOrder
	active   map[string]int // party -> number of pending stop orders
	rises    *triggerIndex
	falls    *triggerIndex
	trailing []*StopOrder
	expiries *expiryIndex

	lastMark decimal.Decimal
	hasMark  bool
}

func newMarket(marketID string, cfg *engineConfig) *market {
	return &market{
		marketID:         marketID,
		cfg:              cfg,
		cmdChan:          make(chan marketCommand, 1024),
		done:             make(chan struct{}),
		shutdownComplete: make(chan struct{}),
		orders:           make(map[string]*StopOrder),
		active:           make(map[string]int),
		rises:            newTriggerIndex(RisesAbove),
		falls:            newTriggerIndex(FallsBelow),
		expiries:         newExpiryIndex(),
	}
}

// enqueue submits a command to the actor loop.
func (m *market) enqueue(ctx context.Context, cmd marketCommand) error {
	if m.isShutdown.Load() {
		return ErrShutdown
	}
	select {
	case m.cmdChan <- cmd:
		return nil
	case <-ctx.Done():
		return ErrTimeout
	}
}

// Start runs the actor loop until Shutdown is called, then drains any queued
// commands before returning.
func (m *market) Start() error {
	for {
		select {
		case <-m.done:
			return m.drain()
		case cmd := <-m.cmdChan:
			m.handle(cmd)
		}
	}
}

// Shutdown signals the actor loop to stop and blocks until queued commands
// are drained or the context is cancelled.
func (m *market) Shutdown(ctx context.Context) error {
	if m.isShutdown.CompareAndSwap(false, true) {
		close(m.done)
	}
	select {
	case <-m.shutdownComplete:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// drain processes all remaining commands in the channel before returning.
func (m *market) drain() error {
	defer close(m.shutdownComplete)
	for {
		select {
		case cmd := <-m.cmdChan:
			m.handle(cmd)
		default:
			return nil
		}
	}
}

// runSweeper periodically enqueues a sweep command so expiries fire without
// waiting for the next price tick. Started by the engine when an expiry sweep
// interval is configured.
func (m *market) runSweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			select {
			case m.cmdChan <- marketCommand{Type: cmdSweep}:
			default:
				// Loop is busy; the next tick will catch up.
			}
		}
	}
}

func (m *market) handle(cmd marketCommand) {
	switch cmd.Type {
	case cmdSubmit:
		if sub, ok := cmd.Payload.(*StopOrderSubmission); ok {
			m.reply(cmd, m.submit(sub))
		}
	case cmdSubmitPair:
		if subs, ok := cmd.Payload.([2]*StopOrderSubmission); ok {
			m.reply(cmd, m.submitPair(subs[0], subs[1]))
		}
	case cmdCancel:
		if id, ok := cmd.Payload.(string); ok {
			m.reply(cmd, m.cancel(id))
		}
	case cmdList:
		if req, ok := cmd.Payload.(*listRequest); ok {
			m.reply(cmd, m.list(req.party))
		}
	case cmdMarkPrice:
		if price, ok := cmd.Payload.(decimal.Decimal); ok {
			m.lastMark = price
			m.hasMark = true
			m.evaluate(price, true, m.cfg.clock.Now())
		}
	case cmdSweep:
		m.evaluate(m.lastMark, m.hasMark, m.cfg.clock.Now())
	case cmdSnapshot:
		m.reply(cmd, m.createSnapshot())
	}
}

func (m *market) reply(cmd marketCommand, res any) {
	if cmd.Resp == nil {
		return
	}
	select {
	case cmd.Resp <- res:
	default:
		// Non-blocking send; if no one is listening, just drop it.
	}
}

// newStopOrder materializes a submission into a pending runtime instance.
func (m *market) newStopOrder(sub *StopOrderSubmission, oco bool, now time.Time) *StopOrder {
	status := StatusPending
	if oco {
		status = StatusPendingOCO
	}
	o := &StopOrder{
		ID:             xid.New().String(),
		MarketID:       m.marketID,
		Party:          sub.Party,
		Side:           sub.Side,
		Size:           sub.Size,
		Trigger:        sub.Trigger,
		OrderType:      sub.OrderType,
		LimitPrice:     sub.LimitPrice,
		TimeInForce:    sub.TimeInForce,
		ExpiryStrategy: sub.ExpiryStrategy,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if o.TimeInForce == "" {
		o.TimeInForce = FOK
	}
	if sub.Expiry != nil {
		exp := *sub.Expiry
		o.Expiry = &exp
		if o.ExpiryStrategy == "" {
			o.ExpiryStrategy = ExpiryCancel
		}
	}
	if m.hasMark {
		if o.Trigger.IsTrailing() {
			ref := m.lastMark
			o.TrailingRef = &ref
		} else if o.Trigger.IsSatisfied(m.lastMark) {
			// Already satisfied triggers are not fired at submission; they
			// fire on the next evaluation pass.
			o.Warning = WarningTriggerImmediate
		}
	}
	return o
}

// admit indexes a newly created pending order and publishes its submission
// event.
func (m *market) admit(o *StopOrder) {
	m.orders[o.ID] = o
	m.active[o.Party]++
	if o.Trigger.IsTrailing() {
		m.trailing = append(m.trailing, o)
	} else if o.Trigger.Direction == RisesAbove {
		m.rises.add(o)
	} else {
		m.falls.add(o)
	}
	m.expiries.add(o)
	m.publishEvent(EventSubmitted, o, o.CreatedAt)
}

func (m *market) submit(sub *StopOrderSubmission) *submitResult {
	if m.active[sub.Party]+1 > m.cfg.maxActivePerParty {
		return &submitResult{err: fmt.Errorf("%w: party %q has %d active stop orders in market %q (limit %d)",
			ErrLimitExceeded, sub.Party, m.active[sub.Party], m.marketID, m.cfg.maxActivePerParty)}
	}
	o := m.newStopOrder(sub, false, m.cfg.clock.Now())
	m.admit(o)
	return &submitResult{order: o.clone()}
}

func (m *market) submitPair(a, b *StopOrderSubmission) *pairResult {
	if m.active[a.Party]+2 > m.cfg.maxActivePerParty {
		return &pairResult{err: fmt.Errorf("%w: party %q has %d active stop orders in market %q (limit %d)",
			ErrLimitExceeded, a.Party, m.active[a.Party], m.marketID, m.cfg.maxActivePerParty)}
	}
	now := m.cfg.clock.Now()
	oa := m.newStopOrder(a, true, now)
	ob := m.newStopOrder(b, true, now)
	oa.OCOLinkID = ob.ID
	ob.OCOLinkID = oa.ID
	m.admit(oa)
	m.admit(ob)
	return &pairResult{a: oa.clone(), b: ob.clone()}
}

func (m *market) cancel(id string) *cancelResult {
	o, found := m.orders[id]
	if !found {
		return &cancelResult{err: fmt.Errorf("%w: stop order %q", ErrNotFound, id)}
	}
	if !o.Status.IsPending() {
		return &cancelResult{err: fmt.Errorf("%w: stop order %q is %s", ErrInvalidState, id, o.Status)}
	}
	now := m.cfg.clock.Now()
	m.transition(o, StatusCancelled, "Cancelled: cancelled by party", now)
	m.settleSibling(o, nil, now)
	return &cancelResult{order: o.clone()}
}

func (m *market) list(party string) []*StopOrder {
	orders := make([]*StopOrder, 0, len(m.orders))
	for _, o := range m.orders {
		if party != "" && o.Party != party {
			continue
		}
		orders = append(orders, o.clone())
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders
}

// evaluate runs one evaluation pass over all pending stop orders, using a
// single consistent mark price and timestamp. Trigger conditions and expiries
// are checked in the same pass; when both are satisfiable at once, the
// trigger takes precedence.
func (m *market) evaluate(mark decimal.Decimal, hasMark bool, now time.Time) {
	var triggered []*StopOrder
	if hasMark {
		triggered = append(triggered, m.rises.collectDue(mark)...)
		triggered = append(triggered, m.falls.collectDue(mark)...)
		triggered = append(triggered, m.collectTrailingDue(mark)...)
	}

	// dueThisPass carries every order that resolves naturally in this pass,
	// so OCO siblings that both resolve at once each keep their own status.
	dueThisPass := make(map[string]struct{}, len(triggered))
	for _, o := range triggered {
		dueThisPass[o.ID] = struct{}{}
	}

	var expired []*StopOrder
	for _, o := range m.expiries.collectDue(now) {
		if _, isTriggering := dueThisPass[o.ID]; isTriggering {
			continue // an order triggers before it expires
		}
		expired = append(expired, o)
		dueThisPass[o.ID] = struct{}{}
	}

	for _, o := range triggered {
		if o.Status.IsTerminal() {
			continue
		}
		m.resolveTrigger(o, dueThisPass, now)
	}
	for _, o := range expired {
		if o.Status.IsTerminal() {
			continue
		}
		m.resolveExpiry(o, dueThisPass, now)
	}
}

// collectTrailingDue updates trailing reference prices with the new mark and
// removes and returns the trailing orders whose retracement threshold is hit.
// An order never fires on the same tick that improves its reference price.
func (m *market) collectTrailingDue(mark decimal.Decimal) []*StopOrder {
	hundred := decimal.NewFromInt(100)
	var due []*StopOrder
	kept := m.trailing[:0]
	for _, o := range m.trailing {
		if o.TrailingRef == nil {
			ref := mark
			o.TrailingRef = &ref
			kept = append(kept, o)
			continue
		}
		fire := false
		switch o.Trigger.Direction {
		case FallsBelow:
			threshold := o.TrailingRef.Mul(hundred.Sub(o.Trigger.TrailingPercentOffset)).Div(hundred)
			fire = mark.LessThanOrEqual(threshold)
			if !fire && mark.GreaterThan(*o.TrailingRef) {
				ref := mark
				o.TrailingRef = &ref
			}
		case RisesAbove:
			threshold := o.TrailingRef.Mul(hundred.Add(o.Trigger.TrailingPercentOffset)).Div(hundred)
			fire = mark.GreaterThanOrEqual(threshold)
			if !fire && mark.LessThan(*o.TrailingRef) {
				ref := mark
				o.TrailingRef = &ref
			}
		}
		if fire {
			due = append(due, o)
		} else {
			kept = append(kept, o)
		}
	}
	m.trailing = kept
	return due
}

// resolveTrigger submits the underlying order for a stop order whose trigger
// fired (or whose expiry strategy is submit-at-expiry). The stop order ends
// Triggered, or Rejected when the reduce-only check or the book turns the
// order down.
func (m *market) resolveTrigger(o *StopOrder, dueThisPass map[string]struct{}, at time.Time) {
	size := o.Size
	if m.cfg.positions != nil {
		available := m.reduceOnlyQuantity(o)
		if !available.IsPositive() {
			m.transition(o, StatusRejected, "Rejected: reduce only: no open position to reduce", at)
			m.settleSibling(o, dueThisPass, at)
			return
		}
		if available.LessThan(size) {
			size = available
		}
	}

	sub := &OrderSubmission{
		OrderID:     xid.New().String(),
		MarketID:    m.marketID,
		Party:       o.Party,
		Side:        o.Side,
		Type:        o.OrderType,
		Size:        size,
		TimeInForce: o.TimeInForce,
		ReduceOnly:  true,
	}
	if o.OrderType == Limit {
		sub.Price = o.LimitPrice
	}

	result, err := m.cfg.trade.SubmitOrder(sub)
	switch {
	case err != nil:
		m.transition(o, StatusRejected, "Rejected: "+err.Error(), at)
	case !result.Accepted:
		m.transition(o, StatusRejected, "Rejected: "+result.Reason, at)
	default:
		o.ResultingOrderID = result.OrderID
		m.transition(o, StatusTriggered, "", at)
	}
	m.settleSibling(o, dueThisPass, at)
}

// resolveExpiry handles a stop order whose expiry elapsed without its trigger
// firing. The transition is recorded at the expiry timestamp itself, not the
// evaluation time.
func (m *market) resolveExpiry(o *StopOrder, dueThisPass map[string]struct{}, now time.Time) {
	at := now
	if o.Expiry != nil {
		at = *o.Expiry
	}
	if o.ExpiryStrategy == ExpirySubmit {
		m.resolveTrigger(o, dueThisPass, at)
		return
	}
	m.transition(o, StatusExpired, "Expired: not triggered before expiry", at)
	m.settleSibling(o, dueThisPass, at)
}

// reduceOnlyQuantity returns how much of the party's open position the stop
// order may close: the position size when it is held on the opposite side,
// zero otherwise.
func (m *market) reduceOnlyQuantity(o *StopOrder) decimal.Decimal {
	pos, found := m.cfg.positions.Position(o.Party, m.marketID)
	if !found || pos.Side != o.Side.Opposite() {
		return decimal.Zero
	}
	return pos.Size
}

// transition moves a pending order into a terminal status, removes it from
// the evaluation indexes and publishes the corresponding event. Orders that
// are already terminal are left untouched.
func (m *market) transition(o *StopOrder, status Status, reason string, at time.Time) {
	if o.Status.IsTerminal() {
		return
	}
	final := status
	if o.OCOLinkID != "" && status != StatusStoppedOCO {
		final = ocoVariant(status)
	}
	o.Status = final
	o.Reason = reason
	o.UpdatedAt = at

	m.deindex(o)
	if m.active[o.Party] > 1 {
		m.active[o.Party]--
	} else {
		delete(m.active, o.Party)
	}
	m.publishEvent(eventTypeFor(final), o, at)
}

// deindex removes an order from whichever evaluation indexes still hold it.
// Safe to call for orders an evaluation pass has already popped.
func (m *market) deindex(o *StopOrder) {
	if o.Trigger.IsTrailing() {
		for i, cur := range m.trailing {
			if cur.ID == o.ID {
				m.trailing = append(m.trailing[:i], m.trailing[i+1:]...)
				break
			}
		}
	} else if o.Trigger.Direction == RisesAbove {
		m.rises.remove(o)
	} else {
		m.falls.remove(o)
	}
	m.expiries.remove(o)
}

func eventTypeFor(status Status) EventType {
	switch status {
	case StatusTriggered, StatusTriggeredOCO:
		return EventTriggered
	case StatusRejected, StatusRejectedOCO:
		return EventRejected
	case StatusCancelled, StatusCancelledOCO:
		return EventCancelled
	case StatusExpired, StatusExpiredOCO:
		return EventExpired
	case StatusStoppedOCO:
		return EventStopped
	default:
		return EventSubmitted
	}
}

func (m *market) publishEvent(eventType EventType, o *StopOrder, at time.Time) {
	m.cfg.publisher.Publish(&StopOrderEvent{
		Type:             eventType,
		StopOrderID:      o.ID,
		MarketID:         o.MarketID,
		Party:            o.Party,
		Status:           o.Status,
		Reason:           o.Reason,
		ResultingOrderID: o.ResultingOrderID,
		OCOLinkID:        o.OCOLinkID,
		At:               at,
	})
}
