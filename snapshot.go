package stoporder

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MarketSnapshot is a point-in-time copy of a single market's stop-order
// state, taken on the actor loop so it is internally consistent. It carries
// every order the market still knows about, terminal ones included, so a
// restored engine serves the same listings as the original.
type MarketSnapshot struct {
	SchemaVersion int              `json:"schema_version"`
	MarketID      string           `json:"market_id"`
	LastMark      *decimal.Decimal `json:"last_mark,omitempty"`
	Orders        []*StopOrder     `json:"orders"`
	TakenAt       time.Time        `json:"taken_at"`
}

// createSnapshot copies the market state. Runs on the actor loop.
func (m *market) createSnapshot() *MarketSnapshot {
	snap := &MarketSnapshot{
		SchemaVersion: SnapshotSchemaVersion,
		MarketID:      m.marketID,
		Orders:        make([]*StopOrder, 0, len(m.orders)),
		TakenAt:       m.cfg.clock.Now(),
	}
	if m.hasMark {
		mark := m.lastMark
		snap.LastMark = &mark
	}
	for _, o := range m.orders {
		snap.Orders = append(snap.Orders, o.clone())
	}
	return snap
}

// restore rebuilds the market state from a snapshot. Must be called before
// the actor loop starts; pending orders are re-indexed without publishing
// submission events.
func (m *market) restore(snap *MarketSnapshot) error {
	if snap.SchemaVersion != SnapshotSchemaVersion {
		return fmt.Errorf("%w: unsupported snapshot schema version %d", ErrValidation, snap.SchemaVersion)
	}
	if snap.LastMark != nil {
		m.lastMark = *snap.LastMark
		m.hasMark = true
	}
	for _, o := range snap.Orders {
		restored := o.clone()
		m.orders[restored.ID] = restored
		if !restored.Status.IsPending() {
			continue
		}
		m.active[restored.Party]++
		if restored.Trigger.IsTrailing() {
			m.trailing = append(m.trailing, restored)
		} else if restored.Trigger.Direction == RisesAbove {
			m.rises.add(restored)
		} else {
			m.falls.add(restored)
		}
		m.expiries.add(restored)
	}
	return nil
}

// Snapshot captures a consistent snapshot of every market. Each market's
// snapshot is taken on its own actor loop, so a snapshot never observes a
// half-applied evaluation pass.
func (engine *Engine) Snapshot(ctx context.Context) ([]*MarketSnapshot, error) {
	var snapshots []*MarketSnapshot
	var snapErr error
	engine.markets.Range(func(_, value any) bool {
		mkt, _ := value.(*market)
		resp := make(chan any, 1)
		if err := mkt.enqueue(ctx, marketCommand{Type: cmdSnapshot, Resp: resp}); err != nil {
			snapErr = err
			return false
		}
		res, err := awaitReply(ctx, resp)
		if err != nil {
			snapErr = err
			return false
		}
		snap, ok := res.(*MarketSnapshot)
		if !ok {
			snapErr = ErrInternal
			return false
		}
		snapshots = append(snapshots, snap)
		return true
	})
	if snapErr != nil {
		return nil, snapErr
	}
	return snapshots, nil
}

// Restore rebuilds markets from snapshots and starts their actor loops.
// Markets that already exist on the engine cannot be restored over.
func (engine *Engine) Restore(snapshots []*MarketSnapshot) error {
	if engine.isShutdown.Load() {
		return ErrShutdown
	}
	for _, snap := range snapshots {
		if snap.MarketID == "" {
			return fmt.Errorf("%w: snapshot without market id", ErrValidation)
		}
		if _, exists := engine.markets.Load(snap.MarketID); exists {
			return fmt.Errorf("%w: market %q already exists", ErrValidation, snap.MarketID)
		}

		mkt := newMarket(snap.MarketID, engine.cfg)
		if err := mkt.restore(snap); err != nil {
			return fmt.Errorf("restore market %q: %w", snap.MarketID, err)
		}
		engine.markets.Store(snap.MarketID, mkt)
		for id := range mkt.orders {
			engine.orderIndex.Store(id, snap.MarketID)
		}
		go func() {
			_ = mkt.Start()
		}()
		if engine.cfg.sweepInterval > 0 {
			go mkt.runSweeper(engine.cfg.sweepInterval)
		}
		logger.Info("market restored",
			"market_id", snap.MarketID,
			"orders", len(mkt.orders),
			"taken_at", snap.TakenAt)
	}
	return nil
}
