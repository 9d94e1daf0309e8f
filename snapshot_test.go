package stoporder

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRestore(t *testing.T) {
	ctx := context.Background()
	market1 := "BTC-USDT"

	t.Run("RoundTrip", func(t *testing.T) {
		clock := newFakeClock(testStart)
		engine := NewEngine(NewMemoryTradeEngine(), nil, WithClock(clock))
		require.NoError(t, engine.AddMarket(market1))

		_, err := engine.SubmitStopOrder(ctx, marketSell(market1, "alice", "1", Trigger{Direction: FallsBelow, Price: d("102")}))
		require.NoError(t, err)
		expiry := testStart.Add(time.Hour)
		withExpiry := marketSell(market1, "alice", "2", Trigger{Direction: RisesAbove, Price: d("110")})
		withExpiry.Expiry = &expiry
		_, err = engine.SubmitStopOrder(ctx, withExpiry)
		require.NoError(t, err)

		cancelled, err := engine.SubmitStopOrder(ctx, marketSell(market1, "bob", "1", Trigger{Direction: FallsBelow, Price: d("95")}))
		require.NoError(t, err)
		_, err = engine.CancelStopOrder(ctx, cancelled.ID)
		require.NoError(t, err)

		require.NoError(t, engine.MarkPrice(ctx, market1, d("105")))
		before, err := engine.ListStopOrders(ctx, "", market1)
		require.NoError(t, err)

		snapshots, err := engine.Snapshot(ctx)
		require.NoError(t, err)
		require.Len(t, snapshots, 1)
		assert.Equal(t, SnapshotSchemaVersion, snapshots[0].SchemaVersion)
		assert.Len(t, snapshots[0].Orders, 3)
		require.NoError(t, engine.Shutdown(ctx))

		// snapshots survive serialization
		raw, err := json.Marshal(snapshots)
		require.NoError(t, err)
		var decoded []*MarketSnapshot
		require.NoError(t, json.Unmarshal(raw, &decoded))

		restored := NewEngine(NewMemoryTradeEngine(), nil, WithClock(clock))
		require.NoError(t, restored.Restore(decoded))
		defer restored.Shutdown(ctx)

		after, err := restored.ListStopOrders(ctx, "", market1)
		require.NoError(t, err)
		require.Len(t, after, len(before))
		for i := range before {
			assert.Equal(t, before[i].ID, after[i].ID)
			assert.Equal(t, before[i].Status, after[i].Status)
			assert.True(t, before[i].Size.Equal(after[i].Size))
		}
	})

	t.Run("RestoredOrdersKeepWorking", func(t *testing.T) {
		clock := newFakeClock(testStart)
		engine := NewEngine(NewMemoryTradeEngine(), nil, WithClock(clock))
		require.NoError(t, engine.AddMarket(market1))

		order, err := engine.SubmitStopOrder(ctx, marketSell(market1, "alice", "1", Trigger{Direction: FallsBelow, Price: d("102")}))
		require.NoError(t, err)

		snapshots, err := engine.Snapshot(ctx)
		require.NoError(t, err)
		require.NoError(t, engine.Shutdown(ctx))

		trade := NewMemoryTradeEngine()
		restored := NewEngine(trade, nil, WithClock(clock))
		require.NoError(t, restored.Restore(snapshots))
		defer restored.Shutdown(ctx)

		// the restored order still triggers and still counts against the cap
		require.NoError(t, restored.MarkPrice(ctx, market1, d("101")))
		orders, err := restored.ListStopOrders(ctx, "alice", market1)
		require.NoError(t, err)
		assert.Equal(t, StatusTriggered, orders[0].Status)
		assert.Equal(t, order.ID, orders[0].ID)
		assert.Equal(t, 1, trade.Count())
	})

	t.Run("RestoreOverExistingMarketFails", func(t *testing.T) {
		engine := NewEngine(NewMemoryTradeEngine(), nil)
		require.NoError(t, engine.AddMarket(market1))
		defer engine.Shutdown(ctx)

		err := engine.Restore([]*MarketSnapshot{{
			SchemaVersion: SnapshotSchemaVersion,
			MarketID:      market1,
		}})
		assert.ErrorIs(t, err, ErrValidation)
	})

	t.Run("UnknownSchemaVersion", func(t *testing.T) {
		engine := NewEngine(NewMemoryTradeEngine(), nil)
		defer engine.Shutdown(ctx)

		err := engine.Restore([]*MarketSnapshot{{
			SchemaVersion: SnapshotSchemaVersion + 1,
			MarketID:      market1,
		}})
		assert.ErrorIs(t, err, ErrValidation)
	})
}
