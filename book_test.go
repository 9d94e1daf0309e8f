package stoporder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimulatedBook(t *testing.T) {
	market1 := "BTC-USDT"

	t.Run("FOKNoLiquidity", func(t *testing.T) {
		book := NewSimulatedBook()

		result, err := book.SubmitOrder(&OrderSubmission{
			OrderID:     "order1",
			MarketID:    market1,
			Party:       "alice",
			Side:        Buy,
			Type:        Market,
			Size:        d("2"),
			TimeInForce: FOK,
		})
		assert.NoError(t, err)
		assert.False(t, result.Accepted)
		assert.Equal(t, "no liquidity to fill order", result.Reason)
	})

	t.Run("FOKPartialLiquidity", func(t *testing.T) {
		book := NewSimulatedBook()
		book.AddLiquidity(market1, Sell, d("100"), d("1"))

		result, err := book.SubmitOrder(&OrderSubmission{
			OrderID:     "order1",
			MarketID:    market1,
			Party:       "alice",
			Side:        Buy,
			Type:        Market,
			Size:        d("2"),
			TimeInForce: FOK,
		})
		assert.NoError(t, err)
		assert.False(t, result.Accepted)
		assert.Equal(t, "cannot be fully filled", result.Reason)
	})

	t.Run("FOKFullFillConsumesBook", func(t *testing.T) {
		book := NewSimulatedBook()
		book.AddLiquidity(market1, Sell, d("100"), d("2"))

		result, err := book.SubmitOrder(&OrderSubmission{
			OrderID:     "order1",
			MarketID:    market1,
			Party:       "alice",
			Side:        Buy,
			Type:        Market,
			Size:        d("2"),
			TimeInForce: FOK,
		})
		assert.NoError(t, err)
		assert.True(t, result.Accepted)

		// liquidity is gone now
		result, err = book.SubmitOrder(&OrderSubmission{
			OrderID:     "order2",
			MarketID:    market1,
			Party:       "alice",
			Side:        Buy,
			Type:        Market,
			Size:        d("1"),
			TimeInForce: FOK,
		})
		assert.NoError(t, err)
		assert.False(t, result.Accepted)
	})

	t.Run("LimitRespectsPriceBound", func(t *testing.T) {
		book := NewSimulatedBook()
		book.AddLiquidity(market1, Sell, d("105"), d("5"))

		// buy limit 100 cannot cross an ask at 105
		result, err := book.SubmitOrder(&OrderSubmission{
			OrderID:     "order1",
			MarketID:    market1,
			Party:       "alice",
			Side:        Buy,
			Type:        Limit,
			Price:       d("100"),
			Size:        d("1"),
			TimeInForce: FOK,
		})
		assert.NoError(t, err)
		assert.False(t, result.Accepted)

		result, err = book.SubmitOrder(&OrderSubmission{
			OrderID:     "order2",
			MarketID:    market1,
			Party:       "alice",
			Side:        Buy,
			Type:        Limit,
			Price:       d("105"),
			Size:        d("1"),
			TimeInForce: FOK,
		})
		assert.NoError(t, err)
		assert.True(t, result.Accepted)
	})

	t.Run("IOCFillsWhatItCan", func(t *testing.T) {
		book := NewSimulatedBook()
		book.AddLiquidity(market1, Buy, d("100"), d("1"))

		result, err := book.SubmitOrder(&OrderSubmission{
			OrderID:     "order1",
			MarketID:    market1,
			Party:       "alice",
			Side:        Sell,
			Type:        Market,
			Size:        d("3"),
			TimeInForce: IOC,
		})
		assert.NoError(t, err)
		assert.True(t, result.Accepted)
	})

	t.Run("GTCLimitRestsRemainder", func(t *testing.T) {
		book := NewSimulatedBook()

		// nothing to cross, the full size rests
		result, err := book.SubmitOrder(&OrderSubmission{
			OrderID:     "order1",
			MarketID:    market1,
			Party:       "alice",
			Side:        Buy,
			Type:        Limit,
			Price:       d("100"),
			Size:        d("2"),
			TimeInForce: GTC,
		})
		assert.NoError(t, err)
		assert.True(t, result.Accepted)

		// the rested bid now fills an incoming sell
		result, err = book.SubmitOrder(&OrderSubmission{
			OrderID:     "order2",
			MarketID:    market1,
			Party:       "bob",
			Side:        Sell,
			Type:        Market,
			Size:        d("2"),
			TimeInForce: FOK,
		})
		assert.NoError(t, err)
		assert.True(t, result.Accepted)
	})

	t.Run("MarginCheck", func(t *testing.T) {
		book := NewSimulatedBook()
		book.AddLiquidity(market1, Sell, d("100"), d("10"))
		book.SetCollateral("alice", d("500"))

		result, err := book.SubmitOrder(&OrderSubmission{
			OrderID:     "order1",
			MarketID:    market1,
			Party:       "alice",
			Side:        Buy,
			Type:        Market,
			Size:        d("6"), // notional 600 > 500
			TimeInForce: FOK,
		})
		assert.NoError(t, err)
		assert.False(t, result.Accepted)
		assert.Equal(t, "margin check failed", result.Reason)

		result, err = book.SubmitOrder(&OrderSubmission{
			OrderID:     "order2",
			MarketID:    market1,
			Party:       "alice",
			Side:        Buy,
			Type:        Market,
			Size:        d("5"),
			TimeInForce: FOK,
		})
		assert.NoError(t, err)
		assert.True(t, result.Accepted)
	})
}

func TestMemoryTradeEngine(t *testing.T) {
	engine := NewMemoryTradeEngine()
	engine.RejectNext("margin check failed")

	result, err := engine.SubmitOrder(&OrderSubmission{OrderID: "order1"})
	assert.NoError(t, err)
	assert.False(t, result.Accepted)
	assert.Equal(t, "margin check failed", result.Reason)

	result, err = engine.SubmitOrder(&OrderSubmission{OrderID: "order2"})
	assert.NoError(t, err)
	assert.True(t, result.Accepted)

	assert.Equal(t, 2, engine.Count())
	assert.Equal(t, "order1", engine.Get(0).OrderID)
}
