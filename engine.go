package stoporder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

// engineConfig carries the collaborators and tunables shared by all market
// actors.
type engineConfig struct {
	trade             TradeEngine
	positions         PositionService
	publisher         Publisher
	clock             Clock
	maxActivePerParty int
	minLimitPrice     decimal.Decimal
	sweepInterval     time.Duration
}

// Option configures the engine.
type Option func(*engineConfig)

// WithPublisher sets the lifecycle event publisher. Defaults to discarding
// events.
func WithPublisher(p Publisher) Option {
	return func(cfg *engineConfig) {
		if p != nil {
			cfg.publisher = p
		}
	}
}

// WithClock sets the time source used for expiry checks and transition
// timestamps. Defaults to the system clock in UTC.
func WithClock(c Clock) Option {
	return func(cfg *engineConfig) {
		if c != nil {
			cfg.clock = c
		}
	}
}

// WithMaxActivePerParty overrides the cap on active stop orders per party per
// market.
func WithMaxActivePerParty(n int) Option {
	return func(cfg *engineConfig) {
		if n > 0 {
			cfg.maxActivePerParty = n
		}
	}
}

// WithMinLimitPrice overrides the minimum accepted limit price tick.
func WithMinLimitPrice(min decimal.Decimal) Option {
	return func(cfg *engineConfig) {
		if min.IsPositive() {
			cfg.minLimitPrice = min
		}
	}
}

// WithExpirySweepInterval makes every market re-run its evaluation pass at
// the given interval, so expiries fire even when no price tick arrives. Zero
// disables time-driven sweeps; expiries are then only checked on price ticks.
func WithExpirySweepInterval(interval time.Duration) Option {
	return func(cfg *engineConfig) {
		if interval > 0 {
			cfg.sweepInterval = interval
		}
	}
}

// Engine manages stop orders across markets. Each market gets its own actor
// goroutine; the engine validates submissions and routes commands to the
// right market.
type Engine struct {
	isShutdown atomic.Bool
	markets    sync.Map // marketID -> *market
	orderIndex sync.Map // stop order id -> marketID
	cfg        *engineConfig
}

// NewEngine creates a stop-order engine on top of the given trade engine.
// A nil position service disables the reduce-only constraint.
func NewEngine(trade TradeEngine, positions PositionService, opts ...Option) *Engine {
	cfg := &engineConfig{
		trade:             trade,
		positions:         positions,
		publisher:         NewDiscardPublisher(),
		clock:             systemClock{},
		maxActivePerParty: DefaultMaxActivePerParty,
		minLimitPrice:     decimal.New(1, -5), // 0.00001
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return &Engine{cfg: cfg}
}

// AddMarket creates and starts the actor for a market. Adding an existing
// market is a no-op.
func (engine *Engine) AddMarket(marketID string) error {
	if engine.isShutdown.Load() {
		return ErrShutdown
	}
	if marketID == "" {
		return fmt.Errorf("%w: market id is required", ErrValidation)
	}
	if _, exists := engine.markets.Load(marketID); exists {
		logger.Warn("market already exists", "market_id", marketID)
		return nil
	}

	mkt := newMarket(marketID, engine.cfg)
	engine.markets.Store(marketID, mkt)
	go func() {
		_ = mkt.Start()
	}()
	if engine.cfg.sweepInterval > 0 {
		go mkt.runSweeper(engine.cfg.sweepInterval)
	}
	return nil
}

// market retrieves the actor for a market id, or nil when it does not exist.
func (engine *Engine) market(marketID string) *market {
	value, found := engine.markets.Load(marketID)
	if !found {
		return nil
	}
	mkt, _ := value.(*market)
	return mkt
}

// SubmitStopOrder validates and places a single stop order. Validation and
// limit errors are synchronous; once accepted, the returned order is Pending
// and all later failures surface as terminal statuses on it.
func (engine *Engine) SubmitStopOrder(ctx context.Context, sub *StopOrderSubmission) (*StopOrder, error) {
	if engine.isShutdown.Load() {
		return nil, ErrShutdown
	}
	if err := validateSubmission(sub, engine.cfg.minLimitPrice); err != nil {
		return nil, err
	}
	mkt := engine.market(sub.MarketID)
	if mkt == nil {
		return nil, ErrNotFound
	}

	resp := make(chan any, 1)
	if err := mkt.enqueue(ctx, marketCommand{Type: cmdSubmit, Payload: sub, Resp: resp}); err != nil {
		return nil, err
	}
	res, err := awaitReply(ctx, resp)
	if err != nil {
		return nil, err
	}
	result, ok := res.(*submitResult)
	if !ok {
		return nil, ErrInternal
	}
	if result.err != nil {
		return nil, result.err
	}
	engine.orderIndex.Store(result.order.ID, sub.MarketID)
	return result.order, nil
}

// SubmitStopOrderPair validates and places a one-cancels-other pair. Both
// legs must target the same market and party; both start PendingOCO.
func (engine *Engine) SubmitStopOrderPair(ctx context.Context, a, b *StopOrderSubmission) (*StopOrder, *StopOrder, error) {
	if engine.isShutdown.Load() {
		return nil, nil, ErrShutdown
	}
	if err := validateSubmission(a, engine.cfg.minLimitPrice); err != nil {
		return nil, nil, err
	}
	if err := validateSubmission(b, engine.cfg.minLimitPrice); err != nil {
		return nil, nil, err
	}
	if err := validatePair(a, b); err != nil {
		return nil, nil, err
	}
	mkt := engine.market(a.MarketID)
	if mkt == nil {
		return nil, nil, ErrNotFound
	}

	resp := make(chan any, 1)
	if err := mkt.enqueue(ctx, marketCommand{Type: cmdSubmitPair, Payload: [2]*StopOrderSubmission{a, b}, Resp: resp}); err != nil {
		return nil, nil, err
	}
	res, err := awaitReply(ctx, resp)
	if err != nil {
		return nil, nil, err
	}
	result, ok := res.(*pairResult)
	if !ok {
		return nil, nil, ErrInternal
	}
	if result.err != nil {
		return nil, nil, result.err
	}
	engine.orderIndex.Store(result.a.ID, a.MarketID)
	engine.orderIndex.Store(result.b.ID, a.MarketID)
	return result.a, result.b, nil
}

// CancelStopOrder cancels a pending stop order by id. Cancelling an order
// that already left its pending state fails with ErrInvalidState. Cancelling
// one leg of an OCO pair forces the sibling to StoppedOCO.
func (engine *Engine) CancelStopOrder(ctx context.Context, id string) (*StopOrder, error) {
	if engine.isShutdown.Load() {
		return nil, ErrShutdown
	}
	value, found := engine.orderIndex.Load(id)
	if !found {
		return nil, fmt.Errorf("%w: stop order %q", ErrNotFound, id)
	}
	marketID, _ := value.(string)
	mkt := engine.market(marketID)
	if mkt == nil {
		return nil, ErrNotFound
	}

	resp := make(chan any, 1)
	if err := mkt.enqueue(ctx, marketCommand{Type: cmdCancel, Payload: id, Resp: resp}); err != nil {
		return nil, err
	}
	res, err := awaitReply(ctx, resp)
	if err != nil {
		return nil, err
	}
	result, ok := res.(*cancelResult)
	if !ok {
		return nil, ErrInternal
	}
	return result.order, result.err
}

// ListStopOrders returns a snapshot of a party's stop orders, optionally
// restricted to one market. An empty party matches every party.
func (engine *Engine) ListStopOrders(ctx context.Context, party, marketID string) ([]*StopOrder, error) {
	if marketID != "" {
		mkt := engine.market(marketID)
		if mkt == nil {
			return nil, ErrNotFound
		}
		return engine.listMarket(ctx, mkt, party)
	}

	var orders []*StopOrder
	var listErr error
	engine.markets.Range(func(_, value any) bool {
		mkt, _ := value.(*market)
		marketOrders, err := engine.listMarket(ctx, mkt, party)
		if err != nil {
			listErr = err
			return false
		}
		orders = append(orders, marketOrders...)
		return true
	})
	if listErr != nil {
		return nil, listErr
	}
	return orders, nil
}

func (engine *Engine) listMarket(ctx context.Context, mkt *market, party string) ([]*StopOrder, error) {
	resp := make(chan any, 1)
	if err := mkt.enqueue(ctx, marketCommand{Type: cmdList, Payload: &listRequest{party: party}, Resp: resp}); err != nil {
		return nil, err
	}
	res, err := awaitReply(ctx, resp)
	if err != nil {
		return nil, err
	}
	orders, ok := res.([]*StopOrder)
	if !ok {
		return nil, ErrInternal
	}
	return orders, nil
}

// MarkPrice feeds a new mark price tick into a market, running one evaluation
// pass over all its pending stop orders. Returns once the tick is enqueued;
// the pass itself runs on the market's actor loop.
func (engine *Engine) MarkPrice(ctx context.Context, marketID string, price decimal.Decimal) error {
	if engine.isShutdown.Load() {
		return ErrShutdown
	}
	if !price.IsPositive() {
		return fmt.Errorf("%w: mark price must be positive", ErrValidation)
	}
	mkt := engine.market(marketID)
	if mkt == nil {
		return ErrNotFound
	}
	return mkt.enqueue(ctx, marketCommand{Type: cmdMarkPrice, Payload: price})
}

// Shutdown gracefully shuts down all market actors. It blocks until every
// actor drained its queue or the context is cancelled.
func (engine *Engine) Shutdown(ctx context.Context) error {
	engine.isShutdown.Store(true)

	var wg sync.WaitGroup
	var errs []error
	var errMu sync.Mutex

	engine.markets.Range(func(_, value any) bool {
		wg.Add(1)
		go func(mkt *market) {
			defer wg.Done()
			if err := mkt.Shutdown(ctx); err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
		}(value.(*market))
		return true
	})
	wg.Wait()

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// awaitReply waits for the actor loop's response to a synchronous command.
func awaitReply(ctx context.Context, resp chan any) (any, error) {
	select {
	case res := <-resp:
		return res, nil
	case <-ctx.Done():
		return nil, ErrTimeout
	case <-time.After(5 * time.Second):
		return nil, ErrTimeout
	}
}

// validateSubmission checks the submission-time invariants. Failures are
// wrapped ErrValidation errors surfaced synchronously to the caller; nothing
// is created.
func validateSubmission(sub *StopOrderSubmission, minLimitPrice decimal.Decimal) error {
	if sub == nil {
		return fmt.Errorf("%w: submission is nil", ErrValidation)
	}
	if sub.MarketID == "" {
		return fmt.Errorf("%w: market id is required", ErrValidation)
	}
	if sub.Party == "" {
		return fmt.Errorf("%w: party is required", ErrValidation)
	}
	if sub.Side != Buy && sub.Side != Sell {
		return fmt.Errorf("%w: side is required", ErrValidation)
	}
	if !sub.Size.IsPositive() {
		return fmt.Errorf("%w: size must be positive", ErrValidation)
	}
	if sub.Trigger.Direction != RisesAbove && sub.Trigger.Direction != FallsBelow {
		return fmt.Errorf("%w: trigger direction is required", ErrValidation)
	}
	if sub.Trigger.IsTrailing() {
		if !sub.Trigger.Price.IsZero() {
			return fmt.Errorf("%w: trigger price and trailing offset are mutually exclusive", ErrValidation)
		}
		if sub.Trigger.TrailingPercentOffset.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: trailing offset must be below 100 percent", ErrValidation)
		}
	} else if !sub.Trigger.Price.IsPositive() {
		return fmt.Errorf("%w: trigger price must be positive", ErrValidation)
	}

	switch sub.OrderType {
	case Limit:
		if !sub.LimitPrice.IsPositive() {
			return fmt.Errorf("%w: limit price is required for limit orders", ErrValidation)
		}
		if sub.LimitPrice.LessThan(minLimitPrice) {
			return fmt.Errorf("%w: limit price is below the minimum of %s", ErrValidation, minLimitPrice)
		}
	case Market:
		// no limit price to validate
	default:
		return fmt.Errorf("%w: order type must be market or limit", ErrValidation)
	}

	switch sub.TimeInForce {
	case GTC, IOC, FOK, "":
	default:
		return fmt.Errorf("%w: unsupported time in force %q", ErrValidation, sub.TimeInForce)
	}

	if sub.Expiry != nil {
		switch sub.ExpiryStrategy {
		case ExpirySubmit, ExpiryCancel, "":
		default:
			return fmt.Errorf("%w: unsupported expiry strategy %q", ErrValidation, sub.ExpiryStrategy)
		}
	}
	return nil
}
