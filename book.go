package stoporder

import (
	"sync"

	"github.com/huandu/skiplist"
	"github.com/shopspring/decimal"
)

// TradeEngine is the order book collaborator. The lifecycle manager hands it
// the order synthesized on trigger and gets back the immediate accept/reject
// outcome. A returned error means the submission could not be delivered at
// all; a rejection is reported through OrderResult.
type TradeEngine interface {
	SubmitOrder(sub *OrderSubmission) (*OrderResult, error)
}

// MemoryTradeEngine accepts every order and records it, useful for testing.
// Rejections can be scripted with RejectNext.
type MemoryTradeEngine struct {
	mu          sync.Mutex
	submissions []*OrderSubmission
	rejections  []string
}

func NewMemoryTradeEngine() *MemoryTradeEngine {
	return &MemoryTradeEngine{}
}

// RejectNext makes the next submission fail with the given reason. Multiple
// calls queue up.
func (e *MemoryTradeEngine) RejectNext(reason string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rejections = append(e.rejections, reason)
}

func (e *MemoryTradeEngine) SubmitOrder(sub *OrderSubmission) (*OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.submissions = append(e.submissions, sub)
	if len(e.rejections) > 0 {
		reason := e.rejections[0]
		e.rejections = e.rejections[1:]
		return &OrderResult{OrderID: sub.OrderID, Accepted: false, Reason: reason}, nil
	}
	return &OrderResult{OrderID: sub.OrderID, Accepted: true}, nil
}

// Count returns the number of submissions received.
func (e *MemoryTradeEngine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.submissions)
}

// Get returns the submission at the specified index.
func (e *MemoryTradeEngine) Get(index int) *OrderSubmission {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.submissions[index]
}

// SimulatedBook is a minimal order book implementation of TradeEngine. It
// tracks aggregate resting liquidity per price level and fills Market, IOC
// and FOK orders against it, so triggered stop orders see realistic
// rejections (no liquidity, partial FOK fill, margin).
type SimulatedBook struct {
	mu         sync.Mutex
	markets    map[string]*bookMarket
	collateral map[string]decimal.Decimal
}

// bookMarket holds both sides of one market's book.
type bookMarket struct {
	bids *bookSide
	asks *bookSide
}

// bookSide is one side of the book: price levels with aggregate size, best
// price at the front.
type bookSide struct {
	levelList *skiplist.SkipList
	levels    map[string]*skiplist.Element
}

type bookLevel struct {
	price decimal.Decimal
	size  decimal.Decimal
}

// newBookSide creates a side whose best price sorts first: descending for
// bids, ascending for asks.
func newBookSide(side Side) *bookSide {
	cmp := skiplist.GreaterThanFunc(func(lhs, rhs any) int {
		d1, _ := lhs.(decimal.Decimal)
		d2, _ := rhs.(decimal.Decimal)
		c := d1.Cmp(d2)
		if side == Buy {
			return -c
		}
		return c
	})
	return &bookSide{
		levelList: skiplist.New(cmp),
		levels:    make(map[string]*skiplist.Element),
	}
}

func (s *bookSide) addLiquidity(price, size decimal.Decimal) {
	key := price.String()
	el, found := s.levels[key]
	if !found {
		el = s.levelList.Set(price, &bookLevel{price: price})
		s.levels[key] = el
	}
	level, _ := el.Value.(*bookLevel)
	level.size = level.size.Add(size)
}

// crossable sums the liquidity that an aggressive order of the given limit
// price could consume. A zero limit means a market order (no price bound).
func (s *bookSide) crossable(limit decimal.Decimal, aggressor Side) decimal.Decimal {
	total := decimal.Zero
	for el := s.levelList.Front(); el != nil; el = el.Next() {
		level, _ := el.Value.(*bookLevel)
		if !limit.IsZero() {
			if aggressor == Buy && level.price.GreaterThan(limit) {
				break
			}
			if aggressor == Sell && level.price.LessThan(limit) {
				break
			}
		}
		total = total.Add(level.size)
	}
	return total
}

// consume removes size from the front of the side. The caller has verified
// the liquidity is crossable.
func (s *bookSide) consume(size decimal.Decimal) {
	remaining := size
	for remaining.IsPositive() {
		el := s.levelList.Front()
		if el == nil {
			return
		}
		level, _ := el.Value.(*bookLevel)
		if level.size.GreaterThan(remaining) {
			level.size = level.size.Sub(remaining)
			return
		}
		remaining = remaining.Sub(level.size)
		s.levelList.Remove(level.price)
		delete(s.levels, level.price.String())
	}
}

func NewSimulatedBook() *SimulatedBook {
	return &SimulatedBook{
		markets:    make(map[string]*bookMarket),
		collateral: make(map[string]decimal.Decimal),
	}
}

func (b *SimulatedBook) market(marketID string) *bookMarket {
	m, found := b.markets[marketID]
	if !found {
		m = &bookMarket{bids: newBookSide(Buy), asks: newBookSide(Sell)}
		b.markets[marketID] = m
	}
	return m
}

// AddLiquidity rests aggregate maker size at a price level.
func (b *SimulatedBook) AddLiquidity(marketID string, side Side, price, size decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	m := b.market(marketID)
	if side == Buy {
		m.bids.addLiquidity(price, size)
	} else {
		m.asks.addLiquidity(price, size)
	}
}

// SetCollateral caps the notional a party may trade. Parties without an
// entry are unconstrained.
func (b *SimulatedBook) SetCollateral(party string, amount decimal.Decimal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.collateral[party] = amount
}

func (b *SimulatedBook) SubmitOrder(sub *OrderSubmission) (*OrderResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	m := b.market(sub.MarketID)
	target := m.asks
	own := m.bids
	if sub.Side == Sell {
		target = m.bids
		own = m.asks
	}

	limit := decimal.Zero
	if sub.Type == Limit {
		limit = sub.Price
	}

	available := target.crossable(limit, sub.Side)

	// Margin check against the best crossable price, before touching the book.
	if collateral, found := b.collateral[sub.Party]; found {
		ref := limit
		if ref.IsZero() {
			if el := target.levelList.Front(); el != nil {
				level, _ := el.Value.(*bookLevel)
				ref = level.price
			}
		}
		if ref.Mul(sub.Size).GreaterThan(collateral) {
			return &OrderResult{OrderID: sub.OrderID, Accepted: false, Reason: "margin check failed"}, nil
		}
	}

	switch sub.TimeInForce {
	case FOK:
		if available.LessThan(sub.Size) {
			reason := "cannot be fully filled"
			if available.IsZero() {
				reason = "no liquidity to fill order"
			}
			return &OrderResult{OrderID: sub.OrderID, Accepted: false, Reason: reason}, nil
		}
		target.consume(sub.Size)
	case IOC:
		if available.IsZero() {
			return &OrderResult{OrderID: sub.OrderID, Accepted: false, Reason: "no liquidity to fill order"}, nil
		}
		fill := decimal.Min(sub.Size, available)
		target.consume(fill)
	default:
		// GTC: fill what crosses and rest the remainder as maker liquidity.
		if sub.Type == Market {
			if available.IsZero() {
				return &OrderResult{OrderID: sub.OrderID, Accepted: false, Reason: "no liquidity to fill order"}, nil
			}
			target.consume(decimal.Min(sub.Size, available))
			break
		}
		fill := decimal.Min(sub.Size, available)
		target.consume(fill)
		if rest := sub.Size.Sub(fill); rest.IsPositive() {
			own.addLiquidity(sub.Price, rest)
		}
	}

	return &OrderResult{OrderID: sub.OrderID, Accepted: true}, nil
}
