package domain

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type Side int

const (
	Side_Bid Side = iota
	Side_Ask
)

func (s Side) String() string {
	if s == Side_Ask {
		return "ask"
	}
	return "bid"
}

type ApplyResult int

const (
	ApplyResult_Applied ApplyResult = iota
	ApplyResult_Stale
	ApplyResult_OutOfOrder
)

func (r ApplyResult) String() string {
	switch r {
	case ApplyResult_Applied:
		return "applied"
	case ApplyResult_Stale:
		return "stale"
	case ApplyResult_OutOfOrder:
		return "out_of_order"
	default:
		return "unknown"
	}
}

// OrderBookSide maps price to level. Levels with non-positive quantity are never stored.
type OrderBookSide struct {
	levels     map[string]PriceLevel
	descending bool
}

func newOrderBookSide(descending bool) *OrderBookSide {
	return &OrderBookSide{
		levels:     make(map[string]PriceLevel),
		descending: descending,
	}
}

func (s *OrderBookSide) reset(levels []PriceLevel) {
	s.levels = make(map[string]PriceLevel, len(levels))
	for _, level := range levels {
		s.apply(level)
	}
}

func (s *OrderBookSide) apply(level PriceLevel) {
	if !level.Quantity.IsPositive() {
		delete(s.levels, level.key())
		return
	}
	s.levels[level.key()] = level
}

func (s *OrderBookSide) Len() int {
	return len(s.levels)
}

func (s *OrderBookSide) best() (PriceLevel, bool) {
	var (
		best  PriceLevel
		found bool
	)
	for _, level := range s.levels {
		if !found || s.before(level, best) {
			best = level
			found = true
		}
	}
	return best, found
}

// top returns up to n levels in read-out order; n <= 0 returns every level.
func (s *OrderBookSide) top(n int) []PriceLevel {
	levels := make([]PriceLevel, 0, len(s.levels))
	for _, level := range s.levels {
		levels = append(levels, level)
	}

	sort.Slice(levels, func(i, j int) bool {
		return s.before(levels[i], levels[j])
	})

	if n > 0 && len(levels) > n {
		return levels[:n]
	}
	return levels
}

func (s *OrderBookSide) before(a, b PriceLevel) bool {
	if s.descending {
		return a.Price.GreaterThan(b.Price)
	}
	return a.Price.LessThan(b.Price)
}

// OrderBook is one symbol's local book. It expects a single writer;
// the lock only protects concurrent readers.
type OrderBook struct {
	Symbol string

	bids         *OrderBookSide
	asks         *OrderBookSide
	lastUpdateID int64
	updatedAt    time.Time
	seeded       bool

	validator DepthUpdateValidator
	now       func() time.Time
	mu        sync.RWMutex
}

func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol:    symbol,
		bids:      newOrderBookSide(true),
		asks:      newOrderBookSide(false),
		validator: SequenceValidator{},
		now:       time.Now,
	}
}

// Seed replaces the whole book with the snapshot.
func (ob *OrderBook) Seed(snapshot *OrderBookSnapshot) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.bids.reset(snapshot.Bids)
	ob.asks.reset(snapshot.Asks)
	ob.lastUpdateID = snapshot.LastUpdateID
	ob.updatedAt = ob.now()
	ob.seeded = true
}

// Reset drops all levels; the book rejects diffs until seeded again.
func (ob *OrderBook) Reset() {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.bids.reset(nil)
	ob.asks.reset(nil)
	ob.lastUpdateID = 0
	ob.seeded = false
}

func (ob *OrderBook) IsSeeded() bool {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.seeded
}

func (ob *OrderBook) LastUpdateID() int64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.lastUpdateID
}

func (ob *OrderBook) UpdatedAt() time.Time {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.updatedAt
}

// ApplyDiff applies the diff only if it continues the book's update-id sequence.
// Stale and out-of-order diffs leave the book untouched.
func (ob *OrderBook) ApplyDiff(diff *DiffMessage) ApplyResult {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	if !ob.seeded {
		return ApplyResult_OutOfOrder
	}

	switch ob.validator.IsValidUpd(diff, ob.lastUpdateID) {
	case ErrUpdateOutdated:
		return ApplyResult_Stale
	case ErrUpdateOutOfSequence:
		return ApplyResult_OutOfOrder
	}

	for _, level := range diff.BidChanges {
		ob.bids.apply(level)
	}
	for _, level := range diff.AskChanges {
		ob.asks.apply(level)
	}

	ob.lastUpdateID = diff.FinalUpdateID
	ob.updatedAt = ob.now()

	return ApplyResult_Applied
}

// TopLevels returns bids descending or asks ascending, at most n of them.
func (ob *OrderBook) TopLevels(side Side, n int) []PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	return ob.side(side).top(n)
}

func (ob *OrderBook) Depth(side Side) int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	return ob.side(side).Len()
}

// Spread returns best ask minus best bid; false if either side is empty.
func (ob *OrderBook) Spread() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	return ob.spread()
}

func (ob *OrderBook) spread() (decimal.Decimal, bool) {
	bid, ok := ob.bids.best()
	if !ok {
		return decimal.Zero, false
	}
	ask, ok := ob.asks.best()
	if !ok {
		return decimal.Zero, false
	}

	return ask.Price.Sub(bid.Price), true
}

func (ob *OrderBook) TakeSnapshot(limit int) *OrderBookSnapshot {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	snapshot := &OrderBookSnapshot{
		Source:       OrderBookSource_LocalOrderBook,
		Symbol:       ob.Symbol,
		LastUpdateID: ob.lastUpdateID,
		Bids:         ob.bids.top(limit),
		Asks:         ob.asks.top(limit),
		UpdatedAt:    ob.updatedAt,
	}

	if bid, ok := ob.bids.best(); ok {
		snapshot.BestBid = decimal.NewNullDecimal(bid.Price)
	}
	if ask, ok := ob.asks.best(); ok {
		snapshot.BestAsk = decimal.NewNullDecimal(ask.Price)
	}
	if spread, ok := ob.spread(); ok {
		snapshot.Spread = decimal.NewNullDecimal(spread)
	}

	return snapshot
}

func (ob *OrderBook) side(side Side) *OrderBookSide {
	if side == Side_Ask {
		return ob.asks
	}
	return ob.bids
}
