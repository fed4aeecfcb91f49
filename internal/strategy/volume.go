// Package strategy decides order placement from book state. The rule:
// join the deeper side of the top of book, and once the entry fills,
// rest an exit on the opposite side that captures the spread observed
// at entry time.
package strategy

import (
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/arda-arslan/cryptobot/internal/book"
	"github.com/arda-arslan/cryptobot/internal/obs"
	"github.com/arda-arslan/cryptobot/internal/oms"
	"github.com/arda-arslan/cryptobot/internal/schema"
)

// OrderPlacer is the slice of the order manager the strategy needs.
type OrderPlacer interface {
	Submit(product schema.Product, side schema.Side, price schema.Price, size schema.Quantity) (string, error)
	Cancel(clientOrderID string) error
	Order(clientOrderID string) (oms.Order, bool)
}

// Config tunes the placement rule.
type Config struct {
	// SizeFractionBps sizes the entry as this fraction of the target
	// side's best-level volume, in basis points.
	SizeFractionBps int64 `json:"sizeFractionBps"`
	// PriceTolerance keeps a resting entry that is within this distance
	// of the current best; further away it gets re-pegged.
	PriceTolerance schema.Price `json:"priceTolerance"`
	// MinOrderSize suppresses entries the venue would reject as dust.
	MinOrderSize schema.Quantity `json:"minOrderSize"`
	// DebounceMs rate-limits evaluation per product. Zero evaluates on
	// every book update.
	DebounceMs int64 `json:"debounceMs"`
}

// productState tracks the one working entry and its exits per product.
type productState struct {
	entryID    string
	entrySide  schema.Side
	entryPrice schema.Price
	// spread is the top-of-book spread when the entry was placed; the
	// exit is priced to capture it.
	spread   schema.Price
	exitIDs  map[string]struct{}
	lastEval time.Time
}

// Strategy reacts to book updates and order events. Both entry points
// are safe for concurrent use, though the coordinator serializes them.
type Strategy struct {
	cfg     Config
	books   *book.Engine
	orders  OrderPlacer
	metrics *obs.Metrics

	mu    sync.Mutex
	state map[schema.Product]*productState
}

// New builds a strategy over the given book engine and order manager.
func New(cfg Config, books *book.Engine, orders OrderPlacer, metrics *obs.Metrics) *Strategy {
	return &Strategy{
		cfg:     cfg,
		books:   books,
		orders:  orders,
		metrics: metrics,
		state:   make(map[schema.Product]*productState),
	}
}

func (s *Strategy) productStateLocked(product schema.Product) *productState {
	ps, ok := s.state[product]
	if !ok {
		ps = &productState{exitIDs: make(map[string]struct{})}
		s.state[product] = ps
	}
	return ps
}

// OnBookUpdate re-evaluates placement for the updated product.
func (s *Strategy) OnBookUpdate(u book.Update) {
	start := time.Now()
	defer func() { s.metrics.ObserveStrategyEval(time.Since(start)) }()

	bid, ask, ok := s.books.Top(u.Product)
	if !ok {
		return
	}

	s.mu.Lock()
	ps := s.productStateLocked(u.Product)
	if s.cfg.DebounceMs > 0 {
		if start.Sub(ps.lastEval) < time.Duration(s.cfg.DebounceMs)*time.Millisecond {
			s.mu.Unlock()
			return
		}
	}
	ps.lastEval = start
	entryID := ps.entryID
	s.mu.Unlock()

	// Equal volume carries no signal; whatever rests stays.
	if bid.Size == ask.Size {
		return
	}

	var side schema.Side
	var best schema.Price
	var targetVol, opposingVol schema.Quantity
	if bid.Size > ask.Size {
		side, best = schema.SideBuy, bid.Price
		targetVol, opposingVol = bid.Size, ask.Size
	} else {
		side, best = schema.SideSell, ask.Price
		targetVol, opposingVol = ask.Size, bid.Size
	}

	size := schema.Quantity(int64(targetVol) * s.cfg.SizeFractionBps / 10000)
	if size > opposingVol {
		size = opposingVol
	}
	if size < s.cfg.MinOrderSize || size <= 0 {
		return
	}

	// Cancels and submits reach the wire; they run with the lock
	// released, same as the exit placement in OnOrderEvent.
	if entryID != "" {
		ord, exists := s.orders.Order(entryID)
		if exists && ord.Side == side && within(ord.Price, best, s.cfg.PriceTolerance) {
			return
		}
		if exists {
			if err := s.orders.Cancel(entryID); err != nil {
				logs.Errorf("strategy: cancel stale entry %s: %v", entryID, err)
				return
			}
		}
		s.mu.Lock()
		if ps.entryID == entryID {
			ps.entryID = ""
		}
		s.mu.Unlock()
	}

	id, err := s.orders.Submit(u.Product, side, best, size)
	if err != nil {
		if !errors.Is(err, oms.ErrRiskRejected) {
			logs.Errorf("strategy: entry submit failed: %v", err)
		}
		return
	}
	s.mu.Lock()
	ps.entryID = id
	ps.entrySide = side
	ps.entryPrice = best
	ps.spread = ask.Price - bid.Price
	spread := ps.spread
	s.mu.Unlock()
	logs.Infof("strategy: entry %s %s %d @ %d (spread %d)", id, side, size, best, spread)
}

// OnOrderEvent tracks entry fills and plants the spread-capture exit.
func (s *Strategy) OnOrderEvent(e oms.Event) {
	s.mu.Lock()
	ps := s.productStateLocked(e.Order.Product)

	if _, isExit := ps.exitIDs[e.Order.ClientOrderID]; isExit {
		if e.Order.Status.Terminal() {
			delete(ps.exitIDs, e.Order.ClientOrderID)
		}
		s.mu.Unlock()
		return
	}
	if e.Order.ClientOrderID != ps.entryID {
		s.mu.Unlock()
		return
	}

	switch e.Type {
	case oms.EventFill:
		exitSide := ps.entrySide.Opposite()
		exitPrice := ps.entryPrice + ps.spread
		if ps.entrySide == schema.SideSell {
			exitPrice = ps.entryPrice - ps.spread
		}
		qty := e.FillQty
		if e.Order.Status.Terminal() {
			ps.entryID = ""
		}
		s.mu.Unlock()

		id, err := s.orders.Submit(e.Order.Product, exitSide, exitPrice, qty)
		if err != nil {
			logs.Errorf("strategy: exit submit failed: %v", err)
			return
		}
		s.mu.Lock()
		ps.exitIDs[id] = struct{}{}
		s.mu.Unlock()
		logs.Infof("strategy: exit %s %s %d @ %d", id, exitSide, qty, exitPrice)
		return

	case oms.EventCanceled, oms.EventRejected:
		ps.entryID = ""
	}
	s.mu.Unlock()
}

// within reports whether a is within tol of b.
func within(a, b, tol schema.Price) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d <= tol
}
