package book

import (
	"sync"

	"github.com/arda-arslan/cryptobot/internal/schema"
)

// Options configures the engine.
type Options struct {
	// MaxDepth caps stored levels per side. Zero means unbounded.
	MaxDepth int
	// IgnoreCutoffBps drops stored levels further than this many basis
	// points from mid. Zero disables the cutoff.
	IgnoreCutoffBps int64
	// OnUpdate is invoked after every successful apply, outside the book
	// lock. It must not block.
	OnUpdate func(Update)
}

// Engine owns every product's book and is the only mutator of book state.
type Engine struct {
	mu    sync.RWMutex
	books map[schema.Product]*Book
	opts  Options
}

// NewEngine creates an engine with no books. Books are created lazily on
// the first snapshot or increment for a product.
func NewEngine(opts Options) *Engine {
	return &Engine{
		books: make(map[schema.Product]*Book),
		opts:  opts,
	}
}

func (e *Engine) book(product schema.Product) *Book {
	e.mu.RLock()
	b, ok := e.books[product]
	e.mu.RUnlock()
	if ok {
		return b
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok = e.books[product]; ok {
		return b
	}
	b = newBook(product, e.opts.MaxDepth, e.opts.IgnoreCutoffBps)
	e.books[product] = b
	return b
}

func (e *Engine) notify(product schema.Product, seq uint64) {
	if e.opts.OnUpdate != nil {
		e.opts.OnUpdate(Update{Product: product, Sequence: seq})
	}
}

// ApplySnapshot replaces the product's book wholesale and marks it Synced.
func (e *Engine) ApplySnapshot(product schema.Product, bids, asks []Level, seq uint64) {
	b := e.book(product)
	b.applySnapshot(bids, asks, seq)
	if b.State() == StateSynced {
		e.notify(product, seq)
	}
}

// ApplyIncrement applies one sequenced level change.
func (e *Engine) ApplyIncrement(product schema.Product, side schema.Side, price schema.Price, size schema.Quantity, seq uint64) Result {
	return e.ApplyChanges(product, []Change{{Side: side, Price: price, Size: size}}, seq)
}

// ApplyChanges applies every level change of one sequenced update
// atomically: one sequence advance, one notification.
func (e *Engine) ApplyChanges(product schema.Product, changes []Change, seq uint64) Result {
	b := e.book(product)
	res := b.applyChanges(changes, seq)
	if res == ResultApplied {
		e.notify(product, seq)
	}
	return res
}

// BestBid returns the highest resting bid while the book is Synced.
func (e *Engine) BestBid(product schema.Product) (Level, bool) {
	return e.book(product).bestBid()
}

// BestAsk returns the lowest resting ask while the book is Synced.
func (e *Engine) BestAsk(product schema.Product) (Level, bool) {
	return e.book(product).bestAsk()
}

// VolumeAtBest returns the aggregate size resting at the side's best price.
func (e *Engine) VolumeAtBest(product schema.Product, side schema.Side) (schema.Quantity, bool) {
	var lvl Level
	var ok bool
	if side == schema.SideBuy {
		lvl, ok = e.book(product).bestBid()
	} else {
		lvl, ok = e.book(product).bestAsk()
	}
	return lvl.Size, ok
}

// Top returns both best levels from one consistent read.
func (e *Engine) Top(product schema.Product) (bid, ask Level, ok bool) {
	return e.book(product).top()
}

// Snapshot returns a copy of the ladders, bids descending and asks
// ascending, with the sequence they reflect.
func (e *Engine) Snapshot(product schema.Product) (bids, asks []Level, seq uint64) {
	return e.book(product).snapshot()
}

// State returns the product's book state.
func (e *Engine) State(product schema.Product) State {
	return e.book(product).State()
}

// LastSequence returns the last applied feed sequence for the product.
func (e *Engine) LastSequence(product schema.Product) uint64 {
	b := e.book(product)
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastSeq
}

// State returns the book state under the read lock.
func (b *Book) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}
