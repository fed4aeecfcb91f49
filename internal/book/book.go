// Package book reconstructs per-product order books from a sequenced
// level2 feed. Each book owns its synchronization: callers only see
// atomic apply operations and guarded reads, never the lock itself.
package book

import (
	"sync"

	"github.com/tidwall/btree"
	"github.com/yanun0323/logs"

	"github.com/arda-arslan/cryptobot/internal/schema"
)

// Level is one resting price level. It exists only while size > 0.
type Level struct {
	Price schema.Price
	Size  schema.Quantity
}

// State tracks whether a book can accept increments.
type State uint16

const (
	StateEmpty State = iota
	StateSynced
	StateResyncing
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateSynced:
		return "synced"
	case StateResyncing:
		return "resyncing"
	default:
		return "unknown"
	}
}

// Result reports what an apply operation did.
type Result uint16

const (
	ResultApplied Result = iota
	// ResultStale means the sequence was at or below the last applied one.
	ResultStale
	// ResultGap means a sequence gap was detected and the book entered Resyncing.
	ResultGap
	// ResultResyncing means the book was already waiting for a snapshot.
	ResultResyncing
	// ResultCorrupt means the apply produced a crossed book and forced Resyncing.
	ResultCorrupt
)

// Update is the notification emitted after every successful apply.
type Update struct {
	Product  schema.Product
	Sequence uint64
}

// Book is a single product's bid and ask ladder, ordered by price.
type Book struct {
	mu       sync.RWMutex
	product  schema.Product
	bids     *btree.BTreeG[Level]
	asks     *btree.BTreeG[Level]
	lastSeq  uint64
	state    State
	maxDepth int
	bandBps  int64
}

func byPrice(a, b Level) bool { return a.Price < b.Price }

func newSide() *btree.BTreeG[Level] {
	return btree.NewBTreeG[Level](byPrice)
}

func newBook(product schema.Product, maxDepth int, bandBps int64) *Book {
	return &Book{
		product:  product,
		bids:     newSide(),
		asks:     newSide(),
		maxDepth: maxDepth,
		bandBps:  bandBps,
	}
}

// applySnapshot replaces the book wholesale and marks it Synced. The
// price band filters snapshot levels the same way it filters increments.
func (b *Book) applySnapshot(bids, asks []Level, seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var mid int64
	if b.bandBps > 0 {
		mid = snapshotMid(bids, asks)
	}
	b.bids = newSide()
	b.asks = newSide()
	for _, lvl := range bids {
		if lvl.Size > 0 && b.withinBandOf(mid, lvl.Price) {
			b.bids.Set(lvl)
		}
	}
	for _, lvl := range asks {
		if lvl.Size > 0 && b.withinBandOf(mid, lvl.Price) {
			b.asks.Set(lvl)
		}
	}
	b.trimLocked()
	b.lastSeq = seq
	b.state = StateSynced

	if b.crossedLocked() {
		logs.Errorf("book %s: snapshot is crossed, forcing resync", b.product)
		b.resyncLocked()
	}
}

// Change is one level mutation inside a sequenced update.
type Change struct {
	Side  schema.Side
	Price schema.Price
	Size  schema.Quantity
}

// applyChanges applies the level changes of one sequenced update: stale
// sequences are discarded, the next sequence is applied, anything further
// ahead is a gap and poisons the book until a fresh snapshot.
func (b *Book) applyChanges(changes []Change, seq uint64) Result {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateResyncing {
		return ResultResyncing
	}
	if b.state == StateEmpty {
		// Increments before the first snapshot cannot be sequenced.
		return ResultResyncing
	}
	if seq <= b.lastSeq {
		return ResultStale
	}
	if seq > b.lastSeq+1 {
		b.resyncLocked()
		return ResultGap
	}

	for _, ch := range changes {
		tree := b.bids
		if ch.Side == schema.SideSell {
			tree = b.asks
		}
		if ch.Size == 0 {
			tree.Delete(Level{Price: ch.Price})
			continue
		}
		// A level already stored always takes the update, even if mid
		// has drifted and left it outside the band; a stored level must
		// never carry a stale size. Only new levels are band-filtered.
		_, exists := tree.Get(Level{Price: ch.Price})
		if exists || b.withinBandLocked(ch.Price) {
			tree.Set(Level{Price: ch.Price, Size: ch.Size})
			b.trimLocked()
		}
	}
	b.lastSeq = seq

	if b.crossedLocked() {
		logs.Errorf("book %s: crossed after seq %d, forcing resync", b.product, seq)
		b.resyncLocked()
		return ResultCorrupt
	}
	return ResultApplied
}

func (b *Book) resyncLocked() {
	b.bids = newSide()
	b.asks = newSide()
	b.state = StateResyncing
}

func (b *Book) crossedLocked() bool {
	bid, okBid := b.bids.Max()
	ask, okAsk := b.asks.Min()
	return okBid && okAsk && bid.Price >= ask.Price
}

// withinBandLocked applies the recent-price cutoff against the current
// mid: levels far from it are not stored, keeping the ladders small.
func (b *Book) withinBandLocked(price schema.Price) bool {
	bid, okBid := b.bids.Max()
	ask, okAsk := b.asks.Min()
	if !okBid || !okAsk {
		return true
	}
	return b.withinBandOf((int64(bid.Price)+int64(ask.Price))/2, price)
}

// withinBandOf checks price against an explicit mid. Zero band or zero
// mid disables the cutoff.
func (b *Book) withinBandOf(mid int64, price schema.Price) bool {
	if b.bandBps <= 0 || mid <= 0 {
		return true
	}
	delta := int64(price) - mid
	if delta < 0 {
		delta = -delta
	}
	return delta*10000 <= mid*b.bandBps
}

// snapshotMid derives the mid price from raw snapshot levels.
func snapshotMid(bids, asks []Level) int64 {
	var bestBid, bestAsk int64
	for _, lvl := range bids {
		if lvl.Size > 0 && int64(lvl.Price) > bestBid {
			bestBid = int64(lvl.Price)
		}
	}
	for _, lvl := range asks {
		if lvl.Size <= 0 {
			continue
		}
		if bestAsk == 0 || int64(lvl.Price) < bestAsk {
			bestAsk = int64(lvl.Price)
		}
	}
	if bestBid == 0 || bestAsk == 0 {
		return 0
	}
	return (bestBid + bestAsk) / 2
}

// trimLocked caps each side at maxDepth, dropping the least competitive
// levels first.
func (b *Book) trimLocked() {
	if b.maxDepth <= 0 {
		return
	}
	for b.bids.Len() > b.maxDepth {
		if worst, ok := b.bids.Min(); ok {
			b.bids.Delete(worst)
		} else {
			break
		}
	}
	for b.asks.Len() > b.maxDepth {
		if worst, ok := b.asks.Max(); ok {
			b.asks.Delete(worst)
		} else {
			break
		}
	}
}

func (b *Book) bestBid() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != StateSynced {
		return Level{}, false
	}
	return b.bids.Max()
}

func (b *Book) bestAsk() (Level, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != StateSynced {
		return Level{}, false
	}
	return b.asks.Min()
}

// top returns both best levels under a single guarded read so a strategy
// decision never mixes two book generations.
func (b *Book) top() (bid, ask Level, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.state != StateSynced {
		return Level{}, Level{}, false
	}
	bid, okBid := b.bids.Max()
	ask, okAsk := b.asks.Min()
	return bid, ask, okBid && okAsk
}

func (b *Book) snapshot() (bids, asks []Level, seq uint64) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bids = make([]Level, 0, b.bids.Len())
	asks = make([]Level, 0, b.asks.Len())
	b.bids.Reverse(func(lvl Level) bool {
		bids = append(bids, lvl)
		return true
	})
	b.asks.Scan(func(lvl Level) bool {
		asks = append(asks, lvl)
		return true
	})
	return bids, asks, b.lastSeq
}
