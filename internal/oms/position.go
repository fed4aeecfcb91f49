package oms

import "github.com/arda-arslan/cryptobot/internal/schema"

// Position is the per-product net inventory. Only confirmed fills move it.
type Position struct {
	NetSize       schema.Quantity
	AvgEntryPrice schema.Price
}

// applyFill folds one fill into the position: same-direction fills move
// the weighted average entry price, reductions leave it untouched, and a
// fill crossing through zero restarts the average at the fill price.
func (p *Position) applyFill(side schema.Side, qty schema.Quantity, price schema.Price) {
	if qty <= 0 {
		return
	}
	signed := int64(qty)
	if side == schema.SideSell {
		signed = -signed
	}

	old := int64(p.NetSize)
	next := old + signed
	switch {
	case old == 0:
		p.AvgEntryPrice = price
	case (old > 0) == (signed > 0):
		oldAbs := old
		if oldAbs < 0 {
			oldAbs = -oldAbs
		}
		total := oldAbs + int64(qty)
		p.AvgEntryPrice = schema.Price((int64(p.AvgEntryPrice)*oldAbs + int64(price)*int64(qty)) / total)
	case next == 0:
		p.AvgEntryPrice = 0
	case (old > 0) != (next > 0):
		// Flipped through zero; the residual opened at the fill price.
		p.AvgEntryPrice = price
	}
	p.NetSize = schema.Quantity(next)
}
