// Package oms holds the authoritative order and position state. Orders
// advance only on confirmed execution reports from the session; the
// strategy reads snapshots and never touches stored state directly.
package oms

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/arda-arslan/cryptobot/internal/bus"
	"github.com/arda-arslan/cryptobot/internal/codec"
	"github.com/arda-arslan/cryptobot/internal/obs"
	"github.com/arda-arslan/cryptobot/internal/risk"
	"github.com/arda-arslan/cryptobot/internal/schema"
)

var (
	ErrRiskRejected      = errors.New("oms: intent rejected by risk")
	ErrUnknownOrder      = errors.New("oms: order not found")
	ErrAlreadyTerminal   = errors.New("oms: order already terminal")
	ErrIllegalTransition = errors.New("oms: illegal status transition")
)

// Order is the manager's view of one order.
type Order struct {
	ClientOrderID   string
	ExchangeOrderID string
	Product         schema.Product
	Side            schema.Side
	Price           schema.Price
	RequestedSize   schema.Quantity
	RemainingSize   schema.Quantity
	FilledSize      schema.Quantity
	AvgFillPrice    schema.Price
	Status          schema.OrderStatus
	CreatedAt       time.Time
}

// EventType classifies order events published to the strategy.
type EventType uint16

const (
	EventAccepted EventType = iota
	EventFill
	EventCanceled
	EventRejected
)

// Event is the order notification delivered over the event queue. Order
// is a value snapshot; consumers may keep it.
type Event struct {
	Type      EventType
	Order     Order
	FillQty   schema.Quantity
	FillPrice schema.Price
}

// Sender transmits order messages. The session implements it. Calls are
// made without any manager lock held.
type Sender interface {
	SendNewOrder(ord codec.OrderSpec) error
	SendCancel(spec codec.CancelSpec) error
}

// Archiver receives orders that reached a terminal status.
type Archiver interface {
	Archive(Order)
}

// Manager owns order and position state for all products.
type Manager struct {
	mu         sync.Mutex
	risk       *risk.Engine
	sender     Sender
	archiver   Archiver
	events     *bus.Queue[Event]
	metrics    *obs.Metrics
	orders     map[string]*Order
	byExchange map[string]string
	cancelRefs map[string]string // cancel ClOrdID -> original ClOrdID
	positions  map[schema.Product]*Position
}

// NewManager wires the manager. archiver may be nil.
func NewManager(riskEngine *risk.Engine, sender Sender, events *bus.Queue[Event], metrics *obs.Metrics, archiver Archiver) *Manager {
	return &Manager{
		risk:       riskEngine,
		sender:     sender,
		archiver:   archiver,
		events:     events,
		metrics:    metrics,
		orders:     make(map[string]*Order),
		byExchange: make(map[string]string),
		cancelRefs: make(map[string]string),
		positions:  make(map[schema.Product]*Position),
	}
}

func (m *Manager) positionLocked(product schema.Product) *Position {
	p, ok := m.positions[product]
	if !ok {
		p = &Position{}
		m.positions[product] = p
	}
	return p
}

// Submit risk-checks an intent and sends a new order. A denial never
// reaches the wire.
func (m *Manager) Submit(product schema.Product, side schema.Side, price schema.Price, size schema.Quantity) (string, error) {
	m.mu.Lock()
	pos := m.positionLocked(product).NetSize
	decision := m.risk.Evaluate(side, size, pos)
	if !decision.Allowed() {
		m.mu.Unlock()
		m.metrics.IncRiskReject()
		logs.Infof("oms: intent denied, reason=%s side=%s size=%d pos=%d",
			decision.Reason, side, size, pos)
		return "", errors.Wrap(ErrRiskRejected, decision.Reason.String())
	}

	ord := &Order{
		ClientOrderID: uuid.NewString(),
		Product:       product,
		Side:          side,
		Price:         price,
		RequestedSize: size,
		RemainingSize: size,
		Status:        schema.StatusPendingNew,
		CreatedAt:     time.Now().UTC(),
	}
	m.orders[ord.ClientOrderID] = ord
	spec := codec.OrderSpec{
		ClOrdID: ord.ClientOrderID,
		Product: product,
		Side:    side,
		Price:   price,
		Qty:     size,
	}
	m.mu.Unlock()

	// Network I/O happens outside the lock.
	if err := m.sender.SendNewOrder(spec); err != nil {
		m.mu.Lock()
		ord.Status = schema.StatusRejected
		snapshot := *ord
		m.removeLocked(ord)
		m.mu.Unlock()
		m.finalize(snapshot, Event{Type: EventRejected, Order: snapshot})
		return "", errors.Wrap(err, "send new order")
	}
	m.metrics.IncOrderSubmitted()
	return ord.ClientOrderID, nil
}

// Cancel requests cancellation of a resting order.
func (m *Manager) Cancel(clientOrderID string) error {
	m.mu.Lock()
	ord, ok := m.orders[clientOrderID]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownOrder
	}
	if ord.Status.Terminal() {
		m.mu.Unlock()
		return ErrAlreadyTerminal
	}
	if ord.Status == schema.StatusPendingCancel {
		m.mu.Unlock()
		return nil
	}
	ord.Status = schema.StatusPendingCancel
	spec := codec.CancelSpec{
		ClOrdID:     uuid.NewString(),
		OrigClOrdID: ord.ClientOrderID,
		OrderID:     ord.ExchangeOrderID,
		Product:     ord.Product,
	}
	m.cancelRefs[spec.ClOrdID] = ord.ClientOrderID
	m.mu.Unlock()

	if err := m.sender.SendCancel(spec); err != nil {
		// Leave the order in PendingCancel; reconciliation settles it.
		return errors.Wrap(err, "send cancel")
	}
	return nil
}

// legalTransition holds the allowed status moves driven by reports.
func legalTransition(from, to schema.OrderStatus) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case schema.StatusPendingNew:
		switch to {
		case schema.StatusOpen, schema.StatusCanceled, schema.StatusRejected:
			return true
		}
	case schema.StatusOpen:
		switch to {
		case schema.StatusPartiallyFilled, schema.StatusFilled, schema.StatusCanceled, schema.StatusRejected:
			return true
		}
	case schema.StatusPartiallyFilled:
		switch to {
		case schema.StatusPartiallyFilled, schema.StatusFilled, schema.StatusCanceled, schema.StatusRejected:
			return true
		}
	case schema.StatusPendingCancel:
		// Fills race the cancel; both outcomes stay legal.
		switch to {
		case schema.StatusPartiallyFilled, schema.StatusFilled, schema.StatusCanceled, schema.StatusRejected:
			return true
		}
	}
	return false
}

// OnExecutionReport is the only path that advances order status. Reports
// implying an illegal transition are logged and dropped; exchange truth
// about terminal orders is final.
func (m *Manager) OnExecutionReport(rep codec.ExecutionReport) error {
	m.mu.Lock()

	clOrdID := rep.ClOrdID
	if orig, ok := m.cancelRefs[clOrdID]; ok {
		clOrdID = orig
	}
	ord, ok := m.orders[clOrdID]
	if !ok {
		m.mu.Unlock()
		m.metrics.IncIllegalReport()
		logs.Errorf("oms: report for unknown order %s, status=%s, dropped", rep.ClOrdID, rep.OrdStatus)
		return ErrUnknownOrder
	}

	target := rep.OrdStatus
	// An open ack while a cancel is in flight only confirms the order;
	// the local status stays PendingCancel.
	if ord.Status == schema.StatusPendingCancel && target == schema.StatusOpen {
		if rep.ExchangeOrderID != "" {
			m.adoptExchangeIDLocked(ord, rep.ExchangeOrderID)
		}
		m.mu.Unlock()
		return nil
	}
	if !legalTransition(ord.Status, target) {
		m.mu.Unlock()
		m.metrics.IncIllegalReport()
		logs.Errorf("oms: illegal transition %s -> %s for order %s, report dropped",
			ord.Status, target, ord.ClientOrderID)
		return ErrIllegalTransition
	}

	if rep.ExchangeOrderID != "" {
		m.adoptExchangeIDLocked(ord, rep.ExchangeOrderID)
	}

	event := Event{Order: *ord}
	fillQty := schema.Quantity(0)
	switch target {
	case schema.StatusOpen:
		event.Type = EventAccepted
	case schema.StatusPartiallyFilled, schema.StatusFilled:
		fillQty = rep.LastShares
		if fillQty == 0 && target == schema.StatusFilled {
			// A final report without LastShares fills the remainder.
			fillQty = ord.RemainingSize
		}
		event.Type = EventFill
		event.FillQty = fillQty
		event.FillPrice = rep.LastPx
		if event.FillPrice == 0 {
			event.FillPrice = ord.Price
		}
	case schema.StatusCanceled:
		event.Type = EventCanceled
	case schema.StatusRejected:
		event.Type = EventRejected
		if rep.Text != "" {
			logs.Infof("oms: order %s rejected: %s", ord.ClientOrderID, rep.Text)
		}
	}

	ord.Status = target
	if fillQty > 0 {
		ord.FilledSize += fillQty
		if rep.LeavesQty > 0 || target == schema.StatusFilled {
			ord.RemainingSize = rep.LeavesQty
		} else {
			ord.RemainingSize = ord.RequestedSize - ord.FilledSize
		}
		if rep.AvgPx > 0 {
			ord.AvgFillPrice = rep.AvgPx
		} else {
			ord.AvgFillPrice = event.FillPrice
		}
		m.positionLocked(ord.Product).applyFill(ord.Side, fillQty, event.FillPrice)
	}

	snapshot := *ord
	terminal := ord.Status.Terminal()
	if terminal {
		m.removeLocked(ord)
	}
	m.mu.Unlock()

	event.Order = snapshot
	if terminal {
		m.finalize(snapshot, event)
	} else {
		m.publish(event)
	}
	return nil
}

// OnCancelReject resolves a failed cancel: the order keeps trading.
func (m *Manager) OnCancelReject(rej codec.CancelReject) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clOrdID := rej.OrigClOrdID
	if orig, ok := m.cancelRefs[rej.ClOrdID]; ok {
		clOrdID = orig
		delete(m.cancelRefs, rej.ClOrdID)
	}
	ord, ok := m.orders[clOrdID]
	if !ok {
		logs.Infof("oms: cancel reject for unknown order %s", clOrdID)
		return
	}
	if ord.Status == schema.StatusPendingCancel {
		if ord.FilledSize > 0 {
			ord.Status = schema.StatusPartiallyFilled
		} else {
			ord.Status = schema.StatusOpen
		}
	}
	logs.Infof("oms: cancel rejected for order %s, reason=%s", clOrdID, rej.Reason)
}

func (m *Manager) adoptExchangeIDLocked(ord *Order, exchangeID string) {
	if ord.ExchangeOrderID == exchangeID {
		return
	}
	if ord.ExchangeOrderID != "" {
		delete(m.byExchange, ord.ExchangeOrderID)
	}
	ord.ExchangeOrderID = exchangeID
	m.byExchange[exchangeID] = ord.ClientOrderID
}

func (m *Manager) removeLocked(ord *Order) {
	delete(m.orders, ord.ClientOrderID)
	if ord.ExchangeOrderID != "" {
		delete(m.byExchange, ord.ExchangeOrderID)
	}
	for cancelID, orig := range m.cancelRefs {
		if orig == ord.ClientOrderID {
			delete(m.cancelRefs, cancelID)
		}
	}
}

// finalize publishes a terminal order's last event, then hands it to the
// archiver. The event goes first so consumers never wait on persistence.
func (m *Manager) finalize(ord Order, event Event) {
	m.publish(event)
	if m.archiver != nil {
		m.archiver.Archive(ord)
	}
}

func (m *Manager) publish(event Event) {
	if m.events == nil {
		return
	}
	if err := m.events.TryPublish(event); err != nil {
		m.metrics.IncQueueDrop()
		logs.Errorf("oms: dropped order event for %s: %v", event.Order.ClientOrderID, err)
	}
}

// OpenOrders returns snapshots of every non-terminal order for a product.
func (m *Manager) OpenOrders(product schema.Product) []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.orders))
	for _, ord := range m.orders {
		if ord.Product == product && !ord.Status.Terminal() {
			out = append(out, *ord)
		}
	}
	return out
}

// AllOpenOrders returns snapshots of every non-terminal order.
func (m *Manager) AllOpenOrders() []Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Order, 0, len(m.orders))
	for _, ord := range m.orders {
		if !ord.Status.Terminal() {
			out = append(out, *ord)
		}
	}
	return out
}

// Order returns a snapshot of one order.
func (m *Manager) Order(clientOrderID string) (Order, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ord, ok := m.orders[clientOrderID]
	if !ok {
		return Order{}, false
	}
	return *ord, true
}

// Position returns the current position snapshot for a product.
func (m *Manager) Position(product schema.Product) Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.positionLocked(product)
}
