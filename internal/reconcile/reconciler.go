package reconcile

import (
	"context"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"github.com/arda-arslan/cryptobot/internal/codec"
	"github.com/arda-arslan/cryptobot/internal/oms"
	"github.com/arda-arslan/cryptobot/internal/schema"
)

// OrderStore is the slice of the order manager reconciliation needs.
type OrderStore interface {
	AllOpenOrders() []oms.Order
	OnExecutionReport(codec.ExecutionReport) error
}

// Reconciler settles local order state against the venue.
type Reconciler struct {
	client *Client
	orders OrderStore
}

// NewReconciler builds a reconciler over the REST client.
func NewReconciler(client *Client, orders OrderStore) *Reconciler {
	return &Reconciler{client: client, orders: orders}
}

// Run checks every non-terminal order against the venue and applies the
// differences as synthesized execution reports. It is called after each
// relogon, when reports may have been missed.
func (r *Reconciler) Run(ctx context.Context) error {
	open := r.orders.AllOpenOrders()
	if len(open) == 0 {
		return nil
	}
	logs.Infof("reconcile: checking %d non-terminal orders", len(open))

	var firstErr error
	for _, ord := range open {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.reconcileOrder(ctx, ord); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (r *Reconciler) reconcileOrder(ctx context.Context, ord oms.Order) error {
	venueOrd, err := r.client.OrderStatus(ctx, ord.ClientOrderID)
	if errors.Is(err, ErrOrderNotFound) {
		// The venue never saw it, or it is long gone. Either way it
		// cannot fill anymore.
		logs.Infof("reconcile: order %s unknown to venue, canceling locally", ord.ClientOrderID)
		return r.orders.OnExecutionReport(codec.ExecutionReport{
			ClOrdID:         ord.ClientOrderID,
			ExchangeOrderID: ord.ExchangeOrderID,
			OrdStatus:       schema.StatusCanceled,
			Product:         ord.Product,
			Text:            "not found during reconciliation",
		})
	}
	if err != nil {
		logs.Errorf("reconcile: order %s status fetch failed: %v", ord.ClientOrderID, err)
		return err
	}

	rep, err := r.client.toReport(ord.ClientOrderID, venueOrd, ord.FilledSize)
	if err != nil {
		logs.Errorf("reconcile: order %s unusable venue state: %v", ord.ClientOrderID, err)
		return err
	}

	// Nothing moved while we were away.
	if rep.OrdStatus == ord.Status && rep.LastShares == 0 {
		return nil
	}

	logs.Infof("reconcile: order %s %s -> %s (fill delta %d)",
		ord.ClientOrderID, ord.Status, rep.OrdStatus, rep.LastShares)
	return r.orders.OnExecutionReport(rep)
}
