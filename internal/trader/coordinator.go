// Package trader wires the feed, session, order and strategy loops
// together and owns their lifecycle.
package trader

import (
	"context"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	tomb "gopkg.in/tomb.v2"

	"github.com/arda-arslan/cryptobot/internal/book"
	"github.com/arda-arslan/cryptobot/internal/bus"
	"github.com/arda-arslan/cryptobot/internal/codec"
	"github.com/arda-arslan/cryptobot/internal/feed"
	"github.com/arda-arslan/cryptobot/internal/obs"
	"github.com/arda-arslan/cryptobot/internal/oms"
	"github.com/arda-arslan/cryptobot/internal/ops"
	"github.com/arda-arslan/cryptobot/internal/reconcile"
	"github.com/arda-arslan/cryptobot/internal/risk"
	"github.com/arda-arslan/cryptobot/internal/session"
	"github.com/arda-arslan/cryptobot/internal/strategy"
)

const cancelPassTimeout = 5 * time.Second

// handlerProxy breaks the construction cycle between the session (which
// needs a report handler) and the order manager (which needs a sender).
type handlerProxy struct {
	manager *oms.Manager
}

func (p *handlerProxy) OnExecutionReport(rep codec.ExecutionReport) error {
	return p.manager.OnExecutionReport(rep)
}

func (p *handlerProxy) OnCancelReject(rej codec.CancelReject) {
	p.manager.OnCancelReject(rej)
}

// orderSession is the slice of the FIX session the coordinator drives.
type orderSession interface {
	oms.Sender
	Run(ctx context.Context) error
}

// marketFeed is the slice of the feed client the coordinator drives.
type marketFeed interface {
	Start(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Observe(ctx context.Context) (unsubscribe func())
	Close()
}

// Coordinator owns every long-running loop of the trading process.
type Coordinator struct {
	cfg     ops.Loaded
	metrics *obs.Metrics

	books   *book.Engine
	orders  *oms.Manager
	sess    orderSession
	strat   *strategy.Strategy
	feed    marketFeed
	recon   *reconcile.Reconciler
	bookQ   *bus.Queue[book.Update]
	orderQ  *bus.Queue[oms.Event]
	cleanup []func()
}

// New wires the full trading stack from a resolved config. archiver may
// be nil when the archive is disabled.
func New(ctx context.Context, cfg ops.Loaded, metrics *obs.Metrics, archiver oms.Archiver) (*Coordinator, error) {
	c := &Coordinator{cfg: cfg, metrics: metrics}

	c.bookQ = bus.NewQueue[book.Update](cfg.Queues.BookDepth)
	c.orderQ = bus.NewQueue[oms.Event](cfg.Queues.OrderDepth)

	c.books = book.NewEngine(book.Options{
		MaxDepth:        cfg.Feed.MaxDepth,
		IgnoreCutoffBps: cfg.Feed.IgnoreCutoffBps,
		OnUpdate: func(u book.Update) {
			if err := c.bookQ.TryPublish(u); err != nil {
				metrics.IncQueueDrop()
			}
		},
	})

	proxy := &handlerProxy{}
	c.sess = session.New(cfg.Session, proxy, metrics, c.onSessionUp)
	c.orders = oms.NewManager(risk.NewEngine(cfg.Risk), c.sess, c.orderQ, metrics, archiver)
	proxy.manager = c.orders

	c.strat = strategy.New(cfg.Strategy, c.books, c.orders, metrics)
	c.feed = feed.New(ctx, cfg.Feed.Endpoint, cfg.Products, cfg.Scales, c.books, metrics)

	if cfg.Rest.Endpoint != "" {
		signer, err := reconcile.NewSigner(cfg.Session.APIKey, cfg.Session.SecretKey, cfg.Session.Passphrase)
		if err != nil {
			return nil, errors.Wrap(err, "build rest signer")
		}
		c.recon = reconcile.NewReconciler(
			reconcile.NewClient(cfg.Rest.Endpoint, signer, cfg.Scales), c.orders)
	}
	return c, nil
}

// onSessionUp reconciles surviving orders after every logon.
func (c *Coordinator) onSessionUp() {
	if c.recon == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := c.recon.Run(ctx); err != nil {
		logs.Errorf("trader: reconciliation incomplete: %v", err)
	}
}

// Run starts every loop and blocks until the context ends or a loop
// fails fatally. Shutdown is orderly: queues close, a best-effort cancel
// pass retires resting orders while the session is still logged on, and
// connections come down last.
func (c *Coordinator) Run(ctx context.Context) error {
	t, loopCtx := tomb.WithContext(context.Background())

	t.Go(func() error { return c.runFeed(loopCtx) })
	t.Go(func() error { return c.runSession(loopCtx) })
	t.Go(func() error { return c.runStrategy(loopCtx) })

	logs.Info("trader: running")
	select {
	case <-ctx.Done():
		// The loops keep their own context so the cancel pass can still
		// reach the wire before the session is torn down.
		c.shutdown()
		t.Kill(ctx.Err())
	case <-t.Dying():
		// A loop died on its own; the session may already be gone and
		// the cancel pass is best effort.
		c.shutdown()
	}

	err := t.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Coordinator) runFeed(ctx context.Context) error {
	if err := c.feed.Start(ctx); err != nil {
		return err
	}
	defer c.feed.Close()

	if err := c.feed.Subscribe(ctx); err != nil {
		return errors.Wrap(err, "subscribe feed")
	}
	unsubscribe := c.feed.Observe(ctx)
	defer unsubscribe()

	<-ctx.Done()
	return ctx.Err()
}

func (c *Coordinator) runSession(ctx context.Context) error {
	err := c.sess.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return errors.Wrap(err, "session loop")
	}
	return ctx.Err()
}

// runStrategy is the single consumer of both event queues, so book
// updates and order events reach the strategy serialized.
func (c *Coordinator) runStrategy(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case u, ok := <-c.bookQ.Chan():
			if !ok {
				return ctx.Err()
			}
			c.strat.OnBookUpdate(u)
		case e, ok := <-c.orderQ.Chan():
			if !ok {
				return ctx.Err()
			}
			c.strat.OnOrderEvent(e)
		}
	}
}

// shutdown retires what it can before the process exits.
func (c *Coordinator) shutdown() {
	c.bookQ.Close()
	c.orderQ.Close()

	open := c.orders.AllOpenOrders()
	if len(open) == 0 {
		return
	}
	logs.Infof("trader: canceling %d resting orders on shutdown", len(open))
	deadline := time.Now().Add(cancelPassTimeout)
	for _, ord := range open {
		if time.Now().After(deadline) {
			logs.Errorf("trader: cancel pass timed out with %d orders left", len(c.orders.AllOpenOrders()))
			return
		}
		if err := c.orders.Cancel(ord.ClientOrderID); err != nil {
			logs.Errorf("trader: shutdown cancel %s: %v", ord.ClientOrderID, err)
		}
	}
}
