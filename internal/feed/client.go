// Package feed streams the level2 market-data channel into the book
// engine and keeps the books sequenced, resubscribing for a fresh
// snapshot whenever a gap is detected.
package feed

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"github.com/arda-arslan/cryptobot/internal/book"
	"github.com/arda-arslan/cryptobot/internal/codec"
	"github.com/arda-arslan/cryptobot/internal/obs"
	"github.com/arda-arslan/cryptobot/internal/schema"
)

// Client owns the market-data websocket for a set of products.
type Client struct {
	wss      *ws.WebSocket
	books    *book.Engine
	metrics  *obs.Metrics
	scales   schema.ScaleSpec
	products []schema.Product
}

// New builds a feed client; Start must be called before Subscribe.
func New(ctx context.Context, endpoint string, products []schema.Product, scales schema.ScaleSpec, books *book.Engine, metrics *obs.Metrics) *Client {
	return &Client{
		wss:      ws.New(ctx, endpoint),
		books:    books,
		metrics:  metrics,
		scales:   scales,
		products: products,
	}
}

// Start opens the websocket connection.
func (c *Client) Start(ctx context.Context) error {
	if err := c.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start feed wss")
	}
	return nil
}

// Close tears down the websocket.
func (c *Client) Close() {
	c.wss.Close()
}

type subscriptionsAck struct {
	Type string `json:"type"`
}

// Subscribe requests the level2 channel and waits for the venue's ack.
// The venue answers with a full snapshot per product right after.
func (c *Client) Subscribe(ctx context.Context) error {
	appendIntoRegister := true
	if err := c.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, wss *ws.WebSocket) error {
			payload := codec.NewSubscribeRequest(c.products)
			if err := wss.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}
			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := ws.ReadMessage[subscriptionsAck](m)
			if !ok {
				return false, nil
			}
			switch resp.Type {
			case codec.FeedTypeSubscriptions:
				return true, nil
			case codec.FeedTypeError:
				return false, errors.New("feed: subscribe rejected")
			default:
				return false, nil
			}
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}
	return nil
}

// Observe consumes feed messages until the context ends.
func (c *Client) Observe(ctx context.Context) (unsubscribe func()) {
	ch, cancel := c.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				raw, ok := ws.ReadMessage[json.RawMessage](m)
				if !ok {
					continue
				}
				c.handle(raw)
			}
		}
	}()

	return cancel
}

// handle decodes one payload and applies it to the books.
func (c *Client) handle(raw []byte) {
	c.metrics.IncFeedMessage()
	msg, err := codec.DecodeFeedMessage(raw, c.scales)
	if err != nil {
		logs.Errorf("feed: dropping undecodable message: %v", err)
		return
	}

	switch msg.Kind {
	case codec.FeedTypeSnapshot:
		snap := msg.Snapshot
		start := time.Now()
		c.books.ApplySnapshot(snap.Product, snap.Bids, snap.Asks, snap.Sequence)
		c.metrics.ObserveBookApply(time.Since(start))
		c.metrics.IncBookUpdate()
		logs.Infof("feed: snapshot applied for %s at seq %d (%d bids, %d asks)",
			snap.Product, snap.Sequence, len(snap.Bids), len(snap.Asks))

	case codec.FeedTypeL2Update:
		if len(msg.Increment) == 0 {
			return
		}
		product := msg.Increment[0].Product
		seq := msg.Increment[0].Sequence
		changes := make([]book.Change, 0, len(msg.Increment))
		for _, inc := range msg.Increment {
			changes = append(changes, book.Change{Side: inc.Side, Price: inc.Price, Size: inc.Size})
		}

		start := time.Now()
		res := c.books.ApplyChanges(product, changes, seq)
		c.metrics.ObserveBookApply(time.Since(start))

		switch res {
		case book.ResultApplied:
			c.metrics.IncBookUpdate()
		case book.ResultGap, book.ResultCorrupt:
			c.metrics.IncFeedGap()
			c.resync(product, seq)
		case book.ResultStale, book.ResultResyncing:
			// Already seen, or waiting for a fresh snapshot. Nothing to do.
		}

	case codec.FeedTypeMatch, codec.FeedTypeDone:
		c.metrics.IncTrade()

	case codec.FeedTypeError:
		logs.Errorf("feed: venue error: %s", string(raw))
	}
}

// resync asks the venue for a fresh snapshot by resubscribing. The book
// is already cleared; reads stay disabled until the snapshot lands.
func (c *Client) resync(product schema.Product, seq uint64) {
	c.metrics.IncResync()
	logs.Errorf("feed: sequence break for %s at %d, resubscribing for snapshot", product, seq)
	payload := codec.NewSubscribeRequest(c.products)
	if err := c.wss.WriteJSON(payload); err != nil {
		logs.Errorf("feed: resubscribe failed: %v", err)
	}
}
