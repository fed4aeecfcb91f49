// Package reconcile re-derives order truth over REST after a session
// relogon. Reports that arrive while the session is down are gone for
// good, so every surviving order is checked against the venue.
package reconcile

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/yanun0323/errors"

	"github.com/arda-arslan/cryptobot/internal/codec"
	"github.com/arda-arslan/cryptobot/internal/schema"
)

const requestTimeout = 10 * time.Second

var ErrOrderNotFound = errors.New("reconcile: order not found")

// Client queries order state over the venue's REST API.
type Client struct {
	http    *http.Client
	baseURL string
	signer  *Signer
	scales  schema.ScaleSpec
}

// NewClient builds a REST client against the given base URL.
func NewClient(baseURL string, signer *Signer, scales schema.ScaleSpec) *Client {
	return &Client{
		http:    &http.Client{Timeout: requestTimeout},
		baseURL: baseURL,
		signer:  signer,
		scales:  scales,
	}
}

// restOrder is the venue's order resource.
type restOrder struct {
	ID         string `json:"id"`
	ProductID  string `json:"product_id"`
	Side       string `json:"side"`
	Price      string `json:"price"`
	Size       string `json:"size"`
	FilledSize string `json:"filled_size"`
	Status     string `json:"status"`
	DoneReason string `json:"done_reason"`
	Settled    bool   `json:"settled"`
}

// OrderStatus fetches one order by its client order ID.
func (c *Client) OrderStatus(ctx context.Context, clientOrderID string) (restOrder, error) {
	path := "/orders/client:" + clientOrderID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return restOrder{}, errors.Wrap(err, "build order status request")
	}
	for k, v := range c.signer.Headers(http.MethodGet, path, "", time.Now()) {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return restOrder{}, errors.Wrap(err, "order status request")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return restOrder{}, ErrOrderNotFound
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return restOrder{}, errors.Errorf("order status http %d: %s", resp.StatusCode, body)
	}

	var ord restOrder
	if err := json.NewDecoder(resp.Body).Decode(&ord); err != nil {
		return restOrder{}, errors.Wrap(err, "decode order status")
	}
	return ord, nil
}

// toReport converts the REST resource into the equivalent execution
// report, relative to what was already known locally.
func (c *Client) toReport(clientOrderID string, ord restOrder, knownFilled schema.Quantity) (codec.ExecutionReport, error) {
	rep := codec.ExecutionReport{
		ClOrdID:         clientOrderID,
		ExchangeOrderID: ord.ID,
		Product:         schema.Product(ord.ProductID),
	}

	switch ord.Side {
	case "buy":
		rep.Side = schema.SideBuy
	case "sell":
		rep.Side = schema.SideSell
	}

	size, err := schema.ParseQuantity(ord.Size, c.scales.QuantityScale)
	if err != nil {
		return codec.ExecutionReport{}, errors.Wrap(err, "order size")
	}
	filled := schema.Quantity(0)
	if ord.FilledSize != "" {
		if filled, err = schema.ParseQuantity(ord.FilledSize, c.scales.QuantityScale); err != nil {
			return codec.ExecutionReport{}, errors.Wrap(err, "filled size")
		}
	}
	if ord.Price != "" {
		price, err := schema.ParsePrice(ord.Price, c.scales.PriceScale)
		if err != nil {
			return codec.ExecutionReport{}, errors.Wrap(err, "order price")
		}
		rep.LastPx = price
		rep.AvgPx = price
	}

	rep.CumQty = filled
	rep.LeavesQty = size - filled
	if delta := filled - knownFilled; delta > 0 {
		rep.LastShares = delta
	}

	switch ord.Status {
	case "open", "pending", "active":
		if filled > 0 {
			rep.OrdStatus = schema.StatusPartiallyFilled
		} else {
			rep.OrdStatus = schema.StatusOpen
		}
	case "done":
		if ord.DoneReason == "canceled" {
			rep.OrdStatus = schema.StatusCanceled
		} else {
			rep.OrdStatus = schema.StatusFilled
			rep.LeavesQty = 0
		}
	case "rejected":
		rep.OrdStatus = schema.StatusRejected
	default:
		return codec.ExecutionReport{}, errors.Errorf("unknown order status %q", ord.Status)
	}
	return rep, nil
}
