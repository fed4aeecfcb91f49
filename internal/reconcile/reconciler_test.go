package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arda-arslan/cryptobot/internal/codec"
	"github.com/arda-arslan/cryptobot/internal/oms"
	"github.com/arda-arslan/cryptobot/internal/schema"
)

const testSecret = "c2VjcmV0LWtleQ==" // "secret-key"

var testScales = schema.ScaleSpec{PriceScale: 2, QuantityScale: 8}

type fakeStore struct {
	open    []oms.Order
	applied []codec.ExecutionReport
}

func (f *fakeStore) AllOpenOrders() []oms.Order { return f.open }

func (f *fakeStore) OnExecutionReport(rep codec.ExecutionReport) error {
	f.applied = append(f.applied, rep)
	return nil
}

func newTestReconciler(t *testing.T, handler http.HandlerFunc, store *fakeStore) (*Reconciler, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	signer, err := NewSigner("key", testSecret, "pass")
	require.NoError(t, err)
	client := NewClient(srv.URL, signer, testScales)
	return NewReconciler(client, store), srv
}

func TestReconcileAppliesMissedFill(t *testing.T) {
	store := &fakeStore{open: []oms.Order{{
		ClientOrderID: "ord-1",
		Product:       schema.Product("BTC-USD"),
		Side:          schema.SideBuy,
		Status:        schema.StatusOpen,
		RequestedSize: 100000000,
		RemainingSize: 100000000,
	}}}

	r, _ := newTestReconciler(t, func(w http.ResponseWriter, req *http.Request) {
		assert.Equal(t, "/orders/client:ord-1", req.URL.Path)
		assert.NotEmpty(t, req.Header.Get("CB-ACCESS-SIGN"))
		assert.Equal(t, "key", req.Header.Get("CB-ACCESS-KEY"))
		json.NewEncoder(w).Encode(restOrder{
			ID:         "ex-9",
			ProductID:  "BTC-USD",
			Side:       "buy",
			Price:      "50000.00",
			Size:       "1.00000000",
			FilledSize: "1.00000000",
			Status:     "done",
			DoneReason: "filled",
			Settled:    true,
		})
	}, store)

	require.NoError(t, r.Run(context.Background()))
	require.Len(t, store.applied, 1)
	rep := store.applied[0]
	assert.Equal(t, "ord-1", rep.ClOrdID)
	assert.Equal(t, schema.StatusFilled, rep.OrdStatus)
	assert.Equal(t, schema.Quantity(100000000), rep.LastShares)
	assert.Equal(t, schema.Quantity(0), rep.LeavesQty)
	assert.Equal(t, schema.Price(5000000), rep.LastPx)
}

func TestReconcileSkipsUnchangedOrder(t *testing.T) {
	store := &fakeStore{open: []oms.Order{{
		ClientOrderID: "ord-1",
		Status:        schema.StatusOpen,
		RequestedSize: 100000000,
	}}}

	r, _ := newTestReconciler(t, func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(restOrder{
			ID: "ex-9", ProductID: "BTC-USD", Side: "buy",
			Size: "1.00000000", FilledSize: "0", Status: "open",
		})
	}, store)

	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, store.applied)
}

func TestReconcileCancelsUnknownOrder(t *testing.T) {
	store := &fakeStore{open: []oms.Order{{
		ClientOrderID: "ord-gone",
		Status:        schema.StatusPendingNew,
	}}}

	r, _ := newTestReconciler(t, func(w http.ResponseWriter, req *http.Request) {
		http.NotFound(w, req)
	}, store)

	require.NoError(t, r.Run(context.Background()))
	require.Len(t, store.applied, 1)
	assert.Equal(t, schema.StatusCanceled, store.applied[0].OrdStatus)
}

func TestReconcilePartialFillDelta(t *testing.T) {
	store := &fakeStore{open: []oms.Order{{
		ClientOrderID: "ord-1",
		Status:        schema.StatusPartiallyFilled,
		RequestedSize: 200000000,
		FilledSize:    50000000,
	}}}

	r, _ := newTestReconciler(t, func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(restOrder{
			ID: "ex-9", ProductID: "BTC-USD", Side: "buy", Price: "50000.00",
			Size: "2.00000000", FilledSize: "1.50000000", Status: "open",
		})
	}, store)

	require.NoError(t, r.Run(context.Background()))
	require.Len(t, store.applied, 1)
	rep := store.applied[0]
	assert.Equal(t, schema.StatusPartiallyFilled, rep.OrdStatus)
	// 1.5 on the venue against 0.5 known locally.
	assert.Equal(t, schema.Quantity(100000000), rep.LastShares)
	assert.Equal(t, schema.Quantity(50000000), rep.LeavesQty)
}

func TestSignerHeadersAreDeterministic(t *testing.T) {
	signer, err := NewSigner("key", testSecret, "pass")
	require.NoError(t, err)

	h := signer.Headers(http.MethodGet, "/orders/client:x", "", mustTime(t))
	assert.Equal(t, "key", h["CB-ACCESS-KEY"])
	assert.Equal(t, "pass", h["CB-ACCESS-PASSPHRASE"])
	assert.Equal(t, "1756684800", h["CB-ACCESS-TIMESTAMP"])
	assert.NotEmpty(t, h["CB-ACCESS-SIGN"])

	again := signer.Headers(http.MethodGet, "/orders/client:x", "", mustTime(t))
	assert.Equal(t, h["CB-ACCESS-SIGN"], again["CB-ACCESS-SIGN"])
}

func mustTime(t *testing.T) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, "2025-09-01T00:00:00Z")
	require.NoError(t, err)
	return ts
}

func TestSignerRejectsBadSecret(t *testing.T) {
	_, err := NewSigner("key", "not-base64!!!", "pass")
	require.Error(t, err)
}
