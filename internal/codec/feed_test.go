package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arda-arslan/cryptobot/internal/schema"
)

var feedScales = schema.ScaleSpec{PriceScale: 2, QuantityScale: 8}

func TestDecodeSnapshot(t *testing.T) {
	raw := []byte(`{
		"type": "snapshot",
		"product_id": "BTC-USD",
		"sequence": 42,
		"bids": [["50000.00", "1.50000000"], ["49999.00", "2.00000000"]],
		"asks": [["50001.00", "0.75000000"]]
	}`)

	msg, err := DecodeFeedMessage(raw, feedScales)
	require.NoError(t, err)
	require.Equal(t, FeedTypeSnapshot, msg.Kind)
	require.NotNil(t, msg.Snapshot)

	snap := msg.Snapshot
	assert.Equal(t, schema.Product("BTC-USD"), snap.Product)
	assert.Equal(t, uint64(42), snap.Sequence)
	require.Len(t, snap.Bids, 2)
	assert.Equal(t, schema.Price(5000000), snap.Bids[0].Price)
	assert.Equal(t, schema.Quantity(150000000), snap.Bids[0].Size)
	require.Len(t, snap.Asks, 1)
	assert.Equal(t, schema.Price(5000100), snap.Asks[0].Price)
}

func TestDecodeL2Update(t *testing.T) {
	raw := []byte(`{
		"type": "l2update",
		"product_id": "BTC-USD",
		"sequence": 43,
		"changes": [
			["buy", "50000.00", "0.00000000"],
			["sell", "50001.00", "3.00000000"]
		]
	}`)

	msg, err := DecodeFeedMessage(raw, feedScales)
	require.NoError(t, err)
	require.Equal(t, FeedTypeL2Update, msg.Kind)
	require.Len(t, msg.Increment, 2)

	first := msg.Increment[0]
	assert.Equal(t, schema.SideBuy, first.Side)
	assert.Equal(t, schema.Quantity(0), first.Size, "zero size removes the level")
	assert.Equal(t, uint64(43), first.Sequence)

	second := msg.Increment[1]
	assert.Equal(t, schema.SideSell, second.Side)
	assert.Equal(t, schema.Quantity(300000000), second.Size)
}

func TestDecodeMatch(t *testing.T) {
	raw := []byte(`{
		"type": "match",
		"product_id": "BTC-USD",
		"sequence": 44,
		"side": "sell",
		"price": "50000.50",
		"size": "0.10000000"
	}`)

	msg, err := DecodeFeedMessage(raw, feedScales)
	require.NoError(t, err)
	require.Equal(t, FeedTypeMatch, msg.Kind)
	require.NotNil(t, msg.Trade)
	assert.Equal(t, schema.SideSell, msg.Trade.Side)
	assert.Equal(t, schema.Price(5000050), msg.Trade.Price)
	assert.Equal(t, schema.Quantity(10000000), msg.Trade.Size)
}

func TestDecodeUnknownTypePassesThrough(t *testing.T) {
	msg, err := DecodeFeedMessage([]byte(`{"type": "subscriptions"}`), feedScales)
	require.NoError(t, err)
	assert.Equal(t, FeedTypeSubscriptions, msg.Kind)
	assert.Nil(t, msg.Snapshot)
	assert.Nil(t, msg.Trade)
}

func TestDecodeRejectsBadPayloads(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"bad side", `{"type": "l2update", "sequence": 1, "changes": [["hold", "1.00", "1.00"]]}`},
		{"bad price", `{"type": "l2update", "sequence": 1, "changes": [["buy", "abc", "1.00"]]}`},
		{"bad snapshot level", `{"type": "snapshot", "bids": [["x", "1"]]}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeFeedMessage([]byte(tc.raw), feedScales)
			assert.Error(t, err)
		})
	}
}

func TestNewSubscribeRequest(t *testing.T) {
	req := NewSubscribeRequest([]schema.Product{"BTC-USD", "ETH-USD"})
	assert.Equal(t, FeedTypeSubscribe, req.Type)
	assert.Equal(t, []string{"BTC-USD", "ETH-USD"}, req.ProductIDs)
	assert.Equal(t, []string{"level2"}, req.Channels)
}
