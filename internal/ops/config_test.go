package ops

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arda-arslan/cryptobot/internal/schema"
)

const validConfig = `{
  "feed": {
    "endpoint": "wss://ws-feed.example.com",
    "products": ["BTC-USD", "ETH-USD"],
    "maxDepth": 200,
    "ignoreCutoffBps": 500
  },
  "session": {
    "endpoint": "fix.example.com:4198",
    "apiKey": "key",
    "passphrase": "pass",
    "secretKey": "c2VjcmV0",
    "useTls": true,
    "heartbeatIntervalMs": 30000,
    "heartbeatTolerance": 2.0
  },
  "rest": {"endpoint": "https://api.example.com"},
  "scales": {"priceScale": 2, "quantityScale": 8},
  "risk": {"maxExposure": 1000000000, "minOrderSize": 100000},
  "strategy": {"sizeFractionBps": 1000, "priceTolerance": 5, "minOrderSize": 100000}
}`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	loaded, err := Load(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, []schema.Product{"BTC-USD", "ETH-USD"}, loaded.Products)
	assert.Equal(t, "fix.example.com:4198", loaded.Session.Endpoint)
	assert.Equal(t, "Coinbase", loaded.Session.TargetCompID)
	assert.Equal(t, 30*time.Second, loaded.Session.HeartbeatInterval)
	assert.Equal(t, 2.0, loaded.Session.HeartbeatTolerance)
	assert.True(t, loaded.Session.UseTLS)
	assert.Equal(t, schema.Scale(2), loaded.Scales.PriceScale)
	assert.Equal(t, schema.Quantity(1000000000), loaded.Risk.MaxExposure)
	assert.Equal(t, int64(1000), loaded.Strategy.SizeFractionBps)
	// Queue defaults apply when unset.
	assert.Equal(t, 4096, loaded.Queues.BookDepth)
	assert.Equal(t, 1024, loaded.Queues.OrderDepth)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}

func TestLoadRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"empty products", `{
			"feed": {"endpoint": "wss://x", "products": []},
			"session": {"endpoint": "y", "apiKey": "k", "passphrase": "p", "secretKey": "s"},
			"strategy": {"sizeFractionBps": 100}
		}`},
		{"missing feed endpoint", `{
			"feed": {"products": ["BTC-USD"]},
			"session": {"endpoint": "y", "apiKey": "k", "passphrase": "p", "secretKey": "s"},
			"strategy": {"sizeFractionBps": 100}
		}`},
		{"missing credentials", `{
			"feed": {"endpoint": "wss://x", "products": ["BTC-USD"]},
			"session": {"endpoint": "y"},
			"strategy": {"sizeFractionBps": 100}
		}`},
		{"fraction above one", `{
			"feed": {"endpoint": "wss://x", "products": ["BTC-USD"]},
			"session": {"endpoint": "y", "apiKey": "k", "passphrase": "p", "secretKey": "s"},
			"strategy": {"sizeFractionBps": 20000}
		}`},
		{"negative scale", `{
			"feed": {"endpoint": "wss://x", "products": ["BTC-USD"]},
			"session": {"endpoint": "y", "apiKey": "k", "passphrase": "p", "secretKey": "s"},
			"scales": {"priceScale": -1},
			"strategy": {"sizeFractionBps": 100}
		}`},
		{"archive without database", `{
			"feed": {"endpoint": "wss://x", "products": ["BTC-USD"]},
			"session": {"endpoint": "y", "apiKey": "k", "passphrase": "p", "secretKey": "s"},
			"strategy": {"sizeFractionBps": 100},
			"archive": {"enabled": true}
		}`},
		{"not json", `{]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.json))
			assert.Error(t, err)
		})
	}
}
