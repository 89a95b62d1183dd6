package provider

import (
	"context"
	"fmt"
	"time"
)

// Mock serves deterministic fixtures. It needs no credentials, no network
// and never fails, which keeps the fallback chain from ever exhausting.
type Mock struct {
	now func() time.Time
}

func NewMock() *Mock { return &Mock{now: time.Now} }

// NewMockAt pins the mock's clock, for tests.
func NewMockAt(now func() time.Time) *Mock { return &Mock{now: now} }

func (m *Mock) Name() string { return "mock" }

func (m *Mock) FetchWalletActivity(ctx context.Context, q Query) (Activity, error) {
	base := m.now().Unix()
	fixtures := []map[string]interface{}{
		{
			"tx": "0xmocktx1:0", "ts": base - 1*3600, "kind": "swap",
			"wallet": q.Address, "chain": q.Chain, "pool": "WETH/USDC",
			"value": 1.5, "token_symbol": "WETH", "usd_value": 3000.0,
			"direction": "out", "counterparty": "0xpool_weth_usdc",
		},
		{
			"tx": "0xmocktx2:0", "ts": base - 3*3600, "kind": "transfer",
			"wallet": q.Address, "chain": q.Chain,
			"value": 250.0, "token_symbol": "USDC", "usd_value": 250.0,
			"direction": "in", "counterparty": "0xcounterparty_1",
		},
		{
			"tx": "0xmocktx3:1", "ts": base - 5*3600, "kind": "lp_add",
			"wallet": q.Address, "chain": q.Chain, "pool": "WETH/USDC",
			"amounts": map[string]interface{}{"WETH": 1.0, "USDC": 2000.0},
			"usd_value": 4000.0,
		},
		{
			"tx": "0xmocktx4:0", "ts": base - 20*3600, "kind": "swap",
			"wallet": q.Address, "chain": q.Chain, "pool": "DEGEN/WETH",
			"value": 5000.0, "token_symbol": "DEGEN", "usd_value": 120.0,
			"direction": "out", "counterparty": "0xpool_degen_weth",
		},
	}
	events := make([]map[string]interface{}, 0, len(fixtures))
	for _, ev := range fixtures {
		if ts, ok := ev["ts"].(int64); ok && ts >= q.SinceTS {
			events = append(events, ev)
		}
	}
	return Activity{
		Events: events,
		Metadata: map[string]interface{}{
			"source":   "mock",
			"address":  q.Address,
			"since_ts": q.SinceTS,
			"snapshot": base,
		},
	}, nil
}

func (m *Mock) FetchPoolActivity(ctx context.Context, sinceTS int64) (Activity, error) {
	base := m.now().Unix()
	fixtures := []map[string]interface{}{
		{
			"txHash": "0xmocklp1:0", "ts": base - 2*3600, "kind": "lp_add",
			"wallet": "0xlp_wallet_1", "pool": "WETH/USDC", "chain": "base",
			"amounts":   map[string]interface{}{"WETH": 5.0, "USDC": 10000.0},
			"usd_value": 20000.0,
			"details":   map[string]interface{}{"pool_address": "0xmock_pool_1", "lp_tokens_delta": 500.0},
		},
		{
			"txHash": "0xmocklp2:0", "ts": base - 4*3600, "kind": "lp_remove",
			"wallet": "0xlp_wallet_2", "pool": "WETH/USDC", "chain": "base",
			"amounts":   map[string]interface{}{"WETH": 2.0, "USDC": 4000.0},
			"usd_value": 8000.0,
			"details":   map[string]interface{}{"pool_address": "0xmock_pool_1", "lp_tokens_delta": -200.0},
		},
		{
			"txHash": "0xmocklp3:0", "ts": base - 6*3600, "kind": "lp_add",
			"wallet": "0xlp_wallet_3", "pool": "DEGEN/WETH", "chain": "base",
			"amounts":   map[string]interface{}{"DEGEN": 5000.0, "WETH": 0.4},
			"usd_value": 1600.0,
			"details":   map[string]interface{}{"pool_address": "0xmock_pool_2", "lp_tokens_delta": 200.0},
		},
	}
	events := make([]map[string]interface{}, 0, len(fixtures))
	for _, ev := range fixtures {
		if ts, ok := ev["ts"].(int64); ok && ts >= sinceTS {
			events = append(events, ev)
		}
	}
	return Activity{
		Events: events,
		Metadata: map[string]interface{}{
			"source":   "mock_lp",
			"since_ts": sinceTS,
			"snapshot": base,
		},
	}, nil
}

// FetchMetrics returns fixed exploration metrics stamped with the current
// snapshot time.
func (m *Mock) FetchMetrics(ctx context.Context, query string) (map[string]interface{}, error) {
	base := m.now().Unix()
	return map[string]interface{}{
		"source":        "mock_metrics",
		"query":         query,
		"snapshot_time": base,
		"key_values": map[string]interface{}{
			"base_tvl_usd":      fmt.Sprintf("%d", 1_850_000_000),
			"base_dex_vol_24h":  fmt.Sprintf("%d", 420_000_000),
			"active_pools_24h":  312,
			"new_pools_24h":     7,
			"top_gainer_pool":   "DEGEN/WETH",
			"top_gainer_change": 0.18,
		},
	}, nil
}
