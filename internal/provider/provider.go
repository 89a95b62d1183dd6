package provider

import (
	"context"
)

// Ref identifies the provider that served a fetch, with the cursor the
// query started from. It travels with the result into provenance.
type Ref struct {
	Name   string `json:"name"`
	Chain  string `json:"chain"`
	Cursor int64  `json:"cursor"`
}

// Query describes one wallet-activity fetch.
type Query struct {
	Address string
	Chain   string
	SinceTS int64
	Limit   int
}

// Activity is a raw fetch result: provider-shaped events plus metadata.
type Activity struct {
	Events   []map[string]interface{}
	Metadata map[string]interface{}
	Ref      Ref
}

// Provider fetches wallet activity from one upstream data source.
type Provider interface {
	Name() string
	FetchWalletActivity(ctx context.Context, q Query) (Activity, error)
}

// PoolActivityFetcher is implemented by providers that can also serve
// liquidity-pool activity. The mock always does.
type PoolActivityFetcher interface {
	FetchPoolActivity(ctx context.Context, sinceTS int64) (Activity, error)
}

// Metrics receives router-level counters. A nil Metrics is ignored.
type Metrics interface {
	ProviderAttempt(name string)
	ProviderFailure(name string)
	FallbackAdvance()
}
