package provider

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/mohammad-safakhou/chainbrief/config"
	"github.com/mohammad-safakhou/chainbrief/internal/schema"
)

// Priority is the fixed order providers are preferred in. The mock closes
// the chain so a fetch always has somewhere to land.
var Priority = []string{"alchemy", "covalent", "bitquery", "mock"}

// Router selects a provider per fetch and falls back down the priority
// chain when one fails. Availability is decided purely by credential
// presence in config.
type Router struct {
	cfg     config.ProvidersConfig
	chain   string
	norm    *schema.Normalizer
	metrics Metrics
	logger  *log.Logger

	providers map[string]Provider
	mock      *Mock
	http      *HTTPClient
}

func NewRouter(cfg config.ProvidersConfig, chain string, norm *schema.Normalizer, metrics Metrics, logger *log.Logger) *Router {
	if logger == nil {
		logger = log.New(os.Stdout, "[ROUTER] ", log.LstdFlags)
	}
	if norm == nil {
		norm = schema.NewNormalizer(nil)
	}
	client := NewHTTPClient(cfg.Timeout, cfg.MaxRetries)
	mock := NewMock()

	providers := map[string]Provider{"mock": mock}
	if cfg.Alchemy.APIKey != "" {
		providers["alchemy"] = NewAlchemy(cfg.Alchemy.APIKey, cfg.Alchemy.BaseURL, client)
	}
	if cfg.Covalent.APIKey != "" {
		providers["covalent"] = NewCovalent(cfg.Covalent.APIKey, cfg.Covalent.BaseURL, client)
	}
	if cfg.Bitquery.AccessToken != "" {
		providers["bitquery"] = NewBitquery(cfg.Bitquery.AccessToken, cfg.Bitquery.BaseURL, client)
	}

	r := &Router{
		cfg:       cfg,
		chain:     chain,
		norm:      norm,
		metrics:   metrics,
		logger:    logger,
		providers: providers,
		mock:      mock,
		http:      client,
	}
	for _, name := range r.FallbackChain() {
		logger.Printf("provider %s available", name)
	}
	return r
}

// Register swaps in a provider implementation, for tests.
func (r *Router) Register(p Provider) { r.providers[p.Name()] = p }

// FallbackChain lists available providers in priority order. The mock is
// always present, always last.
func (r *Router) FallbackChain() []string {
	var chain []string
	for _, name := range Priority {
		if _, ok := r.providers[name]; ok {
			chain = append(chain, name)
		}
	}
	return chain
}

// Selected returns the provider a fetch starts from: the configured
// override when it is available, otherwise the head of the chain.
func (r *Router) Selected() string {
	if r.cfg.Override != "" {
		if _, ok := r.providers[r.cfg.Override]; ok {
			return r.cfg.Override
		}
		r.logger.Printf("override provider %s unavailable, using fallback chain", r.cfg.Override)
	}
	return r.FallbackChain()[0]
}

// FetchWalletActivity walks the fallback chain starting at the selected
// provider, normalizing the winner's events. Context cancellation aborts
// the attempt in flight and advances to the next provider.
func (r *Router) FetchWalletActivity(ctx context.Context, address string, sinceTS int64) (Activity, []schema.Record, error) {
	chain := r.FallbackChain()
	start := 0
	selected := r.Selected()
	for i, name := range chain {
		if name == selected {
			start = i
			break
		}
	}

	var lastErr error
	for _, name := range chain[start:] {
		p := r.providers[name]
		r.attempt(name)
		act, err := p.FetchWalletActivity(ctx, Query{
			Address: address,
			Chain:   r.chain,
			SinceTS: sinceTS,
			Limit:   r.cfg.MaxTransactions,
		})
		if err != nil {
			lastErr = err
			r.failure(name)
			r.logger.Printf("provider %s failed: %v", name, err)
			continue
		}
		return r.finish(act, name, sinceTS), r.normalizeAll(name, act.Events), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no providers in fallback chain")
	}
	return Activity{}, nil, lastErr
}

// FetchPoolActivity walks the chain over providers that can serve pool
// activity. The mock always can, so this never comes back empty-handed.
func (r *Router) FetchPoolActivity(ctx context.Context, sinceTS int64) (Activity, []schema.Record, error) {
	var lastErr error
	for _, name := range r.FallbackChain() {
		fetcher, ok := r.providers[name].(PoolActivityFetcher)
		if !ok {
			continue
		}
		r.attempt(name)
		act, err := fetcher.FetchPoolActivity(ctx, sinceTS)
		if err != nil {
			lastErr = err
			r.failure(name)
			r.logger.Printf("provider %s pool fetch failed: %v", name, err)
			continue
		}
		return r.finish(act, name, sinceTS), r.normalizeAll(name, act.Events), nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no pool activity providers available")
	}
	return Activity{}, nil, lastErr
}

// FetchMetrics pulls exploration metrics from the configured endpoint,
// falling back to the mock fixture when none is configured or the call
// fails.
func (r *Router) FetchMetrics(ctx context.Context, query string) (map[string]interface{}, error) {
	if r.cfg.MetricsURL != "" {
		var out map[string]interface{}
		err := r.http.DoJSON(ctx, "GET", r.cfg.MetricsURL, nil, nil, &out)
		if err == nil {
			return out, nil
		}
		r.logger.Printf("metrics endpoint failed, using mock: %v", err)
	}
	return r.mock.FetchMetrics(ctx, query)
}

func (r *Router) finish(act Activity, name string, sinceTS int64) Activity {
	act.Ref = Ref{Name: name, Chain: r.chain, Cursor: sinceTS}
	if act.Metadata == nil {
		act.Metadata = map[string]interface{}{}
	}
	return act
}

func (r *Router) normalizeAll(name string, events []map[string]interface{}) []schema.Record {
	r.norm.DetectDrift(name, events)
	records := make([]schema.Record, 0, len(events))
	for _, ev := range events {
		records = append(records, r.norm.Normalize(name, ev))
	}
	return records
}

func (r *Router) attempt(name string) {
	if r.metrics != nil {
		r.metrics.ProviderAttempt(name)
	}
}

func (r *Router) failure(name string) {
	if r.metrics != nil {
		r.metrics.ProviderFailure(name)
		r.metrics.FallbackAdvance()
	}
}
