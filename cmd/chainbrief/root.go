package main

import (
	"context"
	"log"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/chainbrief/config"
	"github.com/mohammad-safakhou/chainbrief/internal/llm"
	"github.com/mohammad-safakhou/chainbrief/internal/notify"
	"github.com/mohammad-safakhou/chainbrief/internal/pipeline"
	"github.com/mohammad-safakhou/chainbrief/internal/provider"
	"github.com/mohammad-safakhou/chainbrief/internal/schema"
	"github.com/mohammad-safakhou/chainbrief/internal/search"
	"github.com/mohammad-safakhou/chainbrief/internal/store"
	"github.com/mohammad-safakhou/chainbrief/internal/telemetry"
)

func main() {
	root := &cobra.Command{Use: "chainbrief", Short: "On-chain activity brief pipeline"}
	root.AddCommand(serveCMD(), runCMD(), migrateCMD(), walletsCMD(), briefsCMD(), cleanupCMD())
	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

// app holds the wired dependency graph shared by the subcommands.
type app struct {
	cfg    *config.Config
	store  *store.Store
	index  *search.Index
	tel    *telemetry.Telemetry
	runner *pipeline.Runner
}

func buildApp(ctx context.Context, cfgPath string) (*app, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, cfg.Storage.SQLitePath)
	if err != nil {
		return nil, err
	}

	idx, err := search.Open(cfg.Storage.SearchIndexPath)
	if err != nil {
		st.Close()
		return nil, err
	}
	// A deleted or stale index would otherwise return no hits for artifacts
	// that predate it.
	if err := idx.Rebuild(ctx, st); err != nil {
		log.Printf("rebuild search index: %v", err)
	}

	var tel *telemetry.Telemetry
	var routerMetrics provider.Metrics
	if cfg.Telemetry.Enabled {
		tel = telemetry.New()
		routerMetrics = tel
	}

	norm := schema.NewNormalizer(nil)
	router := provider.NewRouter(cfg.Providers, cfg.General.Chain, norm, routerMetrics, nil)
	llmClient := llm.New(cfg.LLM)
	notifier := notify.NewDiscord(cfg.Notify.DiscordWebhookURL)

	planner := pipeline.NewPlanner(st, cfg.Budget, cfg.Staleness, cfg.Watchlist.Wallets, nil)
	worker := pipeline.NewWorker(st, router, nil)
	analyzer := pipeline.NewAnalyzer(st, tel, cfg.General.Chain, nil)
	brief := pipeline.NewBriefGenerator(st, llmClient, idx, notifier, tel, cfg.Brief, len(cfg.Watchlist.Wallets), nil)
	runner := pipeline.NewRunner(st, planner, worker, analyzer, brief, tel, nil)

	return &app{cfg: cfg, store: st, index: idx, tel: tel, runner: runner}, nil
}

func (a *app) close() {
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			log.Printf("close search index: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			log.Printf("close store: %v", err)
		}
	}
}
