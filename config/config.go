package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the pipeline.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Staleness StalenessConfig `mapstructure:"staleness"`
	Brief     BriefConfig     `mapstructure:"brief"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Watchlist WatchlistConfig `mapstructure:"watchlist"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
	Chain    string `mapstructure:"chain"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address      string `mapstructure:"address"`
	JWTSecret    string `mapstructure:"jwt_secret"`
	TickSchedule string `mapstructure:"tick_schedule"`
}

// StorageConfig contains the local store and retention settings.
type StorageConfig struct {
	SQLitePath      string          `mapstructure:"sqlite_path"`
	SearchIndexPath string          `mapstructure:"search_index_path"`
	Retention       RetentionConfig `mapstructure:"retention"`
}

// RetentionConfig controls per-layer cleanup horizons.
type RetentionConfig struct {
	ScratchDays  int `mapstructure:"scratch_days"`
	EventsDays   int `mapstructure:"events_days"`
	ArtifactDays int `mapstructure:"artifact_days"`
}

// BudgetConfig defines the daily spend guardrail.
type BudgetConfig struct {
	DailyCap float64 `mapstructure:"daily_cap"`
}

// ProvidersConfig contains the upstream wallet-activity providers.
type ProvidersConfig struct {
	Override        string         `mapstructure:"override"`
	Timeout         time.Duration  `mapstructure:"timeout"`
	MaxRetries      int            `mapstructure:"max_retries"`
	MaxTransactions int            `mapstructure:"max_transactions"`
	MetricsURL      string         `mapstructure:"metrics_url"`
	Alchemy         AlchemyConfig  `mapstructure:"alchemy"`
	Covalent        CovalentConfig `mapstructure:"covalent"`
	Bitquery        BitqueryConfig `mapstructure:"bitquery"`
}

// AlchemyConfig contains Alchemy credentials and endpoint.
type AlchemyConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// CovalentConfig contains Covalent credentials and endpoint.
type CovalentConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// BitqueryConfig contains Bitquery credentials and endpoint.
type BitqueryConfig struct {
	AccessToken string `mapstructure:"access_token"`
	BaseURL     string `mapstructure:"base_url"`
}

// StalenessConfig holds per-resource cursor staleness thresholds.
type StalenessConfig struct {
	Wallet  time.Duration `mapstructure:"wallet"`
	LP      time.Duration `mapstructure:"lp"`
	Explore time.Duration `mapstructure:"explore"`
}

// BriefConfig controls brief gating and LLM input policy.
type BriefConfig struct {
	Cooldown        time.Duration `mapstructure:"cooldown"`
	EventThreshold  int           `mapstructure:"event_threshold"`
	SignalThreshold float64       `mapstructure:"signal_threshold"`
	Mode            string        `mapstructure:"mode"`             // deterministic | llm | both
	LLMInputPolicy  string        `mapstructure:"llm_input_policy"` // full | budgeted
	LLMTokenCap     int           `mapstructure:"llm_token_cap"`
}

// LLMConfig contains the completion endpoint settings.
type LLMConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	Temperature     float64       `mapstructure:"temperature"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	Timeout         time.Duration `mapstructure:"timeout"`
	CostPer1K       float64       `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64       `mapstructure:"cost_per_1k_output"`
}

// NotifyConfig contains the notification sink settings.
type NotifyConfig struct {
	DiscordWebhookURL string `mapstructure:"discord_webhook_url"`
}

// TelemetryConfig contains metrics settings.
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// WatchlistConfig lists the tracked wallets.
type WatchlistConfig struct {
	Wallets []string `mapstructure:"wallets"`
}

// Validate checks settings that have no safe fallback.
func (c *Config) Validate() error {
	switch c.Brief.Mode {
	case "deterministic", "llm", "both":
	default:
		return fmt.Errorf("brief.mode must be deterministic, llm or both (got %q)", c.Brief.Mode)
	}
	switch c.Brief.LLMInputPolicy {
	case "full", "budgeted":
	default:
		return fmt.Errorf("brief.llm_input_policy must be full or budgeted (got %q)", c.Brief.LLMInputPolicy)
	}
	if c.Budget.DailyCap < 0 {
		return fmt.Errorf("budget.daily_cap cannot be negative")
	}
	if c.Providers.Override != "" && !ValidProvider(c.Providers.Override) {
		return fmt.Errorf("providers.override must be one of alchemy, covalent, bitquery, mock (got %q)", c.Providers.Override)
	}
	for _, w := range c.Watchlist.Wallets {
		if !ValidWalletAddress(w) {
			return fmt.Errorf("watchlist wallet %q is not a valid address", w)
		}
	}
	return nil
}

// ValidProvider reports whether name is a recognised provider tag.
func ValidProvider(name string) bool {
	switch strings.ToLower(name) {
	case "alchemy", "covalent", "bitquery", "mock":
		return true
	}
	return false
}

// ValidWalletAddress performs a basic 0x-prefixed hex address check.
func ValidWalletAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
		return false
	}
	for _, r := range addr[2:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func setDefaults() {
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.chain", "base")
	viper.SetDefault("server.address", ":10010")
	viper.SetDefault("server.tick_schedule", "@hourly")
	viper.SetDefault("storage.sqlite_path", "chainbrief.db")
	viper.SetDefault("storage.search_index_path", "chainbrief.bleve")
	viper.SetDefault("storage.retention.scratch_days", 7)
	viper.SetDefault("storage.retention.events_days", 30)
	viper.SetDefault("storage.retention.artifact_days", 90)
	viper.SetDefault("budget.daily_cap", 5.0)
	viper.SetDefault("providers.timeout", 30*time.Second)
	viper.SetDefault("providers.max_retries", 3)
	viper.SetDefault("providers.max_transactions", 50)
	viper.SetDefault("providers.alchemy.base_url", "https://base-mainnet.g.alchemy.com/v2")
	viper.SetDefault("providers.covalent.base_url", "https://api.covalenthq.com/v1")
	viper.SetDefault("providers.bitquery.base_url", "https://streaming.bitquery.io/graphql")
	viper.SetDefault("staleness.wallet", 2*time.Hour)
	viper.SetDefault("staleness.lp", 6*time.Hour)
	viper.SetDefault("staleness.explore", 24*time.Hour)
	viper.SetDefault("brief.cooldown", 6*time.Hour)
	viper.SetDefault("brief.event_threshold", 5)
	viper.SetDefault("brief.signal_threshold", 0.6)
	viper.SetDefault("brief.mode", "deterministic")
	viper.SetDefault("brief.llm_input_policy", "full")
	viper.SetDefault("brief.llm_token_cap", 120000)
	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.temperature", 0.2)
	viper.SetDefault("llm.max_tokens", 1024)
	viper.SetDefault("llm.timeout", 30*time.Second)
	viper.SetDefault("telemetry.enabled", true)
}

// LoadConfig reads configuration from the given file path, or from the
// default search path when path is empty. Environment variables with the
// CHAINBRIEF_ prefix override file values (CHAINBRIEF_BUDGET_DAILY_CAP, ...).
func LoadConfig(path string) (*Config, error) {
	viper.Reset()
	setDefaults()

	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("json")
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("CHAINBRIEF")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine: defaults plus env cover everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && path != "" {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
