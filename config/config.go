package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davidmag854/fpg-trading/broker/fpg"
	"github.com/davidmag854/fpg-trading/market"
	"github.com/davidmag854/fpg-trading/portfolio"
)

// Config is the complete trading session configuration.
type Config struct {
	Portfolio  PortfolioConfig  `json:"portfolio" yaml:"portfolio"`
	Strategies []StrategyConfig `json:"strategies" yaml:"strategies"`
	Gateway    GatewayConfig    `json:"gateway" yaml:"gateway"`
	History    HistoryConfig    `json:"history" yaml:"history"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Replay     ReplayConfig     `json:"replay" yaml:"replay"`
	Results    ResultsConfig    `json:"results" yaml:"results"`
	Log        LogConfig        `json:"log" yaml:"log"`
}

// PortfolioConfig holds scheduler-wide settings
type PortfolioConfig struct {
	TickInterval     Duration `json:"tick_interval" yaml:"tick_interval"`
	Leverage         int      `json:"leverage" yaml:"leverage"`
	RiskFraction     float64  `json:"risk_fraction" yaml:"risk_fraction"`
	CreationGrace    Duration `json:"creation_grace" yaml:"creation_grace"`
	ReconnectBackoff Duration `json:"reconnect_backoff" yaml:"reconnect_backoff"`
}

// StrategyConfig is the creation policy of one strategy
type StrategyConfig struct {
	Name             string         `json:"name" yaml:"name"`
	Active           bool           `json:"active" yaml:"active"`
	CreationInterval Duration       `json:"creation_interval" yaml:"creation_interval"`
	Pairs            []string       `json:"pairs" yaml:"pairs"`
	Advanced         bool           `json:"advanced" yaml:"advanced"`
	MaxLongPerPair   int            `json:"max_long_per_pair" yaml:"max_long_per_pair"`
	MaxShortPerPair  int            `json:"max_short_per_pair" yaml:"max_short_per_pair"`
	Params           map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
}

// GatewayConfig points at the execution gateway. Keys are read from the
// named environment variables.
type GatewayConfig struct {
	Endpoint      string   `json:"endpoint" yaml:"endpoint"`
	PublicKeyEnv  string   `json:"public_key_env" yaml:"public_key_env"`
	PrivateKeyEnv string   `json:"private_key_env" yaml:"private_key_env"`
	Timeout       Duration `json:"timeout" yaml:"timeout"`
	PollInterval  Duration `json:"poll_interval" yaml:"poll_interval"`
	MaxAttempts   int      `json:"max_attempts" yaml:"max_attempts"`
	Paper         bool     `json:"paper" yaml:"paper"`

	// PaperBalance seeds the in-memory account when Paper is set.
	PaperBalance map[string]float64 `json:"paper_balance,omitempty" yaml:"paper_balance,omitempty"`
}

// HistoryConfig configures the hourly candle history used by live sessions
type HistoryConfig struct {
	OandaTokenEnv string `json:"oanda_token_env" yaml:"oanda_token_env"`
	Practice      bool   `json:"practice" yaml:"practice"`
}

type DatabaseConfig struct {
	Path    string `json:"path" yaml:"path"`
	Session string `json:"session" yaml:"session"`
}

// ReplayConfig locates the CSV bundles replay sessions read
type ReplayConfig struct {
	DataDir    string `json:"data_dir" yaml:"data_dir"`
	WarmupDays int    `json:"warmup_days" yaml:"warmup_days"`
}

// ResultsConfig holds where exports are written, by session kind
type ResultsConfig struct {
	ReplayDir string `json:"replay_dir" yaml:"replay_dir"`
	LiveDir   string `json:"live_dir" yaml:"live_dir"`
}

type LogConfig struct {
	Level       string `json:"level" yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
}

// LoadFromFile loads configuration from a file (YAML, falling back to JSON)
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		cfg = Default()
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", errors.Join(err, jerr))
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("write config file: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	p := c.Portfolio
	if p.TickInterval.D() <= 0 {
		return fmt.Errorf("portfolio.tick_interval must be positive")
	}
	if p.Leverage < 1 {
		return fmt.Errorf("portfolio.leverage must be at least 1")
	}
	if p.RiskFraction <= 0 || p.RiskFraction > 1 {
		return fmt.Errorf("portfolio.risk_fraction must be between 0 and 1")
	}
	if p.CreationGrace.D() < 0 || p.ReconnectBackoff.D() < 0 {
		return fmt.Errorf("portfolio durations must not be negative")
	}

	if len(c.Strategies) == 0 {
		return fmt.Errorf("at least one strategy is required")
	}
	seen := make(map[string]bool)
	for i, s := range c.Strategies {
		if s.Name == "" {
			return fmt.Errorf("strategies[%d].name is required", i)
		}
		if seen[s.Name] {
			return fmt.Errorf("strategy %s is configured twice", s.Name)
		}
		seen[s.Name] = true
		if len(s.Pairs) == 0 {
			return fmt.Errorf("strategy %s: pairs are required", s.Name)
		}
		for _, pair := range s.Pairs {
			if _, _, err := market.SplitPair(pair); err != nil {
				return fmt.Errorf("strategy %s: %w", s.Name, err)
			}
		}
		if s.CreationInterval.D() < 0 {
			return fmt.Errorf("strategy %s: creation_interval must not be negative", s.Name)
		}
		if s.Advanced && (s.MaxLongPerPair < 0 || s.MaxShortPerPair < 0) {
			return fmt.Errorf("strategy %s: per-pair maxima must not be negative", s.Name)
		}
	}

	g := c.Gateway
	if !g.Paper && g.Endpoint == "" {
		return fmt.Errorf("gateway.endpoint is required unless gateway.paper is set")
	}
	if g.MaxAttempts < 1 {
		return fmt.Errorf("gateway.max_attempts must be at least 1")
	}
	if g.Timeout.D() <= 0 {
		return fmt.Errorf("gateway.timeout must be positive")
	}
	if g.PollInterval.D() < 0 {
		return fmt.Errorf("gateway.poll_interval must not be negative")
	}
	for coin, v := range g.PaperBalance {
		if v < 0 {
			return fmt.Errorf("gateway.paper_balance.%s must not be negative", coin)
		}
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Replay.WarmupDays < 0 {
		return fmt.Errorf("replay.warmup_days must not be negative")
	}
	return nil
}

// Policies converts the strategy section into scheduler policies.
func (c *Config) Policies() []portfolio.Policy {
	out := make([]portfolio.Policy, 0, len(c.Strategies))
	for _, s := range c.Strategies {
		out = append(out, portfolio.Policy{
			Name:            s.Name,
			Active:          s.Active,
			Interval:        s.CreationInterval.D(),
			Pairs:           append([]string(nil), s.Pairs...),
			Advanced:        s.Advanced,
			MaxLongPerPair:  s.MaxLongPerPair,
			MaxShortPerPair: s.MaxShortPerPair,
			Params:          s.Params,
		})
	}
	return out
}

// Pairs returns every pair any strategy trades, in configuration order.
func (c *Config) Pairs() []string {
	seen := make(map[string]bool)
	var out []string
	for _, s := range c.Strategies {
		for _, p := range s.Pairs {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Keys reads the gateway keys from the environment.
func (g GatewayConfig) Keys() (public, private string, err error) {
	public, private = os.Getenv(g.PublicKeyEnv), os.Getenv(g.PrivateKeyEnv)
	if public == "" || private == "" {
		return "", "", fmt.Errorf("gateway keys not set: export %s and %s", g.PublicKeyEnv, g.PrivateKeyEnv)
	}
	return public, private, nil
}

// Token reads the OANDA token from the environment.
func (h HistoryConfig) Token() (string, error) {
	tok := os.Getenv(h.OandaTokenEnv)
	if tok == "" {
		return "", fmt.Errorf("history token not set: export %s", h.OandaTokenEnv)
	}
	return tok, nil
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Portfolio: PortfolioConfig{
			TickInterval:     Duration(950 * time.Millisecond),
			Leverage:         3,
			RiskFraction:     0.01,
			CreationGrace:    Duration(portfolio.DefaultGrace),
			ReconnectBackoff: Duration(10 * time.Second),
		},
		Strategies: []StrategyConfig{
			{
				Name:             "MeanReversion",
				Active:           true,
				CreationInterval: Duration(market.Day),
				Pairs:            []string{"BTC/USD", "ETH/USD"},
				Advanced:         true,
				MaxLongPerPair:   1,
				MaxShortPerPair:  1,
			},
		},
		Gateway: GatewayConfig{
			Endpoint:      fpg.TestingURL,
			PublicKeyEnv:  "FPG_PUBLIC_KEY",
			PrivateKeyEnv: "FPG_PRIVATE_KEY",
			Timeout:       Duration(30 * time.Second),
			PollInterval:  Duration(400 * time.Millisecond),
			MaxAttempts:   25,
			PaperBalance:  map[string]float64{"USD": 10000},
		},
		History: HistoryConfig{
			OandaTokenEnv: "OANDA_TOKEN",
			Practice:      true,
		},
		Database: DatabaseConfig{
			Path:    "data/fpgtrader.sqlite",
			Session: "live",
		},
		Replay: ReplayConfig{
			DataDir:    "data/replay",
			WarmupDays: 50,
		},
		Results: ResultsConfig{
			ReplayDir: "data/backtesting_results",
			LiveDir:   "data/strategies_csv",
		},
		Log: LogConfig{Level: "info"},
	}
}
