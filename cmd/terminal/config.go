package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/alovak/cardflow-terminal/internal/observability"
	"github.com/alovak/cardflow-terminal/terminal"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/exp/slog"
)

// envPrefix applies to config keys (POS_HTTP_ADDR) and secrets
// (POS_STRIPE_SECRET_KEY) alike.
const envPrefix = "POS"

type gatewayEntry struct {
	Name    string        `mapstructure:"name"`
	Kind    string        `mapstructure:"kind"`
	BaseURL string        `mapstructure:"base_url"`
	Addr    string        `mapstructure:"addr"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func newLogger() *slog.Logger {
	return slog.New(observability.HandlerWithSpanContext(slog.NewJSONHandler(os.Stderr, nil)))
}

// loadEnv reads the dotenv file if there is one. A missing file is fine.
func loadEnv(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("env-file")
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	def := terminal.DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http_addr", def.HTTPAddr)
	v.SetDefault("terminal_id", def.TerminalID)
	v.SetDefault("merchant_id", def.MerchantID)
	v.SetDefault("currency", def.Currency)
	v.SetDefault("min_amount", def.MinAmount.String())
	v.SetDefault("max_amount", def.MaxAmount.String())
	v.SetDefault("require_pin", def.RequirePIN)
	v.SetDefault("pin_timeout", def.PINTimeout)
	v.SetDefault("expiry_tz", def.ExpiryTZ)
	v.SetDefault("gateway_timeout", def.GatewayTimeout)
	v.SetDefault("session_retention", def.SessionRetention)
	v.SetDefault("settlement.enabled", def.Settlement.Enabled)
	v.SetDefault("settlement.asset", def.Settlement.Asset)
	v.SetDefault("settlement.symbol", def.Settlement.Symbol)
	v.SetDefault("settlement.fallback_rate", def.Settlement.FallbackRate.String())
	v.SetDefault("settlement.market_url", "")
	v.SetDefault("settlement.pay_url", "")
	v.SetDefault("settlement.rate_store", def.Settlement.RateStore)
	v.SetDefault("settlement.redis_addr", "localhost:6379")
	v.SetDefault("settlement.rate_ttl", def.Settlement.RateTTL)
	v.SetDefault("settlement.timeout", def.Settlement.Timeout)
	v.SetDefault("journal.backend", def.Journal.Backend)
	v.SetDefault("journal.dsn", def.Journal.DSN)
	v.SetDefault("otel.enabled", false)
	v.SetDefault("otel.service_name", "cardflow-terminal")

	if path, _ := cmd.Flags().GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	return v, nil
}

func loadConfig(v *viper.Viper) (*terminal.Config, error) {
	cfg := terminal.DefaultConfig()

	cfg.HTTPAddr = v.GetString("http_addr")
	cfg.TerminalID = v.GetString("terminal_id")
	cfg.MerchantID = v.GetString("merchant_id")
	cfg.Currency = strings.ToUpper(v.GetString("currency"))
	cfg.RequirePIN = v.GetBool("require_pin")
	cfg.PINTimeout = v.GetDuration("pin_timeout")
	cfg.ExpiryTZ = v.GetString("expiry_tz")
	cfg.GatewayTimeout = v.GetDuration("gateway_timeout")
	cfg.SessionRetention = v.GetDuration("session_retention")

	var err error
	if cfg.MinAmount, err = decimal.NewFromString(v.GetString("min_amount")); err != nil {
		return nil, fmt.Errorf("min_amount: %w", err)
	}
	if cfg.MaxAmount, err = decimal.NewFromString(v.GetString("max_amount")); err != nil {
		return nil, fmt.Errorf("max_amount: %w", err)
	}
	if cfg.MinAmount.GreaterThan(cfg.MaxAmount) {
		return nil, fmt.Errorf("min_amount %s is above max_amount %s", cfg.MinAmount, cfg.MaxAmount)
	}

	if v.IsSet("gateways") {
		var entries []gatewayEntry
		if err := v.UnmarshalKey("gateways", &entries); err != nil {
			return nil, fmt.Errorf("gateways: %w", err)
		}
		cfg.Gateways = cfg.Gateways[:0]
		for _, e := range entries {
			cfg.Gateways = append(cfg.Gateways, terminal.GatewayConfig(e))
		}
	}

	s := &cfg.Settlement
	s.Enabled = v.GetBool("settlement.enabled")
	s.Asset = v.GetString("settlement.asset")
	s.Symbol = v.GetString("settlement.symbol")
	s.MarketURL = v.GetString("settlement.market_url")
	s.PayURL = v.GetString("settlement.pay_url")
	s.RateStore = v.GetString("settlement.rate_store")
	s.RedisAddr = v.GetString("settlement.redis_addr")
	s.RateTTL = v.GetDuration("settlement.rate_ttl")
	s.Timeout = v.GetDuration("settlement.timeout")
	if s.FallbackRate, err = decimal.NewFromString(v.GetString("settlement.fallback_rate")); err != nil {
		return nil, fmt.Errorf("settlement.fallback_rate: %w", err)
	}

	cfg.Journal.Backend = v.GetString("journal.backend")
	cfg.Journal.DSN = v.GetString("journal.dsn")

	return cfg, nil
}
