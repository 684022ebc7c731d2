package terminal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Config is a configuration for the terminal application. Credentials are
// not part of it; they come from the secret store.
type Config struct {
	HTTPAddr   string
	TerminalID string
	MerchantID string
	Currency   string
	MinAmount  decimal.Decimal
	MaxAmount  decimal.Decimal
	RequirePIN bool
	PINTimeout time.Duration
	// ExpiryTZ is an IANA timezone name card expiry is evaluated in.
	ExpiryTZ string
	// GatewayTimeout bounds every single gateway call.
	GatewayTimeout time.Duration
	// SessionRetention is how long finished payments stay visible on the API.
	SessionRetention time.Duration
	// Gateways is the fallback chain in priority order.
	Gateways   []GatewayConfig
	Settlement SettlementConfig
	Journal    JournalConfig
}

// GatewayConfig is one position of the chain. Name keys the gateway's
// secrets, e.g. "<name>.secret_key".
type GatewayConfig struct {
	Name    string
	Kind    string
	BaseURL string
	// Addr is the host:port of an ISO 8583 acquirer.
	Addr    string
	Timeout time.Duration
}

type SettlementConfig struct {
	Enabled      bool
	Asset        string
	Symbol       string
	FallbackRate decimal.Decimal
	MarketURL    string
	PayURL       string
	// RateStore is "memory" or "redis".
	RateStore string
	RedisAddr string
	RateTTL   time.Duration
	Timeout   time.Duration
}

type JournalConfig struct {
	// Backend is "mem", "pg" or "sqlite".
	Backend string
	DSN     string
}

func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:         "localhost:8080",
		TerminalID:       "T0000001",
		MerchantID:       "M00000000000001",
		Currency:         "USD",
		MinAmount:        decimal.RequireFromString("1.00"),
		MaxAmount:        decimal.RequireFromString("10000.00"),
		PINTimeout:       60 * time.Second,
		ExpiryTZ:         "UTC",
		GatewayTimeout:   30 * time.Second,
		SessionRetention: 15 * time.Minute,
		Gateways: []GatewayConfig{
			{Name: "stripe", Kind: "stripe"},
			{Name: "flutterwave", Kind: "flutterwave"},
			{Name: "paypal", Kind: "paypal"},
		},
		Settlement: SettlementConfig{
			Asset:        "ETH",
			Symbol:       "ETHUSDT",
			FallbackRate: decimal.NewFromInt(2000),
			RateStore:    "memory",
			RateTTL:      24 * time.Hour,
			Timeout:      15 * time.Second,
		},
		Journal: JournalConfig{
			Backend: "sqlite",
			DSN:     "file:terminal.db?_pragma=busy_timeout(5000)",
		},
	}
}
