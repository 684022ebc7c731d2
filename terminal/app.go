package terminal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/alovak/cardflow-terminal/internal/gateway"
	"github.com/alovak/cardflow-terminal/internal/gateway/binance"
	"github.com/alovak/cardflow-terminal/internal/middleware"
	"github.com/alovak/cardflow-terminal/internal/payment"
	"github.com/alovak/cardflow-terminal/internal/security"
	"github.com/alovak/cardflow-terminal/internal/settlement"
	"github.com/alovak/cardflow-terminal/internal/validator"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/exp/slog"
	_ "modernc.org/sqlite"
)

// App is the main application, it contains all the components of the
// terminal service and is responsible for starting and stopping them.
type App struct {
	srv     *http.Server
	wg      *sync.WaitGroup
	Addr    string
	logger  *slog.Logger
	config  *Config
	secrets security.SecretStore

	// PINEncryptor replaces the software PIN key from the secret store,
	// e.g. with an HSM session. Set it before Start.
	PINEncryptor security.PINEncryptor

	service *Service
	closers []io.Closer
}

func NewApp(logger *slog.Logger, config *Config, secrets security.SecretStore) *App {
	logger = logger.With(slog.String("app", "terminal"))

	if config == nil {
		config = DefaultConfig()
	}
	if secrets == nil {
		secrets = security.MapStore{}
	}

	return &App{
		wg:      &sync.WaitGroup{},
		logger:  logger,
		config:  config,
		secrets: secrets,
	}
}

func (a *App) Start() error {
	a.logger.Info("starting app...")
	ctx := context.Background()

	repository, err := a.openJournal(ctx)
	if err != nil {
		return err
	}

	loc := time.UTC
	if a.config.ExpiryTZ != "" {
		if l, err := time.LoadLocation(a.config.ExpiryTZ); err == nil {
			loc = l
		} else {
			a.logger.Info("invalid ExpiryTZ; using default UTC", slog.String("tz", a.config.ExpiryTZ), slog.Any("err", err))
		}
	}

	pins, err := a.pinEncryptor(ctx)
	if err != nil {
		return err
	}

	gateways, closers, err := buildGateways(ctx, a.logger, a.config.Gateways, a.secrets, pins)
	a.closers = append(a.closers, closers...)
	if err != nil {
		return fmt.Errorf("building gateways: %w", err)
	}
	chain := gateway.NewChain(a.logger, a.config.GatewayTimeout, gateways...)

	settler, err := a.settler(ctx)
	if err != nil {
		return fmt.Errorf("building settlement: %w", err)
	}

	var fingerprintKey []byte
	if key, err := a.secrets.Secret(ctx, "card.fingerprint_key"); err == nil {
		fingerprintKey = []byte(key)
	}

	a.service = NewService(ServiceConfig{
		Payment: payment.Config{
			Limits:         validator.Limits{Min: a.config.MinAmount, Max: a.config.MaxAmount},
			Currency:       a.config.Currency,
			Location:       loc,
			TerminalID:     a.config.TerminalID,
			MerchantID:     a.config.MerchantID,
			RequirePIN:     a.config.RequirePIN,
			FingerprintKey: fingerprintKey,
			Description:    "POS purchase " + a.config.TerminalID,
		},
		PINTimeout:       a.config.PINTimeout,
		SessionRetention: a.config.SessionRetention,
	}, chain, settler, repository, a.logger)

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(middleware.NewStructuredLogger(a.logger))

	api := NewAPI(a.service)
	api.AppendRoutes(router)

	router.Get("/-/live", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	router.Get("/-/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := repository.Ping(ctx); err != nil {
			http.Error(w, "journal not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	l, err := net.Listen("tcp", a.config.HTTPAddr)
	if err != nil {
		return fmt.Errorf("listening tcp port: %w", err)
	}

	a.Addr = l.Addr().String()

	a.srv = &http.Server{
		Handler: otelhttp.NewHandler(router, "terminal"),
	}

	a.wg.Add(1)
	go func() {
		a.logger.Info("http server started", slog.String("addr", a.Addr))

		if err := a.srv.Serve(l); err != nil {
			if err != http.ErrServerClosed {
				a.logger.Error("starting http server", "err", err)
			}

			a.logger.Info("http server stopped")
		}

		a.wg.Done()
	}()

	return nil
}

// Service is available once Start has succeeded.
func (a *App) Service() *Service {
	return a.service
}

func (a *App) openJournal(ctx context.Context) (*Repository, error) {
	switch a.config.Journal.Backend {
	case "mem", "":
		return NewRepository(), nil
	case "pg":
		db, err := a.openDB(ctx, "postgres")
		if err != nil {
			return nil, err
		}
		db.SetMaxIdleConns(5)
		db.SetMaxOpenConns(10)
		repository := NewPGRepository(db)
		return repository, repository.EnsureSchema(ctx)
	case "sqlite":
		db, err := a.openDB(ctx, "sqlite")
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(1)
		repository := NewSQLiteRepository(db)
		return repository, repository.EnsureSchema(ctx)
	default:
		return nil, fmt.Errorf("unsupported journal backend %q", a.config.Journal.Backend)
	}
}

func (a *App) openDB(ctx context.Context, driver string) (*sql.DB, error) {
	if a.config.Journal.DSN == "" {
		return nil, fmt.Errorf("journal DSN is required for %s backend", driver)
	}
	db, err := sql.Open(driver, a.config.Journal.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	a.closers = append(a.closers, db)
	return db, nil
}

// pinEncryptor returns the configured encryptor, falling back to the
// software key "pin.zpk". Without either, PIN blocks cannot be built.
func (a *App) pinEncryptor(ctx context.Context) (security.PINEncryptor, error) {
	if a.PINEncryptor != nil {
		return a.PINEncryptor, nil
	}
	key, err := a.secrets.Secret(ctx, "pin.zpk")
	if errors.Is(err, security.ErrSecretNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	enc, err := security.NewTDESPINEncryptor(key)
	if err != nil {
		return nil, fmt.Errorf("pin key: %w", err)
	}
	return enc, nil
}

func (a *App) settler(ctx context.Context) (payment.Settler, error) {
	cfg := a.config.Settlement
	if !cfg.Enabled {
		return nil, nil
	}

	s, err := security.Resolve(ctx, a.secrets, "binance.api_key", "binance.secret_key", "settlement.wallet_address")
	if err != nil {
		return nil, err
	}

	client := binance.New(binance.Config{
		MarketURL: cfg.MarketURL,
		PayURL:    cfg.PayURL,
		APIKey:    s["binance.api_key"],
		SecretKey: s["binance.secret_key"],
		Timeout:   cfg.Timeout,
	}, a.logger)

	var rates settlement.RateStore
	switch cfg.RateStore {
	case "redis":
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, rdb)
		rates = settlement.NewRedisRateStore(rdb, cfg.RateTTL)
	case "memory", "":
		rates = settlement.NewMemoryRateStore()
	default:
		return nil, fmt.Errorf("unsupported rate store %q", cfg.RateStore)
	}

	return settlement.NewConverter(settlement.Config{
		Asset:         cfg.Asset,
		Symbol:        cfg.Symbol,
		FallbackRate:  cfg.FallbackRate,
		WalletAddress: s["settlement.wallet_address"],
		Timeout:       cfg.Timeout,
	}, client, client, rates, a.logger), nil
}

func (a *App) Shutdown() {
	a.logger.Info("shutting down app...")

	if a.srv != nil {
		a.srv.Shutdown(context.Background())
	}

	if a.service != nil {
		a.service.Close()
	}

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.logger.Error("closing resource", "err", err)
		}
	}

	a.wg.Wait()

	a.logger.Info("app stopped")
}
