package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/labelmint/labelmint/internal/api"
	"github.com/labelmint/labelmint/internal/app/credit"
	"github.com/labelmint/labelmint/internal/app/engine"
	"github.com/labelmint/labelmint/internal/health"
	"github.com/labelmint/labelmint/internal/infra/eventbus"
	"github.com/labelmint/labelmint/internal/infra/redisbus"
	"github.com/labelmint/labelmint/internal/infra/sqlite"
)

// Daemon is the LabelMint runtime. It wires together all services.
type Daemon struct {
	Config  Config
	Logger  *zap.Logger
	DB      *sqlite.DB
	Bus     *eventbus.Bus
	Ledger  *credit.Service
	Engine  *engine.Engine
	Sweeper *engine.Sweeper
	Health  *health.Checker
	Server  *api.Server

	redis     *redis.Client
	unforward func()
	logCloser io.Closer
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates a Daemon from $LABELMINT_HOME/config.toml.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	logger, logCloser := NewLogger(cfg.Logging)

	db, err := sqlite.Open(cfg.Store.Dir)
	if err != nil {
		logCloser.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	d := &Daemon{
		Config:    cfg,
		Logger:    logger,
		DB:        db,
		logCloser: logCloser,
	}

	d.Bus = eventbus.New(eventbus.Config{Shards: cfg.Events.Shards, Buffer: cfg.Events.Buffer}, logger.Named("events"))
	if cfg.Events.Redis.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := redisbus.Dial(ctx, cfg.Events.Redis.Config)
		cancel()
		if err != nil {
			// Forwarding is best effort; the engine runs without it.
			logger.Warn("redis event forwarding disabled", zap.Error(err))
		} else {
			d.redis = client
			fwd := redisbus.NewForwarder(client, cfg.Events.Redis.Channel, logger.Named("redisbus"))
			d.unforward = fwd.Attach(d.Bus)
		}
	}

	d.Ledger = credit.NewService(db, logger.Named("credit"))
	d.Engine = engine.New(db, cfg.EngineSettings(), engine.Options{
		Logger:    logger.Named("engine"),
		Events:    d.Bus,
		Disburser: d.Ledger,
		Billing:   d.Ledger,
		Earnings:  d.Ledger,
	})

	if cfg.Sweeper.Enabled {
		d.Sweeper, err = engine.NewSweeper(d.Engine, cfg.SweeperSettings())
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create sweeper: %w", err)
		}
	}

	d.Health = health.NewChecker(parseDuration(cfg.Telemetry.HealthInterval, 30*time.Second),
		logger.Named("health"), health.Check{Name: "store", CheckFn: db.Ping})
	if d.redis != nil {
		d.Health.Add(health.Check{Name: "redis", CheckFn: func(ctx context.Context) error {
			return d.redis.Ping(ctx).Err()
		}})
	}

	d.Server = api.NewServer(d.Engine, api.Options{
		Funder:         d.Ledger,
		Health:         d.Health,
		Logger:         logger.Named("api"),
		MetricsEnabled: cfg.Telemetry.Prometheus,
		RequestTimeout: parseDuration(cfg.API.RequestTimeout, 30*time.Second),
	})
	return d, nil
}

// Start launches the background services: health probing and the sweeper.
func (d *Daemon) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	go d.Health.Run(ctx)
	if d.Sweeper != nil {
		d.Sweeper.Start()
	}
}

// Serve starts the HTTP server and blocks until shutdown.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()
	d.Start(ctx)

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		select {
		case sig := <-sigCh:
			d.Logger.Info("shutting down", zap.String("signal", sig.String()))
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			d.Logger.Warn("http shutdown", zap.Error(err))
		}
	}()

	d.Logger.Info("labelmint serving",
		zap.String("addr", "http://"+addr),
		zap.Bool("metrics", d.Config.Telemetry.Prometheus),
		zap.Bool("sweeper", d.Sweeper != nil),
		zap.Bool("redis_events", d.redis != nil))

	err := httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		<-done
		err = nil
	}
	d.Close()
	return err
}

// Close shuts down all daemon resources. Queued events are delivered
// before the store closes. It is safe to call more than once.
func (d *Daemon) Close() {
	d.closeOnce.Do(d.close)
}

func (d *Daemon) close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Sweeper != nil {
		if err := d.Sweeper.Stop(); err != nil {
			d.Logger.Warn("stop sweeper", zap.Error(err))
		}
	}
	if d.Bus != nil {
		d.Bus.Close()
	}
	if d.unforward != nil {
		d.unforward()
	}
	if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
	_ = d.Logger.Sync()
	if d.logCloser != nil {
		_ = d.logCloser.Close()
	}
}
