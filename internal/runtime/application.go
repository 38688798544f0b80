// Package runtime is the composition root: it builds the store, the remote
// validator, the notification sink and every job service from configuration,
// and owns their lifecycle.
package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/engagehub/maintenance-core/internal/clock"
	"github.com/engagehub/maintenance-core/internal/config"
	"github.com/engagehub/maintenance-core/internal/metrics"
	"github.com/engagehub/maintenance-core/internal/notify"
	"github.com/engagehub/maintenance-core/internal/remote"
	"github.com/engagehub/maintenance-core/internal/services/gdpr"
	"github.com/engagehub/maintenance-core/internal/services/leaderboard"
	"github.com/engagehub/maintenance-core/internal/services/maintenance"
	"github.com/engagehub/maintenance-core/internal/services/scheduler"
	"github.com/engagehub/maintenance-core/internal/services/withdrawal"
	"github.com/engagehub/maintenance-core/internal/storage"
	"github.com/engagehub/maintenance-core/internal/storage/memory"
	"github.com/engagehub/maintenance-core/internal/storage/postgres"
	"github.com/engagehub/maintenance-core/internal/system"
	"github.com/engagehub/maintenance-core/migrations"
	"github.com/engagehub/maintenance-core/pkg/logger"
)

// sinkCapacity bounds the notification buffer; overflow drops the oldest.
const sinkCapacity = 1024

// Dependencies lets callers override the wiring, primarily for tests and for
// embedding. Nil fields fall back to the configured defaults.
type Dependencies struct {
	Store     storage.Store
	Validator remote.Validator
	Sink      notify.Sink
	Clock     clock.Clock
	Exports   gdpr.ExportSink
}

// Application wires the maintenance core and manages its lifecycle.
type Application struct {
	cfg       *config.Config
	log       *logger.Logger
	manager   *system.Manager
	store     storage.Store
	sink      notify.Sink
	engine    *withdrawal.Engine
	db        *sqlx.DB
	metricsrv *http.Server
}

// NewApplication loads configuration from the environment and builds the
// default wiring.
func NewApplication() (*Application, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return New(cfg, Dependencies{})
}

// New builds an application from explicit configuration and overrides.
func New(cfg *config.Config, deps Dependencies) (*Application, error) {
	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	})

	app := &Application{cfg: cfg, log: log}

	app.store = deps.Store
	if app.store == nil {
		store, db, err := buildStore(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("configure store: %w", err)
		}
		app.store = store
		app.db = db
	}

	app.sink = deps.Sink
	if app.sink == nil {
		app.sink = notify.NewChannelSink(sinkCapacity)
	}

	clk := deps.Clock
	if clk == nil {
		clk = clock.System{}
	}

	validator := deps.Validator
	if validator == nil {
		v, err := buildValidator(cfg, log)
		if err != nil {
			return nil, fmt.Errorf("configure validator: %w", err)
		}
		validator = v
	}

	maint := maintenance.New(cfg.Suspicion, cfg.Wellness, cfg.Retention,
		app.store, validator, app.sink, clk, logger.NewDefault("maintenance"))
	app.engine = withdrawal.NewEngine(cfg.Withdraw, cfg.Fraud, cfg.Suspicion,
		app.store, app.sink, clk, logger.NewDefault("withdrawal-engine"))
	boards := leaderboard.NewRebuilder(app.store, app.sink, clk, logger.NewDefault("leaderboard"))
	gdprProc := gdpr.NewProcessor(app.store, app.sink, deps.Exports, clk, logger.NewDefault("gdpr"))

	sched := scheduler.New(logger.NewDefault("scheduler"))
	periods := cfg.JobPeriods
	sched.Add(scheduler.Job{Name: "expire_tasks", Every: seconds(periods.ExpireTasksSec), Run: maint.ExpireTasks})
	sched.Add(scheduler.Job{Name: "check_order_liveness", Every: seconds(periods.OrderLivenessSec), Run: maint.CheckOrderLiveness})
	sched.Add(scheduler.Job{Name: "detect_suspicious", Every: seconds(periods.DetectSuspiciousSec), Run: maint.DetectSuspicious})
	sched.Add(scheduler.Job{Name: "settle_withdrawals", Every: seconds(periods.SettleWithdrawalsSec), Run: app.engine.Settle})
	sched.Add(scheduler.Job{Name: "wellness_nudges", Every: seconds(periods.WellnessNudgesSec), Run: maint.WellnessNudges})
	sched.Add(scheduler.Job{Name: "rebuild_leaderboards", Every: seconds(periods.RebuildLeaderboardsSec), Run: boards.Rebuild})
	sched.Add(scheduler.Job{Name: "process_gdpr", Every: seconds(periods.ProcessGDPRSec), Run: gdprProc.Process})
	sched.Add(scheduler.Job{Name: "purge_stale_logs", Every: seconds(periods.PurgeStaleLogsSec), Run: maint.PurgeStaleLogs})

	app.manager = system.NewManager(logger.NewDefault("system"))
	app.manager.Register(sched)

	return app, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func buildStore(cfg *config.Config, log *logger.Logger) (storage.Store, *sqlx.DB, error) {
	if cfg.Database.DSN == "" {
		log.Info("no database configured, using in-memory store")
		return memory.New(), nil, nil
	}

	db, err := sqlx.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, nil, err
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	if err := migrations.Up(db.DB); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("apply migrations: %w", err)
	}
	return postgres.New(db), db, nil
}

func buildValidator(cfg *config.Config, log *logger.Logger) (remote.Validator, error) {
	if cfg.Remote.BaseURL == "" {
		log.Warn("no remote service configured, probes resolve against the canned validator")
		return remote.NewStatic(), nil
	}

	var cache remote.ProbeCache
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		cache = remote.NewRedisCache(client)
	}

	return remote.NewProber(remote.ProberConfig{
		BaseURL:     cfg.Remote.BaseURL,
		APIKey:      cfg.Remote.APIKey,
		RateGap:     cfg.Remote.RateGap(),
		Timeout:     time.Duration(cfg.Remote.TimeoutSeconds) * time.Second,
		MaxRetries:  cfg.Remote.MaxRetries,
		NotFoundTTL: time.Duration(cfg.Remote.NotFoundCacheMin) * time.Minute,
		Cache:       cache,
	}, logger.NewDefault("remote-prober"))
}

// Engine exposes the synchronous withdrawal entry points to the embedding
// transport layer.
func (a *Application) Engine() *withdrawal.Engine { return a.engine }

// Store exposes the wired store.
func (a *Application) Store() storage.Store { return a.store }

// Sink exposes the wired notification sink.
func (a *Application) Sink() notify.Sink { return a.sink }

// Start brings up the metrics endpoint and the scheduler.
func (a *Application) Start(ctx context.Context) error {
	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		a.metricsrv = &http.Server{Addr: addr, Handler: mux}
		go func() {
			a.log.Infof("metrics listening on %s", addr)
			if err := a.metricsrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				a.log.WithError(err).Error("metrics server failed")
			}
		}()
	}
	return a.manager.Start(ctx)
}

// Run starts the application and blocks until the context is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return nil
}

// Shutdown stops the scheduler, the metrics endpoint and the database pool.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	err := a.manager.Stop(shutdownCtx)
	if a.metricsrv != nil {
		if srvErr := a.metricsrv.Shutdown(shutdownCtx); srvErr != nil && err == nil {
			err = srvErr
		}
	}
	if a.db != nil {
		if dbErr := a.db.Close(); dbErr != nil && err == nil {
			err = dbErr
		}
	}
	return err
}
