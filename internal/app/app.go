package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/PhucNguyen204/netwatch/internal/alert"
	"github.com/PhucNguyen204/netwatch/internal/collector"
	"github.com/PhucNguyen204/netwatch/internal/config"
	"github.com/PhucNguyen204/netwatch/internal/geo"
	"github.com/PhucNguyen204/netwatch/internal/history"
	"github.com/PhucNguyen204/netwatch/internal/logging"
	"github.com/PhucNguyen204/netwatch/internal/metrics"
	"github.com/PhucNguyen204/netwatch/internal/ratelimit"
	"github.com/PhucNguyen204/netwatch/internal/recurrence"
	"github.com/PhucNguyen204/netwatch/internal/rules"
	"github.com/PhucNguyen204/netwatch/internal/scanner"
	"github.com/PhucNguyen204/netwatch/internal/server"
)

// Options overrides collaborators, mostly for tests and the CLI.
type Options struct {
	Alerter alert.Alerter
	Live    collector.Source
	Locator geo.Locator
}

// App wires the scanner, its stores and the API around one config store.
type App struct {
	store   *config.Store
	log     *logrus.Entry
	tracker *recurrence.Tracker
	rules   *rules.Manager
	history history.Store
	metrics *metrics.Metrics
	scanner *scanner.Scanner
	server  *server.Server
	closers []io.Closer

	mu        sync.Mutex
	lastRules config.RulesConfig
}

// New builds every component from the store's current config.
func New(ctx context.Context, store *config.Store, opts Options) (*App, error) {
	cfg := store.Current()
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	a := &App{store: store, log: logging.Component("app"), tracker: recurrence.New(0), lastRules: cfg.Rules}

	var err error
	a.rules, err = rules.NewManager(cfg.Rules, a.tracker, logging.Component("rules"))
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	a.history, err = history.Open(ctx, cfg.History, cfg.MaxHistorySizeMB)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	a.closers = append(a.closers, a.history)

	locator := opts.Locator
	if locator == nil {
		locator, err = a.openLocator(cfg.Geo)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	alerter := opts.Alerter
	if alerter == nil {
		alerter = alert.NewConsole(logging.Component("alert"))
	}
	live := opts.Live
	if live == nil {
		live = collector.NewLive()
	}

	a.metrics = metrics.New()
	a.scanner, err = scanner.New(scanner.Options{
		Live:       live,
		Inspector:  collector.NewInspector(),
		Locator:    locator,
		Limiter:    ratelimit.NewWindow(cfg.Geo.RateLimit, cfg.Geo.RateWindow.Std(), nil),
		Process:    a.rules.Process(),
		Connection: a.rules.Connection(),
		History:    a.history,
		Alerter:    alerter,
		Metrics:    a.metrics,
		Config:     store,
		Log:        logging.Component("scanner"),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.server = server.New(server.Deps{
		Scanner: a.scanner,
		History: a.history,
		Config:  store,
		Rules:   a.rules,
		Tracker: a.tracker,
		Metrics: a.metrics,
		Log:     logging.Component("api"),
	})

	store.OnChange(a.applyConfig)
	return a, nil
}

func (a *App) openLocator(gc config.GeoConfig) (geo.Locator, error) {
	switch gc.Provider {
	case "", "ipapi":
		return geo.NewIPAPI(gc.Endpoint, gc.Timeout.Std()), nil
	case "maxmind":
		m, err := geo.OpenMaxMind(gc.CityDB, gc.ASNDB)
		if err != nil {
			return nil, fmt.Errorf("open maxmind databases: %w", err)
		}
		a.closers = append(a.closers, m)
		return m, nil
	default:
		return nil, fmt.Errorf("unknown geo provider %q", gc.Provider)
	}
}

// applyConfig follows config changes that can be applied without a restart.
// Geolocation and history settings are read once at startup.
func (a *App) applyConfig(cfg config.Config) {
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	a.mu.Lock()
	changed := cfg.Rules != a.lastRules
	a.mu.Unlock()
	if !changed {
		return
	}
	if err := a.rules.Reload(cfg.Rules); err != nil {
		a.log.WithError(err).Error("rule reload failed, keeping previous rule sets")
		return
	}
	a.mu.Lock()
	a.lastRules = cfg.Rules
	a.mu.Unlock()
}

func (a *App) Scanner() *scanner.Scanner { return a.scanner }
func (a *App) History() history.Store    { return a.history }
func (a *App) Rules() *rules.Manager     { return a.rules }
func (a *App) Server() *server.Server    { return a.server }

// Serve watches the config file, runs periodic scans and serves the API
// until ctx is done.
func (a *App) Serve(ctx context.Context) error {
	if err := a.store.Watch(ctx); err != nil {
		a.log.WithError(err).Warn("config hot reload disabled")
	}
	go a.scanner.RunPeriodic(ctx)

	addr := a.store.Current().Server.Listen
	if err := a.server.Run(ctx, addr); err != nil {
		return fmt.Errorf("api server: %w", err)
	}
	a.scanner.Cancel()
	return nil
}

func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
