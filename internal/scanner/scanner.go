package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/PhucNguyen204/netwatch/internal/alert"
	"github.com/PhucNguyen204/netwatch/internal/collector"
	"github.com/PhucNguyen204/netwatch/internal/config"
	"github.com/PhucNguyen204/netwatch/internal/evaluator"
	"github.com/PhucNguyen204/netwatch/internal/geo"
	"github.com/PhucNguyen204/netwatch/internal/history"
	"github.com/PhucNguyen204/netwatch/internal/metrics"
	"github.com/PhucNguyen204/netwatch/internal/models"
	"github.com/PhucNguyen204/netwatch/internal/ratelimit"
	"github.com/PhucNguyen204/netwatch/pkg/engine"
)

var (
	ErrScanInProgress = errors.New("a scan is already in progress")
	ErrUnknownMode    = errors.New("unknown scan mode")
)

// ReasonUnknown is used when a result is flagged but no rule label fired.
const ReasonUnknown = "unknown reason"

const defaultInterval = 30 * time.Minute

// ConfigSource yields the configuration snapshot used by one scan.
type ConfigSource interface {
	Current() config.Config
}

type Options struct {
	Live       collector.Source
	Fixtures   collector.Source
	Inspector  collector.ProcessInspector
	Locator    geo.Locator
	Limiter    *ratelimit.Window
	Process    *evaluator.Process
	Connection *evaluator.Connection
	History    history.Store
	Alerter    alert.Alerter
	Metrics    *metrics.Metrics
	Config     ConfigSource
	Clock      ratelimit.Clock
	Log        *logrus.Entry
}

// Status describes the running scan, or the last one when none runs.
type Status struct {
	Running    bool                `json:"running"`
	ScanID     string              `json:"scanId,omitempty"`
	Mode       string              `json:"mode,omitempty"`
	StartedAt  time.Time           `json:"startedAt,omitempty"`
	FinishedAt time.Time           `json:"finishedAt,omitempty"`
	Error      string              `json:"error,omitempty"`
	Results    []models.ScanResult `json:"results"`
}

// Scanner runs one scan at a time. Connections are classified sequentially
// so recurrence counts and the rate limiter see them in input order.
type Scanner struct {
	opts Options
	log  *logrus.Entry

	running atomic.Bool

	mu        sync.Mutex
	cancel    context.CancelFunc
	status    Status
	observers []func(models.ScanResult)
}

func New(opts Options) (*Scanner, error) {
	if opts.Process == nil || opts.Connection == nil {
		return nil, errors.New("scanner: process and connection evaluators are required")
	}
	if opts.Config == nil {
		return nil, errors.New("scanner: config source is required")
	}
	if opts.History == nil {
		opts.History = history.NewMemory()
	}
	if opts.Fixtures == nil {
		opts.Fixtures = collector.NewFixtures()
	}
	if opts.Clock == nil {
		opts.Clock = ratelimit.RealClock
	}
	if opts.Limiter == nil {
		opts.Limiter = ratelimit.NewWindow(45, time.Minute, opts.Clock)
	}
	log := opts.Log
	if log == nil {
		log = logrus.WithField("component", "scanner")
	}
	return &Scanner{opts: opts, log: log}, nil
}

// OnResult registers an observer called with each result, in input order.
func (s *Scanner) OnResult(fn func(models.ScanResult)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *Scanner) Running() bool { return s.running.Load() }

// Cancel aborts the running scan. It reports whether one was running.
func (s *Scanner) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

func (s *Scanner) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Running = s.running.Load()
	st.Results = append([]models.ScanResult{}, s.status.Results...)
	return st
}

func (s *Scanner) resolveMode(mode string) (string, error) {
	if mode == "" {
		mode = s.opts.Config.Current().ScanMode
	}
	switch mode {
	case config.ModeLive, "":
		return config.ModeLive, nil
	case config.ModeTest:
		return config.ModeTest, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

type run struct {
	ctx    context.Context
	cancel context.CancelFunc
	id     string
	mode   string
}

func (s *Scanner) begin(parent context.Context, mode string) (*run, error) {
	mode, err := s.resolveMode(mode)
	if err != nil {
		return nil, err
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	ctx, cancel := context.WithCancel(parent)
	r := &run{ctx: ctx, cancel: cancel, id: uuid.NewString(), mode: mode}

	s.mu.Lock()
	s.cancel = cancel
	s.status = Status{ScanID: r.id, Mode: mode, StartedAt: s.opts.Clock.Now().UTC()}
	s.mu.Unlock()
	return r, nil
}

func (s *Scanner) finish(r *run, err error) {
	r.cancel()
	s.mu.Lock()
	s.cancel = nil
	s.status.FinishedAt = s.opts.Clock.Now().UTC()
	if err != nil {
		s.status.Error = err.Error()
	}
	s.mu.Unlock()
	s.running.Store(false)
}

// Scan runs a scan and blocks until it ends. A cancelled scan returns the
// results classified so far together with the context error.
func (s *Scanner) Scan(ctx context.Context, mode string) ([]models.ScanResult, error) {
	r, err := s.begin(ctx, mode)
	if err != nil {
		return nil, err
	}
	results, err := s.execute(r)
	s.finish(r, err)
	return results, err
}

// Start launches a scan in the background and returns its id.
func (s *Scanner) Start(ctx context.Context, mode string) (string, error) {
	r, err := s.begin(ctx, mode)
	if err != nil {
		return "", err
	}
	go func() {
		_, err := s.execute(r)
		s.finish(r, err)
	}()
	return r.id, nil
}

func (s *Scanner) execute(r *run) ([]models.ScanResult, error) {
	start := s.opts.Clock.Now()
	log := s.log.WithFields(logrus.Fields{"scan_id": r.id, "mode": r.mode})
	cfg := s.opts.Config.Current()

	source := s.opts.Live
	if r.mode == config.ModeTest {
		source = s.opts.Fixtures
	}
	if source == nil {
		err := fmt.Errorf("no connection source for mode %s", r.mode)
		s.opts.Metrics.ObserveScan(r.mode, metrics.OutcomeFailed, 0)
		return nil, err
	}

	conns, err := source.List(r.ctx)
	if err != nil {
		log.WithError(err).Error("scan aborted: cannot list connections")
		s.opts.Metrics.ObserveScan(r.mode, metrics.OutcomeFailed, s.opts.Clock.Now().Sub(start))
		return nil, fmt.Errorf("list connections: %w", err)
	}
	log.WithField("connections", len(conns)).Info("scan started")

	benign, err := s.opts.History.NonRiskyCounts(r.ctx)
	if err != nil {
		log.WithError(err).Warn("history unavailable, benign counts start at zero")
		benign = map[string]int{}
	}

	s.mu.Lock()
	observers := append([]func(models.ScanResult){}, s.observers...)
	s.mu.Unlock()

	results := make([]models.ScanResult, 0, len(conns))
	alerted := false
	var scanErr error
	for _, conn := range conns {
		if err := r.ctx.Err(); err != nil {
			scanErr = err
			break
		}
		res, err := s.classify(r, conn, cfg, benign, log)
		if err != nil {
			scanErr = err
			break
		}
		results = append(results, res)

		s.mu.Lock()
		s.status.Results = append(s.status.Results, res)
		s.mu.Unlock()
		for _, fn := range observers {
			fn(res)
		}
		s.opts.Metrics.ObserveResult(res.IsRisky, res.IsSuspicious)

		if res.Flagged() && !alerted {
			alerted = true
			if s.opts.Alerter != nil {
				s.opts.Alerter.Alert(res)
			}
		}
	}

	if len(results) > 0 {
		if err := s.opts.History.Append(context.WithoutCancel(r.ctx), results); err != nil {
			log.WithError(err).Warn("cannot persist scan results")
		}
	}

	outcome := metrics.OutcomeCompleted
	if scanErr != nil {
		outcome = metrics.OutcomeCancelled
		log.WithField("classified", len(results)).Warn("scan cancelled")
	} else {
		log.WithField("results", len(results)).Info("scan completed")
	}
	s.opts.Metrics.ObserveScan(r.mode, outcome, s.opts.Clock.Now().Sub(start))
	return results, scanErr
}

// classify enriches and scores one connection. The only error it returns is
// a context error; collaborator failures degrade to empty fields.
func (s *Scanner) classify(r *run, conn collector.Connection, cfg config.Config, benign map[string]int, log *logrus.Entry) (models.ScanResult, error) {
	log = log.WithFields(logrus.Fields{"ip": conn.RemoteAddress, "pid": conn.PID})

	var name, path string
	var signed, sigOK bool
	if m := conn.Meta; m != nil {
		name, path, signed, sigOK = m.Name, m.Path, m.IsSigned, m.SignatureOK
	} else {
		name, path, signed, sigOK = s.inspect(r.ctx, conn.PID, log)
	}
	log = log.WithField("process", name)

	loc, err := s.locate(r.ctx, conn, log)
	if err != nil {
		return models.ScanResult{}, err
	}

	ectx := engine.Context{
		IP:                   conn.RemoteAddress,
		RemotePort:           conn.RemotePort,
		PID:                  conn.PID,
		Process:              name,
		ProcessPath:          path,
		IsSigned:             signed,
		SignatureOK:          sigOK,
		Country:              loc.Country,
		Provider:             loc.Provider,
		Organization:         loc.Organization,
		City:                 loc.City,
		NonRiskyHistoryCount: benign[models.ProcessKey(name)],
		Extra:                socketFields(conn),
	}
	pv := s.opts.Process.Evaluate(ectx, cfg)
	ectx.Recurrence = pv.Recurrence
	cv := s.opts.Connection.Evaluate(ectx, cfg)

	res := models.ScanResult{
		ScanID:          r.id,
		Timestamp:       s.opts.Clock.Now().UTC(),
		IP:              conn.RemoteAddress,
		RemotePort:      conn.RemotePort,
		Country:         loc.Country,
		Provider:        loc.Provider,
		Organization:    loc.Organization,
		City:            loc.City,
		Lat:             loc.Lat,
		Lon:             loc.Lon,
		PID:             conn.PID,
		Process:         name,
		ProcessPath:     path,
		IsSigned:        signed,
		IsRisky:         cv.Risky,
		IsSuspicious:    pv.Suspicious,
		ConnectionScore: cv.Score,
		ProcessScore:    pv.Score,
	}
	res.Reasons = append(append([]string{}, pv.Reasons...), cv.Reasons...)
	res.SuspicionReason = suspicionReason(pv, cv)

	if res.Flagged() {
		log.WithFields(logrus.Fields{
			"risky":      res.IsRisky,
			"suspicious": res.IsSuspicious,
			"reason":     res.SuspicionReason,
		}).Warn("connection flagged")
	} else {
		log.WithField("score", cv.Score).Debug("connection classified")
	}
	return res, nil
}

// Socket attributes exposed to rules as extension fields.
const (
	FieldProtocol     = "protocol"
	FieldLocalAddress = "localAddress"
	FieldLocalPort    = "localPort"
	FieldState        = "state"
)

func socketFields(conn collector.Connection) map[string]any {
	extra := map[string]any{
		FieldProtocol:     conn.Protocol,
		FieldLocalAddress: conn.LocalAddress,
		FieldState:        conn.State,
	}
	if conn.LocalPort != 0 {
		extra[FieldLocalPort] = int(conn.LocalPort)
	}
	return extra
}

func suspicionReason(pv evaluator.ProcessVerdict, cv evaluator.ConnectionVerdict) string {
	var parts []string
	if pv.Suspicious && pv.Reason != "" {
		parts = append(parts, pv.Reason)
	}
	if cv.Risky {
		parts = append(parts, cv.Reasons...)
	}
	reason := strings.Join(parts, ", ")
	if reason == "" && (pv.Suspicious || cv.Risky) {
		return ReasonUnknown
	}
	return reason
}

func (s *Scanner) inspect(ctx context.Context, pid int32, log *logrus.Entry) (name, path string, signed, sigOK bool) {
	in := s.opts.Inspector
	if in == nil {
		return "", "", false, false
	}
	var err error
	if name, err = in.Name(ctx, pid); err != nil {
		log.WithError(err).Warn("process name lookup failed")
		name = ""
	}
	if path, err = in.Path(ctx, pid); err != nil {
		log.WithError(err).Warn("process path lookup failed")
		path = ""
	}
	signed, err = in.Signed(ctx, pid)
	switch {
	case errors.Is(err, collector.ErrSignatureUnsupported):
		log.Debug("signature check unsupported")
		return name, path, false, false
	case err != nil:
		log.WithError(err).Warn("signature check failed")
		return name, path, false, false
	}
	return name, path, signed, true
}

func (s *Scanner) locate(ctx context.Context, conn collector.Connection, log *logrus.Entry) (geo.Location, error) {
	if conn.Meta != nil && conn.Meta.Geo != nil {
		s.opts.Metrics.ObserveGeo("skipped")
		return *conn.Meta.Geo, nil
	}
	if s.opts.Locator == nil {
		return geo.Location{}, nil
	}
	before := s.opts.Limiter.Waits()
	if err := s.opts.Limiter.Wait(ctx); err != nil {
		return geo.Location{}, err
	}
	if waited := s.opts.Limiter.Waits() - before; waited > 0 {
		log.Info("geolocation rate limit reached, resumed after window")
		s.opts.Metrics.AddRateLimitWaits(waited)
	}

	loc, err := s.opts.Locator.Lookup(ctx, conn.RemoteAddress)
	if err != nil {
		if ctx.Err() != nil {
			return geo.Location{}, ctx.Err()
		}
		log.WithError(err).Warn("geolocation failed")
		s.opts.Metrics.ObserveGeo("error")
		return geo.Location{}, nil
	}
	s.opts.Metrics.ObserveGeo("ok")
	return loc, nil
}

// RunPeriodic scans every scanInterval while periodicScan is enabled. The
// configuration is re-read before each wait and each scan.
func (s *Scanner) RunPeriodic(ctx context.Context) {
	for {
		interval := s.opts.Config.Current().ScanInterval.Std()
		if interval <= 0 {
			interval = defaultInterval
		}
		select {
		case <-ctx.Done():
			return
		case <-s.opts.Clock.After(interval):
		}

		cfg := s.opts.Config.Current()
		if !cfg.PeriodicScan {
			continue
		}
		_, err := s.Scan(ctx, cfg.ScanMode)
		switch {
		case errors.Is(err, ErrScanInProgress):
			s.log.Debug("periodic scan skipped, a scan is running")
		case err != nil && ctx.Err() == nil:
			s.log.WithError(err).Warn("periodic scan failed")
		}
	}
}
