package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PhucNguyen204/netwatch/internal/alert"
	"github.com/PhucNguyen204/netwatch/internal/collector"
	"github.com/PhucNguyen204/netwatch/internal/config"
	"github.com/PhucNguyen204/netwatch/internal/evaluator"
	"github.com/PhucNguyen204/netwatch/internal/geo"
	"github.com/PhucNguyen204/netwatch/internal/history"
	"github.com/PhucNguyen204/netwatch/internal/metrics"
	"github.com/PhucNguyen204/netwatch/internal/models"
	"github.com/PhucNguyen204/netwatch/internal/ratelimit"
	"github.com/PhucNguyen204/netwatch/internal/recurrence"
	"github.com/PhucNguyen204/netwatch/pkg/engine"
	"github.com/PhucNguyen204/netwatch/pkg/ruleset"
)

// fakeClock jumps forward instead of sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	ch := make(chan time.Time, 1)
	ch <- c.now
	c.mu.Unlock()
	return ch
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type staticSource struct {
	conns []collector.Connection
	err   error
}

func (s staticSource) List(context.Context) ([]collector.Connection, error) { return s.conns, s.err }

type fakeInspector struct {
	name, path string
	signed     bool
	nameErr    error
	pathErr    error
	sigErr     error
}

func (f fakeInspector) Name(context.Context, int32) (string, error) { return f.name, f.nameErr }
func (f fakeInspector) Path(context.Context, int32) (string, error) { return f.path, f.pathErr }
func (f fakeInspector) Signed(context.Context, int32) (bool, error) { return f.signed, f.sigErr }

type recordingLocator struct {
	mu    sync.Mutex
	clock *fakeClock
	calls []time.Time
	loc   geo.Location
	err   error
}

func (l *recordingLocator) Lookup(ctx context.Context, ip string) (geo.Location, error) {
	l.mu.Lock()
	l.calls = append(l.calls, l.clock.Now())
	l.mu.Unlock()
	l.clock.Advance(150 * time.Millisecond)
	return l.loc, l.err
}

type harness struct {
	scanner *Scanner
	history *history.Memory
	alerts  []models.ScanResult
	clock   *fakeClock
	cfg     *config.Store
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	prs, err := ruleset.DefaultProcess()
	require.NoError(t, err)
	pe, err := engine.New(prs)
	require.NoError(t, err)
	crs, err := ruleset.DefaultConnection()
	require.NoError(t, err)
	ce, err := engine.New(crs)
	require.NoError(t, err)

	h := &harness{history: history.NewMemory(), clock: &fakeClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}}
	if opts.Config == nil {
		h.cfg = config.NewStore(config.Default(), "")
		opts.Config = h.cfg
	}
	opts.Process = evaluator.NewProcess(pe, recurrence.New(0))
	opts.Connection = evaluator.NewConnection(ce)
	if opts.History == nil {
		opts.History = h.history
	}
	if opts.Clock == nil {
		opts.Clock = h.clock
	}
	opts.Alerter = alert.Func(func(r models.ScanResult) { h.alerts = append(h.alerts, r) })
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	h.scanner, err = New(opts)
	require.NoError(t, err)
	return h
}

func liveConn(i int) collector.Connection {
	return collector.Connection{
		Protocol: "TCP", RemoteAddress: fmt.Sprintf("93.184.%d.%d", i/250, i%250+1),
		RemotePort: 443, State: "ESTABLISHED", PID: int32(1000 + i),
	}
}

func TestScan_TestModeFixtures(t *testing.T) {
	h := newHarness(t, Options{})
	var seen []string
	h.scanner.OnResult(func(r models.ScanResult) { seen = append(seen, r.IP) })

	results, err := h.scanner.Scan(context.Background(), config.ModeTest)
	require.NoError(t, err)

	fixtures, _ := collector.NewFixtures().List(context.Background())
	require.Len(t, results, len(fixtures))
	for i, r := range results {
		assert.Equal(t, fixtures[i].RemoteAddress, r.IP, "input order preserved")
		assert.Equal(t, results[0].ScanID, r.ScanID)
	}
	assert.Equal(t, len(fixtures), len(seen))

	byIP := map[string]models.ScanResult{}
	for _, r := range results {
		byIP[r.IP] = r
	}

	temp := byIP["45.13.37.1"]
	assert.True(t, temp.IsSuspicious)
	assert.False(t, temp.IsRisky)
	assert.Equal(t, "Executable in a suspicious folder, Unsigned executable", temp.SuspicionReason)

	browser := byIP["142.250.74.110"]
	assert.False(t, browser.IsSuspicious)
	assert.False(t, browser.IsRisky)
	assert.Empty(t, browser.SuspicionReason)

	svchost := byIP["20.190.151.7"]
	assert.False(t, svchost.IsSuspicious, "system process without a path")

	leaseweb := byIP["5.79.64.1"]
	assert.True(t, leaseweb.IsRisky)
	assert.Contains(t, leaseweb.SuspicionReason, "Risky hosting provider")

	iran := byIP["5.160.12.9"]
	assert.True(t, iran.IsRisky)
	assert.True(t, iran.IsSuspicious)
	assert.Equal(t, "Executable in a suspicious folder, Unsigned executable, Risky country", iran.SuspicionReason)

	require.Len(t, h.alerts, 1, "only the first flagged result alerts")
	assert.Equal(t, "45.13.37.1", h.alerts[0].IP)

	stored, err := h.history.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, stored, len(results))

	st := h.scanner.Status()
	assert.False(t, st.Running)
	assert.Equal(t, config.ModeTest, st.Mode)
	assert.Len(t, st.Results, len(results))
}

func TestScan_RateLimitAcrossRollingWindow(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)}
	loc := &recordingLocator{clock: clock, loc: geo.Location{Country: "United States"}}
	conns := make([]collector.Connection, 46)
	for i := range conns {
		conns[i] = liveConn(i)
	}
	h := newHarness(t, Options{
		Live:      staticSource{conns: conns},
		Inspector: fakeInspector{name: "tool.exe", path: `D:\tools\tool.exe`, signed: true},
		Locator:   loc,
		Clock:     clock,
		Limiter:   ratelimit.NewWindow(45, time.Minute, clock),
	})

	results, err := h.scanner.Scan(context.Background(), config.ModeLive)
	require.NoError(t, err)
	require.Len(t, results, 46)
	require.Len(t, loc.calls, 46)

	for i := range loc.calls {
		n := 0
		for j := i; j < len(loc.calls) && loc.calls[j].Sub(loc.calls[i]) < time.Minute; j++ {
			n++
		}
		assert.LessOrEqual(t, n, 45, "lookups in window starting at call %d", i)
	}
	assert.Equal(t, int32(1045), results[45].PID)
	assert.Equal(t, 46, h.scanner.opts.Process.Tracker().Count("tool.exe", `D:\tools\tool.exe`))
}

func TestScan_ListFailureAborts(t *testing.T) {
	boom := errors.New("netstat exploded")
	h := newHarness(t, Options{Live: staticSource{err: boom}})

	results, err := h.scanner.Scan(context.Background(), config.ModeLive)
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, results)
	assert.Empty(t, h.alerts)

	stored, _ := h.history.List(context.Background(), 0)
	assert.Empty(t, stored, "aborted scans write no history")
	assert.False(t, h.scanner.Running())
	assert.Contains(t, h.scanner.Status().Error, "netstat exploded")
}

func TestScan_CollaboratorFailuresDegrade(t *testing.T) {
	clock := &fakeClock{now: time.Unix(0, 0)}
	h := newHarness(t, Options{
		Live: staticSource{conns: []collector.Connection{liveConn(1)}},
		Inspector: fakeInspector{
			nameErr: errors.New("access denied"),
			pathErr: errors.New("access denied"),
			sigErr:  errors.New("powershell missing"),
		},
		Locator: &recordingLocator{clock: clock, err: geo.ErrLookupFailed},
		Clock:   clock,
	})

	results, err := h.scanner.Scan(context.Background(), config.ModeLive)
	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	assert.Empty(t, r.Process)
	assert.Empty(t, r.Country)
	assert.False(t, r.IsSigned)
	assert.False(t, r.IsRisky, "absent geolocation is not a risk signal")
	assert.True(t, r.IsSuspicious)
	assert.Equal(t, evaluator.ReasonNoPath, r.SuspicionReason)
}

func TestScan_UnsupportedSignatureIsUnknown(t *testing.T) {
	h := newHarness(t, Options{
		Live:      staticSource{conns: []collector.Connection{liveConn(1)}},
		Inspector: fakeInspector{name: "tool.exe", path: `D:\tools\tool.exe`, sigErr: collector.ErrSignatureUnsupported},
	})
	results, err := h.scanner.Scan(context.Background(), config.ModeLive)
	require.NoError(t, err)
	// neither signed nor unsigned rule fires
	assert.Equal(t, engine.BaselineScore, results[0].ProcessScore)
	assert.Equal(t, evaluator.ReasonUnverified, results[0].SuspicionReason)
}

func TestScan_SocketFieldsReachRules(t *testing.T) {
	udp := liveConn(2)
	udp.Protocol = "UDP"
	udp.LocalPort = 53000
	h := newHarness(t, Options{
		Live:      staticSource{conns: []collector.Connection{liveConn(1), udp}},
		Inspector: fakeInspector{name: "tool.exe", path: `D:\tools\tool.exe`, signed: true},
	})
	rs, err := ruleset.Load([]byte(`{"rules": [
  {"label": "has remote port", "conditions": [{"field": "remotePort", "greaterThan": 0}], "weight": 5},
  {"label": "UDP egress from an ephemeral port", "conditions": [
    {"field": "protocol", "in": ["udp"]},
    {"field": "localPort", "greaterThan": 49151}
  ], "weight": -10}
]}`))
	require.NoError(t, err)
	e, err := engine.New(rs)
	require.NoError(t, err)
	h.scanner.opts.Connection.SetEngine(e)

	results, err := h.scanner.Scan(context.Background(), config.ModeLive)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.False(t, results[0].IsRisky)
	assert.True(t, results[1].IsRisky)
	assert.Equal(t, -10, results[1].ConnectionScore)
	assert.Equal(t, []string{"UDP egress from an ephemeral port"}, results[1].Reasons[len(results[1].Reasons)-1:])
}

func TestScan_TrustedIPOverridesBan(t *testing.T) {
	cfg := config.Default()
	cfg.BannedIPs = []string{"45.13.37.1"}
	cfg.TrustedIPs = []string{"45.13.37.1"}
	cfg.TrustedProcesses = []string{"a8f3k.exe"}
	h := newHarness(t, Options{Config: config.NewStore(cfg, "")})

	results, err := h.scanner.Scan(context.Background(), config.ModeTest)
	require.NoError(t, err)
	assert.Equal(t, "45.13.37.1", results[0].IP)
	assert.False(t, results[0].IsRisky)
	assert.False(t, results[0].IsSuspicious)
	assert.Empty(t, results[0].SuspicionReason)
}

func TestScan_BenignHistoryBuildsTrust(t *testing.T) {
	mem := history.NewMemory()
	var past []models.ScanResult
	for i := 0; i < 6; i++ {
		past = append(past, models.ScanResult{Process: "Tool.exe", Timestamp: time.Unix(int64(i), 0)})
	}
	require.NoError(t, mem.Append(context.Background(), past))

	h := newHarness(t, Options{
		History:   mem,
		Live:      staticSource{conns: []collector.Connection{liveConn(1)}},
		Inspector: fakeInspector{name: "tool.exe", path: `C:\Program Files\Microsoft\tool.exe`, signed: true},
	})
	results, err := h.scanner.Scan(context.Background(), config.ModeLive)
	require.NoError(t, err)
	// -5 + 30 (folder) + 40 (signed) + 20 (history)
	assert.Equal(t, 85, results[0].ProcessScore)
}

type gateSource struct {
	entered chan struct{}
	release chan struct{}
}

func (g gateSource) List(ctx context.Context) ([]collector.Connection, error) {
	close(g.entered)
	<-g.release
	return nil, nil
}

func TestScan_SingleFlight(t *testing.T) {
	gate := gateSource{entered: make(chan struct{}), release: make(chan struct{})}
	h := newHarness(t, Options{Live: gate})

	done := make(chan error, 1)
	go func() {
		_, err := h.scanner.Scan(context.Background(), config.ModeLive)
		done <- err
	}()
	<-gate.entered

	_, err := h.scanner.Scan(context.Background(), config.ModeTest)
	assert.ErrorIs(t, err, ErrScanInProgress)
	_, err = h.scanner.Start(context.Background(), config.ModeTest)
	assert.ErrorIs(t, err, ErrScanInProgress)
	assert.True(t, h.scanner.Running())

	close(gate.release)
	require.NoError(t, <-done)
	assert.False(t, h.scanner.Running())

	_, err = h.scanner.Scan(context.Background(), config.ModeTest)
	assert.NoError(t, err)
}

func TestScan_UnknownMode(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.scanner.Scan(context.Background(), "turbo")
	assert.ErrorIs(t, err, ErrUnknownMode)
	assert.False(t, h.scanner.Running())
}

// blockingLocator blocks the third lookup until the scan is cancelled.
type blockingLocator struct {
	calls   int
	blocked chan struct{}
}

func (b *blockingLocator) Lookup(ctx context.Context, ip string) (geo.Location, error) {
	b.calls++
	if b.calls == 3 {
		close(b.blocked)
		<-ctx.Done()
		return geo.Location{}, ctx.Err()
	}
	return geo.Location{Country: "United States"}, nil
}

func TestScan_CancelKeepsPartialResults(t *testing.T) {
	conns := []collector.Connection{liveConn(1), liveConn(2), liveConn(3), liveConn(4)}
	loc := &blockingLocator{blocked: make(chan struct{})}
	h := newHarness(t, Options{
		Live:      staticSource{conns: conns},
		Inspector: fakeInspector{name: "tool.exe", path: `D:\tools\tool.exe`, signed: true},
		Locator:   loc,
	})

	type outcome struct {
		results []models.ScanResult
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := h.scanner.Scan(context.Background(), config.ModeLive)
		done <- outcome{r, err}
	}()
	<-loc.blocked
	assert.True(t, h.scanner.Cancel())

	out := <-done
	assert.ErrorIs(t, out.err, context.Canceled)
	require.Len(t, out.results, 2)

	stored, err := h.history.List(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, stored, 2, "partial results are persisted")
	assert.False(t, h.scanner.Cancel(), "nothing left to cancel")
}

func TestStart_RunsInBackground(t *testing.T) {
	h := newHarness(t, Options{})
	id, err := h.scanner.Start(context.Background(), config.ModeTest)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Eventually(t, func() bool { return !h.scanner.Running() }, 2*time.Second, 5*time.Millisecond)
	st := h.scanner.Status()
	assert.Equal(t, id, st.ScanID)
	assert.NotEmpty(t, st.Results)
	assert.Empty(t, st.Error)
}

func TestSuspicionReason(t *testing.T) {
	assert.Equal(t, "", suspicionReason(evaluator.ProcessVerdict{}, evaluator.ConnectionVerdict{Reasons: []string{"Banned IP"}}))
	assert.Equal(t, ReasonUnknown, suspicionReason(evaluator.ProcessVerdict{}, evaluator.ConnectionVerdict{Risky: true}))
	assert.Equal(t, "p, Banned IP", suspicionReason(
		evaluator.ProcessVerdict{Suspicious: true, Reason: "p"},
		evaluator.ConnectionVerdict{Risky: true, Reasons: []string{"Banned IP"}}))
}

// tickClock fires After only when the test sends a tick.
type tickClock struct{ ticks chan time.Time }

func (c tickClock) Now() time.Time                       { return time.Unix(0, 0) }
func (c tickClock) After(time.Duration) <-chan time.Time { return c.ticks }

func TestRunPeriodic(t *testing.T) {
	clk := tickClock{ticks: make(chan time.Time)}
	cfg := config.Default()
	cfg.ScanMode = config.ModeTest
	cfg.PeriodicScan = false
	store := config.NewStore(cfg, "")
	h := newHarness(t, Options{Config: store, Clock: clk})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.scanner.RunPeriodic(ctx)
		close(done)
	}()

	// two ticks: the second send only completes once the first was handled
	clk.ticks <- time.Time{}
	clk.ticks <- time.Time{}
	stored, _ := h.history.List(context.Background(), 0)
	assert.Empty(t, stored, "periodic scanning disabled")

	_, err := store.Update(func(c *config.Config) { c.PeriodicScan = true })
	require.NoError(t, err)
	clk.ticks <- time.Time{}
	clk.ticks <- time.Time{}
	stored, _ = h.history.List(context.Background(), 0)
	assert.NotEmpty(t, stored)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunPeriodic did not stop")
	}
}
