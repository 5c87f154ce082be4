package evaluator

import (
	"strings"
	"sync/atomic"

	"github.com/PhucNguyen204/netwatch/internal/config"
	"github.com/PhucNguyen204/netwatch/internal/recurrence"
	"github.com/PhucNguyen204/netwatch/pkg/engine"
)

// SuspiciousThreshold: a process scoring below it is suspicious.
const SuspiciousThreshold = 50

const (
	ReasonNoPath     = "no executable path"
	ReasonUnverified = "unverified executable location"
)

// Privileged processes whose executable path is routinely unreadable.
var systemProcesses = map[string]struct{}{
	"system": {}, "registry": {}, "svchost.exe": {}, "lsass.exe": {}, "csrss.exe": {}, "smss.exe": {},
	"winlogon.exe": {}, "services.exe": {}, "wininit.exe": {}, "dwm.exe": {}, "taskhostw.exe": {},
	"conhost.exe": {}, "rundll32.exe": {}, "dllhost.exe": {}, "msmpeng.exe": {}, "spoolsv.exe": {},
	"ctfmon.exe": {},
}

func IsSystemProcess(name string) bool {
	_, ok := systemProcesses[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

type ProcessVerdict struct {
	Suspicious bool     `json:"isSuspicious"`
	Reason     string   `json:"reason,omitempty"`
	Score      int      `json:"score"`
	Reasons    []string `json:"reasons,omitempty"`
	Recurrence int      `json:"recurrence"`
	Trusted    bool     `json:"trusted,omitempty"`
}

// Process decides whether the executable behind a connection looks legitimate.
type Process struct {
	engine  atomic.Pointer[engine.Engine]
	tracker *recurrence.Tracker
}

func NewProcess(e *engine.Engine, tracker *recurrence.Tracker) *Process {
	if tracker == nil {
		tracker = recurrence.New(0)
	}
	p := &Process{tracker: tracker}
	p.engine.Store(e)
	return p
}

func (p *Process) Tracker() *recurrence.Tracker { return p.tracker }

func (p *Process) Engine() *engine.Engine { return p.engine.Load() }

// SetEngine swaps the rule engine; evaluations already running keep the old one.
func (p *Process) SetEngine(e *engine.Engine) { p.engine.Store(e) }

// Evaluate applies, in order: trust list, system process without path,
// missing path, then the rule engine. ctx.Recurrence is filled from the
// tracker, which is incremented for every non-empty path.
func (p *Process) Evaluate(ctx engine.Context, lists engine.ListSource) ProcessVerdict {
	ctx.ProcessPath = recurrence.NormalizePath(ctx.ProcessPath)
	var v ProcessVerdict
	if ctx.ProcessPath != "" {
		v.Recurrence = p.tracker.Observe(ctx.Process, ctx.ProcessPath)
	}

	if p.trusted(ctx.Process, ctx.ProcessPath, lists) {
		v.Trusted = true
		return v
	}
	if ctx.ProcessPath == "" {
		if IsSystemProcess(ctx.Process) {
			return v
		}
		v.Suspicious = true
		v.Reason = ReasonNoPath
		return v
	}

	ctx.Recurrence = v.Recurrence
	res := p.engine.Load().Evaluate(&ctx, lists)
	v.Score = res.Score
	v.Reasons = res.Reasons
	if res.Score < SuspiciousThreshold {
		v.Suspicious = true
		v.Reason = strings.Join(res.Reasons, ", ")
		if v.Reason == "" {
			v.Reason = ReasonUnverified
		}
	}
	return v
}

func (p *Process) trusted(name, path string, lists engine.ListSource) bool {
	if lists == nil {
		return false
	}
	trusted, ok := lists.LookupList(config.ListTrustedProcesses)
	if !ok {
		return false
	}
	name = strings.TrimSpace(name)
	for _, t := range trusted {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if name != "" && strings.EqualFold(t, name) {
			return true
		}
		if path != "" && strings.EqualFold(recurrence.NormalizePath(t), path) {
			return true
		}
	}
	return false
}
