package rules

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/PhucNguyen204/netwatch/internal/config"
	"github.com/PhucNguyen204/netwatch/internal/evaluator"
	"github.com/PhucNguyen204/netwatch/internal/recurrence"
	"github.com/PhucNguyen204/netwatch/pkg/engine"
	"github.com/PhucNguyen204/netwatch/pkg/ruleset"
)

const (
	KindProcess    = "process"
	KindConnection = "connection"

	SourceEmbedded = "embedded"
	SourceAPI      = "api"
)

// Summary describes the rule set loaded for one evaluator.
type Summary struct {
	Kind            string   `json:"kind"`
	Source          string   `json:"source"`
	Rules           int      `json:"rules"`
	Datasets        int      `json:"datasets"`
	Labels          []string `json:"labels"`
	MissingDatasets []string `json:"missingDatasets,omitempty"`
}

// Manager owns both evaluators and swaps their engines on reload.
type Manager struct {
	mu         sync.Mutex
	process    *evaluator.Process
	connection *evaluator.Connection
	sources    map[string]string
	log        *logrus.Entry
}

// Compile loads the rule set at path, or the embedded default for kind
// when path is empty, and builds its engine.
func Compile(kind, path string) (*engine.Engine, error) {
	var def func() (*ruleset.RuleSet, error)
	switch kind {
	case KindProcess:
		def = ruleset.DefaultProcess
	case KindConnection:
		def = ruleset.DefaultConnection
	default:
		return nil, fmt.Errorf("unknown rule set kind %q", kind)
	}
	rs, err := ruleset.LoadOrDefault(path, def)
	if err != nil {
		return nil, fmt.Errorf("%s rules: %w", kind, err)
	}
	return engine.New(rs)
}

func NewManager(rc config.RulesConfig, tracker *recurrence.Tracker, log *logrus.Entry) (*Manager, error) {
	if log == nil {
		log = logrus.WithField("component", "rules")
	}
	pe, err := Compile(KindProcess, rc.Process)
	if err != nil {
		return nil, err
	}
	ce, err := Compile(KindConnection, rc.Connection)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		process:    evaluator.NewProcess(pe, tracker),
		connection: evaluator.NewConnection(ce),
		sources:    map[string]string{KindProcess: source(rc.Process), KindConnection: source(rc.Connection)},
		log:        log,
	}
	m.warnMissing(KindProcess, pe)
	m.warnMissing(KindConnection, ce)
	return m, nil
}

func source(path string) string {
	if path == "" {
		return SourceEmbedded
	}
	return path
}

func (m *Manager) Process() *evaluator.Process       { return m.process }
func (m *Manager) Connection() *evaluator.Connection { return m.connection }

// Reload recompiles both rule sets; neither is swapped unless both compile.
func (m *Manager) Reload(rc config.RulesConfig) error {
	pe, err := Compile(KindProcess, rc.Process)
	if err != nil {
		return err
	}
	ce, err := Compile(KindConnection, rc.Connection)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.process.SetEngine(pe)
	m.connection.SetEngine(ce)
	m.sources[KindProcess] = source(rc.Process)
	m.sources[KindConnection] = source(rc.Connection)
	m.warnMissing(KindProcess, pe)
	m.warnMissing(KindConnection, ce)
	m.log.WithFields(logrus.Fields{
		"process_rules":    pe.RuleCount(),
		"connection_rules": ce.RuleCount(),
	}).Info("rule sets reloaded")
	return nil
}

// Replace compiles doc and swaps it in for kind.
func (m *Manager) Replace(kind string, doc []byte) (Summary, error) {
	rs, err := ruleset.Load(doc)
	if err != nil {
		return Summary{}, err
	}
	e, err := engine.New(rs)
	if err != nil {
		return Summary{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch kind {
	case KindProcess:
		m.process.SetEngine(e)
	case KindConnection:
		m.connection.SetEngine(e)
	default:
		return Summary{}, fmt.Errorf("unknown rule set kind %q", kind)
	}
	m.sources[kind] = SourceAPI
	m.warnMissing(kind, e)
	m.log.WithFields(logrus.Fields{"kind": kind, "rules": e.RuleCount()}).Info("rule set replaced")
	return summarize(kind, SourceAPI, e), nil
}

func (m *Manager) Summaries() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []Summary{
		summarize(KindProcess, m.sources[KindProcess], m.process.Engine()),
		summarize(KindConnection, m.sources[KindConnection], m.connection.Engine()),
	}
}

func summarize(kind, src string, e *engine.Engine) Summary {
	rs := e.RuleSet()
	labels := make([]string, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		labels = append(labels, r.Label)
	}
	return Summary{
		Kind: kind, Source: src,
		Rules: e.RuleCount(), Datasets: e.DatasetCount(),
		Labels: labels, MissingDatasets: rs.MissingDatasets(),
	}
}

// unresolved dataset references evaluate to false at scan time
func (m *Manager) warnMissing(kind string, e *engine.Engine) {
	if missing := e.RuleSet().MissingDatasets(); len(missing) > 0 {
		m.log.WithFields(logrus.Fields{"kind": kind, "datasets": missing}).Warn("rule set references unknown datasets")
	}
}
