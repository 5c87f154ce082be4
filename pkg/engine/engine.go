package engine

import (
	"errors"
	"sort"

	"github.com/PhucNguyen204/netwatch/pkg/ruleset"
)

// BaselineScore: connection chưa được chấm điểm nghiêng về nghi ngờ
const BaselineScore = -5

// Result của một lần evaluate. Risky() <=> Score < 0.
type Result struct {
	Score   int      `json:"score"`
	Reasons []string `json:"reasons"`
}

func (r Result) Risky() bool { return r.Score < 0 }

type compiledRule struct {
	rule    ruleset.Rule
	needles []*needleSet // theo index condition, nil nếu không phải containsAny tĩnh
}

// Engine bất biến sau New(); Evaluate là hàm thuần của (rule set, context, lists).
type Engine struct {
	rs    *ruleset.RuleSet
	rules []compiledRule
}

// New build engine từ rule set đã compile
func New(rs *ruleset.RuleSet) (*Engine, error) {
	if rs == nil {
		return nil, errors.New("nil rule set")
	}
	e := &Engine{rs: rs, rules: make([]compiledRule, 0, len(rs.Rules))}
	for _, r := range rs.Rules {
		cr := compiledRule{rule: r, needles: make([]*needleSet, len(r.Conditions))}
		for i, c := range r.Conditions {
			if c.Op != ruleset.OpContainsAny && c.Op != ruleset.OpNotContainsAny {
				continue
			}
			switch c.List.Kind {
			case ruleset.RefLiteral:
				cr.needles[i] = newNeedleSet(c.List.Values)
			case ruleset.RefDataset:
				if ds, ok := rs.Dataset(c.List.Name); ok {
					cr.needles[i] = newNeedleSet(datasetTerms(ds))
				}
			}
		}
		e.rules = append(e.rules, cr)
	}
	return e, nil
}

// array => values, map => keys; regex dataset dùng pattern trực tiếp
func datasetTerms(ds *ruleset.Dataset) []string {
	switch ds.Kind {
	case ruleset.KindArray:
		return ds.Values
	case ruleset.KindMap:
		keys := make([]string, 0, len(ds.Entries))
		for k := range ds.Entries {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys
	default:
		return nil
	}
}

// Evaluate: score bắt đầu từ BaselineScore, mọi rule đều được xét (AND các
// condition), rule khớp cộng weight; weight âm thì thêm label vào reasons.
func (e *Engine) Evaluate(ctx *Context, lists ListSource) Result {
	res := Result{Score: BaselineScore, Reasons: []string{}}
	if ctx == nil {
		ctx = &Context{}
	}
	for i := range e.rules {
		cr := &e.rules[i]
		if !e.ruleMatches(cr, ctx, lists) {
			continue
		}
		res.Score += cr.rule.Weight
		if cr.rule.Weight < 0 {
			res.Reasons = append(res.Reasons, cr.rule.Label)
		}
	}
	return res
}

func (e *Engine) ruleMatches(cr *compiledRule, ctx *Context, lists ListSource) bool {
	if len(cr.rule.Conditions) == 0 {
		return false
	}
	for j := range cr.rule.Conditions {
		if !e.evalCondition(&cr.rule.Conditions[j], cr.needles[j], ctx, lists) {
			return false
		}
	}
	return true
}

// RuleSet trả về rule set gốc (chỉ đọc)
func (e *Engine) RuleSet() *ruleset.RuleSet { return e.rs }

func (e *Engine) RuleCount() int { return len(e.rules) }

func (e *Engine) DatasetCount() int { return len(e.rs.Datasets) }
