package ruleset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tài liệu bắt đầu bằng '{' đọc bằng encoding/json (đúng chuẩn JSON: "\/",
// key trùng, weight dạng 1e2); còn lại là YAML qua yaml.v3.
type rawRuleSet struct {
	Datasets map[string]RawDataset `yaml:"datasets"`
	Rules    []rawRule             `yaml:"rules"`
}

type rawRule struct {
	Label      string           `yaml:"label"`
	Conditions []map[string]any `yaml:"conditions"`
	Weight     int              `yaml:"weight"`
}

// Load parse + compile một rule set. Mọi lỗi ở đây là lỗi load-time:
// caller không được chạy scan với rule set lỗi.
func Load(b []byte) (*RuleSet, error) {
	rr, err := decode(b)
	if err != nil {
		return nil, fmt.Errorf("parse rule set: %w", err)
	}
	if len(rr.Rules) == 0 {
		return nil, errors.New("rule set has no rules")
	}

	datasets, err := CompileDatasets(rr.Datasets)
	if err != nil {
		return nil, err
	}

	rules := make([]Rule, 0, len(rr.Rules))
	for i, r := range rr.Rules {
		label := strings.TrimSpace(r.Label)
		if label == "" {
			return nil, fmt.Errorf("rule %d: missing label", i)
		}
		if len(r.Conditions) == 0 {
			return nil, fmt.Errorf("rule %d (%s): no conditions", i, label)
		}
		conds := make([]Condition, 0, len(r.Conditions))
		for j, m := range r.Conditions {
			c, err := parseCondition(m)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s) condition %d: %w", i, label, j, err)
			}
			conds = append(conds, c)
		}
		rules = append(rules, Rule{Label: label, Conditions: conds, Weight: r.Weight})
	}
	return &RuleSet{Datasets: datasets, Rules: rules}, nil
}

type jsonRuleSet struct {
	Datasets map[string]RawDataset `json:"datasets"`
	Rules    []struct {
		Label      string           `json:"label"`
		Conditions []map[string]any `json:"conditions"`
		Weight     json.Number      `json:"weight"`
	} `json:"rules"`
}

func decode(b []byte) (rawRuleSet, error) {
	var rr rawRuleSet
	body := bytes.TrimLeft(b, " \t\r\n\ufeff")
	if len(body) == 0 || body[0] != '{' {
		err := yaml.Unmarshal(b, &rr)
		return rr, err
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var jr jsonRuleSet
	if err := dec.Decode(&jr); err != nil {
		return rr, err
	}
	if dec.More() {
		return rr, errors.New("trailing data after rule set")
	}
	rr.Datasets = jr.Datasets
	rr.Rules = make([]rawRule, 0, len(jr.Rules))
	for i, r := range jr.Rules {
		w, err := weight(r.Weight)
		if err != nil {
			return rr, fmt.Errorf("rule %d: %w", i, err)
		}
		rr.Rules = append(rr.Rules, rawRule{Label: r.Label, Conditions: r.Conditions, Weight: w})
	}
	return rr, nil
}

// weight phải là số nguyên; 1e2 hợp lệ, 1.5 thì không
func weight(n json.Number) (int, error) {
	if n == "" {
		return 0, nil
	}
	if i, err := n.Int64(); err == nil {
		return int(i), nil
	}
	f, err := n.Float64()
	if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
		return 0, fmt.Errorf("weight %s is not an integer", n)
	}
	return int(f), nil
}

// LoadFile đọc rule set từ đĩa
func LoadFile(path string) (*RuleSet, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule set %s: %w", path, err)
	}
	rs, err := Load(b)
	if err != nil {
		return nil, fmt.Errorf("rule set %s: %w", path, err)
	}
	return rs, nil
}

// {field: X, <op>: operand} → Condition
func parseCondition(m map[string]any) (Condition, error) {
	var c Condition
	field, _ := m["field"].(string)
	c.Field = strings.TrimSpace(field)
	if c.Field == "" {
		return c, errors.New("missing field")
	}

	var opKeys []string
	for k := range m {
		if k != "field" {
			opKeys = append(opKeys, k)
		}
	}
	if len(opKeys) != 1 {
		sort.Strings(opKeys)
		return c, fmt.Errorf("field %s: want exactly one operator, got %v", c.Field, opKeys)
	}
	key := opKeys[0]
	val := m[key]

	switch key {
	case "equals":
		c.Op = OpEquals
		v, ok := scalar(val)
		if !ok {
			return c, fmt.Errorf("field %s: equals needs a string, number or boolean, got %T", c.Field, val)
		}
		c.Value = v

	case "greaterThan":
		c.Op = OpGreaterThan
		n, ok := number(val)
		if !ok {
			return c, fmt.Errorf("field %s: greaterThan needs a number, got %T", c.Field, val)
		}
		c.Number = n

	case "in", "notIn", "containsAny", "notContainsAny":
		c.Op = map[string]Operator{
			"in": OpIn, "notIn": OpNotIn,
			"containsAny": OpContainsAny, "notContainsAny": OpNotContainsAny,
		}[key]
		ref, err := parseListRef(val)
		if err != nil {
			return c, fmt.Errorf("field %s: %s: %w", c.Field, key, err)
		}
		c.List = ref

	case "matchDatasetMap", "notMatchDatasetMap":
		c.Op = OpMatchDatasetMap
		if key == "notMatchDatasetMap" {
			c.Op = OpNotMatchDatasetMap
		}
		mm, ok := val.(map[string]any)
		if !ok {
			return c, fmt.Errorf("field %s: %s needs {dataset, matchField}", c.Field, key)
		}
		ds, _ := mm["dataset"].(string)
		mf, _ := mm["matchField"].(string)
		if strings.TrimSpace(ds) == "" || strings.TrimSpace(mf) == "" {
			return c, fmt.Errorf("field %s: %s needs {dataset, matchField}", c.Field, key)
		}
		c.Map = MapMatch{Dataset: strings.TrimSpace(ds), MatchField: strings.TrimSpace(mf)}

	default:
		return c, fmt.Errorf("field %s: unknown operator %q", c.Field, key)
	}
	return c, nil
}

// literal list, "@dataset:<name>" hoặc "@config:<name>"
func parseListRef(v any) (ListRef, error) {
	switch t := v.(type) {
	case []any:
		vals := make([]string, 0, len(t))
		for _, it := range t {
			vals = append(vals, toString(it))
		}
		return ListRef{Kind: RefLiteral, Values: vals}, nil
	case string:
		s := strings.TrimSpace(t)
		switch {
		case strings.HasPrefix(s, datasetPrefix) && len(s) > len(datasetPrefix):
			return ListRef{Kind: RefDataset, Name: strings.TrimPrefix(s, datasetPrefix)}, nil
		case strings.HasPrefix(s, configPrefix) && len(s) > len(configPrefix):
			return ListRef{Kind: RefConfig, Name: strings.TrimPrefix(s, configPrefix)}, nil
		}
		return ListRef{}, fmt.Errorf("reference %q must start with %s or %s", s, datasetPrefix, configPrefix)
	default:
		return ListRef{}, fmt.Errorf("list reference must be a list or a string, got %T", v)
	}
}

func scalar(v any) (any, bool) {
	switch t := v.(type) {
	case string, bool:
		return t, true
	}
	if n, ok := number(v); ok {
		return n, true
	}
	return nil, false
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float64:
		return t, true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// MissingDatasets liệt kê các @dataset: được rule tham chiếu nhưng không khai báo.
// Không phải lỗi (condition sẽ false) nhưng caller nên log cảnh báo.
func (rs *RuleSet) MissingDatasets() []string {
	seen := map[string]struct{}{}
	var out []string
	add := func(name string) {
		if _, ok := rs.Datasets[name]; ok {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	for _, r := range rs.Rules {
		for _, c := range r.Conditions {
			switch {
			case c.Op == OpMatchDatasetMap || c.Op == OpNotMatchDatasetMap:
				add(c.Map.Dataset)
			case c.List.Kind == RefDataset:
				add(c.List.Name)
			}
		}
	}
	sort.Strings(out)
	return out
}
