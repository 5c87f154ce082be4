package engine

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/PhucNguyen204/netwatch/pkg/ruleset"
)

// ListSource resolve @config:<name> lúc evaluate (config có thể thay đổi giữa các scan)
type ListSource interface {
	LookupList(name string) ([]string, bool)
}

// Lists là ListSource đơn giản theo map
type Lists map[string][]string

func (l Lists) LookupList(name string) ([]string, bool) {
	v, ok := l[name]
	return v, ok
}

// evalCondition: mọi lỗi (field vắng, ref không resolve được, ép kiểu hỏng,
// operator lạ) đều trả false, không panic.
func (e *Engine) evalCondition(c *ruleset.Condition, needles *needleSet, ctx *Context, lists ListSource) bool {
	v, ok := ctx.Get(c.Field)
	if !ok {
		return false
	}

	switch c.Op {
	case ruleset.OpEquals:
		return equalValues(v, c.Value)

	case ruleset.OpGreaterThan:
		n, ok := toNumber(v)
		if !ok || math.IsNaN(n) || math.IsNaN(c.Number) {
			return false
		}
		return n > c.Number

	case ruleset.OpIn, ruleset.OpNotIn:
		in, resolved := e.member(c.List, toString(v), lists)
		if !resolved {
			return false
		}
		if c.Op == ruleset.OpNotIn {
			return !in
		}
		return in

	case ruleset.OpContainsAny, ruleset.OpNotContainsAny:
		hit, resolved := e.containsAny(c.List, needles, toString(v), lists)
		if !resolved {
			return false
		}
		if c.Op == ruleset.OpNotContainsAny {
			return !hit
		}
		return hit

	case ruleset.OpMatchDatasetMap, ruleset.OpNotMatchDatasetMap:
		key, ok := ctx.Get(c.Map.MatchField)
		if !ok {
			return false
		}
		ds, ok := e.rs.Dataset(c.Map.Dataset)
		if !ok {
			return false
		}
		re, ok := ds.Lookup(toString(key))
		if !ok {
			// không có entry => false cho cả hai chiều
			return false
		}
		matched := re.MatchString(toString(v))
		if c.Op == ruleset.OpNotMatchDatasetMap {
			return !matched
		}
		return matched

	default:
		return false
	}
}

// member trả (kết quả, resolved). resolved=false khi ref không tồn tại.
func (e *Engine) member(ref ruleset.ListRef, val string, lists ListSource) (bool, bool) {
	switch ref.Kind {
	case ruleset.RefLiteral:
		return containsFold(ref.Values, val), true
	case ruleset.RefDataset:
		ds, ok := e.rs.Dataset(ref.Name)
		if !ok {
			return false, false
		}
		return ds.Contains(val), true
	case ruleset.RefConfig:
		if lists == nil {
			return false, false
		}
		list, ok := lists.LookupList(ref.Name)
		if !ok {
			return false, false
		}
		return containsFold(list, val), true
	default:
		return false, false
	}
}

func (e *Engine) containsAny(ref ruleset.ListRef, needles *needleSet, val string, lists ListSource) (bool, bool) {
	switch ref.Kind {
	case ruleset.RefLiteral:
		return needles.matchAny(val), true
	case ruleset.RefDataset:
		ds, ok := e.rs.Dataset(ref.Name)
		if !ok {
			return false, false
		}
		if ds.Kind == ruleset.KindRegex {
			// pattern regex đã là phép "search" => chứa
			return ds.Contains(val), true
		}
		return needles.matchAny(val), true
	case ruleset.RefConfig:
		if lists == nil {
			return false, false
		}
		list, ok := lists.LookupList(ref.Name)
		if !ok {
			return false, false
		}
		return containsAnyFold(val, list), true
	default:
		return false, false
	}
}

// so sánh theo kiểu: string với string, số với số, bool với bool
func equalValues(ctxVal, want any) bool {
	switch w := want.(type) {
	case string:
		s, ok := ctxVal.(string)
		return ok && s == w
	case bool:
		b, ok := ctxVal.(bool)
		return ok && b == w
	}
	wn, ok := numeric(want)
	if !ok {
		return false
	}
	cn, ok := numeric(ctxVal)
	return ok && cn == wn
}

// numeric: chỉ kiểu số thực sự
func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint32:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

// toNumber: ép kiểu số cho greaterThan (bool => 0/1, string => parse)
func toNumber(v any) (float64, bool) {
	if n, ok := numeric(v); ok {
		return n, true
	}
	switch t := v.(type) {
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, it := range list {
		if strings.EqualFold(strings.TrimSpace(it), v) {
			return true
		}
	}
	return false
}
