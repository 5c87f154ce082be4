package engine

import (
	"strings"

	ac "github.com/petar-dambovaliev/aho-corasick"
)

// needleSet: automaton cho containsAny trên list tĩnh (literal, dataset array,
// key của map dataset), build một lần lúc New().
type needleSet struct {
	ac       *ac.AhoCorasick
	patterns []string // lowercased, đã bỏ rỗng + trùng
}

func newNeedleSet(values []string) *needleSet {
	ns := &needleSet{}
	seen := map[string]struct{}{}
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue // entry rỗng bị bỏ qua, không khớp mọi chuỗi
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		ns.patterns = append(ns.patterns, v)
	}
	if len(ns.patterns) == 0 {
		return ns
	}
	builder := ac.NewAhoCorasickBuilder(ac.Opts{
		AsciiCaseInsensitive: true,
		MatchKind:            ac.LeftMostLongestMatch,
	})
	built := builder.Build(ns.patterns)
	ns.ac = &built
	return ns
}

// matchAny: text chứa ít nhất một pattern (không phân biệt hoa thường)
func (n *needleSet) matchAny(text string) bool {
	if n == nil || n.ac == nil || text == "" {
		return false
	}
	return len(n.ac.FindAll(strings.ToLower(text))) > 0
}

// containsAnyFold cho list động (@config:), không build automaton mỗi lần evaluate
func containsAnyFold(text string, list []string) bool {
	lt := strings.ToLower(text)
	for _, it := range list {
		it = strings.ToLower(strings.TrimSpace(it))
		if it != "" && strings.Contains(lt, it) {
			return true
		}
	}
	return false
}
