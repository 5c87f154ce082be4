package ruleset

import "regexp"

// Operator của một condition (mỗi condition đúng một operator)
type Operator int

const (
	OpInvalid Operator = iota
	OpEquals
	OpGreaterThan
	OpIn
	OpNotIn
	OpContainsAny
	OpNotContainsAny
	OpMatchDatasetMap
	OpNotMatchDatasetMap
)

var operatorNames = map[Operator]string{
	OpEquals:             "equals",
	OpGreaterThan:        "greaterThan",
	OpIn:                 "in",
	OpNotIn:              "notIn",
	OpContainsAny:        "containsAny",
	OpNotContainsAny:     "notContainsAny",
	OpMatchDatasetMap:    "matchDatasetMap",
	OpNotMatchDatasetMap: "notMatchDatasetMap",
}

// String trả về key dùng trong file rule set
func (o Operator) String() string {
	if s, ok := operatorNames[o]; ok {
		return s
	}
	return "invalid"
}

// Negated: notIn, notContainsAny, notMatchDatasetMap
func (o Operator) Negated() bool {
	return o == OpNotIn || o == OpNotContainsAny || o == OpNotMatchDatasetMap
}

// RefKind cho biết list-ref trỏ tới đâu
type RefKind int

const (
	RefLiteral RefKind = iota
	RefDataset         // @dataset:<name>
	RefConfig          // @config:<name>
)

const (
	datasetPrefix = "@dataset:"
	configPrefix  = "@config:"
)

// ListRef: literal list hoặc tham chiếu symbolic, resolve lúc evaluate
type ListRef struct {
	Kind   RefKind
	Name   string   // dataset/config name
	Values []string // literal values
}

func (r ListRef) String() string {
	switch r.Kind {
	case RefDataset:
		return datasetPrefix + r.Name
	case RefConfig:
		return configPrefix + r.Name
	default:
		return "literal"
	}
}

// MapMatch là operand của matchDatasetMap / notMatchDatasetMap
type MapMatch struct {
	Dataset    string
	MatchField string
}

// Condition: field + một operator với operand có kiểu.
// Chỉ operand tương ứng với Op được dùng.
type Condition struct {
	Field  string
	Op     Operator
	Value  any     // equals: string|float64|bool
	Number float64 // greaterThan
	List   ListRef // in/notIn/containsAny/notContainsAny
	Map    MapMatch
}

type Rule struct {
	Label      string
	Conditions []Condition
	Weight     int
}

// DatasetKind: array | regex | map
type DatasetKind int

const (
	KindArray DatasetKind = iota
	KindRegex
	KindMap
)

func (k DatasetKind) String() string {
	switch k {
	case KindRegex:
		return "regex"
	case KindMap:
		return "map"
	default:
		return "array"
	}
}

// Dataset đã compile, không thay đổi sau khi compile
type Dataset struct {
	Name     string
	Kind     DatasetKind
	Values   []string                  // array
	Patterns []*regexp.Regexp          // regex
	Entries  map[string]*regexp.Regexp // map: lowercased key -> pattern
}

// Contains: array -> so sánh không phân biệt hoa thường,
// regex -> bất kỳ pattern nào khớp, map -> key (lowercase) tồn tại
func (d *Dataset) Contains(v string) bool {
	switch d.Kind {
	case KindRegex:
		for _, re := range d.Patterns {
			if re.MatchString(v) {
				return true
			}
		}
		return false
	case KindMap:
		_, ok := d.Entries[lower(v)]
		return ok
	default:
		return containsFold(d.Values, v)
	}
}

// Lookup pattern theo key (map dataset)
func (d *Dataset) Lookup(key string) (*regexp.Regexp, bool) {
	if d.Kind != KindMap {
		return nil, false
	}
	re, ok := d.Entries[lower(key)]
	return re, ok
}

// Len: số phần tử của dataset
func (d *Dataset) Len() int {
	switch d.Kind {
	case KindRegex:
		return len(d.Patterns)
	case KindMap:
		return len(d.Entries)
	default:
		return len(d.Values)
	}
}

// RuleSet bất biến, load một lần
type RuleSet struct {
	Datasets map[string]*Dataset
	Rules    []Rule
}

// Dataset trả về dataset theo tên
func (rs *RuleSet) Dataset(name string) (*Dataset, bool) {
	if rs == nil {
		return nil, false
	}
	d, ok := rs.Datasets[name]
	return d, ok
}
