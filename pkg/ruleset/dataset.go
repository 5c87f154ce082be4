package ruleset

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// RawDataset là khai báo dataset chưa compile: {type, values}
type RawDataset struct {
	Type   string `yaml:"type" json:"type"`
	Values any    `yaml:"values" json:"values"`
}

// CompileError: pattern không hợp lệ hoặc values sai kiểu
type CompileError struct {
	Dataset string
	Index   int    // vị trí trong values (regex/array), -1 với map
	Key     string // key của map dataset
	Err     error
}

func (e *CompileError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("dataset %q key %q: %v", e.Dataset, e.Key, e.Err)
	}
	if e.Index >= 0 {
		return fmt.Sprintf("dataset %q index %d: %v", e.Dataset, e.Index, e.Err)
	}
	return fmt.Sprintf("dataset %q: %v", e.Dataset, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// CompileDatasets compile toàn bộ khai báo, dừng ở lỗi đầu tiên
// (không trả về dataset compile dở).
func CompileDatasets(raw map[string]RawDataset) (map[string]*Dataset, error) {
	names := make([]string, 0, len(raw))
	for n := range raw {
		names = append(names, n)
	}
	sort.Strings(names) // lỗi ổn định giữa các lần chạy

	out := make(map[string]*Dataset, len(raw))
	for _, name := range names {
		ds, err := compileDataset(name, raw[name])
		if err != nil {
			return nil, err
		}
		out[name] = ds
	}
	return out, nil
}

func compileDataset(name string, rd RawDataset) (*Dataset, error) {
	switch strings.ToLower(strings.TrimSpace(rd.Type)) {
	case "regex":
		items, err := asList(name, rd.Values)
		if err != nil {
			return nil, err
		}
		ds := &Dataset{Name: name, Kind: KindRegex, Patterns: make([]*regexp.Regexp, 0, len(items))}
		for i, it := range items {
			s, ok := it.(string)
			if !ok {
				return nil, &CompileError{Dataset: name, Index: i, Err: fmt.Errorf("pattern must be a string, got %T", it)}
			}
			re, err := compilePattern(s)
			if err != nil {
				return nil, &CompileError{Dataset: name, Index: i, Err: err}
			}
			ds.Patterns = append(ds.Patterns, re)
		}
		return ds, nil

	case "map":
		m, ok := rd.Values.(map[string]any)
		if !ok && rd.Values != nil {
			return nil, &CompileError{Dataset: name, Index: -1, Err: fmt.Errorf("map dataset values must be a mapping, got %T", rd.Values)}
		}
		ds := &Dataset{Name: name, Kind: KindMap, Entries: make(map[string]*regexp.Regexp, len(m))}
		for k, v := range m {
			s, ok := v.(string)
			if !ok {
				return nil, &CompileError{Dataset: name, Index: -1, Key: k, Err: fmt.Errorf("pattern must be a string, got %T", v)}
			}
			re, err := compilePattern(s)
			if err != nil {
				return nil, &CompileError{Dataset: name, Index: -1, Key: k, Err: err}
			}
			ds.Entries[lower(k)] = re
		}
		return ds, nil

	default:
		// mọi type khác => array
		items, err := asList(name, rd.Values)
		if err != nil {
			return nil, err
		}
		ds := &Dataset{Name: name, Kind: KindArray, Values: make([]string, 0, len(items))}
		for _, it := range items {
			ds.Values = append(ds.Values, toString(it))
		}
		return ds, nil
	}
}

func asList(name string, v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out, nil
	default:
		return nil, &CompileError{Dataset: name, Index: -1, Err: fmt.Errorf("values must be a list, got %T", v)}
	}
}

// pattern luôn không phân biệt hoa thường
func compilePattern(p string) (*regexp.Regexp, error) {
	if !strings.HasPrefix(p, "(?i)") {
		p = "(?i)" + p
	}
	return regexp.Compile(p)
}

func toString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func lower(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func containsFold(list []string, v string) bool {
	for _, it := range list {
		if strings.EqualFold(strings.TrimSpace(it), strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}
