package ruleset

import (
	"errors"
	"regexp"
	"regexp/syntax"
	"testing"
)

func TestCompileDatasets_Kinds(t *testing.T) {
	raw := map[string]RawDataset{
		"list":  {Type: "array", Values: []any{"Chrome.exe", 42}},
		"other": {Type: "whatever", Values: []any{"x"}},
		"re":    {Type: "regex", Values: []any{`\\temp\\`, `^c:\\users\\public\\`}},
		"m":     {Type: "map", Values: map[string]any{"Chrome.EXE": `\\google\\chrome\\`}},
	}
	ds, err := CompileDatasets(raw)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if ds["list"].Kind != KindArray || ds["other"].Kind != KindArray {
		t.Fatalf("unknown types must compile to array datasets")
	}
	if ds["list"].Values[1] != "42" {
		t.Fatalf("array values copied as strings, got %q", ds["list"].Values[1])
	}
	if !ds["list"].Contains("chrome.EXE") {
		t.Fatalf("array membership is case-insensitive")
	}
	if ds["re"].Kind != KindRegex || ds["re"].Len() != 2 {
		t.Fatalf("unexpected regex dataset %+v", ds["re"])
	}
	if !ds["m"].Contains("CHROME.exe") {
		t.Fatalf("map membership tests lowercased keys")
	}
	re, ok := ds["m"].Lookup("chrome.exe")
	if !ok || !re.MatchString(`C:\Program Files\GOOGLE\Chrome\chrome.exe`) {
		t.Fatalf("map patterns must be case-insensitive")
	}
}

func TestCompileDatasets_RegexRoundTrip(t *testing.T) {
	patterns := []string{`\\temp\\`, `\\downloads\\`, `recycle\.bin`, `^\\tmp\\`}
	raw := map[string]RawDataset{"p": {Type: "regex", Values: toAny(patterns)}}
	ds, err := CompileDatasets(raw)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	inputs := []string{
		`C:\Temp\a.exe`, `C:\Users\bob\Downloads\setup.exe`, `C:\$Recycle.Bin\x.exe`,
		`\tmp\payload`, `C:\Program Files\app.exe`, `\usr\bin\curl`, ``, `temp`,
	}
	for _, in := range inputs {
		want := false
		for _, p := range patterns {
			if regexp.MustCompile("(?i)" + p).MatchString(in) {
				want = true
				break
			}
		}
		if got := ds["p"].Contains(in); got != want {
			t.Fatalf("Contains(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCompileDatasets_Errors(t *testing.T) {
	tests := []struct {
		name    string
		raw     RawDataset
		index   int
		key     string
		wrapped bool
	}{
		{name: "bad pattern", raw: RawDataset{Type: "regex", Values: []any{"a", "b", "(unclosed"}}, index: 2, wrapped: true},
		{name: "non-string pattern", raw: RawDataset{Type: "regex", Values: []any{"a", 7}}, index: 1},
		{name: "bad map pattern", raw: RawDataset{Type: "map", Values: map[string]any{"x.exe": "*"}}, index: -1, key: "x.exe", wrapped: true},
		{name: "map not mapping", raw: RawDataset{Type: "map", Values: []any{"a"}}, index: -1},
		{name: "regex not list", raw: RawDataset{Type: "regex", Values: "a"}, index: -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := CompileDatasets(map[string]RawDataset{"bad": tt.raw, "good": {Type: "array"}})
			var ce *CompileError
			if !errors.As(err, &ce) {
				t.Fatalf("expected CompileError, got %v", err)
			}
			if ce.Dataset != "bad" || ce.Index != tt.index || ce.Key != tt.key {
				t.Fatalf("unexpected error location %+v", ce)
			}
			if tt.wrapped {
				var syn *syntax.Error
				if !errors.As(err, &syn) {
					t.Fatalf("expected wrapped regexp error, got %v", ce.Err)
				}
			}
		})
	}
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}
