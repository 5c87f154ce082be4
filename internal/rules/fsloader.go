package rules

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/PhucNguyen204/netwatch/pkg/ruleset"
)

func isRuleFile(p string) bool {
	l := strings.ToLower(p)
	return strings.HasSuffix(l, ".json") || strings.HasSuffix(l, ".yml") || strings.HasSuffix(l, ".yaml")
}

// Report is the outcome of compiling one rule-set file.
type Report struct {
	Path     string   `json:"path"`
	Rules    int      `json:"rules"`
	Datasets int      `json:"datasets"`
	Missing  []string `json:"missingDatasets,omitempty"`
	Err      error    `json:"-"`
}

func (r Report) OK() bool { return r.Err == nil }

// Check compiles root, or every rule file below it when root is a directory.
// Compile errors are reported per file; only I/O errors abort the walk.
func Check(root string) ([]Report, error) {
	st, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !st.IsDir() {
		return []Report{checkFile(root)}, nil
	}
	var out []Report
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isRuleFile(p) {
			return nil
		}
		out = append(out, checkFile(p))
		return nil
	})
	return out, err
}

func checkFile(p string) Report {
	rep := Report{Path: p}
	rs, err := ruleset.LoadFile(p)
	if err != nil {
		rep.Err = err
		return rep
	}
	rep.Rules = len(rs.Rules)
	rep.Datasets = len(rs.Datasets)
	rep.Missing = rs.MissingDatasets()
	return rep
}
