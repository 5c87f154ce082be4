package ruleset

import (
	"embed"
	"fmt"
)

//go:embed rules/*.json
var defaultRules embed.FS

// DefaultProcess: rule set chấm điểm tính hợp lệ của process
// (vị trí cài đặt, thư mục, chữ ký, recurrence, lịch sử)
func DefaultProcess() (*RuleSet, error) { return loadEmbedded("rules/process.json") }

// DefaultConnection: trusted/banned IP, quốc gia và nhà cung cấp rủi ro
func DefaultConnection() (*RuleSet, error) { return loadEmbedded("rules/connection.json") }

func loadEmbedded(name string) (*RuleSet, error) {
	b, err := defaultRules.ReadFile(name)
	if err != nil {
		return nil, err
	}
	rs, err := Load(b)
	if err != nil {
		return nil, fmt.Errorf("embedded %s: %w", name, err)
	}
	return rs, nil
}

// LoadOrDefault dùng file nếu có path, ngược lại dùng bản embed
func LoadOrDefault(path string, def func() (*RuleSet, error)) (*RuleSet, error) {
	if path == "" {
		return def()
	}
	return LoadFile(path)
}
