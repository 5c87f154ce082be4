package history

import (
	"context"
	"fmt"
	"sort"

	"github.com/PhucNguyen204/netwatch/internal/config"
	"github.com/PhucNguyen204/netwatch/internal/models"
)

// Store persists scan results. Implementations return entries newest first.
type Store interface {
	Append(ctx context.Context, results []models.ScanResult) error
	// List returns at most limit entries; limit <= 0 means all.
	List(ctx context.Context, limit int) ([]models.ScanResult, error)
	// NonRiskyCounts counts non-risky entries per lowercased process name.
	NonRiskyCounts(ctx context.Context) (map[string]int, error)
	Clear(ctx context.Context) error
	Close() error
}

// Open builds the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.HistoryConfig, maxSizeMB int) (Store, error) {
	switch cfg.Driver {
	case "", "file":
		return NewFile(cfg.Path, maxSizeMB), nil
	case "memory":
		return NewMemory(), nil
	case "postgres":
		return OpenPostgres(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}

func sortNewestFirst(entries []models.ScanResult) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.After(entries[j].Timestamp)
	})
}

func limitEntries(entries []models.ScanResult, limit int) []models.ScanResult {
	if limit > 0 && len(entries) > limit {
		return entries[:limit]
	}
	return entries
}

func countNonRisky(entries []models.ScanResult) map[string]int {
	out := make(map[string]int)
	for _, e := range entries {
		if e.IsRisky {
			continue
		}
		if k := models.ProcessKey(e.Process); k != "" {
			out[k]++
		}
	}
	return out
}
