package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/PhucNguyen204/netwatch/internal/models"
)

const megabyte = 1024 * 1024

// File stores history as one JSON array, newest first. When the encoded
// array exceeds maxSizeMB, whole scan days are dropped, oldest first.
type File struct {
	mu        sync.Mutex
	path      string
	maxSizeMB int
}

func NewFile(path string, maxSizeMB int) *File {
	if path == "" {
		path = "history.json"
	}
	return &File{path: path, maxSizeMB: maxSizeMB}
}

func (f *File) Path() string { return f.path }

func (f *File) load() ([]models.ScanResult, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	if len(b) == 0 {
		return nil, nil
	}
	var entries []models.ScanResult
	if err := json.Unmarshal(b, &entries); err != nil {
		return nil, fmt.Errorf("decode history %s: %w", f.path, err)
	}
	sortNewestFirst(entries)
	return entries, nil
}

func (f *File) save(entries []models.ScanResult) error {
	if entries == nil {
		entries = []models.ScanResult{}
	}
	b, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if f.maxSizeMB > 0 && len(b) > f.maxSizeMB*megabyte {
		entries = trimByDay(entries, f.maxSizeMB*megabyte)
		if b, err = json.MarshalIndent(entries, "", "  "); err != nil {
			return err
		}
	}
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write history: %w", err)
	}
	return os.Rename(tmp, f.path)
}

// trimByDay keeps the newest days whose combined size fits in limit bytes,
// and always at least the newest day.
// entries must be sorted newest first.
func trimByDay(entries []models.ScanResult, limit int) []models.ScanResult {
	byDay := make(map[string][]models.ScanResult)
	var days []string
	for _, e := range entries {
		d := e.Day()
		if _, ok := byDay[d]; !ok {
			days = append(days, d)
		}
		byDay[d] = append(byDay[d], e)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))

	kept := make([]models.ScanResult, 0, len(entries))
	total := 0
	for _, d := range days {
		b, err := json.Marshal(byDay[d])
		if err != nil {
			break
		}
		// the newest day is kept even when it alone exceeds limit
		if len(kept) > 0 && total+len(b) > limit {
			break
		}
		total += len(b)
		kept = append(kept, byDay[d]...)
	}
	return kept
}

func (f *File) Append(_ context.Context, results []models.ScanResult) error {
	if len(results) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return err
	}
	entries = append(entries, results...)
	sortNewestFirst(entries)
	return f.save(entries)
}

func (f *File) List(_ context.Context, limit int) ([]models.ScanResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return nil, err
	}
	return limitEntries(entries, limit), nil
}

func (f *File) NonRiskyCounts(context.Context) (map[string]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.load()
	if err != nil {
		return nil, err
	}
	return countNonRisky(entries), nil
}

func (f *File) Clear(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.save(nil)
}

func (f *File) Close() error { return nil }
