package recurrence

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Record describes how often an executable path was seen this session
type Record struct {
	Process   string    `json:"process"`
	Path      string    `json:"path"`
	Count     int       `json:"count"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

type key struct{ process, path string }

// Tracker counts (process, normalized path) observations with concurrent access protection
type Tracker struct {
	mu         sync.RWMutex
	items      map[key]Record
	defaultTTL time.Duration
	now        func() time.Time
}

// New creates a tracker; ttl <= 0 keeps records for the process lifetime
func New(ttl time.Duration) *Tracker {
	return &Tracker{items: make(map[key]Record), defaultTTL: ttl, now: func() time.Time { return time.Now().UTC() }}
}

// NormalizePath trims and rewrites '/' to '\' so both separators share a counter
func NormalizePath(p string) string {
	return strings.ReplaceAll(strings.TrimSpace(p), "/", `\`)
}

func makeKey(process, path string) key {
	return key{
		process: strings.ToLower(strings.TrimSpace(process)),
		path:    strings.ToLower(NormalizePath(path)),
	}
}

// Observe increments the counter and returns the new count
func (t *Tracker) Observe(process, path string) int {
	k := makeKey(process, path)
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.items[k]
	if !ok {
		rec = Record{Process: strings.TrimSpace(process), Path: NormalizePath(path), FirstSeen: now}
	}
	rec.Count++
	rec.LastSeen = now
	t.items[k] = rec
	return rec.Count
}

// Count returns the current counter without incrementing
func (t *Tracker) Count(process, path string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.items[makeKey(process, path)].Count
}

// Snapshot returns up to limit records ordered by Count desc, then LastSeen desc
func (t *Tracker) Snapshot(limit int) []Record {
	t.mu.RLock()
	out := make([]Record, 0, len(t.items))
	for _, v := range t.items {
		out = append(out, v)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	if limit > 0 && len(out) > limit {
		return out[:limit]
	}
	return out
}

// Reset clears every counter
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.items = make(map[key]Record)
	t.mu.Unlock()
}

// Prune removes paths not seen within ttl (if ttl <=0 uses defaultTTL; if both 0, no-op)
func (t *Tracker) Prune(ttl time.Duration) int {
	effective := ttl
	if effective <= 0 {
		effective = t.defaultTTL
	}
	if effective <= 0 {
		return 0
	}
	cutoff := t.now().Add(-effective)
	removed := 0
	t.mu.Lock()
	for k, v := range t.items {
		if v.LastSeen.Before(cutoff) {
			delete(t.items, k)
			removed++
		}
	}
	t.mu.Unlock()
	return removed
}

func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.items)
}
