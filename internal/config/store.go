package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Store holds the live configuration. Readers take a snapshot with Current().
type Store struct {
	mu   sync.RWMutex
	cfg  Config
	path string
	log  *logrus.Entry

	subsMu sync.Mutex
	subs   []func(Config)
}

// Open loads path (creating it from defaults when missing).
func Open(path string) (*Store, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return &Store{cfg: cfg, path: path, log: logrus.WithField("component", "config")}, nil
}

// NewStore wraps an in-memory config; Save calls are skipped when path is empty.
func NewStore(cfg Config, path string) *Store {
	return &Store{cfg: cfg.Clone(), path: path, log: logrus.WithField("component", "config")}
}

func (s *Store) Path() string { return s.path }

// Current returns a deep copy of the live config.
func (s *Store) Current() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// LookupList reads straight from the live config.
func (s *Store) LookupList(name string) ([]string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.cfg.LookupList(name)
	if !ok {
		return nil, false
	}
	return cloneList(l), true
}

// Update applies fn to a copy, validates, persists and swaps it in.
func (s *Store) Update(fn func(*Config)) (Config, error) {
	s.mu.Lock()
	next := s.cfg.Clone()
	fn(&next)
	next = next.Clone()
	if err := next.Validate(); err != nil {
		s.mu.Unlock()
		return Config{}, err
	}
	if s.path != "" {
		if err := Save(s.path, next); err != nil {
			s.mu.Unlock()
			return Config{}, err
		}
	}
	s.cfg = next
	s.mu.Unlock()
	s.notify(next)
	return next.Clone(), nil
}

// Replace swaps in cfg wholesale; the history DSN is kept when cfg has none.
func (s *Store) Replace(cfg Config) (Config, error) {
	return s.Update(func(c *Config) {
		dsn := c.History.DSN
		*c = cfg
		if c.History.DSN == "" {
			c.History.DSN = dsn
		}
	})
}

// OnChange registers a callback invoked after every successful update or reload.
func (s *Store) OnChange(fn func(Config)) {
	s.subsMu.Lock()
	s.subs = append(s.subs, fn)
	s.subsMu.Unlock()
}

func (s *Store) notify(cfg Config) {
	s.subsMu.Lock()
	subs := append([]func(Config){}, s.subs...)
	s.subsMu.Unlock()
	for _, fn := range subs {
		fn(cfg.Clone())
	}
}

// Reload re-reads the file; an invalid file keeps the previous config.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	// never recreate defaults over a file that is mid-rename
	if _, err := os.Stat(s.path); err != nil {
		return err
	}
	cfg, err := Load(s.path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.notify(cfg)
	return nil
}

// Watch reloads the config whenever its file is written, until ctx is done.
// The parent directory is watched because editors replace files by rename.
func (s *Store) Watch(ctx context.Context) error {
	if s.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	abs, err := filepath.Abs(s.path)
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	go func() {
		defer w.Close()
		var debounce <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					debounce = time.After(200 * time.Millisecond)
				}
			case <-debounce:
				debounce = nil
				if err := s.Reload(); err != nil {
					s.log.WithError(err).Warn("config reload failed, keeping previous config")
					continue
				}
				s.log.Info("config reloaded")
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.WithError(err).Warn("config watcher error")
			}
		}
	}()
	return nil
}
