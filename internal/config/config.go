package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// List names usable from rules as @config:<name>.
const (
	ListBannedIPs        = "bannedIPs"
	ListTrustedIPs       = "trustedIPs"
	ListRiskyCountries   = "riskyCountries"
	ListRiskyProviders   = "riskyProviders"
	ListTrustedProcesses = "trustedProcesses"
)

const (
	ModeLive = "live"
	ModeTest = "test"
)

type Config struct {
	BannedIPs        []string `yaml:"bannedIPs" json:"bannedIPs"`
	TrustedIPs       []string `yaml:"trustedIPs" json:"trustedIPs"`
	RiskyCountries   []string `yaml:"riskyCountries" json:"riskyCountries"`
	RiskyProviders   []string `yaml:"riskyProviders" json:"riskyProviders"`
	TrustedProcesses []string `yaml:"trustedProcesses" json:"trustedProcesses"`

	ScanMode         string   `yaml:"scanMode" json:"scanMode"`
	PeriodicScan     bool     `yaml:"periodicScan" json:"periodicScan"`
	ScanInterval     Duration `yaml:"scanInterval" json:"scanInterval"`
	MaxHistorySizeMB int      `yaml:"maxHistorySizeMB" json:"maxHistorySizeMB"`

	Rules   RulesConfig   `yaml:"rules" json:"rules"`
	Geo     GeoConfig     `yaml:"geo" json:"geo"`
	History HistoryConfig `yaml:"history" json:"history"`
	Server  ServerConfig  `yaml:"server" json:"server"`
	Log     LogConfig     `yaml:"log" json:"log"`
}

// RulesConfig overrides the embedded rule sets when a path is set.
type RulesConfig struct {
	Process    string `yaml:"process" json:"process"`
	Connection string `yaml:"connection" json:"connection"`
}

type GeoConfig struct {
	Provider   string   `yaml:"provider" json:"provider"` // ipapi | maxmind
	Endpoint   string   `yaml:"endpoint" json:"endpoint"`
	Timeout    Duration `yaml:"timeout" json:"timeout"`
	RateLimit  int      `yaml:"rateLimit" json:"rateLimit"`
	RateWindow Duration `yaml:"rateWindow" json:"rateWindow"`
	CityDB     string   `yaml:"cityDB" json:"cityDB"`
	ASNDB      string   `yaml:"asnDB" json:"asnDB"`
}

type HistoryConfig struct {
	Driver string `yaml:"driver" json:"driver"` // file | memory | postgres
	Path   string `yaml:"path" json:"path"`
	DSN    string `yaml:"dsn" json:"-"`
}

type ServerConfig struct {
	Listen string `yaml:"listen" json:"listen"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Default mirrors the settings shipped with the desktop monitor.
func Default() Config {
	return Config{
		BannedIPs:  []string{},
		TrustedIPs: []string{},
		RiskyCountries: []string{
			"Iran", "Bangladesh", "Venezuela", "Honduras", "Algeria", "Nigeria", "India",
			"Panama", "Thailand", "Belarus", "Kenya", "South Africa", "Ghana",
		},
		RiskyProviders: []string{
			"Choopa", "LeaseWeb", "QuadraNet", "Ecatel", "Sharktech", "HostSailor", "M247", "WorldStream",
		},
		TrustedProcesses: []string{},
		ScanMode:         ModeLive,
		PeriodicScan:     true,
		ScanInterval:     Duration(30 * time.Minute),
		MaxHistorySizeMB: 10,
		Geo: GeoConfig{
			Provider:   "ipapi",
			Endpoint:   "http://ip-api.com/json/",
			Timeout:    Duration(5 * time.Second),
			RateLimit:  45,
			RateWindow: Duration(time.Minute),
		},
		History: HistoryConfig{Driver: "file", Path: "history.json"},
		Server:  ServerConfig{Listen: ":8090"},
		Log:     LogConfig{Level: "info", Format: "text"},
	}
}

// LookupList resolves @config:<name> references.
func (c Config) LookupList(name string) ([]string, bool) {
	switch name {
	case ListBannedIPs:
		return c.BannedIPs, true
	case ListTrustedIPs:
		return c.TrustedIPs, true
	case ListRiskyCountries:
		return c.RiskyCountries, true
	case ListRiskyProviders:
		return c.RiskyProviders, true
	case ListTrustedProcesses:
		return c.TrustedProcesses, true
	}
	return nil, false
}

// Clone returns a deep copy so a scan snapshot never aliases the live lists.
func (c Config) Clone() Config {
	out := c
	out.BannedIPs = cloneList(c.BannedIPs)
	out.TrustedIPs = cloneList(c.TrustedIPs)
	out.RiskyCountries = cloneList(c.RiskyCountries)
	out.RiskyProviders = cloneList(c.RiskyProviders)
	out.TrustedProcesses = cloneList(c.TrustedProcesses)
	return out
}

func cloneList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c Config) Validate() error {
	var errs []error
	switch c.ScanMode {
	case ModeLive, ModeTest:
	default:
		errs = append(errs, fmt.Errorf("scanMode must be %q or %q, got %q", ModeLive, ModeTest, c.ScanMode))
	}
	if c.PeriodicScan && c.ScanInterval.Std() < time.Minute {
		errs = append(errs, fmt.Errorf("scanInterval must be at least 1m, got %s", c.ScanInterval))
	}
	if c.MaxHistorySizeMB < 0 {
		errs = append(errs, errors.New("maxHistorySizeMB must not be negative"))
	}
	if c.Geo.RateLimit <= 0 || c.Geo.RateWindow <= 0 {
		errs = append(errs, errors.New("geo rateLimit and rateWindow must be positive"))
	}
	if c.Geo.Timeout <= 0 {
		errs = append(errs, errors.New("geo timeout must be positive"))
	}
	switch c.Geo.Provider {
	case "ipapi":
	case "maxmind":
		if c.Geo.CityDB == "" {
			errs = append(errs, errors.New("geo cityDB is required for the maxmind provider"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown geo provider %q", c.Geo.Provider))
	}
	switch c.History.Driver {
	case "memory":
	case "file":
		if c.History.Path == "" {
			errs = append(errs, errors.New("history path is required for the file driver"))
		}
	case "postgres":
		if c.History.DSN == "" {
			errs = append(errs, errors.New("history dsn is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown history driver %q", c.History.Driver))
	}
	return errors.Join(errs...)
}

// Load reads path and merges it over the defaults. A missing file is created
// from the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		if err := Save(path, cfg); err != nil {
			return cfg, err
		}
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return Default(), fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes atomically (temp file + rename) so the watcher never sees a torn file.
func Save(path string, cfg Config) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".netwatch-*.yaml")
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write config: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}
