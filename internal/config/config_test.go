package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Contains(t, cfg.RiskyCountries, "Iran")
	assert.Contains(t, cfg.RiskyProviders, "LeaseWeb")
	assert.Equal(t, 45, cfg.Geo.RateLimit)
	assert.Equal(t, time.Minute, cfg.Geo.RateWindow.Std())
	assert.Equal(t, 5*time.Second, cfg.Geo.Timeout.Std())
}

func TestLookupList(t *testing.T) {
	cfg := Default()
	cfg.BannedIPs = []string{"1.2.3.4"}
	l, ok := cfg.LookupList(ListBannedIPs)
	require.True(t, ok)
	assert.Equal(t, []string{"1.2.3.4"}, l)

	l, ok = cfg.LookupList(ListTrustedProcesses)
	assert.True(t, ok)
	assert.Empty(t, l)

	_, ok = cfg.LookupList("unknownList")
	assert.False(t, ok)
}

func TestLoad_CreatesDefaultsWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netwatch.yaml")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().RiskyCountries, cfg.RiskyCountries)

	_, err = os.Stat(path)
	require.NoError(t, err, "defaults should be written to disk")

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netwatch.yaml")
	doc := `
bannedIPs: ["45.9.9.9", " "]
scanMode: test
scanInterval: 5m
geo:
  rateLimit: 10
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"45.9.9.9"}, cfg.BannedIPs, "blank entries are dropped")
	assert.Equal(t, ModeTest, cfg.ScanMode)
	assert.Equal(t, 5*time.Minute, cfg.ScanInterval.Std())
	assert.Equal(t, 10, cfg.Geo.RateLimit)
	assert.Equal(t, time.Minute, cfg.Geo.RateWindow.Std(), "unset nested keys keep defaults")
	assert.Equal(t, Default().RiskyProviders, cfg.RiskyProviders)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	cases := map[string]string{
		"syntax":   "bannedIPs: [",
		"mode":     "scanMode: sometimes",
		"interval": "scanInterval: 10s",
		"driver":   "history:\n  driver: redis",
		"maxmind":  "geo:\n  provider: maxmind",
	}
	for name, doc := range cases {
		path := filepath.Join(dir, name+".yaml")
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
		_, err := Load(path)
		assert.Error(t, err, name)
	}
}

func TestStore_UpdatePersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netwatch.yaml")
	s, err := Open(path)
	require.NoError(t, err)

	var got []Config
	s.OnChange(func(c Config) { got = append(got, c) })

	_, err = s.Update(func(c *Config) { c.TrustedIPs = append(c.TrustedIPs, "8.8.8.8") })
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"8.8.8.8"}, got[0].TrustedIPs)

	l, ok := s.LookupList(ListTrustedIPs)
	require.True(t, ok)
	assert.Equal(t, []string{"8.8.8.8"}, l)

	onDisk, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"8.8.8.8"}, onDisk.TrustedIPs)

	_, err = s.Update(func(c *Config) { c.ScanMode = "bogus" })
	assert.Error(t, err)
	assert.Equal(t, ModeLive, s.Current().ScanMode, "invalid update is rejected")
}

func TestStore_CurrentIsSnapshot(t *testing.T) {
	s := NewStore(Default(), "")
	snap := s.Current()
	snap.RiskyCountries[0] = "Nowhere"
	assert.Equal(t, "Iran", s.Current().RiskyCountries[0])
}

func TestStore_WatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "netwatch.yaml")
	s, err := Open(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Watch(ctx))

	cfg := s.Current()
	cfg.BannedIPs = []string{"203.0.113.7"}
	require.NoError(t, Save(path, cfg))

	assert.Eventually(t, func() bool {
		l, _ := s.LookupList(ListBannedIPs)
		return len(l) == 1 && l[0] == "203.0.113.7"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestStore_ReplaceKeepsDSN(t *testing.T) {
	cfg := Default()
	cfg.History = HistoryConfig{Driver: "postgres", DSN: "postgres://netwatch@db/netwatch"}
	s := NewStore(cfg, "")

	next := s.Current()
	next.History.DSN = ""
	next.BannedIPs = []string{"45.13.37.1"}
	got, err := s.Replace(next)
	require.NoError(t, err)
	assert.Equal(t, "postgres://netwatch@db/netwatch", got.History.DSN)
	assert.Equal(t, []string{"45.13.37.1"}, s.Current().BannedIPs)

	next.ScanMode = "turbo"
	_, err = s.Replace(next)
	assert.Error(t, err)
	assert.Equal(t, ModeLive, s.Current().ScanMode)
}

func TestDuration_JSONMatchesYAML(t *testing.T) {
	b, err := json.Marshal(Default())
	require.NoError(t, err)
	assert.Contains(t, string(b), `"scanInterval":"30m0s"`)
	assert.Contains(t, string(b), `"rateWindow":"1m0s"`)

	cfg := Default()
	require.NoError(t, json.Unmarshal([]byte(`{"scanInterval":"45m","geo":{"timeout":"2s"}}`), &cfg))
	assert.Equal(t, 45*time.Minute, cfg.ScanInterval.Std())
	assert.Equal(t, 2*time.Second, cfg.Geo.Timeout.Std())
	assert.Equal(t, time.Minute, cfg.Geo.RateWindow.Std(), "absent fields are untouched")

	require.NoError(t, json.Unmarshal([]byte(`{"scanInterval":120000000000}`), &cfg))
	assert.Equal(t, 2*time.Minute, cfg.ScanInterval.Std(), "integers are nanoseconds")

	assert.Error(t, json.Unmarshal([]byte(`{"scanInterval":"soon"}`), &cfg))
	assert.Error(t, json.Unmarshal([]byte(`{"scanInterval":true}`), &cfg))

	y, err := yaml.Marshal(Default())
	require.NoError(t, err)
	assert.Contains(t, string(y), "scanInterval: 30m0s")
}
