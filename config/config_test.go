package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	t.Parallel()
	require.NoError(t, Default().Validate())
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero balance", func(c *Config) { c.Account.Balance = 0 }},
		{"missing data path", func(c *Config) { c.Data.Path = "" }},
		{"bad timeframe", func(c *Config) { c.Data.Timeframe = "7q" }},
		{"negative slippage", func(c *Config) { c.Matching.SlippageBps = -1 }},
		{"missing strategy", func(c *Config) { c.Strategy.Name = "" }},
		{"bad journal type", func(c *Config) { c.Journal.Type = "parquet" }},
		{"csv without files", func(c *Config) { c.Journal = JournalConfig{Type: "csv"} }},
		{"sqlite without path", func(c *Config) { c.Journal = JournalConfig{Type: "sqlite"} }},
		{"sweep without params", func(c *Config) { c.Optimize.Enabled = true }},
		{"bad sweep timeout", func(c *Config) {
			c.Optimize = OptimizeConfig{Enabled: true, Timeout: "soon",
				Params: []ParamAxis{{Name: "x", Values: []any{1}}}}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
account:
  currency: USD
  balance: 25000
data:
  path: ./eurusd-1h.csv
  timeframe: 1h
matching:
  slippage_bps: 2
intrabar:
  tick_level: true
  seed: 42
strategy:
  name: ema-cross
  params:
    fastPeriod: 5
    slowPeriod: 20
optimize:
  enabled: true
  concurrency: 8
  timeout: 5m
  rank_by: sharpeRatio
  params:
    - name: fastPeriod
      values: [5, 10, 15]
journal:
  type: sqlite
  db_path: ./journal.db
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 25000.0, cfg.Account.Balance)
	assert.Equal(t, "1h", cfg.Data.Timeframe)
	assert.True(t, cfg.Intrabar.TickLevel)
	assert.Equal(t, int64(42), cfg.Intrabar.Seed)
	assert.Equal(t, "sharpeRatio", cfg.Optimize.RankBy)
	require.Len(t, cfg.Optimize.Params, 1)
	assert.Len(t, cfg.Optimize.Params[0].Values, 3)

	d, err := cfg.Optimize.ParseTimeout()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, d)
}

func TestLoadFromFile_JSONFallback(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	require.NoError(t, cfg.SaveToFile(path))

	got, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.Account.Balance, got.Account.Balance)
	assert.Equal(t, cfg.Journal, got.Journal)
}

func TestLoadFromFile_Errors(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("account: [broken"), 0644))
	_, err = LoadFromFile(bad)
	require.Error(t, err)
}
