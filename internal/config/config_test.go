package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
app:
  env: prod
data:
  root: /tmp/candles
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, defaultAppLogLevel, cfg.App.LogLevel)
	assert.Equal(t, defaultAppHTTPAddr, cfg.App.HTTPAddr)
	assert.Equal(t, "/tmp/candles", cfg.Data.Root)
	assert.Equal(t, defaultDataMaxBatch, cfg.Data.MaxBatch)
	assert.Equal(t, defaultResultsRoot, cfg.Backtest.ResultsRoot)
	assert.Equal(t, float64(defaultInitialCash), cfg.Backtest.InitialCash)
	assert.True(t, cfg.Backtest.Finalize)
	assert.Equal(t, defaultRegistryPath, cfg.Strategy.RegistryPath)

	// 默认注入 binance 数据源。
	require.Len(t, cfg.Market.Sources, 1)
	assert.Equal(t, "binance", cfg.Market.Sources[0].Name)
	assert.Equal(t, "binance", cfg.Market.ActiveSource)
}

func TestLoadExplicitZeroRespected(t *testing.T) {
	// 显式写 0 的键不再套默认值，由校验兜底。
	path := writeConfig(t, "config.yaml", `
backtest:
  initial_cash: 0
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadIncludeMerge(t *testing.T) {
	dir := t.TempDir()
	base := filepath.Join(dir, "base.yaml")
	require.NoError(t, os.WriteFile(base, []byte(`
app:
  log_level: debug
data:
  max_batch: 500
`), 0o644))
	main := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(main, []byte(`
include:
  - base.yaml
app:
  env: prod
`), 0o644))

	cfg, err := Load(main)
	require.NoError(t, err)
	assert.Equal(t, "prod", cfg.App.Env)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, 500, cfg.Data.MaxBatch)
}

func TestValidateRejectsBadMarket(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
market:
  active_source: gate
  sources:
    - name: binance
      enabled: true
      rest_base_url: https://fapi.binance.com
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestMarketActive(t *testing.T) {
	m := MarketConfig{
		ActiveSource: "second",
		Sources: []MarketSource{
			{Name: "first", Enabled: true},
			{Name: "second", Enabled: true},
		},
	}
	assert.Equal(t, "second", m.Active().Name)

	m.ActiveSource = ""
	assert.Equal(t, "first", m.Active().Name)
}
