package app

import (
	"context"
	"fmt"
	"strings"

	"liveback/internal/backtest"
	lbcfg "liveback/internal/config"
	"liveback/internal/logger"
	"liveback/internal/strategy"
)

type AppBuilder struct {
	cfg *lbcfg.Config

	candleStoreFn func(string) (*backtest.CandleStore, error)
	resultStoreFn func(string) (*backtest.ResultStore, error)
	registryFn    func(string) (*strategy.Registry, error)
	sourcesFn     func(lbcfg.MarketConfig) (map[string]backtest.CandleSource, string, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *lbcfg.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:           cfg,
		candleStoreFn: backtest.NewCandleStore,
		resultStoreFn: backtest.NewResultStore,
		registryFn:    strategy.NewRegistry,
		sourcesFn:     buildCandleSources,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	candles, err := b.candleStoreFn(cfg.Data.Root)
	if err != nil {
		return nil, fmt.Errorf("初始化 K 线存储失败: %w", err)
	}
	results, err := b.resultStoreFn(cfg.Backtest.ResultsRoot)
	if err != nil {
		return nil, fmt.Errorf("初始化结果存储失败: %w", err)
	}

	sources, defaultExchange, err := b.sourcesFn(cfg.Market)
	if err != nil {
		return nil, err
	}
	logger.Infof("✓ 数据源就绪（active=%s, total=%d）", defaultExchange, len(sources))

	fetch, err := backtest.NewFetchService(backtest.FetchServiceConfig{
		Store:           candles,
		Sources:         sources,
		DefaultExchange: defaultExchange,
		RateLimitPerMin: cfg.Data.RateLimitPerMin,
		MaxBatch:        cfg.Data.MaxBatch,
		MaxConcurrent:   cfg.Data.MaxConcurrent,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化补数服务失败: %w", err)
	}

	registry, err := b.registryFn(cfg.Strategy.RegistryPath)
	if err != nil {
		return nil, fmt.Errorf("加载策略注册表失败: %w", err)
	}
	snap := registry.Snapshot()
	logger.Infof("✓ 策略注册表已加载（version=%d, templates=%d）", snap.Version, len(snap.Templates))

	runner, err := backtest.NewRunner(candles, results, registry, cfg.Backtest.MaxConcurrent)
	if err != nil {
		return nil, fmt.Errorf("初始化回测运行器失败: %w", err)
	}

	httpServer, err := backtest.NewHTTPServer(backtest.HTTPConfig{
		Addr:     cfg.App.HTTPAddr,
		Svc:      fetch,
		Runner:   runner,
		Registry: registry,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 服务失败: %w", err)
	}

	return &App{
		cfg:     cfg,
		http:    httpServer,
		fetch:   fetch,
		runner:  runner,
		candles: candles,
		results: results,
	}, nil
}

// buildCandleSources 按市场配置装配启用的 K 线数据源。
func buildCandleSources(cfg lbcfg.MarketConfig) (map[string]backtest.CandleSource, string, error) {
	sources := make(map[string]backtest.CandleSource)
	for _, src := range cfg.Sources {
		if !src.Enabled {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(src.Name))
		switch name {
		case "binance":
			sources[name] = backtest.NewBinanceSource(src.RESTBaseURL)
		default:
			return nil, "", fmt.Errorf("不支持的数据源: %s", src.Name)
		}
	}
	if len(sources) == 0 {
		return nil, "", fmt.Errorf("market.sources 没有启用任何数据源")
	}
	active := strings.ToLower(strings.TrimSpace(cfg.Active().Name))
	if _, ok := sources[active]; !ok {
		for name := range sources {
			active = name
			break
		}
	}
	return sources, active, nil
}

func WithCandleStore(fn func(string) (*backtest.CandleStore, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.candleStoreFn = fn
		}
	}
}

func WithResultStore(fn func(string) (*backtest.ResultStore, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.resultStoreFn = fn
		}
	}
}

func WithRegistry(fn func(string) (*strategy.Registry, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.registryFn = fn
		}
	}
}

func WithCandleSources(fn func(lbcfg.MarketConfig) (map[string]backtest.CandleSource, string, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.sourcesFn = fn
		}
	}
}
