package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"liveback/internal/backtest"
	lbcfg "liveback/internal/config"
	"liveback/internal/logger"
)

// App 负责应用级编排：加载配置→初始化依赖→启动 HTTP 服务。
type App struct {
	cfg     *lbcfg.Config
	http    *backtest.HTTPServer
	fetch   *backtest.FetchService
	runner  *backtest.Runner
	candles *backtest.CandleStore
	results *backtest.ResultStore
}

// NewApp 根据配置构建应用对象（不启动）。
func NewApp(cfg *lbcfg.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动 HTTP 服务并阻塞到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.http == nil {
		return fmt.Errorf("http server not initialized")
	}
	a.fetch.SetContext(ctx)
	a.runner.SetContext(ctx)
	defer a.close()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	logger.Infof("✓ 服务已启动（env=%s, addr=%s）", a.cfg.App.Env, a.cfg.App.HTTPAddr)
	return group.Wait()
}

func (a *App) close() {
	if a.candles != nil {
		if err := a.candles.Close(); err != nil {
			logger.Warnf("关闭 K 线存储失败: %v", err)
		}
	}
	if a.results != nil {
		if err := a.results.Close(); err != nil {
			logger.Warnf("关闭结果存储失败: %v", err)
		}
	}
}
