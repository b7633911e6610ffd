package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"solana-raceproxy-go/internal/config"
	"solana-raceproxy-go/internal/journal"
	"solana-raceproxy-go/internal/proxy"
	"solana-raceproxy-go/internal/recovery"
	"solana-raceproxy-go/internal/server"
	"solana-raceproxy-go/internal/web"
)

func main() {
	// 1. 加载配置
	cfg := config.Load()
	if len(cfg.RPCURLs) == 0 {
		log.Fatal("RPC_URLS must be set in environment")
	}

	proxy.InitLogger(cfg.LogLevel, cfg.LogFormat)
	proxy.Logger.Info("starting_raceproxy",
		"port", cfg.Port,
		"endpoints", len(cfg.RPCURLs),
		"lag_tolerance_slots", cfg.LagToleranceSlots,
		"lag_threshold", cfg.LagThreshold,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. 事件接收端：WS Hub 必选，Postgres 审计日志可选
	wsHub := web.NewHub()
	sinks := proxy.MultiSink{wsHub}

	if cfg.DatabaseURL != "" {
		repo, err := journal.NewRepository(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("DB Connect Error: %v", err)
		}
		defer func() { _ = repo.Close() }()

		if err := repo.EnsureSchema(ctx); err != nil {
			log.Fatalf("DB Schema Error: %v", err)
		}

		writer := journal.NewWriter(repo)
		sinks = append(sinks, writer)
		recovery.Go("journal_writer", func() { writer.Run(ctx) })
		proxy.Logger.Info("journal_enabled")
	}

	// 3. 组装健康引擎
	registry := proxy.NewRegistry(cfg, sinks)
	caller := proxy.NewHTTPCaller(cfg.RPCURLs, cfg.CallTimeout, cfg.EndpointRPS)
	analyzer := proxy.NewAnalyzer(registry)
	racer := proxy.NewRacer(registry, caller, analyzer, cfg.RequestTimeout, cfg.StragglerWait)
	prober := proxy.NewProber(registry, caller, analyzer, cfg.ProbeInterval)

	recovery.Go("websocket_hub", func() { wsHub.Run(ctx) })
	recovery.Go("recovery_prober", func() { prober.Run(ctx) })

	// 4. HTTP 服务
	srv := server.New(cfg, racer, registry, wsHub)
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.Start(ctx)
	}()

	// 5. 优雅退出处理
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		proxy.Logger.Info("shutdown_signal_received", "signal", sig.String())
		cancel()
		if err := <-serverErrCh; err != nil {
			proxy.Logger.Error("server_shutdown_error", "error", err.Error())
		}
	case err := <-serverErrCh:
		if err != nil {
			proxy.Logger.Error("server_error", "error", err.Error())
		}
		cancel()
	}

	proxy.Logger.Info("shutdown_complete")
}
