// Package main is the dylib runtime host: it reads a TOML config, assembles
// the rendezvous store, library cache, invoker, router, domain proxy, and
// chunked asset store via dylib.Bootstrap, and serves them on a gin.Engine
// until an interrupt or SIGTERM is received.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"

	"github.com/goatkit/goatflow/internal/dylib"
)

func main() {
	var (
		configPath string
		listenAddr string
		hostURL    string
		dataDir    string
	)
	flag.StringVar(&configPath, "config", "gkd.toml", "path to the TOML config file")
	flag.StringVar(&listenAddr, "listen", ":3000", "address to listen on")
	flag.StringVar(&hostURL, "host-url", "http://127.0.0.1:3000", "externally-reachable base URL plugins use to call back into this process")
	flag.StringVar(&dataDir, "data-dir", "./data", "plugin data directory")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		logger.Error("create data dir failed", "path", dataDir, "error", err)
		os.Exit(1)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		logger.Error("read config failed", "path", configPath, "error", err)
		os.Exit(1)
	}

	cfg, err := dylib.LoadConfig(v)
	if err != nil {
		logger.Error("decode config failed", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	rt, err := dylib.Bootstrap(ctx, engine, cfg, hostURL, dataDir, logger)
	if err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: engine,
	}

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	logger.Info("gkd ready", "listen", listenAddr, "host_url", hostURL, "data_dir", dataDir,
		"plugins", len(cfg.PluginConfig), "domain_proxies", len(cfg.DomainProxy))

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	rt.Shutdown()

	logger.Info("gkd stopped")
}
