package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"voicebridge/internal/config"
	apphttp "voicebridge/internal/http"
	"voicebridge/internal/registry"
	"voicebridge/internal/relay"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if cfg.Debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	mode := relay.Mode(strings.TrimSpace(cfg.Upstream.Mode))
	switch mode {
	case relay.ModeAPI:
		if strings.TrimSpace(cfg.Upstream.APIKey) == "" {
			logger.Fatalf("upstream api key is required in api mode")
		}
	case relay.ModeVertex:
		if strings.TrimSpace(cfg.Upstream.Project) == "" {
			logger.Warnf("upstream project not set; clients must supply it in the setup message")
		}
	default:
		logger.Fatalf("unknown upstream mode %q", cfg.Upstream.Mode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users := registry.New(registry.WithLogger(logger))

	proxy := relay.NewProxy(relay.Config{
		Mode:         mode,
		DefaultModel: cfg.Upstream.Model,
		APIKey:       cfg.Upstream.APIKey,
		Debug:        cfg.Debug,
		Logger:       logger,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(users, proxy)
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	go func() {
		logger.Infof("listening on %s (upstream mode %s, model %s)", cfg.Server.Addr, mode, cfg.Upstream.Model)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}

	logger.Info("bye")
}
