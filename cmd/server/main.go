package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/djkaif/status-monitor/internal/api"
	"github.com/djkaif/status-monitor/internal/config"
	natsclient "github.com/djkaif/status-monitor/internal/nats"
	"github.com/djkaif/status-monitor/internal/server"
	"github.com/djkaif/status-monitor/internal/storage"
	"github.com/djkaif/status-monitor/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "path to YAML config")
	listenAddr := flag.String("listen-addr", "", "HTTP listen address (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "metrics listen address (overrides config)")
	traceStdout := flag.Bool("trace-stdout", false, "emit spans to stdout")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	if *traceStdout {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			logger.Fatal("init trace exporter", zap.Error(err))
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		defer tp.Shutdown(context.Background())
	}

	state, err := storage.NewBadgerStateStore(cfg.StateDir)
	if err != nil {
		logger.Fatal("open state store", zap.Error(err))
	}
	defer state.Close()

	archive, err := storage.NewBadgerArchiveStore(cfg.ArchiveDir)
	if err != nil {
		logger.Fatal("open archive store", zap.Error(err))
	}
	defer archive.Close()

	var pub *natsclient.Publisher
	if cfg.NATSURL != "" {
		pub, err = natsclient.NewPublisher(cfg.NATSURL)
		if err != nil {
			// events still reach consumers through /events
			logger.Warn("nats unavailable, transitions not published", zap.Error(err))
		} else {
			defer pub.Close()
		}
	}

	srv := server.New(server.Config{
		LivenessThreshold: cfg.LivenessThreshold(),
		RotateAfter:       cfg.RotateAfter(),
	}, state, archive, pub, logger)

	loopCtx, stopLoops := context.WithCancel(context.Background())
	go srv.RunMonitor(loopCtx, cfg.MonitorInterval())
	go srv.RunRotator(loopCtx, cfg.RotateInterval())

	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: api.NewHTTPHandler(srv, cfg.Secret, logger),
	}
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http listen", zap.Error(err))
		}
	}()

	metricsServer := &http.Server{Addr: cfg.MetricsAddr}
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.MetricsHandler())
		metricsServer.Handler = mux
		logger.Info("metrics listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics listen", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("shutdown initiated")

	stopLoops()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		logger.Error("metrics shutdown", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
