// Command relay runs the route-admission proxy: it bootstraps the
// consensus topic, consumes announced routes, admits them into the
// route store, and serves the status API and JSON-RPC front end.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/ethdenver2026/relay/internal/admission"
	"github.com/ethdenver2026/relay/internal/bootstrap"
	"github.com/ethdenver2026/relay/internal/challenge"
	"github.com/ethdenver2026/relay/internal/config"
	"github.com/ethdenver2026/relay/internal/hedera"
	"github.com/ethdenver2026/relay/internal/logconsumer"
	"github.com/ethdenver2026/relay/internal/rpcfront"
	"github.com/ethdenver2026/relay/internal/routestore"
	"github.com/ethdenver2026/relay/internal/statusapi"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	store, err := routestore.Open(cfg.RouteStorePath)
	if err != nil {
		slog.Error("failed to open route store", "err", err)
		os.Exit(1)
	}

	source := hedera.New(cfg.HederaMirrorURL, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	topic, err := bootstrap.Run(ctx, source, store, cfg.Topic)
	if err != nil {
		slog.Error("bootstrap failed", "err", err)
		os.Exit(1)
	}

	keys := store.RSAKeys()
	coordinator := admission.New(store, challenge.New(), keys.PrivateKey)

	consumer := logconsumer.New(topic, cfg.PollInterval, source, store, coordinator)
	consumer.Start(ctx)
	defer consumer.Stop()

	status := statusapi.New(store, "hedera", topic, "", true)
	rpc, err := rpcfront.New(cfg.UpstreamRPCURL, store)
	if err != nil {
		slog.Error("failed to create RPC front end", "err", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.Handle("/status", status.Handler())
	mux.Handle("/status/", status.Handler())
	mux.Handle("/routes", status.Handler())
	mux.Handle("/", rpc)

	addr := ":" + strconv.Itoa(cfg.Port)
	slog.Info("relay starting", "addr", addr, "topic", topic, "upstream", cfg.UpstreamRPCURL)

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		_ = server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
}
