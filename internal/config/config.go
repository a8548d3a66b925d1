// Package config loads relay configuration from environment variables,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all relay configuration.
type Config struct {
	// UpstreamRPCURL is the default Ethereum RPC endpoint the front end
	// forwards to when a transaction's destination has no admitted route.
	UpstreamRPCURL string

	// HederaMirrorURL is the base URL of the mirror-node REST API used
	// to read the consensus log.
	HederaMirrorURL string

	// Topic is the consensus topic id to consume. Empty means
	// TopicBootstrap should create a new one.
	Topic string

	// RouteStorePath is the path to the durable RouteStore document.
	RouteStorePath string

	// PollInterval is the LogConsumer per-topic poll cadence.
	PollInterval time.Duration

	// Port is the HTTP listen port for the status API and RPC front end.
	Port int
}

// Load reads configuration from environment variables. A .env file in
// the working directory is loaded first if present (dev convenience).
func Load() (*Config, error) {
	_ = godotenv.Load() // no-op if .env absent

	cfg := &Config{
		UpstreamRPCURL:  getEnv("UPSTREAM_RPC_URL", "https://eth.llamarpc.com"),
		HederaMirrorURL: getEnv("HEDERA_MIRROR_URL", "https://testnet.mirrornode.hedera.com"),
		Topic:           getEnv("HEDERA_TOPIC_ID", ""),
		RouteStorePath:  getEnv("ROUTE_STORE_PATH", "./data/routestore.json"),
		PollInterval:    time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 5)) * time.Second,
		Port:            getEnvInt("PORT", 8080),
	}

	if cfg.UpstreamRPCURL == "" {
		return nil, fmt.Errorf("UPSTREAM_RPC_URL must not be empty")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
