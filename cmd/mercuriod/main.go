// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command mercuriod runs the Mercurio MQTT broker as a standalone daemon:
// load configuration, wire storage/auth/rate-limiting, and serve MQTT
// 3.1/3.1.1/5.0 connections until interrupted.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/frenzox/mercurio/auth"
	"github.com/frenzox/mercurio/broker"
	"github.com/frenzox/mercurio/config"
	"github.com/frenzox/mercurio/ratelimit"
	"github.com/frenzox/mercurio/server/tcp"
	"github.com/frenzox/mercurio/storage"
	"github.com/frenzox/mercurio/storage/badger"
	"github.com/frenzox/mercurio/storage/memory"
	"github.com/frenzox/mercurio/storage/persist"
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var printDefault bool
	flag.StringVar(&configPath, "config", "", "path to a TOML config file (defaults are used if empty)")
	flag.BoolVar(&printDefault, "print-default-config", false, "write the default configuration to stdout and exit")
	flag.Parse()

	if printDefault {
		return printDefaultConfig()
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "mercuriod: load config:", err)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logger := newLogger(cfg.Logging, logLevel)
	slog.SetDefault(logger)

	store, closeStore, err := openStore(cfg.Storage)
	if err != nil {
		logger.Error("open storage", slog.String("error", err.Error()))
		return 1
	}
	defer closeStore()

	snapshotter := maybeLoadRetainedSnapshot(cfg.Storage, store, logger)

	authEngine, fileAuth, err := buildAuthEngine(cfg.Auth, logger)
	if err != nil {
		logger.Error("build auth engine", slog.String("error", err.Error()))
		return 1
	}

	limiter := buildRateLimiter(cfg.RateLimit)
	defer limiter.Stop()

	b := broker.New(store, authEngine, limiter, cfg.Broker, logger)
	defer b.Close()

	tlsConfig, err := buildTLSConfig(cfg.Server.TLS)
	if err != nil {
		logger.Error("build TLS config", slog.String("error", err.Error()))
		return 1
	}

	srv := tcp.New(tcp.Config{
		Address:         cfg.Server.Address,
		TLSConfig:       tlsConfig,
		Logger:          logger,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		TCPKeepAlive:    cfg.Server.TCPKeepAlive,
		MaxConnections:  cfg.Server.MaxConnections,
	}, b)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go watchReloadSignal(ctx, configPath, logLevel, fileAuth, logger)

	logger.Info("mercuriod starting", slog.String("address", cfg.Server.Address), slog.String("storage", cfg.Storage.Type))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(ctx) }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server stopped with error", slog.String("error", err.Error()))
			saveRetainedSnapshot(cfg.Storage, store, snapshotter, logger)
			return 1
		}
	case <-ctx.Done():
		<-errCh
	}

	saveRetainedSnapshot(cfg.Storage, store, snapshotter, logger)
	logger.Info("mercuriod stopped")
	return 0
}

func printDefaultConfig() int {
	cfg := config.Default()
	tmp, err := os.CreateTemp("", "mercuriod-*.toml")
	if err != nil {
		fmt.Fprintln(os.Stderr, "mercuriod:", err)
		return 1
	}
	defer os.Remove(tmp.Name())
	tmp.Close()

	if err := cfg.Save(tmp.Name()); err != nil {
		fmt.Fprintln(os.Stderr, "mercuriod:", err)
		return 1
	}
	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		fmt.Fprintln(os.Stderr, "mercuriod:", err)
		return 1
	}
	os.Stdout.Write(data)
	return 0
}

func newLogger(cfg config.LoggingConfig, level *slog.LevelVar) *slog.Logger {
	level.Set(logLevelFromConfig(cfg.Level))

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func logLevelFromConfig(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// watchReloadSignal reloads the subset of configuration spec §6 names as
// SIGHUP-reloadable: logging level and auth policy (credentials file).
// configPath is re-read from disk so a level change there takes effect
// without a restart; the level itself is applied through level, the
// *slog.LevelVar backing every handler newLogger built, so already-issued
// *slog.Logger values pick up the new level without re-wiring anything.
func watchReloadSignal(ctx context.Context, configPath string, level *slog.LevelVar, fileAuth *auth.FileAuthenticator, logger *slog.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			cfg, err := config.Load(configPath)
			if err != nil {
				logger.Error("sighup: reload config", slog.String("error", err.Error()))
				continue
			}

			level.Set(logLevelFromConfig(cfg.Logging.Level))
			logger.Info("sighup: reloaded log level", slog.String("level", cfg.Logging.Level))

			if fileAuth != nil {
				if err := fileAuth.Reload(); err != nil {
					logger.Error("sighup: reload auth credentials", slog.String("error", err.Error()))
					continue
				}
				logger.Info("sighup: reloaded auth credentials")
			}
		}
	}
}

func openStore(cfg config.StorageConfig) (storage.Store, func(), error) {
	if cfg.Type == "badger" {
		st, err := badger.New(badger.Config{Dir: cfg.BadgerDir})
		if err != nil {
			return nil, nil, fmt.Errorf("open badger store at %s: %w", cfg.BadgerDir, err)
		}
		return st, func() { st.Close() }, nil
	}

	st := memory.New()
	return st, func() { st.Close() }, nil
}

// maybeLoadRetainedSnapshot restores a zstd-compressed retained-message
// snapshot at startup when the memory backend is configured durable (spec
// §9 Open Question (b): off by default). It returns the Snapshotter so the
// caller can save on shutdown; nil if snapshotting isn't configured.
func maybeLoadRetainedSnapshot(cfg config.StorageConfig, store storage.Store, logger *slog.Logger) *persist.Snapshotter {
	if cfg.Type != "memory" || !cfg.RetainedDurable || cfg.SnapshotPath == "" {
		return nil
	}

	snap := persist.NewSnapshotter(store.Retained())
	n, err := snap.Load(context.Background(), cfg.SnapshotPath)
	if err != nil && !os.IsNotExist(err) {
		logger.Warn("load retained snapshot", slog.String("path", cfg.SnapshotPath), slog.String("error", err.Error()))
	} else if n > 0 {
		logger.Info("retained snapshot restored", slog.Int("count", n))
	}
	return snap
}

func saveRetainedSnapshot(cfg config.StorageConfig, store storage.Store, snap *persist.Snapshotter, logger *slog.Logger) {
	if snap == nil {
		return
	}
	n, err := snap.Save(context.Background(), cfg.SnapshotPath)
	if err != nil {
		logger.Error("save retained snapshot", slog.String("path", cfg.SnapshotPath), slog.String("error", err.Error()))
		return
	}
	logger.Info("retained snapshot saved", slog.Int("count", n))
}

// buildAuthEngine wires the configured Authenticator into an auth.Engine.
// It also returns the underlying *auth.FileAuthenticator directly (even
// when wrapped in a circuit breaker) so SIGHUP can call Reload on it
// without the Engine or breaker needing to expose a pass-through method.
func buildAuthEngine(cfg config.AuthConfig, logger *slog.Logger) (*auth.Engine, *auth.FileAuthenticator, error) {
	if !cfg.Enabled {
		return nil, nil, nil
	}

	file, err := auth.NewFileAuthenticator(cfg.CredentialsFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load credentials file %s: %w", cfg.CredentialsFile, err)
	}

	var authenticator auth.Authenticator = file
	if cfg.CircuitBreaker {
		authenticator = auth.NewCircuitBreakerAuthenticator(authenticator, auth.DefaultCircuitBreakerConfig(), logger)
	}

	return auth.NewEngine(authenticator, nil), file, nil
}

func buildRateLimiter(cfg config.RateLimitConfig) *ratelimit.Manager {
	rl := ratelimit.Config{
		Enabled: cfg.Enabled,
		Connection: ratelimit.ConnectionConfig{
			Enabled:         cfg.Enabled,
			Rate:            cfg.ConnectionsPerSecond,
			Burst:           cfg.ConnectionsBurst,
			CleanupInterval: cfg.CleanupInterval,
		},
		Message: ratelimit.MessageConfig{
			Enabled: cfg.Enabled,
			Rate:    cfg.MessagesPerSecond,
			Burst:   cfg.MessagesBurst,
		},
		Subscribe: ratelimit.SubscribeConfig{
			Enabled: cfg.Enabled,
			Rate:    cfg.SubscribesPerSecond,
			Burst:   cfg.SubscribesBurst,
		},
	}
	return ratelimit.NewManager(rl)
}

func buildTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load TLS key pair: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	switch cfg.ClientAuth {
	case "request":
		tlsCfg.ClientAuth = tls.VerifyClientCertIfGiven
	case "require":
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	default:
		tlsCfg.ClientAuth = tls.NoClientCert
	}

	if cfg.CAFile != "" {
		caCert, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file %s: %w", cfg.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("parse CA file %s", cfg.CAFile)
		}
		tlsCfg.ClientCAs = pool
	}

	return tlsCfg, nil
}
