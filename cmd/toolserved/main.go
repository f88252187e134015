// Command toolserved serves the bundled toolsets over stdio or SSE, wired
// together by a YAML config file.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"toolrpc"
	"toolrpc/toolsets/filesystem"
	"toolrpc/toolsets/finance"
	"toolrpc/toolsets/gitrepo"
)

const serverVersion = "1.0.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "toolserved:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "Path to the YAML config file")
	flag.StringVar(configPath, "c", "", "Path to the YAML config file (shorthand)")
	flag.Parse()

	// A missing .env file is fine; explicit config errors are not.
	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	registry := toolrpc.NewRegistry()
	if err := registerToolsets(cfg, registry); err != nil {
		return err
	}
	if registry.Len() == 0 {
		return errors.New("no toolsets enabled in config")
	}
	logger.Info("toolsets registered", slog.Int("tools", registry.Len()))

	info := toolrpc.Info{Name: "toolserved", Version: serverVersion}
	options := []toolrpc.ServerOption{toolrpc.WithServerLogger(logger)}
	if cfg.Sandbox.Limit > 0 {
		options = append(options, toolrpc.WithSandboxSize(cfg.Sandbox.Limit))
	}
	if cfg.Sandbox.Timeout > 0 {
		options = append(options, toolrpc.WithCallTimeout(cfg.Sandbox.Timeout))
	}
	if cfg.Sandbox.Grace > 0 {
		options = append(options, toolrpc.WithCallGrace(cfg.Sandbox.Grace))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cfg.Transport {
	case "stdio":
		return serveStdIO(ctx, info, registry, options, logger)
	case "sse":
		return serveSSE(ctx, cfg, info, registry, options, logger)
	}
	return fmt.Errorf("unknown transport %q", cfg.Transport)
}

func registerToolsets(cfg config, registry *toolrpc.Registry) error {
	if len(cfg.Filesystem.Roots) > 0 {
		ts, err := filesystem.New(cfg.Filesystem.Roots)
		if err != nil {
			return fmt.Errorf("filesystem toolset: %w", err)
		}
		if err := registry.RegisterAll(ts.Tools()...); err != nil {
			return fmt.Errorf("filesystem toolset: %w", err)
		}
	}

	if cfg.Finance.Enabled {
		var opts []finance.Option
		if cfg.Finance.BaseURL != "" {
			opts = append(opts, finance.WithBaseURL(cfg.Finance.BaseURL))
		}
		if err := registry.RegisterAll(finance.New(opts...).Tools()...); err != nil {
			return fmt.Errorf("finance toolset: %w", err)
		}
	}

	if cfg.Git.Workdir != "" {
		var opts []gitrepo.Option
		if cfg.Git.TokenEnv != "" {
			if token := os.Getenv(cfg.Git.TokenEnv); token != "" {
				opts = append(opts, gitrepo.WithToken(token))
			}
		}
		ts, err := gitrepo.New(cfg.Git.Workdir, opts...)
		if err != nil {
			return fmt.Errorf("git toolset: %w", err)
		}
		if err := registry.RegisterAll(ts.Tools()...); err != nil {
			return fmt.Errorf("git toolset: %w", err)
		}
	}

	return nil
}

func serveStdIO(
	ctx context.Context,
	info toolrpc.Info,
	registry *toolrpc.Registry,
	options []toolrpc.ServerOption,
	logger *slog.Logger,
) error {
	transport := toolrpc.NewStdIO(os.Stdin, os.Stdout)
	srv := toolrpc.NewServer(info, transport, registry, options...)

	go srv.Serve()
	logger.Info("serving on stdio")

	<-ctx.Done()
	logger.Info("shutting down")

	sCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

func serveSSE(
	ctx context.Context,
	cfg config,
	info toolrpc.Info,
	registry *toolrpc.Registry,
	options []toolrpc.ServerOption,
	logger *slog.Logger,
) error {
	transport := toolrpc.NewSSEServer(cfg.PublicURL + "/message")
	srv := toolrpc.NewServer(info, transport, registry, options...)

	mux := http.NewServeMux()
	mux.Handle("/sse", transport.HandleSSE())
	mux.Handle("/message", transport.HandleMessage())
	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	httpErrs := make(chan error, 1)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrs <- err
		}
	}()
	go srv.Serve()
	logger.Info("serving SSE", slog.String("addr", cfg.Addr))

	select {
	case err := <-httpErrs:
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	sCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(sCtx); err != nil {
		logger.Warn("http shutdown failed", slog.String("err", err.Error()))
	}
	if err := srv.Shutdown(sCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
