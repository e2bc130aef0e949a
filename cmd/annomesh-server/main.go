package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/yndnr/annomesh-go/internal/infra/buildinfo"
	"github.com/yndnr/annomesh-go/internal/infra/confloader"
	"github.com/yndnr/annomesh-go/internal/infra/shutdown"
	"github.com/yndnr/annomesh-go/internal/server/config"
	"github.com/yndnr/annomesh-go/internal/telemetry/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// flags holds the command line. Flags that are set override the matching
// configuration keys.
type flags struct {
	configFile  string
	httpAddr    string
	logLevel    string
	storageKind string
	adminSocket string
	showVersion bool
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet("annomesh-server", flag.ContinueOnError)
	fs.StringVar(&f.configFile, "config", "", "Path to configuration file")
	fs.StringVar(&f.httpAddr, "addr", "", "HTTP listen address (server.http.addr)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (log.level)")
	fs.StringVar(&f.storageKind, "storage", "", "Archive kind: none, memory, badger, postgres (storage.kind)")
	fs.StringVar(&f.adminSocket, "admin-socket", "", "Local administration socket path (server.admin_socket)")
	fs.BoolVar(&f.showVersion, "version", false, "Show version information")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *flags) overrides() map[string]any {
	o := map[string]any{}
	if f.httpAddr != "" {
		o["server.http.addr"] = f.httpAddr
	}
	if f.logLevel != "" {
		o["log.level"] = f.logLevel
	}
	if f.storageKind != "" {
		o["storage.kind"] = f.storageKind
	}
	if f.adminSocket != "" {
		o["server.admin_socket"] = f.adminSocket
	}
	return o
}

func run(args []string) error {
	f, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	if f.showVersion {
		fmt.Printf("annomesh-server %s\n", buildinfo.String())
		return nil
	}

	loader := newLoader(f)
	cfg, err := loadConfig(loader)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	info := buildinfo.Get()
	log.Info("starting annomesh-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", f.configFile)
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	ctx := context.Background()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}

	shutdownHandler := shutdown.NewHandler(cfg.Server.HTTP.ShutdownTimeout, shutdown.WithLogger(log))
	a.registerShutdown(shutdownHandler)

	if f.configFile != "" {
		stop, err := watchConfig(loader, f.configFile, log)
		if err != nil {
			log.Warn("config file watch disabled", "error", err)
		} else {
			shutdownHandler.OnShutdown("config-watcher", func(context.Context) error { return stop() })
		}
	}

	if a.certs != nil {
		stop := a.watchCertificates()
		shutdownHandler.OnShutdown("tls-watcher", func(context.Context) error { return stop() })
	}

	// A listener failure or an admin shutdown ends the process like a
	// signal would.
	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Server.AdminSocket != "" {
		reload := func() error { return reloadConfig(loader, log) }
		if err := a.startAdmin(reload, cancel); err != nil {
			_ = shutdownHandler.Shutdown()
			return fmt.Errorf("admin socket: %w", err)
		}
		shutdownHandler.OnShutdown("admin", a.admin.Shutdown)
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server listening", "addr", cfg.Server.HTTP.Addr, "tls", a.http.TLS())
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	var listenErr error
	go func() {
		select {
		case listenErr = <-serveErr:
			log.Error("HTTP server error", "error", listenErr)
			cancel()
		case <-shutdownHandler.Done():
		}
	}()

	log.Info("server started, press Ctrl+C to stop")
	if err := shutdownHandler.Wait(waitCtx); err != nil {
		log.Error("shutdown error", "error", err)
		return err
	}
	if listenErr != nil {
		return fmt.Errorf("http server: %w", listenErr)
	}

	log.Info("server stopped gracefully")
	return nil
}

func newLoader(f *flags) *confloader.Loader {
	opts := []confloader.Option{confloader.WithOverrides(f.overrides())}
	if f.configFile != "" {
		opts = append(opts, confloader.WithConfigFile(f.configFile))
	}
	return confloader.NewLoader(opts...)
}

// loadConfig loads configuration from file, environment and flags.
func loadConfig(loader *confloader.Loader) (*config.ServerConfig, error) {
	cfg := config.Default()
	if err := loader.Load(cfg); err != nil {
		return nil, err
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initLogger installs the process logger and returns its slog form for
// components that take one.
func initLogger(cfg *config.ServerConfig) (*slog.Logger, error) {
	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return nil, err
	}
	logger.SetDefault(log)
	return logger.Slog(log), nil
}

// reloadConfig re-reads file, environment and flags. Only the log level is
// applied at runtime; other changes need a restart.
func reloadConfig(loader *confloader.Loader, log *slog.Logger) error {
	cfg := config.Default()
	if err := loader.Reload(cfg); err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	if err := config.Verify(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Log.Level != logger.GetLevel() {
		logger.SetLevel(cfg.Log.Level)
		log.Info("log level changed", "level", cfg.Log.Level)
	}
	return nil
}

// watchConfig calls reloadConfig whenever the file at path changes.
func watchConfig(loader *confloader.Loader, path string, log *slog.Logger) (func() error, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		_ = w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		if err := reloadConfig(loader, log); err != nil {
			log.Warn("config change not applied, keeping current settings", "error", err)
		}
	})
	w.StartAsync()
	return w.Stop, nil
}
