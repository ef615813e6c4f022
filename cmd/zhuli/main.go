// Command zhuli listens to a microphone for spoken commands and publishes the
// matching actions to a message bus.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/zhuli/internal/app"
	"github.com/MrWong99/zhuli/internal/config"
	"github.com/MrWong99/zhuli/internal/health"
	"github.com/MrWong99/zhuli/internal/observe"
)

// version is set at build time via -ldflags "-X main.version=…".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	flags := pflag.NewFlagSet("zhuli", pflag.ContinueOnError)
	configPath := flags.StringP("config", "c", "", "path to the YAML configuration file (defaults and environment only when empty)")
	envFile := flags.StringP("env", "e", ".env", "dotenv file loaded before the environment is read")
	logLevel := flags.StringP("log", "l", "", "override the log level (debug, info, warn, error)")
	replay := flags.StringP("replay", "r", "", "read audio from this WAV file instead of the microphone and stop at its end")
	printConfig := flags.Bool("print-config", false, "print the effective configuration and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 1
	}

	// ── Environment ───────────────────────────────────────────────────────────
	if err := godotenv.Load(*envFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) || flags.Changed("env") {
			fmt.Fprintf(os.Stderr, "zhuli: load env file: %v\n", err)
			return 1
		}
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath, *logLevel, *replay)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "zhuli: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "zhuli: %v\n", err)
		}
		return 1
	}

	if *printConfig {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(redacted(cfg)); err != nil {
			fmt.Fprintf(os.Stderr, "zhuli: %v\n", err)
			return 1
		}
		return 0
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server)
	slog.SetDefault(logger)

	slog.Info("zhuli starting",
		"version", version,
		"config", *configPath,
		"assistant", cfg.Assistant.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "zhuli",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, logger)

	providers, closers, err := buildProviders(cfg, reg, logger, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithMetrics(metrics),
		app.WithStopOnEOF(*replay != ""),
	}
	for _, c := range closers {
		opts = append(opts, app.WithCloser(c))
	}
	application, err := app.New(cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		for _, c := range closers {
			_ = c()
		}
		return 1
	}

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg, application.Table().Len())

	// ── Run ───────────────────────────────────────────────────────────────────
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)

	if cfg.Server.ListenAddr != "" {
		srv := newHTTPServer(cfg.Server.ListenAddr, application, telemetry, metrics)
		g.Go(func() error {
			slog.Info("http server listening", "addr", cfg.Server.ListenAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancelRun()
		return application.Run(gctx)
	})

	slog.Info("ready, press Ctrl+C to shut down")
	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if ctx.Err() != nil {
		slog.Info("interrupted, stopping…")
	}
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("goodbye", "restarts", application.Supervisor().Restarts())
	return 0
}

// loadConfig reads the configuration and applies the command-line overrides
// on top of it.
func loadConfig(path, logLevel, replay string) (*config.Config, error) {
	cfg, err := config.Load(path, config.WithEnv(os.LookupEnv))
	if err != nil {
		return nil, err
	}
	if logLevel == "" && replay == "" {
		return cfg, nil
	}
	if logLevel != "" {
		cfg.Server.LogLevel = config.LogLevel(strings.ToLower(logLevel))
	}
	if replay != "" {
		cfg.Audio.Name = "wav"
		if cfg.Audio.Options == nil {
			cfg.Audio.Options = map[string]any{}
		}
		cfg.Audio.Options["path"] = replay
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// redacted returns a copy of cfg with credentials masked for printing.
func redacted(cfg *config.Config) config.Config {
	out := *cfg
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Providers.STT.APIKey = mask(out.Providers.STT.APIKey)
	out.Providers.STTFallbacks = make([]config.ProviderEntry, len(cfg.Providers.STTFallbacks))
	for i, fb := range cfg.Providers.STTFallbacks {
		fb.APIKey = mask(fb.APIKey)
		out.Providers.STTFallbacks[i] = fb
	}
	out.Bus.Password = mask(out.Bus.Password)
	return out
}

// newHTTPServer serves the health probes and the Prometheus scrape endpoint.
func newHTTPServer(addr string, a *app.App, telemetry *observe.Provider, metrics *observe.Metrics) *http.Server {
	mux := http.NewServeMux()
	health.New(a.Checkers()...).Register(mux)
	mux.Handle("GET /metrics", telemetry.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, commands int) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Zhu Li · startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Assistant", cfg.Assistant.Name)
	printRow("Commands", fmt.Sprintf("%d", commands))
	printProvider("Audio", cfg.Audio.Name, optString(cfg.Audio.Options, "path"))
	printProvider("VAD", cfg.VAD.Name, "")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	for _, fb := range cfg.Providers.STTFallbacks {
		printProvider("STT fallback", fb.Name, fb.Model)
	}
	printProvider("Bus", cfg.Bus.Name, cfg.Bus.Server)
	if cfg.Assistant.PublishOnFail {
		printRow("On fail", "publish")
	} else {
		printRow("On fail", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, detail string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if detail != "" {
		value = name + " / " + detail
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if r := []rune(value); len(r) > 19 {
		value = string(r[:18]) + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(cfg config.ServerConfig) *slog.Logger {
	var lvl slog.Level
	switch cfg.LogLevel {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	switch cfg.LogFormat {
	case config.LogFormatJSON:
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	case config.LogFormatText:
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	default:
		return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
			Level:      lvl,
			TimeFormat: time.TimeOnly,
		}))
	}
}
