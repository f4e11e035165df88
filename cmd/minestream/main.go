// Command minestream is the main entry point for the MineStream voice engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/MrWong99/minestream/internal/app"
	"github.com/MrWong99/minestream/internal/config"
	"github.com/MrWong99/minestream/internal/observe"
	"github.com/MrWong99/minestream/internal/resilience"
	"github.com/MrWong99/minestream/pkg/provider/tts"
	"github.com/MrWong99/minestream/pkg/provider/tts/qwen"
	"github.com/MrWong99/minestream/pkg/provider/tts/sine"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to a YAML or TOML configuration file (optional)")
	envFile := flag.String("env", ".env", "dotenv file loaded before the configuration")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "minestream: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "minestream: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "minestream: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Slog())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("minestream starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	host, _ := os.Hostname()
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		InstanceID:     host,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownTelemetry(context.Background()); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Backend ───────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg)

	backend, err := buildBackend(cfg.Model, reg, metrics)
	if err != nil {
		slog.Error("failed to build backend", "err", err)
		return 1
	}

	printStartupSummary(cfg, backend.Device())

	loadStart := time.Now()
	if err := backend.Load(ctx); err != nil {
		slog.Error("failed to load model", "model", cfg.Model.Name, "err", err)
		_ = backend.Close()
		return 1
	}
	slog.Info("model loaded", "model", cfg.Model.Name, "device", backend.Device(),
		"took", time.Since(loadStart).Round(time.Millisecond))

	application, err := app.New(ctx, cfg, backend, app.WithMetrics(metrics))
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	if *configPath != "" {
		watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
			d := config.Diff(old, new)
			if d.LogLevelChanged {
				level.Set(d.NewLogLevel.Slog())
				slog.Info("config reload: log level changed", "level", d.NewLogLevel)
			}
			application.Reload(ctx, d)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer watcher.Stop()
		}
	}

	slog.Info("server ready, press Ctrl+C to shut down")

	runErr := application.Run(ctx)
	if runErr != nil {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	if runErr != nil {
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the backend factories that ship with
// MineStream into reg.
func registerBuiltinBackends(reg *config.Registry) {
	reg.RegisterBackend("qwen", func(m config.ModelConfig) (tts.Backend, error) {
		return qwen.New(m.BaseURL,
			qwen.WithLanguage(m.Language),
			qwen.WithTimeout(m.Timeout.Std()),
			qwen.WithLoadOptions(m.LoadOptions()),
		)
	})
	reg.RegisterBackend("sine", func(m config.ModelConfig) (tts.Backend, error) {
		return sine.New(m.LoadOptions().Device()), nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered backend", "name", name)
	}
}

// buildBackend creates the configured backend. When fallback endpoints are
// configured, the primary and every fallback are wrapped in a
// [resilience.BackendFallback] with one circuit breaker per endpoint.
func buildBackend(m config.ModelConfig, reg *config.Registry, metrics *observe.Metrics) (tts.Backend, error) {
	primary, err := reg.CreateBackend(m)
	if err != nil {
		return nil, fmt.Errorf("create backend %q: %w", m.Name, err)
	}
	if len(m.Fallbacks) == 0 {
		return primary, nil
	}

	fb := resilience.NewBackendFallback(primary, endpointLabel(m.Name, m.BaseURL), resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			OnStateChange: func(name string, _, to resilience.State) {
				metrics.RecordBreakerTransition(context.Background(), name, to.String())
			},
		},
	})
	for _, e := range m.Fallbacks {
		em := m.WithEndpoint(e)
		b, err := reg.CreateBackend(em)
		if err != nil {
			_ = fb.Close()
			return nil, fmt.Errorf("create fallback backend %q: %w", e.BaseURL, err)
		}
		fb.AddFallback(endpointLabel(em.Name, em.BaseURL), b)
	}
	slog.Info("backend failover enabled", "endpoints", len(m.Fallbacks)+1)
	return fb, nil
}

func endpointLabel(name, baseURL string) string {
	if baseURL == "" {
		return name
	}
	return name + "@" + baseURL
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, device string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║       MineStream startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Model", cfg.Model.Name)
	printRow("Endpoint", cfg.Model.BaseURL)
	printRow("Device", device)
	printRow("Quantization", cfg.Model.Quantization)
	fmt.Printf("║  Fallbacks       : %-19d ║\n", len(cfg.Model.Fallbacks))
	printRow("Storage", string(cfg.Storage.Backend))
	if cfg.Database.DSN != "" {
		printRow("Profiles", "postgres")
	} else {
		printRow("Profiles", "memory")
	}
	fmt.Printf("║  Seed voices     : %-19d ║\n", len(cfg.Seeds()))
	printRow("Listen addr", cfg.Server.ListenAddr)
	printRow("API prefix", cfg.Server.APIPrefix)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, truncate(value, 19))
}

// truncate shortens s to at most width runes, marking the cut with "…".
func truncate(s string, width int) string {
	if utf8.RuneCountInString(s) <= width {
		return s
	}
	r := []rune(s)
	return string(r[:width-1]) + "…"
}
