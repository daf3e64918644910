// Command scryer is the main entry point for the Scryer session recording bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/scryer/internal/app"
	"github.com/MrWong99/scryer/internal/config"
	discordbot "github.com/MrWong99/scryer/internal/discord"
	"github.com/MrWong99/scryer/internal/discord/commands"
	"github.com/MrWong99/scryer/internal/health"
	"github.com/MrWong99/scryer/internal/observe"
	"github.com/MrWong99/scryer/internal/resilience"
	"github.com/MrWong99/scryer/pkg/provider/embeddings"
	oaembed "github.com/MrWong99/scryer/pkg/provider/embeddings/openai"
	"github.com/MrWong99/scryer/pkg/provider/llm"
	"github.com/MrWong99/scryer/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/scryer/pkg/provider/llm/openai"
	"github.com/MrWong99/scryer/pkg/provider/stt"
	"github.com/MrWong99/scryer/pkg/provider/stt/deepgram"
	oastt "github.com/MrWong99/scryer/pkg/provider/stt/openai"
	"github.com/MrWong99/scryer/pkg/provider/stt/whisper"
)

// shutdownTimeout bounds the final stop, including transcription of a
// session that was still recording.
const shutdownTimeout = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "scryer: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "scryer: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(app.ParseLogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(logLevel))

	slog.Info("scryer starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "scryer",
		ServiceVersion: buildVersion(),
		GuildID:        cfg.Discord.GuildID,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	// ── Instantiate providers ─────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg, metrics)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Discord bot ───────────────────────────────────────────────────────────
	bot, err := discordbot.New(ctx, discordbot.Config{
		Token:          cfg.Discord.Token,
		GuildID:        cfg.Discord.GuildID,
		OperatorRoleID: cfg.Discord.OperatorRoleID,
		TextChannelID:  cfg.Discord.TextChannelID,
	})
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}
	providers.Audio = bot.Platform()
	slog.Info("discord bot connected", "guild_id", cfg.Discord.GuildID)

	// ── Startup summary ───────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers,
		app.WithMetrics(metrics),
		app.WithLogLevel(logLevel),
		app.WithShutdownReplier(app.ReplierFunc(bot.SendText)),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		_ = bot.Close()
		return 1
	}
	commands.NewScryCommands(bot, application)

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, application.ApplyConfig)
	if err != nil {
		slog.Warn("config hot-reload disabled", "err", err)
	} else {
		go watcher.Run(ctx)
	}

	// ── Ops server ────────────────────────────────────────────────────────────
	srv := newOpsServer(cfg, bot, application, metrics)
	if srv != nil {
		go func() {
			if err := serveOps(srv, cfg.Server.TLS); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("ops server error", "err", err)
			}
		}()
	}

	// Start the Discord bot interaction loop in a separate goroutine.
	go func() {
		if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("discord bot error", "err", err)
		}
	}()

	slog.Info("scryer ready, press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	code := 0
	// The application goes first: a live session is stopped and its outcome
	// posted through the bot.
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		code = 1
	}
	if err := bot.Close(); err != nil {
		slog.Warn("discord bot close error", "err", err)
	}
	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("ops server shutdown error", "err", err)
		}
	}
	slog.Info("goodbye")
	return code
}

// ── Ops server ────────────────────────────────────────────────────────────────

// newOpsServer builds the health and metrics server, or returns nil when no
// listen address is configured.
func newOpsServer(cfg *config.Config, bot *discordbot.Bot, application *app.App, metrics *observe.Metrics) *http.Server {
	if cfg.Server.ListenAddr == "" {
		return nil
	}
	checkers := []health.Checker{
		health.Flag("discord", bot.Ready, "gateway not ready"),
	}
	if store := application.Archive(); store != nil {
		checkers = append(checkers, health.Ping("archive", store))
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func serveOps(srv *http.Server, tls *config.TLSConfig) error {
	slog.Info("ops server listening", "addr", srv.Addr, "tls", tls != nil)
	if tls != nil {
		return srv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
	}
	return srv.ListenAndServe()
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// The transcript vocabulary and archive dimensions are read from cfg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// Every other backend goes through any-llm-go. They share the same
	// pattern: optional APIKey + optional BaseURL.
	for _, providerName := range anyllm.Backends {
		if providerName == "openai" {
			continue
		}
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	vocabulary := cfg.Transcript.Vocabulary

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.FileTranscriber, error) {
		var opts []oastt.Option
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		if len(vocabulary) > 0 {
			opts = append(opts, oastt.WithVocabulary(vocabulary))
		}
		return oastt.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.FileTranscriber, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if len(vocabulary) > 0 {
			opts = append(opts, deepgram.WithKeywords(vocabulary...))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.FileTranscriber, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.FileTranscriber, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if d := cfg.Archive.EmbeddingDimensions; d > 0 {
			opts = append(opts, oaembed.WithDimensions(d))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	for kind, names := range reg.Names() {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry.
// Configured fallbacks are chained behind the primary LLM and STT providers.
func buildProviders(cfg *config.Config, reg *config.Registry, metrics *observe.Metrics) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.LLM.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Providers.LLM)
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		}
		ps.LLM = p
		slog.Info("provider created", "kind", "llm", "name", name)

		if len(cfg.Providers.LLMFallbacks) > 0 {
			fb := resilience.NewLLMFallback(p, name, resilience.FallbackConfig{Kind: "llm", Metrics: metrics})
			for _, entry := range cfg.Providers.LLMFallbacks {
				fp, err := reg.CreateLLM(entry)
				if err != nil {
					return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, fp)
				slog.Info("provider created", "kind", "llm", "name", entry.Name, "fallback", true)
			}
			ps.LLM = fb
		}
	}

	if name := cfg.Providers.STT.Name; name != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", name, err)
		}
		ps.STT = p
		slog.Info("provider created", "kind", "stt", "name", name)

		if len(cfg.Providers.STTFallbacks) > 0 {
			fb := resilience.NewSTTFallback(p, name, resilience.FallbackConfig{Kind: "stt", Metrics: metrics})
			for _, entry := range cfg.Providers.STTFallbacks {
				fp, err := reg.CreateSTT(entry)
				if err != nil {
					return nil, fmt.Errorf("create stt fallback %q: %w", entry.Name, err)
				}
				fb.AddFallback(entry.Name, fp)
				slog.Info("provider created", "kind", "stt", "name", entry.Name, "fallback", true)
			}
			ps.STT = fb
		}
	}

	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("embeddings provider not available, recall disabled", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			ps.Embeddings = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	printStartupSummaryTo(os.Stdout, cfg)
}

func printStartupSummaryTo(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "╔═══════════════════════════════════════╗")
	fmt.Fprintln(w, "║         Scryer · startup summary      ║")
	fmt.Fprintln(w, "╠═══════════════════════════════════════╣")
	printProvider(w, "LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider(w, "STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider(w, "Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	fmt.Fprintf(w, "║  Fallbacks       : %-19s ║\n",
		fmt.Sprintf("%d llm, %d stt", len(cfg.Providers.LLMFallbacks), len(cfg.Providers.STTFallbacks)))
	fmt.Fprintf(w, "║  Recordings      : %-19s ║\n", truncate(cfg.Recording.Dir))
	fmt.Fprintf(w, "║  Transcripts     : %-19s ║\n", truncate(cfg.Transcript.Dir))
	fmt.Fprintf(w, "║  Vocabulary      : %-19d ║\n", len(cfg.Transcript.Vocabulary))
	if cfg.Archive.PostgresDSN != "" {
		fmt.Fprintf(w, "║  Archive         : %-19s ║\n", "postgres")
	} else {
		fmt.Fprintf(w, "║  Archive         : %-19s ║\n", "(disabled)")
	}
	if cfg.Server.ListenAddr != "" {
		fmt.Fprintf(w, "║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Fprintln(w, "╚═══════════════════════════════════════╝")
}

func printProvider(w io.Writer, kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	fmt.Fprintf(w, "║  %-12s    : %-19s ║\n", kind, truncate(value))
}

// truncate shortens s to fit a summary cell.
func truncate(s string) string {
	if r := []rune(s); len(r) > 19 {
		return string(r[:18]) + "…"
	}
	return s
}

// ── Logger ─────────────────────────────────────────────────────────────────────

// newLogger returns a text logger whose level follows lv, so a config reload
// can change verbosity without a restart.
func newLogger(lv *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lv}))
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// buildVersion reports the module version stamped by the go tool.
func buildVersion() string {
	if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" {
		return bi.Main.Version
	}
	return "(devel)"
}
