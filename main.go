// Command streampilot is the main entrypoint for the chat bot service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Builds the AI client, overlay registry, and session manager.
//   - Starts the OAuth token refresher for the bot's Twitch credentials.
//   - Exposes the HTTP control surface with /bot, /settings, /overlay,
//     /healthz, /status, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/onnwee/streampilot/ai"
	"github.com/onnwee/streampilot/authz"
	"github.com/onnwee/streampilot/bot"
	"github.com/onnwee/streampilot/config"
	"github.com/onnwee/streampilot/db"
	"github.com/onnwee/streampilot/oauth"
	"github.com/onnwee/streampilot/overlay"
	"github.com/onnwee/streampilot/server"
	"github.com/onnwee/streampilot/telemetry"
	"github.com/onnwee/streampilot/twitchapi"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	// Metrics / telemetry init
	telemetry.Init()

	// Initialize OpenTelemetry tracing (optional; requires OTEL_EXPORTER_OTLP_ENDPOINT)
	shutdown, err := telemetry.InitTracing("streampilot", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	// Best-effort startup checks against the Twitch ID service: validate the
	// chat token and fetch a Helix app access token when client creds exist.
	// Neither is required to serve traffic; failures are logged and skipped.
	if cfg.TwitchOAuthToken != "" {
		ctx2, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		if res, err := twitchapi.ValidateToken(ctx2, cfg.TwitchOAuthToken); err != nil {
			slog.Warn("twitch chat token validation failed", slog.Any("err", err))
		} else {
			slog.Info("twitch chat token valid", slog.String("login", res.Login), slog.Int("expires_in", res.ExpiresIn))
		}
		cancel()
	}
	if cfg.TwitchClientID != "" && cfg.TwitchClientSecret != "" {
		ctx2, cancel := context.WithTimeout(context.Background(), 8*time.Second)
		cc := &clientcredentials.Config{
			ClientID:     cfg.TwitchClientID,
			ClientSecret: cfg.TwitchClientSecret,
			TokenURL:     "https://id.twitch.tv/oauth2/token",
		}
		if tok, err := cc.Token(ctx2); err != nil {
			slog.Warn("twitch app token fetch failed", slog.Any("err", err))
		} else if len(tok.AccessToken) > 6 {
			masked := "***" + tok.AccessToken[len(tok.AccessToken)-6:]
			slog.Info("twitch app token acquired", slog.String("tail", masked))
		}
		cancel()
	}

	// DB
	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.Migrate(context.Background(), database); err != nil {
		slog.Error("failed to migrate db", slog.Any("err", err))
		os.Exit(1)
	}

	// Root context with graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// AI client
	var replier ai.Client
	switch cfg.AIProvider {
	case "gemini":
		replier, err = ai.NewGeminiClient(ctx, cfg.AIAPIKey, cfg.AIModel)
		if err != nil {
			slog.Error("ai client init failed", slog.String("provider", cfg.AIProvider), slog.Any("err", err))
			os.Exit(1)
		}
	default:
		replier = ai.NewOpenAIClient(ai.OpenAIConfig{APIKey: cfg.AIAPIKey, BaseURL: cfg.AIBaseURL, Model: cfg.AIModel})
	}

	// Overlay registry and session manager
	registry := overlay.NewRegistry()
	manager := bot.NewManager(bot.Config{
		BotUsername:    cfg.TwitchBotUsername,
		OAuthToken:     cfg.TwitchOAuthToken,
		AICooldown:     cfg.AICooldown,
		AITimeout:      cfg.AITimeout,
		ConnectTimeout: cfg.ConnectTimeout,
	}, bot.ManagerDeps{
		Auth:     &authz.Oracle{DB: database},
		Replier:  replierAdapter{client: replier},
		Overlay:  registry,
		Recorder: bot.DBRecorder{DB: database},
		Sessions: bot.DBSessionStore{DB: database},
	})
	defer manager.StopAll(context.Background())

	// Resume the sessions the previous process was serving
	if n, err := manager.Resume(ctx); err != nil {
		slog.Warn("session resume failed", slog.Any("err", err))
	} else if n > 0 {
		slog.Info("resumed sessions", slog.Int("count", n))
	}

	// Centralized OAuth token refresher for the bot's chat credentials
	oauth.StartRefresher(ctx, database, "twitch", 5*time.Minute, 15*time.Minute, func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
		res, err := twitchapi.RefreshToken(rctx, cfg.TwitchClientID, cfg.TwitchClientSecret, refreshToken)
		if err != nil {
			return "", "", time.Time{}, "", err
		}
		return res.AccessToken, res.RefreshToken, twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " "), nil
	})

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	// HTTP server (control surface, overlay, health, metrics)
	go func() {
		if err := server.Start(ctx, database, manager, registry, cfg.HTTPAddr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	slog.Info("shutting down")
}

// replierAdapter bridges the AI client to the session interface.
type replierAdapter struct {
	client ai.Client
}

func (r replierAdapter) Generate(ctx context.Context, prompt string) (bot.Reply, error) {
	rep, err := r.client.Generate(ctx, prompt)
	if err != nil {
		return bot.Reply{}, err
	}
	return bot.Reply{Text: rep.Text, Tokens: rep.Tokens}, nil
}
