package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavelanni/gradedesk/internal/backend"
	"github.com/pavelanni/gradedesk/internal/cache"
	"github.com/pavelanni/gradedesk/internal/events"
	"github.com/pavelanni/gradedesk/internal/grading"
	"github.com/pavelanni/gradedesk/internal/handler"
	appI18n "github.com/pavelanni/gradedesk/internal/i18n"
	"github.com/pavelanni/gradedesk/internal/llm"
	"github.com/pavelanni/gradedesk/internal/llm/prompts"
	"github.com/pavelanni/gradedesk/internal/metrics"
	"github.com/pavelanni/gradedesk/internal/model"
	"github.com/pavelanni/gradedesk/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gradedesk",
		Short: "Instructor grading portal for submitted exams",
	}

	serve := serveCmd()
	root.AddCommand(serve, syncCmd(), importCmd(), exportCmd(), reportCmd(), autogradeCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `gradedesk --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// commonFlags registers flags every command shares.
func commonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "gradedesk.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Write logs to a rotated file instead of stderr")
}

// sourceFlags registers the flags that select where exams come from.
func sourceFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("backend-url", "", "Grading backend base URL (empty = local snapshot only)")
	f.String("backend-token", "", "Backend token for command line runs")
	f.String("backend-email", "", "Instructor email used to obtain a backend token")
	f.String("backend-password", "", "Instructor password used to obtain a backend token")
	f.String("redis-url", "", "Redis URL for caching backend reads (e.g. redis://localhost:6379/0)")
	f.Duration("cache-ttl", 2*time.Minute, "How long cached backend reads stay valid")
}

// oracleFlags registers the flags that select the auto-grading oracle.
func oracleFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("oracle", "auto", "Auto-grading oracle (auto, backend, llm, none)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", string(prompts.PromptStandard), "Grading prompt variant (strict, standard, lenient)")
	f.Bool("cap-over-max", false, "Cap scores above a question's weight at save time instead of rejecting them")
	f.StringSlice("kafka-brokers", nil, "Kafka brokers that receive grades.committed events")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP grading API",
		RunE:  runServe,
	}
	commonFlags(cmd)
	sourceFlags(cmd)
	oracleFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default language (en, ru)")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.Float64("autograde-rps", 2, "Oracle calls per second during batch auto-grading (0 = unlimited)")
	f.Int("autograde-concurrency", 4, "Parallel oracle calls during batch auto-grading")
	f.Duration("grading-session-ttl", 12*time.Hour, "Drop grading sessions left open longer than this")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	handlerOpts := &slog.HandlerOptions{Level: parseLevel(v.GetString("log-level"))}
	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
	}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// viperForCmd binds a command's flags and environment to a fresh viper instance.
// A local .env file is loaded into the environment first.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("error reading .env file", "error", err)
	}

	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("GRADEDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("gradedesk")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/gradedesk")
	v.AddConfigPath("/etc/gradedesk")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// source is where exams are read from and grades are saved to: the remote
// backend, optionally behind Redis, or the local snapshot.
type source struct {
	repo   backend.Repository
	client *backend.Client
	redis  *redis.Client
}

func (s *source) Close() {
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

// openSource picks the repository. m may be nil.
// cachePrefix namespaces every Redis key the service writes.
const cachePrefix = "gradedesk:"

func openSource(ctx context.Context, v *viper.Viper, db *store.Store, m *metrics.Metrics) (*source, error) {
	url := v.GetString("backend-url")
	if url == "" {
		slog.Info("using local snapshot", "db", v.GetString("db"))
		return &source{repo: db}, nil
	}

	client, err := backendClient(ctx, v, m)
	if err != nil {
		return nil, err
	}
	src := &source{repo: client, client: client}

	if redisURL := v.GetString("redis-url"); redisURL != "" {
		rc, err := cache.Connect(ctx, redisURL)
		if err != nil {
			slog.Warn("redis unavailable, backend reads are not cached", "error", err)
		} else {
			src.redis = rc
			src.repo = backend.NewCachedRepository(client, cache.New(rc, cachePrefix), v.GetDuration("cache-ttl"))
			slog.Info("caching backend reads", "ttl", v.GetDuration("cache-ttl"))
		}
	}
	slog.Info("using grading backend", "url", url)
	return src, nil
}

// backendClient creates a backend client. Without a token, it logs in with
// the configured credentials when they are present.
func backendClient(ctx context.Context, v *viper.Viper, m *metrics.Metrics) (*backend.Client, error) {
	url := v.GetString("backend-url")
	if url == "" {
		return nil, fmt.Errorf("--backend-url is required")
	}
	var opts []backend.Option
	if m != nil {
		opts = append(opts, backend.WithObserver(m.ObserveBackend))
	}
	token := v.GetString("backend-token")
	email := v.GetString("backend-email")
	if token == "" && email != "" {
		sess, err := backend.New(url, opts...).Login(ctx, email, v.GetString("backend-password"))
		if err != nil {
			return nil, fmt.Errorf("backend login: %w", err)
		}
		token = sess.Token
		slog.Info("logged in to backend", "professor_id", sess.Professor.ID)
	}
	if token != "" {
		opts = append(opts, backend.WithToken(token))
	}
	return backend.New(url, opts...), nil
}

// newOracle returns the configured auto-grading oracle, or nil when
// auto-grading is disabled.
func newOracle(ctx context.Context, v *viper.Viper, src *source) (grading.Oracle, error) {
	kind := strings.ToLower(v.GetString("oracle"))
	if kind == "auto" {
		kind = "none"
		if src.client != nil {
			kind = "backend"
		}
	}

	switch kind {
	case "none":
		slog.Info("auto-grading disabled")
		return nil, nil
	case "backend":
		if src.client == nil {
			return nil, fmt.Errorf("oracle %q needs --backend-url", kind)
		}
		return src.client, nil
	case "llm":
		variant := strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant")))
		if !prompts.IsValidVariant(variant) {
			slog.Warn("invalid prompt-variant, using standard", "variant", variant)
			variant = string(prompts.PromptStandard)
		}
		set, err := prompts.Default()
		if err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}
		client := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"), set)
		if err := client.Ping(ctx); err != nil {
			return nil, fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
		return llm.NewOracle(client, src.repo, prompts.PromptVariant(variant)), nil
	default:
		return nil, fmt.Errorf("unknown oracle %q (auto, backend, llm, none)", kind)
	}
}

// newService wires the grading service with its oracle and commit hooks.
// m may be nil.
func newService(src *source, oracle grading.Oracle, cfg model.Config, m *metrics.Metrics, bus *events.Bus, extra ...grading.ServiceOption) *grading.Service {
	opts := append([]grading.ServiceOption{grading.WithCommitHook(bus.CommitHook())}, extra...)
	var observe grading.OracleObserver
	if m != nil {
		observe = m.ObserveOracle
		opts = append(opts, grading.WithCommitHook(m.CommitHook))
	}
	if oracle != nil {
		opts = append(opts, grading.WithAutoGrader(grading.NewAutoGrader(oracle, observe)))
	}
	if cfg.CapOverMax {
		opts = append(opts, grading.WithEditorOptions(grading.WithCapOverMax()))
	}
	return grading.NewService(src.repo, src.repo, opts...)
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(rps), 1)
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	m := metrics.New()
	src, err := openSource(ctx, v, db, m)
	if err != nil {
		return err
	}
	defer src.Close()

	oracle, err := newOracle(ctx, v, src)
	if err != nil {
		return err
	}

	bus, err := events.New(slog.Default(), v.GetStringSlice("kafka-brokers"))
	if err != nil {
		return fmt.Errorf("create event bus: %w", err)
	}
	defer bus.Close()
	ledgerDone, err := bus.StartLedger(ctx, db)
	if err != nil {
		return fmt.Errorf("start ledger: %w", err)
	}

	cfg := model.Config{
		BackendURL:    v.GetString("backend-url"),
		CacheTTL:      v.GetDuration("cache-ttl"),
		CapOverMax:    v.GetBool("cap-over-max"),
		PromptVariant: v.GetString("prompt-variant"),
		SecureCookies: v.GetBool("secure-cookies"),
		Lang:          lang,
	}
	svc := newService(src, oracle, cfg, m, bus)

	opts := []handler.Option{
		handler.WithBatchLimiter(newLimiter(v.GetFloat64("autograde-rps")), v.GetInt("autograde-concurrency")),
	}
	if src.client != nil {
		opts = append(opts, handler.WithAuth(src.client, db))
	}
	h := handler.New(src.repo, svc, cfg, opts...)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)
	r.Use(appI18n.Middleware(lang))
	r.Handle("/metrics", m.Handler())
	h.Routes(r)

	go cleanupSessions(ctx, db, h, time.Hour, v.GetDuration("grading-session-ttl"))

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	slog.Info("starting server",
		"addr", addr,
		"backend_url", cfg.BackendURL,
		"oracle", v.GetString("oracle"),
		"lang", lang,
		"cap_over_max", cfg.CapOverMax,
	)

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
	<-ledgerDone
	return nil
}

// cleanupSessions expires login sessions and drops grading sessions that
// were left open longer than ttl.
func cleanupSessions(ctx context.Context, db *store.Store, h *handler.Handler, every, ttl time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := db.CleanupExpiredSessions(ctx); err != nil {
				slog.Warn("cleanup expired sessions", "error", err)
			}
			if n := h.SweepSessions(now.Add(-ttl)); n > 0 {
				slog.Info("dropped stale grading sessions", "count", n)
			}
		}
	}
}
