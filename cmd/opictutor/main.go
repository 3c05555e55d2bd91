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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/opictutor/opictutor/internal/handler"
	appI18n "github.com/opictutor/opictutor/internal/i18n"
	"github.com/opictutor/opictutor/internal/llm"
	"github.com/opictutor/opictutor/internal/metrics"
	"github.com/opictutor/opictutor/internal/model"
	"github.com/opictutor/opictutor/internal/scheduler"
	"github.com/opictutor/opictutor/internal/session"
	"github.com/opictutor/opictutor/internal/store"
	"github.com/opictutor/opictutor/internal/transfer"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "opictutor",
		Short:        "OPIc speaking practice with AI advice",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, initCmd(), importCmd(), exportCmd(), adviseCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "questions.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated by size")
}

func addLLMFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-provider", llm.ProviderAzure, "Advice provider (openai, azure, gemini)")
	f.String("llm-url", "", "OpenAI-compatible API base URL")
	f.String("llm-key", "", "API key for the OpenAI-compatible endpoint")
	f.String("llm-model", "", "Model name (provider default when empty)")
	f.String("azure-endpoint", "", "Azure OpenAI endpoint")
	f.String("azure-deployment", "", "Azure OpenAI deployment name")
	f.String("azure-api-version", "", "Azure OpenAI API version")
	f.String("azure-api-key", "", "Azure OpenAI API key")
	f.String("gemini-api-key", "", "Google Gemini API key")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the practice web server",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	addLLMFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "ko", "UI language (ko, en)")
	f.Bool("shuffle", true, "Shuffle question order by default")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /opic)")
	f.Bool("secure-cookies", true, "Set Secure flag on cookies")
	f.String("password", "", "Require this password to use the app (empty disables login)")
	f.Int("advice-per-minute", 10, "Advice requests allowed per minute (0 = unlimited)")
	f.Duration("session-ttl", 24*time.Hour, "Idle time before a session or login expires")
	f.Duration("sweep-interval", 10*time.Minute, "How often expired sessions are removed")
	return cmd
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the database schema and seed sample questions",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
	addCommonFlags(cmd)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import questions from JSON, CSV or Excel files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	addCommonFlags(cmd)
	cmd.Flags().Bool("force", false, "Import even if the file is unchanged since the last import")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export questions, answers and feedback",
		Args:  cobra.NoArgs,
		RunE:  runExport,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.String("format", transfer.FormatJSON, "Output format (json, xlsx)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func adviseCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "advise",
		Short: "Ask the advice provider about one answer",
		Args:  cobra.NoArgs,
		RunE:  runAdvise,
	}
	addCommonFlags(cmd)
	addLLMFlags(cmd)
	f := cmd.Flags()
	f.String("question", "", "Question text")
	f.String("answer", "", "Answer text")
	_ = cmd.MarkFlagRequired("question")
	_ = cmd.MarkFlagRequired("answer")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     28,
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags, a .env file and the environment to
// a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("error reading .env file", "error", err)
	}

	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("OPICTUTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Provider variables are also read under their conventional names.
	_ = v.BindEnv("azure-endpoint", "OPICTUTOR_AZURE_ENDPOINT", "AZURE_OPENAI_ENDPOINT")
	_ = v.BindEnv("azure-deployment", "OPICTUTOR_AZURE_DEPLOYMENT", "AZURE_OPENAI_DEPLOYMENT_NAME")
	_ = v.BindEnv("azure-api-version", "OPICTUTOR_AZURE_API_VERSION", "AZURE_OPENAI_API_VERSION")
	_ = v.BindEnv("azure-api-key", "OPICTUTOR_AZURE_API_KEY", "AZURE_OPENAI_API_KEY")
	_ = v.BindEnv("llm-key", "OPICTUTOR_LLM_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("gemini-api-key", "OPICTUTOR_GEMINI_API_KEY", "GEMINI_API_KEY")

	v.SetConfigName("opictutor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/opictutor")
	v.AddConfigPath("/etc/opictutor")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func llmConfig(v *viper.Viper) llm.Config {
	return llm.Config{
		Provider:        v.GetString("llm-provider"),
		BaseURL:         v.GetString("llm-url"),
		APIKey:          v.GetString("llm-key"),
		Model:           v.GetString("llm-model"),
		AzureEndpoint:   v.GetString("azure-endpoint"),
		AzureDeployment: v.GetString("azure-deployment"),
		AzureAPIVersion: v.GetString("azure-api-version"),
		AzureAPIKey:     v.GetString("azure-api-key"),
		GeminiAPIKey:    v.GetString("gemini-api-key"),
	}
}

func openStore(path string) (*store.Store, error) {
	db, err := store.Open(path)
	if errors.Is(err, store.ErrNotInitialized) {
		return nil, fmt.Errorf("%w: run `opictutor init --db %s` first", err, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func runInit(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	path := v.GetString("db")
	db, seeded, err := store.Init(cmd.Context(), path)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close()

	slog.Info("database ready", "path", path, "seeded_questions", seeded)
	fmt.Fprintf(cmd.OutOrStdout(), "Database initialized at %s (%d sample questions added)\n", path, seeded)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := openStore(v.GetString("db"))
	if err != nil {
		return err
	}
	defer db.Close()

	force := v.GetBool("force")
	out := cmd.OutOrStdout()
	for _, path := range args {
		res, err := transfer.ImportFile(cmd.Context(), db, path, force)
		if err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
		if res.AlreadyImported {
			fmt.Fprintf(out, "%s: unchanged since last import, skipped (use --force to re-import)\n", path)
			continue
		}
		fmt.Fprintf(out, "%s: %d processed, %d added, %d already present\n",
			path, res.Processed, res.Created, res.Skipped)
		for _, e := range res.Errors {
			fmt.Fprintf(out, "  %s\n", e)
		}
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := openStore(v.GetString("db"))
	if err != nil {
		return err
	}
	defer db.Close()

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	n, err := transfer.Export(cmd.Context(), db, v.GetString("format"), w)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	slog.Info("exported questions", "count", n, "format", v.GetString("format"), "output", outPath)
	return nil
}

func runAdvise(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	advisor, err := llm.New(cmd.Context(), llmConfig(v))
	if err != nil {
		return fmt.Errorf("create advisor: %w", err)
	}
	advice, err := advisor.Advise(cmd.Context(), v.GetString("question"), v.GetString("answer"))
	if err != nil {
		return fmt.Errorf("advise: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), advice)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := openStore(v.GetString("db"))
	if err != nil {
		return err
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	if !appI18n.Supported(lang) {
		slog.Warn("no translations for language, using the bundle default", "lang", lang)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The app stays usable without advice when no provider is configured.
	advisor, err := llm.New(ctx, llmConfig(v))
	if err != nil {
		slog.Warn("advice disabled", "provider", v.GetString("llm-provider"), "error", err)
		advisor = nil
	}
	if closer, ok := advisor.(io.Closer); ok {
		defer closer.Close()
	}

	var passwordHash string
	if pw := v.GetString("password"); pw != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		passwordHash = string(hash)
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	cfg := model.AppConfig{
		Lang:            lang,
		Shuffle:         v.GetBool("shuffle"),
		BasePath:        basePath,
		SecureCookies:   v.GetBool("secure-cookies"),
		PasswordHash:    passwordHash,
		AdvicePerMinute: v.GetInt("advice-per-minute"),
		SessionTTL:      v.GetDuration("session-ttl"),
	}

	sessions := session.NewManager(cfg.Shuffle)
	m := metrics.New()
	m.RegisterGauge("active_sessions", "UI sessions held in memory", func() float64 {
		return float64(sessions.Len())
	})

	var tokens scheduler.TokenCleaner
	if passwordHash != "" {
		tokens = db
	}
	sched := scheduler.New(sessions, tokens, cfg.SessionTTL)
	if err := sched.Start(v.GetDuration("sweep-interval")); err != nil {
		return err
	}
	defer sched.Stop()

	h := handler.New(db, advisor, sessions, m, cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"shuffle", cfg.Shuffle,
		"base_path", basePath,
		"advice", advisor != nil,
		"login", passwordHash != "",
	)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
