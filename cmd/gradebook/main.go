package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/pavelanni/gradebook/internal/handler"
	appI18n "github.com/pavelanni/gradebook/internal/i18n"
	"github.com/pavelanni/gradebook/internal/llm"
	"github.com/pavelanni/gradebook/internal/model"
	"github.com/pavelanni/gradebook/internal/pipeline"
	"github.com/pavelanni/gradebook/internal/staging"
	"github.com/pavelanni/gradebook/internal/store"
)

func main() {
	// A missing .env is normal; real environment variables still apply.
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gradebook",
		Short: "Import Zipgrade exam results with classified question tags",
	}

	serve := serveCmd()
	root.AddCommand(serve, analyzeCmd(), importCmd(), statsCmd(), rosterCmd(), exportCmd(), sessionCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `gradebook --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// commonFlags are shared by every command.
func commonFlags(f *pflag.FlagSet) {
	f.String("db", "gradebook.db", "SQLite database path")
	f.StringP("lang", "l", "es", "Language for warnings and messages (es, en)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

// pipelineFlags configure the analyze/import pipeline.
func pipelineFlags(f *pflag.FlagSet) {
	f.String("staging", "file", "Preview staging backend (memory, file, redis)")
	f.String("staging-dir", filepath.Join(".gradebook", "staging"), "Directory for the file staging backend")
	f.String("redis-addr", "localhost:6379", "Redis address for the redis staging backend")
	f.String("redis-prefix", "gradebook:", "Key prefix for the redis staging backend")
	f.Duration("preview-ttl", pipeline.DefaultPreviewTTL, "How long an analysis can be imported")
	f.Duration("preview-grace", pipeline.DefaultPreviewGrace, "How long an expired analysis is still reported as expired")
	f.Duration("parse-timeout", pipeline.DefaultParseTimeout, "Upper bound for parsing one pair of files")
	f.Bool("llm-assist", false, "Ask an LLM to classify tags no rule recognizes")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
}

// sessionFlags select one exam session.
func sessionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Int64("exam-id", 0, "Exam ID (required)")
	f.Int("session", 1, "Session number")
	_ = cmd.MarkFlagRequired("exam-id")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /gradebook)")
	f.Int64("max-upload-mb", handler.DefaultMaxUploadMB, "Maximum upload size in megabytes")
	f.StringSlice("roster", nil, "Roster JSON files to load at startup (repeatable)")
	commonFlags(f)
	pipelineFlags(f)
	return cmd
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze BLUEPRINT RESPONSES",
		Short: "Analyze a blueprint and responses export and stage a preview",
		Args:  cobra.ExactArgs(2),
		RunE:  runAnalyze,
	}
	sessionFlags(cmd)
	f := cmd.Flags()
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	commonFlags(f)
	pipelineFlags(f)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import TOKEN",
		Short: "Import a staged preview",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	sessionFlags(cmd)
	f := cmd.Flags()
	f.String("overrides", "", "JSON file with manual tag classifications")
	f.Bool("save-normalizations", false, "Remember manual classifications for future imports")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	commonFlags(f)
	pipelineFlags(f)
	return cmd
}

func statsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats FILE",
		Short: "Update per-question response statistics of an imported session",
		Args:  cobra.ExactArgs(1),
		RunE:  runStats,
	}
	sessionFlags(cmd)
	f := cmd.Flags()
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	commonFlags(f)
	pipelineFlags(f)
	return cmd
}

func rosterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roster FILE...",
		Short: "Load exams, students and enrollments from roster JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runRoster,
	}
	commonFlags(cmd.Flags())
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export an imported session as JSON",
		RunE:  runExport,
	}
	sessionFlags(cmd)
	f := cmd.Flags()
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	commonFlags(f)
	return cmd
}

func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Show totals and tag coverage of an imported session",
		RunE:  runSession,
	}
	sessionFlags(cmd)
	f := cmd.Flags()
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	commonFlags(f)
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

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
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("GRADEBOOK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("gradebook")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/gradebook")
	v.AddConfigPath("/etc/gradebook")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func configFrom(v *viper.Viper) model.Config {
	return model.Config{
		Lang:         v.GetString("lang"),
		PreviewTTL:   v.GetDuration("preview-ttl"),
		PreviewGrace: v.GetDuration("preview-grace"),
		ParseTimeout: v.GetDuration("parse-timeout"),
		MaxUploadMB:  v.GetInt64("max-upload-mb"),
	}
}

// env is what every command opens before doing its work.
type env struct {
	v     *viper.Viper
	cfg   model.Config
	store *store.Store
	stg   staging.Store
	svc   *pipeline.Service
}

func (e *env) Close() {
	if e.stg != nil {
		_ = e.stg.Close()
	}
	_ = e.store.Close()
}

// openEnv opens the database and, when withPipeline is set, the staging
// backend and the pipeline service.
func openEnv(ctx context.Context, cmd *cobra.Command, withPipeline bool) (*env, error) {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	cfg := configFrom(v)

	if err := appI18n.Init(cfg.Lang); err != nil {
		return nil, fmt.Errorf("init i18n: %w", err)
	}

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	e := &env{v: v, cfg: cfg, store: db}
	if !withPipeline {
		e.svc = pipeline.New(db, staging.NewMemory(), cfg)
		return e, nil
	}

	e.stg, err = openStaging(ctx, v)
	if err != nil {
		e.Close()
		return nil, err
	}

	var opts []pipeline.Option
	if v.GetBool("llm-assist") {
		client := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
		if err := client.Ping(ctx); err != nil {
			e.Close()
			return nil, fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "url", v.GetString("llm-url"), "model", v.GetString("llm-model"))
		opts = append(opts, pipeline.WithAssistant(client))
	}
	e.svc = pipeline.New(db, e.stg, cfg, opts...)
	return e, nil
}

func openStaging(ctx context.Context, v *viper.Viper) (staging.Store, error) {
	switch backend := strings.ToLower(v.GetString("staging")); backend {
	case "memory":
		return staging.NewMemory(), nil
	case "file", "":
		stg, err := staging.NewFile(v.GetString("staging-dir"))
		if err != nil {
			return nil, err
		}
		return stg, nil
	case "redis":
		stg, err := staging.NewRedis(ctx, v.GetString("redis-addr"), v.GetString("redis-prefix"))
		if err != nil {
			return nil, fmt.Errorf("open redis staging: %w", err)
		}
		return stg, nil
	default:
		return nil, fmt.Errorf("unknown staging backend %q (memory, file, redis)", backend)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()
	v := e.v

	for _, path := range v.GetStringSlice("roster") {
		if err := loadRoster(ctx, e.svc, path); err != nil {
			return err
		}
	}

	if sw, ok := e.stg.(staging.Sweeper); ok {
		go sweepStaging(ctx, sw, e.cfg.PreviewGrace)
	}

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	h := handler.New(e.store, e.svc, e.cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(e.cfg.Lang))

	if basePath != "" {
		r.Route(basePath, h.Routes)
	} else {
		h.Routes(r)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"lang", e.cfg.Lang,
		"staging", v.GetString("staging"),
		"llm_assist", v.GetBool("llm-assist"),
		"preview_ttl", v.GetDuration("preview-ttl"),
		"base_path", basePath,
	)
	return http.ListenAndServe(addr, r)
}

// sweepStaging removes staged previews that are past their grace window.
func sweepStaging(ctx context.Context, sw staging.Sweeper, grace time.Duration) {
	interval := grace / 4
	if interval <= 0 || interval > time.Hour {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sw.Sweep(ctx)
			if err != nil {
				slog.Warn("staging sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("swept staged previews", "count", n)
			}
		}
	}
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()

	bp, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open blueprint: %w", err)
	}
	defer bp.Close()
	resp, err := os.Open(args[1])
	if err != nil {
		return fmt.Errorf("open responses: %w", err)
	}
	defer resp.Close()

	preview, err := e.svc.Analyze(ctx, pipeline.AnalyzeRequest{
		ExamID:        e.v.GetInt64("exam-id"),
		SessionNumber: e.v.GetInt("session"),
		Blueprint:     pipeline.FileInput{Name: filepath.Base(args[0]), Reader: bp},
		Responses:     pipeline.FileInput{Name: filepath.Base(args[1]), Reader: resp},
	})
	if err != nil {
		return err
	}
	for _, w := range preview.Summary.Warnings {
		slog.Warn(w.Message, "code", w.Code)
	}
	return writeOutput(e.v.GetString("output"), preview)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()

	var overrides []pipeline.Override
	if path := e.v.GetString("overrides"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &overrides); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	res, err := e.svc.Import(ctx, pipeline.ImportRequest{
		ExamID:             e.v.GetInt64("exam-id"),
		SessionNumber:      e.v.GetInt("session"),
		Token:              args[0],
		Overrides:          overrides,
		SaveNormalizations: e.v.GetBool("save-normalizations"),
	})
	if err != nil {
		return err
	}
	return writeOutput(e.v.GetString("output"), res)
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx, cmd, true)
	if err != nil {
		return err
	}
	defer e.Close()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("open stats file: %w", err)
	}
	defer f.Close()

	res, err := e.svc.ImportStats(ctx, pipeline.StatsRequest{
		ExamID:        e.v.GetInt64("exam-id"),
		SessionNumber: e.v.GetInt("session"),
		File:          pipeline.FileInput{Name: filepath.Base(args[0]), Reader: f},
	})
	if err != nil {
		return err
	}
	return writeOutput(e.v.GetString("output"), res)
}

func runRoster(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	for _, path := range args {
		if err := loadRoster(ctx, e.svc, path); err != nil {
			return err
		}
	}
	return nil
}

func loadRoster(ctx context.Context, svc *pipeline.Service, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := svc.ImportRoster(ctx, path, data); err != nil {
		return fmt.Errorf("load roster %s: %w", path, err)
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	examID, session := e.v.GetInt64("exam-id"), e.v.GetInt("session")
	export, err := e.store.ExportSession(ctx, examID, session)
	if err != nil {
		return fmt.Errorf("export session: %w", err)
	}
	if export == nil {
		return &pipeline.NotFoundError{Resource: "session", ID: fmt.Sprintf("%d/%d", examID, session)}
	}
	return writeOutput(e.v.GetString("output"), export)
}

func runSession(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()
	e, err := openEnv(ctx, cmd, false)
	if err != nil {
		return err
	}
	defer e.Close()

	examID, session := e.v.GetInt64("exam-id"), e.v.GetInt("session")
	ov, err := e.store.GetSessionOverview(ctx, examID, session)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if ov == nil {
		return &pipeline.NotFoundError{Resource: "session", ID: fmt.Sprintf("%d/%d", examID, session)}
	}
	return writeOutput(e.v.GetString("output"), ov)
}

// writeOutput writes v as indented JSON to outPath, or stdout for "" and "-".
func writeOutput(outPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}
