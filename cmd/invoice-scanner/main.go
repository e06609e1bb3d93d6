package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/invoice-scanner/internal/invoice"
	"github.com/zombor/invoice-scanner/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

const shutdownTimeout = 10 * time.Second

type options struct {
	port          int
	dbPath        string
	auditStore    string
	databaseURL   string
	outputDir     string
	provider      string
	geminiKey     string
	geminiModel   string
	ollamaURL     string
	ollamaModel   string
	timeout       time.Duration
	maxUploadSize int
	renderDPI     float64
	authUser      string
	authPass      string
	jwtSecret     string
	logLevel      string
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is fine; flags and the environment still apply.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error: loading .env: %v\n", err)
		os.Exit(1)
	}

	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(opts.logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", opts.logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		slog.Error("Exiting", "error", err)
		os.Exit(1)
	}
}

func parseFlags(args []string) (options, error) {
	var opts options

	fs := ff.NewFlagSet("invoice-scanner")
	fs.IntVar(&opts.port, 0, "port", 8080, "HTTP server port")
	fs.StringVar(&opts.dbPath, 0, "db", "invoice-scanner.db", "Bolt audit database path")
	fs.StringVar(&opts.auditStore, 0, "audit-store", "bolt", "Audit store: 'bolt' or 'postgres'")
	fs.StringVar(&opts.databaseURL, 0, "database-url", "", "Postgres connection string for the postgres audit store")
	fs.StringVar(&opts.outputDir, 0, "output-dir", "", "Directory for extracted invoice JSON files (optional)")
	fs.StringVar(&opts.provider, 0, "provider", "gemini", "Model provider: 'gemini' or 'ollama'")
	fs.StringVar(&opts.geminiKey, 0, "gemini-key", "", "Google Gemini API key (or set GOOGLE_API_KEY / GEMINI_API_KEY)")
	fs.StringVar(&opts.geminiModel, 0, "gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name")
	fs.StringVar(&opts.ollamaURL, 0, "ollama-url", "http://localhost:11434", "Ollama API base URL")
	fs.StringVar(&opts.ollamaModel, 0, "ollama-model", scanning.DefaultOllamaModel, "Ollama vision model name")
	fs.DurationVar(&opts.timeout, 0, "timeout", scanning.DefaultTimeout, "Timeout for a single model call")
	fs.IntVar(&opts.maxUploadSize, 0, "max-upload-size", int(scanning.DefaultMaxUploadSize), "Maximum upload size in bytes")
	fs.Float64Var(&opts.renderDPI, 0, "render-dpi", scanning.DefaultRenderDPI, "Resolution for rendering the first PDF page")
	fs.StringVar(&opts.authUser, 0, "auth-user", "", "Basic auth username (optional)")
	fs.StringVar(&opts.authPass, 0, "auth-pass", "", "Basic auth password (optional)")
	fs.StringVar(&opts.jwtSecret, 0, "jwt-secret", "", "HS256 secret for bearer tokens; overrides basic auth (optional)")
	fs.StringVar(&opts.logLevel, 0, "log-level", "info", "Log level: debug, info, warn or error")
	fs.BoolLong("version", "Show version information")

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("INVOICE_SCANNER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		return opts, err
	}

	if opts.geminiKey == "" {
		opts.geminiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if opts.geminiKey == "" {
		opts.geminiKey = os.Getenv("GEMINI_API_KEY")
	}
	return opts, nil
}

func run(ctx context.Context, opts options) error {
	audit, err := openAuditStore(ctx, opts)
	if err != nil {
		return err
	}
	defer audit.Close()

	extractor, model, err := newExtractor(opts)
	if err != nil {
		return err
	}
	defer extractor.Close()

	var results invoice.ResultStore
	if opts.outputDir != "" {
		slog.Info("Initializing result archive...", "dir", opts.outputDir)
		local, err := invoice.NewLocalResultStore(opts.outputDir)
		if err != nil {
			return fmt.Errorf("initializing result archive: %w", err)
		}
		results = local
	}

	cfg := scanning.DefaultConfig()
	cfg.Model = model
	cfg.MaxUploadSize = int64(opts.maxUploadSize)
	cfg.RenderDPI = opts.renderDPI
	cfg.Timeout = opts.timeout

	reconciler := scanning.NewReconciler(cfg, scanning.NewNormalizer(cfg), extractor, slog.Default())
	service := invoice.NewService(reconciler, audit, results, cfg)

	auth := invoice.Auth{
		Basic:     invoice.BasicAuth{Username: opts.authUser, Password: opts.authPass},
		JWTSecret: []byte(opts.jwtSecret),
	}
	server := invoice.NewServer(service, auth)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", httpServer.Addr), "version", version)
		switch {
		case opts.jwtSecret != "":
			slog.Info("Bearer auth enabled")
		case opts.authUser != "" || opts.authPass != "":
			slog.Info("Basic auth enabled", "user", opts.authUser)
		}
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serving http: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openAuditStore(ctx context.Context, opts options) (invoice.AuditStore, error) {
	switch opts.auditStore {
	case "bolt":
		slog.Info("Initializing database...", "path", opts.dbPath)
		store, err := invoice.NewBoltAuditStore(opts.dbPath)
		if err != nil {
			return nil, fmt.Errorf("initializing database: %w", err)
		}
		return store, nil
	case "postgres":
		if opts.databaseURL == "" {
			return nil, errors.New("--database-url is required for the postgres audit store")
		}
		slog.Info("Connecting to postgres...")
		store, err := invoice.NewPostgresAuditStore(ctx, opts.databaseURL)
		if err != nil {
			return nil, fmt.Errorf("initializing postgres: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("invalid audit store %q, valid: bolt or postgres", opts.auditStore)
	}
}

func newExtractor(opts options) (scanning.Extractor, string, error) {
	switch opts.provider {
	case "gemini":
		if opts.geminiKey == "" {
			return nil, "", errors.New("gemini api key is required: set --gemini-key or GOOGLE_API_KEY")
		}
		slog.Info("Initializing Gemini provider...", "model", opts.geminiModel)
		g, err := scanning.NewGemini(opts.geminiKey, opts.geminiModel, slog.Default())
		if err != nil {
			return nil, "", fmt.Errorf("initializing gemini: %w", err)
		}
		return g, opts.geminiModel, nil
	case "ollama":
		slog.Info("Initializing Ollama provider...", "url", opts.ollamaURL, "model", opts.ollamaModel)
		o, err := scanning.NewOllama(opts.ollamaURL, opts.ollamaModel, slog.Default())
		if err != nil {
			return nil, "", fmt.Errorf("initializing ollama: %w", err)
		}
		return o, opts.ollamaModel, nil
	default:
		return nil, "", fmt.Errorf("invalid provider %q, valid: gemini or ollama", opts.provider)
	}
}
