package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/meubolso/internal/convert"
	"github.com/zombor/meubolso/internal/extraction"
	"github.com/zombor/meubolso/internal/ledger"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("meubolso")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "meubolso.db", "Database file path")
		storagePath    = fs.StringLong("storage", "./uploads", "Upload storage directory")
		maxUploadMB    = fs.IntLong("max-upload-mb", 25, "Largest accepted upload in megabytes")
		backend        = fs.StringLong("backend", "openrouter", "Model backend: 'openrouter', 'gemini' or 'ollama'")
		openRouterKey  = fs.StringLong("openrouter-key", "", "OpenRouter API key (or set OPENROUTER_API_KEY env var)")
		openRouterURL  = fs.StringLong("openrouter-url", extraction.DefaultOpenRouterURL, "OpenRouter API base URL")
		openRouterMdl  = fs.StringLong("openrouter-model", extraction.DefaultOpenRouterModel, "OpenRouter model name")
		pdfEngine      = fs.StringLong("pdf-engine", extraction.DefaultPDFEngine, "OpenRouter PDF parser engine")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", extraction.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", extraction.DefaultOllamaURL, "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", extraction.DefaultOllamaModel, "Ollama model name (needs tool and vision support)")
		llmTimeout     = fs.DurationLong("llm-timeout", extraction.DefaultTimeout, "Timeout for a single model call")
		llmAttempts    = fs.IntLong("llm-attempts", 1, "Attempts per model call on upstream failures")
		maxConvertChar = fs.IntLong("max-convert-chars", convert.DefaultMaxChars, "Character cap for converted documents")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("MEUBOLSO"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Initializing database...", "path", *dbPath)
	db, err := ledger.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	var (
		completer extraction.Completer
		model     string
	)
	switch *backend {
	case "openrouter":
		apiKey := *openRouterKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENROUTER_API_KEY")
		}
		// A missing key is reported per import so the server can still start.
		if apiKey == "" {
			slog.Warn("OpenRouter API key not set; imports will fail until --openrouter-key or OPENROUTER_API_KEY is provided")
		}
		slog.Info("Initializing OpenRouter backend...", "url", *openRouterURL, "model", *openRouterMdl)
		completer = extraction.NewOpenRouter(*openRouterURL, apiKey)
		model = *openRouterMdl
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Warn("Gemini API key not set; imports will fail until --gemini-key or GEMINI_API_KEY is provided")
		}
		slog.Info("Initializing Gemini backend...", "model", *geminiModel)
		g, err := extraction.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
		completer = g
		model = *geminiModel
	case "ollama":
		slog.Info("Initializing Ollama backend...", "url", *ollamaURL, "model", *ollamaModel)
		completer = extraction.NewOllama(*ollamaURL, *ollamaModel)
		model = *ollamaModel
	default:
		slog.Error("Invalid backend", "backend", *backend, "valid", "openrouter, gemini or ollama")
		os.Exit(1)
	}
	defer completer.Close()

	client := extraction.NewClient(completer, convert.NewMarkdown(*maxConvertChar), extraction.Config{
		Model:       model,
		PDFEngine:   *pdfEngine,
		Timeout:     *llmTimeout,
		MaxAttempts: *llmAttempts,
		Backoff:     time.Second,
	})

	slog.Info("Initializing storage...", "path", *storagePath)
	store, err := ledger.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	service := ledger.NewService(db, client, store)
	basicAuth := ledger.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := ledger.NewServer(service, basicAuth, int64(*maxUploadMB)<<20)

	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server starting", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if err := server.Start(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Shut down cleanly")
}
