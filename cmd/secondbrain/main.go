// Package main is the secondbrain CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/secondbrain/internal/answer"
	"github.com/hyperjump/secondbrain/internal/cli"
	"github.com/hyperjump/secondbrain/internal/config"
	"github.com/hyperjump/secondbrain/internal/embedding"
	"github.com/hyperjump/secondbrain/internal/extract"
	"github.com/hyperjump/secondbrain/internal/indexer"
	"github.com/hyperjump/secondbrain/internal/llm"
	"github.com/hyperjump/secondbrain/internal/metrics"
	"github.com/hyperjump/secondbrain/internal/models"
	"github.com/hyperjump/secondbrain/internal/search"
	"github.com/hyperjump/secondbrain/internal/server"
	"github.com/hyperjump/secondbrain/internal/storage"
	"github.com/hyperjump/secondbrain/internal/vector"
	"github.com/hyperjump/secondbrain/internal/watcher"
	"github.com/hyperjump/secondbrain/pkg/utils"
)

var version = "dev"

// configSearchPaths returns the config files tried, in order, when --config is not given.
func configSearchPaths() []string {
	paths := []string{"config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "secondbrain", "config.yaml"))
	}
	return paths
}

// loadConfig loads config from path. With an empty path it tries configSearchPaths and
// falls back to defaults when none exists. Returns the config and the path actually loaded
// ("" for defaults).
func loadConfig(path string) (*config.Config, string, error) {
	if path == "" {
		for _, candidate := range configSearchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}
	if path == "" {
		if err := config.LoadDotEnv(".env"); err != nil {
			return nil, "", err
		}
		return config.Default(), "", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "add":
		runAdd(args)
	case "list":
		runList(args)
	case "get":
		runGet(args)
	case "ask":
		runAsk(args)
	case "ingest":
		runIngest(args)
	case "status":
		runStatus(args)
	case "repair":
		runRepair(args)
	case "init":
		runInit(args)
	case "version", "--version", "-v":
		fmt.Printf("secondbrain version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

// argsReorder moves any flags (and their values) that appear after positional arguments
// to the front of the slice so that flag.Parse() sees them. Go's flag package stops at the
// first non-flag argument, so `secondbrain ask what is x --top-k 3` would otherwise leave
// --top-k unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args with spaces so multi-word input works with or without quotes.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func parseFormat(s string) cli.OutputFormat {
	format, err := cli.ParseOutputFormat(s)
	if err != nil {
		fatalf("%v", err)
	}
	return format
}

// setup loads config and builds a logger for a command. Long-running commands get the
// service logger; one-shot commands get a quiet console logger on stderr.
func setup(configPath string, debug, longRunning bool) (*config.Config, *zap.Logger) {
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	debugMode := cfg.Debug || debug
	var logger *zap.Logger
	if longRunning {
		logger, err = utils.NewLogger(debugMode)
	} else {
		logger, err = utils.NewCLILogger(debugMode)
	}
	if err != nil {
		fatalf("Failed to create logger: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatalf("Invalid config: %v", err)
	}
	logger.Debug("config loaded", zap.String("config_path", resolved), zap.Bool("debug", debugMode))
	return cfg, logger
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, logger := setup(*configPath, *debug, true)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	if cfg.Ingest.Watch {
		w := newIngestWatcher(cfg, components.Indexer, logger, nil)
		if err := w.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer w.Stop()
		logger.Info("watching for new files", zap.String("directory", cfg.Ingest.Directory))
	}

	srv := server.NewServer(components.Engine, components.Indexer, components.Repo, cfg, logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(shutdownCtx)
}

// newIngestWatcher ingests each new file under the configured directory. report, when set,
// is called with every created note.
func newIngestWatcher(cfg *config.Config, idx *indexer.Indexer, logger *zap.Logger, report func(*models.Note, string)) *watcher.Watcher {
	wcfg := watcher.Config{
		Roots:      []string{cfg.Ingest.Directory},
		Extensions: cfg.Ingest.Extensions,
		Recursive:  cfg.Ingest.RecursiveOrDefault(),
	}
	return watcher.New(wcfg, func(ctx context.Context, path string) {
		note, err := idx.IngestFile(ctx, path)
		switch {
		case errors.Is(err, models.ErrSkipped):
			logger.Warn("skipping file", zap.String("path", path), zap.Error(err))
		case err != nil:
			logger.Error("ingest file failed", zap.String("path", path), zap.Error(err))
		case report != nil:
			report(note, path)
		}
	}, watcher.WithLogger(logger))
}

func runAdd(args []string) {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	title := fs.String("title", "", "note title")
	serverURL := fs.String("server", "", "server URL (empty = write the local stores directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args))
	format := parseFormat(*outputFormat)

	content := joinArgs(fs.Args())
	if content == "" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			fatalf("Failed to read stdin: %v", err)
		}
		content = string(data)
	}
	input := &models.NoteInput{Title: *title, Content: content}

	var note *models.Note
	if *serverURL != "" {
		note = &models.Note{}
		if err := callServer(http.MethodPost, *serverURL+"/api/v1/notes", input, note); err != nil {
			fatalf("Add failed: %v", err)
		}
	} else {
		cfg, logger := setup(*configPath, false, false)
		defer logger.Sync()
		components := mustInitialize(cfg, logger)
		defer components.Close()

		var err error
		note, err = components.Indexer.CreateNote(context.Background(), input)
		if err != nil {
			fatalf("Add failed: %v", err)
		}
	}
	if format == cli.OutputJSON {
		_ = cli.WriteNote(os.Stdout, note, format)
		return
	}
	fmt.Printf("Note created: %s\n", note.ID)
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format := parseFormat(*outputFormat)

	cfg, logger := setup(*configPath, false, false)
	defer logger.Sync()
	repo, err := openRepository(cfg, logger)
	if err != nil {
		fatalf("Failed to open notes: %v", err)
	}
	defer repo.Close()

	notes, err := repo.List(context.Background())
	if err != nil {
		fatalf("List failed: %v", err)
	}
	if err := cli.WriteNotes(os.Stdout, notes, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runGet(args []string) {
	fs := flag.NewFlagSet("get", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args))
	format := parseFormat(*outputFormat)
	if fs.NArg() != 1 {
		fatalf("Usage: secondbrain get [flags] <note-id>")
	}

	cfg, logger := setup(*configPath, false, false)
	defer logger.Sync()
	repo, err := openRepository(cfg, logger)
	if err != nil {
		fatalf("Failed to open notes: %v", err)
	}
	defer repo.Close()

	note, err := repo.Get(context.Background(), fs.Arg(0))
	if err != nil {
		fatalf("Get failed: %v", err)
	}
	if err := cli.WriteNote(os.Stdout, note, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runAsk(args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	topK := fs.Int("top-k", 0, "number of notes to retrieve (0 = retrieval.default_top_k)")
	serverURL := fs.String("server", "", "server URL (empty = answer from the local stores directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() { printAskUsage(fs) }
	_ = fs.Parse(argsReorder(args))
	format := parseFormat(*outputFormat)

	question := joinArgs(fs.Args())
	if question == "" {
		printAskUsage(fs)
		os.Exit(1)
	}
	req := &models.AskRequest{Question: question, TopK: *topK}

	var resp *models.AskResponse
	if *serverURL != "" {
		resp = &models.AskResponse{}
		if err := callServer(http.MethodPost, *serverURL+"/api/v1/chat", req, resp); err != nil {
			fatalf("Ask failed: %v", err)
		}
	} else {
		cfg, logger := setup(*configPath, false, false)
		defer logger.Sync()
		components := mustInitialize(cfg, logger)
		defer components.Close()

		var err error
		resp, err = components.Engine.Ask(context.Background(), req)
		if err != nil {
			if models.IsRetriable(err) {
				fatalf("Ask failed (retriable): %v", err)
			}
			fatalf("Ask failed: %v", err)
		}
	}
	if err := cli.WriteAnswer(os.Stdout, resp, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func printAskUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: secondbrain ask [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  secondbrain ask what do pancakes need
  secondbrain ask --top-k 3 "when is the dentist appointment?"
  secondbrain ask --server http://localhost:8080 --output json what did I plan for friday
`)
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	watch := fs.Bool("watch", false, "keep running and ingest new files as they appear")
	debug := fs.Bool("debug", false, "enable debug logging")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(argsReorder(args))
	format := parseFormat(*outputFormat)

	cfg, logger := setup(*configPath, *debug, *watch)
	defer logger.Sync()
	if fs.NArg() > 0 {
		cfg.Ingest.Directory = fs.Arg(0)
	}
	if cfg.Ingest.Directory == "" {
		fatalf("Usage: secondbrain ingest [flags] <directory>")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	components, err := initializeComponents(ctx, cfg, logger, true)
	if err != nil {
		fatalf("Failed to initialize: %v", err)
	}
	defer components.Close()

	report, err := components.Indexer.IngestDirectory(ctx, cfg.Ingest.Directory)
	if report != nil {
		_ = cli.WriteIngestReport(os.Stdout, report, format)
	}
	if err != nil {
		fatalf("Ingest failed: %v", err)
	}
	if !*watch {
		return
	}

	w := newIngestWatcher(cfg, components.Indexer, logger, func(note *models.Note, path string) {
		fmt.Printf("  + %s  %s\n", note.ID, path)
	})
	if err := w.Start(ctx); err != nil {
		fatalf("Failed to start watcher: %v", err)
	}
	defer w.Stop()
	fmt.Printf("Watching %s for new files (Ctrl+C to stop)\n", cfg.Ingest.Directory)
	<-ctx.Done()
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	serverURL := fs.String("server", "", "server URL (empty = read the local stores directly)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format := parseFormat(*outputFormat)

	var status *models.Status
	if *serverURL != "" {
		status = &models.Status{}
		if err := callServer(http.MethodGet, *serverURL+"/api/v1/status", nil, status); err != nil {
			fatalf("Status failed: %v", err)
		}
	} else {
		cfg, logger := setup(*configPath, false, false)
		defer logger.Sync()
		components, err := initializeComponents(context.Background(), cfg, logger, false)
		if err != nil {
			fatalf("Failed to initialize: %v", err)
		}
		defer components.Close()

		status, err = components.Indexer.Status(context.Background())
		if err != nil {
			fatalf("Status failed: %v", err)
		}
	}
	if err := cli.WriteStatus(os.Stdout, status, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runRepair(args []string) {
	fs := flag.NewFlagSet("repair", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)
	format := parseFormat(*outputFormat)

	cfg, logger := setup(*configPath, false, false)
	defer logger.Sync()
	components := mustInitialize(cfg, logger)
	defer components.Close()

	report, err := components.Indexer.Repair(context.Background())
	if err != nil {
		fatalf("Repair failed: %v", err)
	}
	if err := cli.WriteRepairReport(os.Stdout, report, format); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("config", "config.yaml", "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing file")
	_ = fs.Parse(args)

	if _, err := os.Stat(*path); err == nil && !*force {
		fatalf("%s already exists (use --force to overwrite)", *path)
	}
	cfg := config.Default()
	// Keys come from the environment at load time, not from the file.
	cfg.Embedding.APIKey = ""
	cfg.Generation.APIKey = ""
	if err := config.Save(*path, cfg); err != nil {
		fatalf("Init failed: %v", err)
	}
	fmt.Printf("Wrote %s\n", *path)
}

// callServer sends body as JSON (when non-nil) and decodes a 2xx response into out.
// Error responses are reported with their {"error": ...} message.
func callServer(method, url string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: 2 * time.Minute}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(resp.Body)
		var apiErr struct {
			Error     string `json:"error"`
			Retriable bool   `json:"retriable"`
		}
		if json.Unmarshal(b, &apiErr) == nil && apiErr.Error != "" {
			if apiErr.Retriable {
				return fmt.Errorf("server returned %d (retriable): %s", resp.StatusCode, apiErr.Error)
			}
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Components holds initialized services.
type Components struct {
	Repo      storage.NoteRepository
	Index     vector.Index
	Embedder  embedding.Embedder
	Generator llm.Generator
	Engine    *search.Engine
	Indexer   *indexer.Indexer
}

// Close releases the embedder and both stores.
func (c *Components) Close() {
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.Index != nil {
		_ = c.Index.Close()
	}
	if c.Repo != nil {
		_ = c.Repo.Close()
	}
}

func mustInitialize(cfg *config.Config, logger *zap.Logger) *Components {
	components, err := initializeComponents(context.Background(), cfg, logger, true)
	if err != nil {
		fatalf("Failed to initialize: %v", err)
	}
	return components
}

// initializeComponents opens both stores and, when providers is true, the embedding and generation
// providers. Without providers only the indexer's read operations are usable.
func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, providers bool) (*Components, error) {
	metrics.Register()
	c := &Components{}

	repo, err := openRepository(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open note repository: %w", err)
	}
	c.Repo = repo

	index, err := vector.NewIndex(vector.Options{
		Type:   cfg.Storage.IndexType,
		Path:   cfg.Storage.IndexPath,
		Logger: logger,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to open vector index: %w", err)
	}
	c.Index = index

	if !providers {
		c.Indexer = indexer.NewIndexer(repo, nil, index, nil, cfg, indexer.WithLogger(logger))
		return c, nil
	}

	embedder, err := embedding.New(ctx, embedding.Options{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Dimensions: cfg.Embedding.Dimensions,
		ModelPath:  cfg.Embedding.ModelPath,
		VocabPath:  cfg.Embedding.VocabPath,
		OutputName: cfg.Embedding.ONNXOutput,
		MaxTokens:  cfg.Embedding.MaxTokens,
		Timeout:    cfg.Embedding.Timeout,
		CacheSize:  cfg.Embedding.CacheSize,
		Logger:     logger,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedding provider: %w", err)
	}
	c.Embedder = embedder

	generator, err := llm.New(ctx, llm.Options{
		Provider:    cfg.Generation.Provider,
		Model:       cfg.Generation.Model,
		APIKey:      cfg.Generation.APIKey,
		BaseURL:     cfg.Generation.BaseURL,
		Temperature: cfg.Generation.TemperatureOrDefault(),
		Timeout:     cfg.Generation.Timeout,
		Logger:      logger,
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize generation provider: %w", err)
	}
	c.Generator = generator

	c.Engine = search.NewEngine(embedder, index, answer.NewComposer(generator), &cfg.Retrieval, search.WithLogger(logger))
	c.Indexer = indexer.NewIndexer(repo, embedder, index, extract.NewExtractor(), cfg, indexer.WithLogger(logger))

	report, err := c.Indexer.CheckConsistency(ctx)
	switch {
	case err != nil:
		logger.Warn("consistency check failed", zap.Error(err))
	case !report.Consistent():
		logger.Warn("note repository and vector index disagree; run `secondbrain repair`",
			zap.Strings("index_only", report.IndexOnly),
			zap.Strings("repository_only", report.RepositoryOnly))
	default:
		logger.Info("stores loaded",
			zap.Int("notes", index.Size()),
			zap.String("index_type", index.Type()),
			zap.String("embedding_provider", cfg.Embedding.Provider))
	}
	return c, nil
}

func printUsage() {
	fmt.Println(`secondbrain - ask questions about your own notes

Usage:
  secondbrain server [flags]             Start the HTTP server
  secondbrain add [flags] [content]      Create a note (content from args or stdin)
  secondbrain list [flags]               List notes in creation order
  secondbrain get [flags] <id>           Show one note
  secondbrain ask [flags] <question>     Answer a question from your notes
  secondbrain ingest [flags] [directory] Import files as notes
  secondbrain status [flags]             Show store sizes and consistency
  secondbrain repair [flags]             Reconcile the note repository and the vector index
  secondbrain init [flags]               Write a default config.yaml
  secondbrain version                    Show version
  secondbrain help                       Show this help

Common Flags:
  --config string    Config file path (default: ./config.yaml, then ~/.config/secondbrain/config.yaml)
  --output string    Output format: text or json (default: text)

Server Flags:
  --debug            Enable debug logging

Add Flags:
  --title string     Note title
  --server string    Send to a running server instead of writing the stores directly

Ask Flags:
  --top-k int        Number of notes to retrieve (default from retrieval.default_top_k)
  --server string    Ask a running server instead of reading the stores directly

Ingest Flags:
  --watch            Keep running and ingest new files as they appear

Status Flags:
  --server string    Query a running server instead of reading the stores directly

Examples:
  secondbrain add --title "Recipe" "Pancakes need flour, milk, and one egg."
  echo "Dentist on Friday at 3pm" | secondbrain add --title Dentist
  secondbrain ask what do pancakes need
  secondbrain ask --top-k 3 --output json "when is the dentist?"
  secondbrain ingest ~/notes
  secondbrain ingest --watch ~/notes
  secondbrain status --server http://localhost:8080`)
}

func openRepository(cfg *config.Config, logger *zap.Logger) (storage.NoteRepository, error) {
	return storage.NewRepository(storage.Options{
		Backend: cfg.Storage.NotesBackend,
		Path:    cfg.Storage.NotesPath,
		Logger:  logger,
	})
}
