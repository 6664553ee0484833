package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rag-assistant/internal/chromemdb"
	"rag-assistant/internal/config"
	"rag-assistant/internal/db"
	"rag-assistant/internal/embedding"
	"rag-assistant/internal/helper"
	"rag-assistant/internal/history"
	"rag-assistant/internal/llmservice"
	"rag-assistant/internal/models"
	"rag-assistant/internal/rag"
	"rag-assistant/internal/server"
)

const (
	configFilePath = "./configs/config.yaml"
	previewLength  = 200
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: rag <command> [flags]

commands:
  ingest   load the document, rebuild the vector store
  chat     interactive question answering
  serve    HTTP chat server
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "ingest":
		err = runIngest(ctx, args)
	case "chat":
		err = runChat(ctx, args)
	case "serve":
		err = runServe(ctx, args)
	case "-h", "--help", "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		stop()
		log.Fatal().Err(err).Msg("command failed")
	}
}

func setupLogger(level string, out io.Writer) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}).With().Caller().Logger()
}

func loadConfig(path string, out io.Writer) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	setupLogger(cfg.Log.Level, out)
	log.Debug().Str("path", path).Str("store", cfg.Store.Backend).Str("llm", cfg.LLM.Provider).
		Str("embedder", cfg.EmbedLLM.Provider).Msg("config loaded")
	return cfg, nil
}

// openStore returns the configured vector store and a function releasing it.
func openStore(ctx context.Context, cfg *config.Config) (rag.Store, func(), error) {
	switch cfg.Store.Backend {
	case "pgvector":
		store, err := db.NewChunkStore(ctx, &cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close database")
			}
		}, nil
	default:
		if !cfg.Store.InMemory {
			if err := helper.CreateFolder(cfg.Store.Path); err != nil {
				return nil, nil, err
			}
		}
		store, err := chromemdb.NewVectorDBManager(cfg.Store, cfg.RAG.EncryptionKey)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

// newPipeline wires the store, embedder and generator around preset.
func newPipeline(ctx context.Context, cfg *config.Config, preset config.PromptPreset) (*rag.RAG, rag.Store, func(), error) {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to open vector store: %w", err)
	}
	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM, cfg.RAG.EmbedBatchSize)
	if err != nil {
		closeStore()
		return nil, nil, nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	generator, err := llmservice.New(&cfg.LLM)
	if err != nil {
		closeStore()
		return nil, nil, nil, fmt.Errorf("failed to initialize llm: %w", err)
	}
	pipeline, err := rag.NewRAG(cfg, preset, store, embedder, generator)
	if err != nil {
		closeStore()
		return nil, nil, nil, err
	}
	return pipeline, store, closeStore, nil
}

func runIngest(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", configFilePath, "Path to the config file")
	filePath := fs.String("file", "", "Path to the document file (defaults to document.path)")
	dryRun := fs.Bool("dry-run", false, "Parse and chunk only, do not touch the vector store")
	exportPath := fs.String("export", "", "Write a snapshot of the collection to this file (chromem only, encrypted with rag.encryption_key)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, os.Stdout)
	if err != nil {
		return err
	}

	opts := rag.IngestOptions{Path: cfg.Document.Path, SkipPages: cfg.Document.SkipPages, DryRun: *dryRun}
	if *filePath != "" {
		opts.Path = *filePath
		if cfg.Document.Path == config.Default().Document.Path {
			opts.SkipPages = 0
		}
	}

	pipeline, store, closeStore, err := newPipeline(ctx, cfg, cfg.Prompt.Chat)
	if err != nil {
		return err
	}
	defer closeStore()

	report, err := pipeline.Ingest(ctx, opts)
	if err != nil {
		if errors.Is(err, models.ErrDocumentNotFound) {
			return fmt.Errorf("document not found, set document.path or pass -file: %w", err)
		}
		return err
	}
	helper.PrettyPrint(report)

	if *exportPath != "" && !*dryRun {
		vdb, ok := store.(*chromemdb.VectorDBManager)
		if !ok {
			return fmt.Errorf("-export is only supported with the chromem store")
		}
		if err := vdb.Export(ctx, *exportPath); err != nil {
			return err
		}
		log.Info().Str("file", *exportPath).Msg("collection exported")
	}
	return nil
}

func runChat(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", configFilePath, "Path to the config file")
	showSources := fs.Bool("sources", false, "Print the chunks used for each answer")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, os.Stderr)
	if err != nil {
		return err
	}
	pipeline, _, closeStore, err := newPipeline(ctx, cfg, cfg.Prompt.Chat)
	if err != nil {
		return err
	}
	defer closeStore()

	return chatLoop(ctx, pipeline.NewSession(cfg.RAG.HistorySize), os.Stdin, os.Stdout, *showSources)
}

func chatLoop(ctx context.Context, session *rag.Session, in io.Reader, out io.Writer, showSources bool) error {
	fmt.Fprintln(out, "Ask a question about the document. Type 'clear' to forget the conversation, 'exit' to quit.")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		query := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(query, "exit") {
			return nil
		}
		if query == "" {
			continue
		}
		if strings.EqualFold(query, "clear") {
			if err := session.History().Clear(ctx); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			}
			continue
		}

		answer, err := session.Ask(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "Assistant: %s\n", answer.Text)

		if showSources {
			for i, r := range answer.Chunks {
				fmt.Fprintf(out, "  [%d] %s p.%d (%.3f): %s\n", i+1, r.Chunk.DocumentID, r.Chunk.PageIndex, r.Score, preview(r.Chunk.Content))
			}
		}
	}
}

func preview(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > previewLength {
		return string(r[:previewLength]) + "..."
	}
	return s
}

func runServe(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", configFilePath, "Path to the config file")
	addr := fs.String("addr", "", "Listen address (defaults to server.addr)")
	fs.Parse(args)

	cfg, err := loadConfig(*configPath, os.Stdout)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	pipeline, _, closeStore, err := newPipeline(ctx, cfg, cfg.Prompt.Server)
	if err != nil {
		return err
	}
	defer closeStore()

	sessions := history.NewSessions(cfg.RAG.HistorySize, cfg.Server.MaxSessions)
	return server.New(cfg.Server, server.NewSessionAsker(pipeline, sessions)).Run(ctx)
}
