package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tenancy-rag/internal/app"
	"tenancy-rag/internal/config"
	"tenancy-rag/internal/helper"
	"tenancy-rag/internal/parser"
	"tenancy-rag/internal/rag"
	"tenancy-rag/internal/server"
	"tenancy-rag/internal/store"
)

const configFilePath = "./configs/config.yaml"

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	cfgPath := flag.String("config", configFilePath, "Path to the config file")
	extract := flag.String("extract", "", "Document file or folder to turn into batch files")
	extractLLM := flag.Bool("extract-llm", false, "Use the chat model instead of the rule-sheet parser for -extract and -ingest")
	merge := flag.Bool("merge", false, "Normalize and merge the batches into the unified store only")
	ingest := flag.Bool("ingest", false, "Merge the batches and index the unified store")
	onlyIDs := flag.String("only-ids", "", "Comma separated chunk ids to re-index from the existing store")
	recreate := flag.Bool("recreate", false, "Drop the vector collection before indexing")
	query := flag.String("query", "", "Search the knowledge base")
	category := flag.String("category", "", "Category filter for -query")
	risk := flag.String("risk", "", "Risk level filter for -query")
	limit := flag.Int("limit", 0, "Number of results for -query")
	serve := flag.Bool("serve", false, "Start the HTTP API")
	dryRun := flag.Bool("dry-run", false, "Dry run, do not write the store or the index")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Debug().Interface("config", redacted(cfg)).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing")
	}
	defer a.Close()

	switch {
	case *extract != "":
		runExtract(ctx, a, *extract, *extractLLM, *dryRun)
	case *ingest || *merge || *onlyIDs != "":
		ids, err := parseIDs(*onlyIDs)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid -only-ids")
		}
		opts := app.IngestOptions{
			OnlyIDs:   ids,
			Recreate:  *recreate,
			MergeOnly: *merge && !*ingest,
			DryRun:    *dryRun,
			Extractor: extractor(a, *extractLLM),
		}
		if !runIngest(ctx, a, opts) {
			stop()
			a.Close()
			os.Exit(1)
		}
	case *query != "":
		runQuery(ctx, a, rag.SearchRequest{Query: *query, Limit: *limit, Category: *category, Risk: *risk})
	case *serve:
		runServer(ctx, a)
	default:
		flag.Usage()
		os.Exit(2)
	}
}

func extractor(a *app.App, useLLM bool) parser.Extractor {
	if !useLLM {
		return parser.RuleSheetExtractor{}
	}
	if a.Chat == nil {
		log.Fatal().Msg("-extract-llm needs chat_llm to be configured")
	}
	return parser.NewLLMExtractor(a.Chat, a.Config.RAG.ChunkSize, a.Config.RAG.ChunkOverlap)
}

// runExtract writes one JSON batch file per document into the batches folder.
func runExtract(ctx context.Context, a *app.App, path string, useLLM, dryRun bool) {
	files, err := documentFiles(path)
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading documents")
	}
	ex := extractor(a, useLLM)
	if !dryRun {
		if err := helper.CreateFolder(a.Config.Store.Batches); err != nil {
			log.Fatal().Err(err).Msg("Error creating batch folder")
		}
	}

	for _, file := range files {
		doc, err := parser.ParseToText(file)
		if err != nil {
			log.Error().Err(err).Str("file", file).Msg("Error parsing document")
			continue
		}
		records, err := ex.Extract(ctx, doc)
		if err != nil {
			log.Error().Err(err).Str("file", file).Msg("Error extracting records")
			continue
		}
		src := parser.Source{Name: doc.Name, Records: records}
		if dryRun {
			helper.PrettyPrint(src)
			continue
		}
		out := filepath.Join(a.Config.Store.Batches, doc.Name+".json")
		if err := parser.WriteSource(out, src); err != nil {
			log.Fatal().Err(err).Str("file", out).Msg("Error writing batch")
		}
		log.Info().Str("document", doc.Name).Int("records", len(records)).Str("batch", out).Msg("Extracted")
	}
}

func documentFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && parser.IsDocument(e.Name()) {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	return files, nil
}

func runIngest(ctx context.Context, a *app.App, opts app.IngestOptions) bool {
	sum, err := a.Ingest(ctx, opts)
	if err != nil {
		log.Error().Err(err).Msg("Ingestion failed")
		if sum != nil && len(sum.RetryIDs) > 0 {
			helper.PrettyPrint(sum)
			log.Error().Str("retry", "-only-ids "+joinIDs(sum.RetryIDs)).Msg("Some chunks were not indexed")
		}
		return false
	}

	log.Info().Msg("Summary: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	helper.PrettyPrint(sum)
	if len(sum.Failed) > 0 {
		log.Error().
			Int("failed", len(sum.Failed)).
			Str("retry", "-only-ids "+joinIDs(sum.RetryIDs)).
			Msg("Some chunks were not indexed")
		return false
	}
	return true
}

func runQuery(ctx context.Context, a *app.App, req rag.SearchRequest) {
	if _, err := a.OpenForQuery(ctx); err != nil {
		log.Fatal().Err(err).Msg("Error opening index")
	}
	if req.Limit == 0 {
		req.Limit = a.Config.RAG.TopK
	}
	results, err := a.Retriever.Search(ctx, req)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", req.Query)

	log.Info().Msg("Results: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for i, r := range results {
		fmt.Printf("%d. [%.3f] #%d %s (%s, %s)\n   %s\n", i+1, r.Score, r.ID, r.Title, r.Category, r.RiskLevel, r.KeyRule)
		if r.ExpatImplication != "" {
			fmt.Printf("   -> %s\n", r.ExpatImplication)
		}
	}
	if len(results) == 0 {
		fmt.Println("No matching rules.")
	}
}

func runServer(ctx context.Context, a *app.App) {
	info, err := a.OpenForQuery(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening index")
	}
	log.Info().Str("collection", info.Name).Int("points", info.PointCount).Str("model", info.Model).Msg("Index ready")

	s, err := store.Read(a.Config.Store.Path)
	if err != nil {
		log.Warn().Err(err).Msg("Unified store not available, /stats will only show the collection")
	}

	srv := server.New(a.Config, server.Deps{
		Index:      a.Index,
		Retriever:  a.Retriever,
		Assistant:  a.Assistant(),
		Checker:    rag.NewChecker(a.Retriever),
		Translator: a.Translator(),
		Store:      s,
	})
	if err := srv.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server error")
	}
}

func parseIDs(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var ids []int
	for _, part := range strings.Split(s, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("bad id %q: %w", part, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

// redacted hides secrets before the config is logged.
func redacted(cfg *config.Config) config.Config {
	c := *cfg
	hide := func(s *string) {
		if *s != "" {
			*s = "***"
		}
	}
	hide(&c.EmbedLLM.Key)
	hide(&c.ChatLLM.Key)
	hide(&c.Translate.Key)
	hide(&c.VectorDB.EncryptionKey)
	hide(&c.VectorDB.Qdrant.APIKey)
	hide(&c.Redis.Password)
	hide(&c.Database.DSN)
	return c
}
