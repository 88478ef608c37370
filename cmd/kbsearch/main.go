package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"tenancy-rag/internal/app"
	"tenancy-rag/internal/config"
	"tenancy-rag/internal/tui"
)

func main() {
	cfgPath := flag.String("config", "./configs/config.yaml", "Path to the config file")
	limit := flag.Int("limit", 0, "Results per search")
	flag.Parse()

	// the TUI owns the terminal, so only errors reach stderr
	zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.LoadConfig(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	ctx := context.Background()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	info, err := a.OpenForQuery(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open index")
	}
	if *limit <= 0 {
		*limit = cfg.RAG.TopK
	}
	summary := fmt.Sprintf("%s: %d rules, model %s", info.Name, info.PointCount, info.Model)

	if _, err := tea.NewProgram(tui.New(a.Retriever, summary, *limit), tea.WithAltScreen()).Run(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}
