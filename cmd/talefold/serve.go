package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/talefold/talefold/internal/agent"
	"github.com/talefold/talefold/internal/api"
	"github.com/talefold/talefold/internal/config"
	"github.com/talefold/talefold/internal/llm"
	"github.com/talefold/talefold/internal/store"
	"github.com/talefold/talefold/internal/turn"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	client := llm.NewClient(cfg.ProviderURL)
	engine := &turn.Engine{
		Store:     db,
		Narrator:  &agent.Narrator{Client: client},
		Suggester: &agent.Suggester{Client: client},
	}

	server := &api.Server{
		DB:      db,
		Engine:  engine,
		Addr:    cfg.Addr,
		APIKey:  cfg.APIKey,
		OwnerID: cfg.OwnerID,
	}
	return server.ListenAndServe()
}
