package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/talefold/talefold/internal/config"
	"github.com/talefold/talefold/internal/seed"
	"github.com/talefold/talefold/internal/store"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <bundle.yaml>",
		Short: "Import a YAML world bundle into the store",
		Args:  cobra.ExactArgs(1),
		RunE:  runSeed,
	}
}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.LogLevel)

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	res, err := seed.ImportFile(cmd.Context(), db, cfg.OwnerID, args[0])
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Imported world %s (%d characters)\n", res.WorldID, res.Characters)
	if res.StoryID != "" {
		fmt.Fprintf(os.Stdout, "Created story %s\n", res.StoryID)
	}
	return nil
}
