package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"rendezvous/internal/config"
	"rendezvous/internal/database"
	pkgdatabase "rendezvous/pkg/database"
	"rendezvous/pkg/types"
)

// newPlayerCmd manages the local players mirror. Pairing only succeeds for
// initiators present in it, so deployments seed it from the account
// service with "player import".
func newPlayerCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "player",
		Short: "Manage the players mirror used by peer pairing",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <id> <display name>",
		Short: "Insert or rename a single player",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			player := &types.PlayerRecord{ID: args[0], DisplayName: strings.Join(args[1:], " ")}
			n, err := upsertPlayers(cmd, opts, []*types.PlayerRecord{player})
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "upserted %d player(s)\n", n)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.json>",
		Short: "Upsert players from a JSON array of {\"id\", \"display_name\"}",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read players file: %w", err)
			}
			var players []*types.PlayerRecord
			if err := json.Unmarshal(data, &players); err != nil {
				return fmt.Errorf("failed to parse players file: %w", err)
			}
			n, err := upsertPlayers(cmd, opts, players)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "upserted %d player(s)\n", n)
			return err
		},
	})

	return cmd
}

// upsertPlayers migrates the configured database and writes players in
// order, stopping at the first invalid record
func upsertPlayers(cmd *cobra.Command, opts *cliOptions, players []*types.PlayerRecord) (int, error) {
	cfg, err := config.LoadConfigWithPrecedence(opts.configPath)
	if err != nil {
		return 0, err
	}

	dbConfig := pkgdatabase.DefaultConfig()
	dbConfig.DatabasePath = cfg.Database.Path
	store, err := database.NewManager(dbConfig, database.Options{}, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = store.Close() }()

	if _, err := pkgdatabase.NewMigrationManager(store.GetDB(), nil).ApplyMigrations(); err != nil {
		return 0, err
	}

	for i, player := range players {
		if err := store.UpsertPlayer(cmd.Context(), player); err != nil {
			return i, fmt.Errorf("player %d: %w", i, err)
		}
	}
	return len(players), nil
}
