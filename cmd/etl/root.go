package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/couchcryptid/prtr-penalty-etl/internal/config"
	"github.com/couchcryptid/prtr-penalty-etl/internal/domain"
	"github.com/couchcryptid/prtr-penalty-etl/internal/observability"
)

// app carries the settings every subcommand needs. It is filled in by the
// root command's PersistentPreRunE.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	loc    *time.Location
	clock  clockwork.Clock
}

func newRootCmd() *cobra.Command {
	a := &app{clock: clockwork.NewRealClock()}
	var envFile string

	root := &cobra.Command{
		Use:   "etl",
		Short: "Ingest PRTR penalty disclosures into a file-per-record JSON tree",
		Long: `etl pulls penalty disclosures from the PRTR open-data API period by period and
stores each record as pretty-printed JSON under DATA_DIR. Settings come from
environment variables, optionally loaded from a .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return a.init(envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before reading the environment")

	root.AddCommand(
		newRangeCmd(a),
		newRecentCmd(a),
		newBackfillCmd(a),
		newExistsCmd(a),
		newVerifyCmd(a),
		newHistoryCmd(a),
	)
	return root
}

func (a *app) init(envFile string) error {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	loc, err := domain.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %s: %w", cfg.Timezone, err)
	}

	a.cfg = cfg
	a.loc = loc
	a.logger = observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	return nil
}
