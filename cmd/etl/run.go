package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/prtr-penalty-etl/internal/adapter/filestore"
	"github.com/couchcryptid/prtr-penalty-etl/internal/adapter/kafka"
	"github.com/couchcryptid/prtr-penalty-etl/internal/adapter/opendata"
	"github.com/couchcryptid/prtr-penalty-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/prtr-penalty-etl/internal/observability"
	"github.com/couchcryptid/prtr-penalty-etl/internal/pipeline"
)

// errRunFailed is returned when a run finishes without success and no more
// specific error is available.
var errRunFailed = errors.New("run did not complete successfully")

type runFunc func(ctx context.Context, p *pipeline.Pipeline) (pipeline.Summary, error)

// runOptions are per-invocation switches shared by the run commands.
type runOptions struct {
	clean bool // empty the data tree before ingesting
}

func newRangeCmd(a *app) *cobra.Command {
	var (
		start, end string
		opts       runOptions
	)
	cmd := &cobra.Command{
		Use:   "range",
		Short: "Ingest a bounded date range; any period failure aborts the run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			from, err := parseDate(start, a.loc)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			to, err := parseDate(end, a.loc)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if from.After(to) {
				return fmt.Errorf("--start %s is after --end %s", start, end)
			}
			return a.run(cmd, opts, func(ctx context.Context, p *pipeline.Pipeline) (pipeline.Summary, error) {
				return p.RunRange(ctx, from, to)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&end, "end", "", "last day, YYYY-MM-DD")
	cmd.Flags().BoolVar(&opts.clean, "clean", false, "remove all stored records first, so the tree holds only this range")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func newRecentCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recent",
		Short: "Ingest the trailing RECENT_MONTHS window ending today",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, runOptions{}, func(ctx context.Context, p *pipeline.Pipeline) (pipeline.Summary, error) {
				return p.RunRecent(ctx)
			})
		},
	}
}

func newBackfillCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "backfill",
		Short: "Walk quarters backward until MAX_EMPTY_PERIODS consecutive quarters are empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.run(cmd, runOptions{}, func(ctx context.Context, p *pipeline.Pipeline) (pipeline.Summary, error) {
				return p.RunBackfill(ctx)
			})
		},
	}
}

// run wires the pipeline for one invocation, executes fn and records the
// outcome in the configured outputs.
func (a *app) run(cmd *cobra.Command, opts runOptions, fn runFunc) error {
	ctx := cmd.Context()
	cfg := a.cfg

	lock, err := filestore.Lock(cfg.DataDir, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Unlock(); err != nil {
			a.logger.Warn("release data dir lock", "error", err)
		}
	}()

	store, err := filestore.New(cfg.DataDir, a.clock, a.loc, a.logger)
	if err != nil {
		return err
	}
	if opts.clean {
		if err := store.Clear(); err != nil {
			return err
		}
	}
	client := opendata.NewClient(opendata.Options{
		BaseURL:  cfg.APIURL,
		APIKey:   cfg.APIKey,
		Timeout:  cfg.HTTPTimeout,
		RetryMax: cfg.RetryMax,
	}, a.logger)

	var publisher pipeline.Publisher
	if cfg.PublishEnabled() {
		w := kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, a.clock, a.logger)
		defer func() {
			if err := w.Close(); err != nil {
				a.logger.Error("kafka writer close error", "error", err)
			}
		}()
		publisher = w
		a.logger.Info("publishing saved records", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	}

	metrics := observability.NewMetrics()
	p := pipeline.New(client, store, publisher, a.clock, a.logger, metrics, pipeline.Options{
		PeriodWidthMonths: cfg.PeriodWidthMonths,
		RecentMonths:      cfg.RecentMonths,
		MaxEmptyPeriods:   cfg.MaxEmptyPeriods,
		PageSize:          cfg.PageSize,
		PacingDelay:       cfg.PacingDelay,
		Location:          a.loc,
	})

	sum, runErr := fn(ctx, p)
	printSummary(cmd.OutOrStdout(), sum, runErr)

	// Outputs below are written even when the run was cancelled.
	outCtx := context.WithoutCancel(ctx)
	if cfg.HistoryDB != "" {
		a.recordHistory(outCtx, sum, runErr)
	}
	if cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
			a.logger.Error("metrics textfile", "error", err)
		}
	}

	if runErr != nil {
		if pipeline.IsHardFailure(runErr) {
			return fmt.Errorf("%s run aborted: %w", sum.Mode, runErr)
		}
		return runErr
	}
	if !sum.Success {
		return errRunFailed
	}
	return nil
}

func (a *app) recordHistory(ctx context.Context, sum pipeline.Summary, runErr error) {
	h, err := sqlite.Open(a.cfg.HistoryDB)
	if err != nil {
		a.logger.Error("run history unavailable", "error", err)
		return
	}
	defer h.Close()

	run := sqlite.Run{
		Mode:             sum.Mode,
		Success:          sum.Success,
		PeriodsProcessed: sum.PeriodsProcessed,
		RecordsSaved:     sum.TotalRecordsSaved,
		Errors:           sum.TotalErrors,
		EmptyStreak:      sum.EmptyStreak,
		StartedAt:        sum.StartedAt,
		FinishedAt:       sum.FinishedAt,
	}
	if runErr != nil {
		run.Failure = runErr.Error()
	}
	if run, err = h.RecordRun(ctx, run); err != nil {
		a.logger.Error("record run history", "error", err)
		return
	}
	a.logger.Debug("run recorded", "run_id", run.ID)
}

func printSummary(w io.Writer, sum pipeline.Summary, runErr error) {
	fmt.Fprintf(w, "mode:              %s\n", sum.Mode)
	fmt.Fprintf(w, "success:           %t\n", sum.Success)
	fmt.Fprintf(w, "periods processed: %d\n", sum.PeriodsProcessed)
	fmt.Fprintf(w, "records saved:     %d\n", sum.TotalRecordsSaved)
	fmt.Fprintf(w, "row errors:        %d\n", sum.TotalErrors)
	if sum.Mode == pipeline.ModeBackfill {
		fmt.Fprintf(w, "empty streak:      %d\n", sum.EmptyStreak)
	}
	fmt.Fprintf(w, "duration:          %s\n", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
	if runErr != nil {
		fmt.Fprintf(w, "failure:           %v\n", runErr)
	}
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(time.DateOnly, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD, got %q", s)
	}
	return t, nil
}
