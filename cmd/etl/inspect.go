package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/prtr-penalty-etl/internal/adapter/filestore"
	"github.com/couchcryptid/prtr-penalty-etl/internal/adapter/sqlite"
)

func newExistsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "exists <unique-id>",
		Short: "Report whether a record file is stored for a unique id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := filestore.New(a.cfg.DataDir, a.clock, a.loc, a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), store.Exists(args[0]))
			return nil
		},
	}
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check that every stored file decodes and sits at its identity path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := filestore.Verify(a.cfg.DataDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range rep.Problems {
				fmt.Fprintf(out, "FAIL %s: %s\n", p.Path, p.Reason)
			}
			fmt.Fprintf(out, "%d files checked, %d problems\n", rep.Files, len(rep.Problems))
			if !rep.OK() {
				return fmt.Errorf("verify %s: %d problems", a.cfg.DataDir, len(rep.Problems))
			}
			return nil
		},
	}
}

func newHistoryCmd(a *app) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs from the HISTORY_DB ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.HistoryDB == "" {
				return fmt.Errorf("HISTORY_DB is not set")
			}
			h, err := sqlite.Open(a.cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer h.Close()

			runs, err := h.ListRuns(cmd.Context(), limit)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range runs {
				status := "ok"
				if !r.Success {
					status = "FAILED"
				}
				fmt.Fprintf(out, "%s  %-8s %-6s periods=%d saved=%d errors=%d  %s\n",
					r.StartedAt.In(a.loc).Format(time.DateTime), r.Mode, status,
					r.PeriodsProcessed, r.RecordsSaved, r.Errors, r.ID)
				if r.Failure != "" {
					fmt.Fprintf(out, "    %s\n", r.Failure)
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}
