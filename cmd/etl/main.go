// Command etl ingests PRTR penalty disclosures from the environmental open-data
// API into a file-per-record JSON tree.
//
// Usage:
//
//	etl recent                 # trailing window, for frequent cron runs
//	etl range --start 2024-01-01 --end 2024-12-31
//	etl backfill               # walk quarters back until data runs out
//	etl exists 高雄市_21-114-070054
//	etl verify
//	etl history --limit 10
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}
