package commands

import (
	"context"
	"dgtscraper/internal/components/chrono"
	"dgtscraper/internal/components/serviceutil"
	"dgtscraper/internal/scrapers/dgt"
	"dgtscraper/internal/store"
	"log/slog"

	"github.com/spf13/cobra"
)

var (
	scheduleSpec    *string
	scheduleDaysAgo *int
)

func init() {
	scheduleSpec = scheduleCmd.Flags().String("cron", "30 6 * * *", "When to sync, as a cron expression in Europe/Madrid time.")
	scheduleDaysAgo = scheduleCmd.Flags().Int("days-ago", 3, "How many days back the synced day is, daily data is published with a delay.")
	rootCmd.AddCommand(scheduleCmd)
}

// syncDay stores the registrations of the day daysAgo days before now.
func syncDay(ctx context.Context, out store.Store, daysAgo int) {
	q := dgt.FromTime(env.clock.Now().AddDate(0, 0, -daysAgo))
	logger := slog.With("query", q.String())

	source, err := newSource()
	if err != nil {
		logger.Error("failed to create client", "err", err)
		return
	}
	stream, err := env.pipeline.StreamRecords(ctx, source, q)
	if err != nil {
		logger.Error("failed to establish download", "err", err)
		return
	}
	stats, err := load(ctx, stream, out, env.config.Store.BatchSize)
	if err != nil {
		logger.Error("failed to sync", "err", err)
		return
	}
	logger.Info("synced", "records", stats.Records, "failures", stats.Failures)
}

var scheduleCmd = &cobra.Command{
	Use:   "schedule [--cron <expr>] [--days-ago <n>]",
	Short: "Keeps running, storing the registrations of a past day on a schedule.",
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()

		out, err := store.Open(ctx, env.config.Store)
		if err != nil {
			serviceutil.Fatal("failed to open store", err)
		}
		defer out.Close()

		cron := chrono.NewStandardCron(env.clock, env.tel)
		err = cron.Cron(*scheduleSpec, func() {
			syncDay(ctx, out, *scheduleDaysAgo)
		})
		if err != nil {
			serviceutil.Fatal("invalid cron expression", err)
		}

		cron.Start()
		slog.Info("scheduled sync", "cron", *scheduleSpec, "days_ago", *scheduleDaysAgo)
		<-ctx.Done()
		cron.Stop()
	},
}
