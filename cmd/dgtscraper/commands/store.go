package commands

import (
	"context"
	"dgtscraper/internal/components/serviceutil"
	"dgtscraper/internal/pipeline"
	"dgtscraper/internal/store"
	"log/slog"

	"github.com/spf13/cobra"
)

var (
	storeInput     inputFlags
	storeBatchSize *int
)

func init() {
	storeInput = addInputFlags(storeCmd)
	storeBatchSize = storeCmd.Flags().Int("batch-size", 0, "The number of records upserted per transaction, overrides store.batch_size.")
	rootCmd.AddCommand(storeCmd)
}

// load upserts every record of the stream and returns its stats. The
// stream is closed when load returns.
func load(ctx context.Context, stream *pipeline.Stream, out store.Store, batchSize int) (pipeline.Stats, error) {
	defer stream.Close()

	writer := store.NewBatchWriter(out, batchSize)
	for stream.Next() {
		result := stream.Result()
		if result.Failure != nil {
			slog.Warn("parse failure", "line", result.Failure.LineNumber, "err", result.Failure.Description())
			continue
		}
		if err := writer.Write(ctx, *result.Record); err != nil {
			return stream.Stats(), err
		}
	}
	if err := stream.Err(); err != nil {
		return stream.Stats(), err
	}
	if err := writer.Flush(ctx); err != nil {
		return stream.Stats(), err
	}
	return stream.Stats(), nil
}

var storeCmd = &cobra.Command{
	Use:   "store (--date <YYYY-MM[-DD]> | --file <path>) [--latin1] [--batch-size <n>]",
	Short: "Upserts parsed records into the configured database, keyed by VIN and procedure date.",
	Run: func(cmd *cobra.Command, args []string) {
		config := env.config.Store
		if *storeBatchSize > 0 {
			config.BatchSize = *storeBatchSize
		}

		out, err := store.Open(cmd.Context(), config)
		if err != nil {
			serviceutil.Fatal("failed to open store", err)
		}
		defer out.Close()

		stream, err := storeInput.open(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to open input", err)
		}

		stats, err := load(cmd.Context(), stream, out, config.BatchSize)
		if err != nil {
			serviceutil.Fatal("failed to store records", err)
		}
		slog.Info(
			"stored",
			"driver", config.Driver,
			"records", stats.Records,
			"failures", stats.Failures,
			"skipped", stats.Skipped,
		)
	},
}
