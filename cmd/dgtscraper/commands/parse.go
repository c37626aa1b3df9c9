package commands

import (
	"bufio"
	"dgtscraper/internal/components/serviceutil"
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var parseInput inputFlags

func init() {
	parseInput = addInputFlags(parseCmd)
	rootCmd.AddCommand(parseCmd)
}

var parseCmd = &cobra.Command{
	Use:   "parse (--date <YYYY-MM[-DD]> | --file <path>) [--latin1]",
	Short: "Writes every parsed record as a line of JSON to stdout, parse failures are logged.",
	Run: func(cmd *cobra.Command, args []string) {
		stream, err := parseInput.open(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to open input", err)
		}
		defer stream.Close()

		out := bufio.NewWriter(os.Stdout)
		defer out.Flush()
		encoder := json.NewEncoder(out)

		for stream.Next() {
			result := stream.Result()
			if result.Failure != nil {
				slog.Warn("parse failure", "line", result.Failure.LineNumber, "err", result.Failure.Description())
				continue
			}
			if err := encoder.Encode(result.Record); err != nil {
				serviceutil.Fatal("failed to write record", err)
			}
		}
		if err := stream.Err(); err != nil {
			serviceutil.Fatal("failed to read input", err)
		}

		stats := stream.Stats()
		slog.Info("parsed", "records", stats.Records, "failures", stats.Failures, "skipped", stats.Skipped)
	},
}
