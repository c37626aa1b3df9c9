package commands

import (
	"dgtscraper/internal/components/serviceutil"
	"dgtscraper/internal/scrapers/dgt"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var downloadOut *string

func init() {
	downloadOut = downloadCmd.Flags().StringP("out", "o", "", "The file or directory to write to, defaults to matriculaciones-<period>.txt in the working directory.")
	rootCmd.AddCommand(downloadCmd)
}

var downloadCmd = &cobra.Command{
	Use:   "download <YYYY-MM[-DD]> [--out <path>]",
	Short: "Downloads the registrations of a month or a day as UTF-8 text.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		q, err := dgt.ParseQuery(args[0])
		if err != nil {
			serviceutil.Fatal("invalid period", err)
		}
		source, err := newSource()
		if err != nil {
			serviceutil.Fatal("failed to create client", err)
		}

		start := time.Now()
		path, err := env.pipeline.DownloadToPath(cmd.Context(), source, q, *downloadOut)
		if err != nil {
			serviceutil.Fatal("failed to download", err)
		}
		slog.Info("downloaded", "query", q.String(), "seconds", time.Since(start).Seconds())
		fmt.Println(path)
	},
}
