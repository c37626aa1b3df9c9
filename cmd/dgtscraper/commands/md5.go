package commands

import (
	"dgtscraper/internal/components/serviceutil"
	"dgtscraper/internal/pipeline"
	"fmt"

	"github.com/spf13/cobra"
)

var md5Input inputFlags

func init() {
	md5Input = addInputFlags(md5Cmd)
	rootCmd.AddCommand(md5Cmd)
}

var md5Cmd = &cobra.Command{
	Use:   "md5 (--date <YYYY-MM[-DD]> | --file <path>) [--latin1]",
	Short: "Prints an MD5 checksum of the parsed records, for comparing downloads.",
	Run: func(cmd *cobra.Command, args []string) {
		stream, err := md5Input.open(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to open input", err)
		}

		digest := pipeline.NewDigest()
		if err := digest.Consume(stream); err != nil {
			serviceutil.Fatal("failed to read input", err)
		}
		for _, failure := range digest.Failures() {
			fmt.Println("Parse error:", failure.String())
		}
		fmt.Println("MD5:", digest.Sum())
		fmt.Println("Total parsed registrations:", digest.Count())
	},
}
