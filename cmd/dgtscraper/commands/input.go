package commands

import (
	"context"
	"dgtscraper/internal/pipeline"
	"dgtscraper/internal/scrapers/dgt"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// inputFlags select where records are read from: a period downloaded from
// the portal or a text file already on disk.
type inputFlags struct {
	date   *string
	file   *string
	latin1 *bool
}

func addInputFlags(cmd *cobra.Command) inputFlags {
	return inputFlags{
		date:   cmd.Flags().String("date", "", "Stream the period YYYY-MM or YYYY-MM-DD from the portal."),
		file:   cmd.Flags().String("file", "", "Parse a downloaded text file instead of streaming from the portal."),
		latin1: cmd.Flags().Bool("latin1", false, "The file is ISO-8859-1 as published, rather than UTF-8 as written by download."),
	}
}

func (f inputFlags) open(ctx context.Context) (*pipeline.Stream, error) {
	switch {
	case *f.date != "" && *f.file != "":
		return nil, fmt.Errorf("--date and --file are mutually exclusive")
	case *f.file != "":
		file, err := os.Open(*f.file)
		if err != nil {
			return nil, err
		}
		if *f.latin1 {
			return env.pipeline.ParseLatin1File(file), nil
		}
		return env.pipeline.ParseFile(file), nil
	case *f.date != "":
		q, err := dgt.ParseQuery(*f.date)
		if err != nil {
			return nil, err
		}
		source, err := newSource()
		if err != nil {
			return nil, err
		}
		return env.pipeline.StreamRecords(ctx, source, q)
	default:
		return nil, fmt.Errorf("one of --date or --file is required")
	}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}
