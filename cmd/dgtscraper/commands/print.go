package commands

import (
	"dgtscraper/internal/components/serviceutil"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	printInput inputFlags
	printLimit *int
)

func init() {
	printInput = addInputFlags(printCmd)
	printLimit = printCmd.Flags().Int("limit", 50, "The maximum number of records to print, 0 prints all of them.")
	rootCmd.AddCommand(printCmd)
}

func optional[T any](v *T) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

var printCmd = &cobra.Command{
	Use:   "print (--date <YYYY-MM[-DD]> | --file <path>) [--latin1] [--limit <n>]",
	Short: "Prints parsed records and parse failures as tables.",
	Run: func(cmd *cobra.Command, args []string) {
		stream, err := printInput.open(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to open input", err)
		}
		defer stream.Close()

		records := newTable()
		records.AppendHeader(table.Row{
			"Bastidor", "Matriculación", "Clase", "Marca", "Modelo",
			"Municipio", "kW", "CO2", "Carga útil",
		})
		failures := newTable()
		failures.AppendHeader(table.Row{"Línea", "Error"})

		printed := 0
		for stream.Next() {
			result := stream.Result()
			if result.Failure != nil {
				failures.AppendRow(table.Row{result.Failure.LineNumber, result.Failure.Description()})
				continue
			}
			r := result.Record
			records.AppendRow(table.Row{
				r.VIN,
				r.RegistrationDate.String(),
				r.RegistrationClass.Name(),
				r.Make,
				r.Model,
				r.Municipality,
				optional(r.PowerKW),
				optional(r.CO2),
				strconv.FormatFloat(r.PayloadCapacity(), 'f', -1, 64),
			})
			printed++
			if *printLimit > 0 && printed >= *printLimit {
				break
			}
		}
		if err := stream.Err(); err != nil {
			serviceutil.Fatal("failed to read input", err)
		}

		records.Render()
		if failures.Length() > 0 {
			failures.Render()
		}
	},
}
