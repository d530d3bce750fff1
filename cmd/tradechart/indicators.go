package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tradechart/internal/dataset"
	"tradechart/internal/export"
)

func init() {
	addChartFlags(indicatorsCmd, dataset.FullLayout.Name)
	indicatorsCmd.Flags().Int("last", 10, "number of points to print per series (0 for all)")
	rootCmd.AddCommand(indicatorsCmd)
}

var indicatorsCmd = &cobra.Command{
	Use:   "indicators --symbol=SYMBOL --toggles=SMA,EMA,RSI,MACD",
	Short: "print the indicator values of a chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ds, _, err := openChart(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		last, _ := cmd.Flags().GetInt("last")
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintf(tw, "SERIES\tDATE\tVALUE\n")
		for _, rs := range ds.Series {
			if rs.Kind == dataset.KindCandlestick {
				continue
			}
			points := rs.Points
			if last > 0 && len(points) > last {
				points = points[len(points)-last:]
			}
			for _, p := range points {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", rs.Label, export.FormatDate(p.Time), export.FormatPrice(p.Value))
			}
		}
		return tw.Flush()
	},
}
