package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tradechart/internal/dataset"
	"tradechart/internal/export"
)

func init() {
	addChartFlags(exportCmd, dataset.FullLayout.Name)
	exportCmd.Flags().StringP("out", "o", "", "output file, - for stdout (default <SYMBOL>_data.csv)")
	rootCmd.AddCommand(exportCmd)
}

var exportCmd = &cobra.Command{
	Use:   "export --symbol=SYMBOL [--range=7d] [--out=FILE]",
	Short: "export the bars of a chart as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, _, log, err := openChart(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		symbol, bars, err := s.ExportBars()
		if err != nil {
			return err
		}

		path, _ := cmd.Flags().GetString("out")
		if path == "" {
			path = export.Filename(symbol)
		}
		w, closeFn, err := output(path)
		if err != nil {
			return err
		}
		if err := export.WriteCSV(w, bars); err != nil {
			closeFn()
			return err
		}
		if err := closeFn(); err != nil {
			return err
		}
		log.Info("exported", zap.String("symbol", symbol), zap.Int("bars", len(bars)), zap.String("file", path))
		return nil
	},
}
