package main

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tradechart/internal/dataset"
	"tradechart/internal/render"
)

func init() {
	addChartFlags(renderCmd, dataset.FullLayout.Name)
	renderCmd.Flags().StringP("out", "o", "", "output file, - for stdout (default <SYMBOL>.png)")
	renderCmd.Flags().Int("width", 1024, "image width in pixels")
	renderCmd.Flags().Int("height", 512, "image height in pixels")
	rootCmd.AddCommand(renderCmd)
}

var renderCmd = &cobra.Command{
	Use:   "render --symbol=SYMBOL [--toggles=SMA,RSI] [--out=FILE]",
	Short: "render a chart to PNG",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, ds, log, err := openChart(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		width, _ := cmd.Flags().GetInt("width")
		height, _ := cmd.Flags().GetInt("height")
		path, _ := cmd.Flags().GetString("out")
		if path == "" {
			path = strings.ToUpper(ds.Symbol) + ".png"
		}

		w, closeFn, err := output(path)
		if err != nil {
			return err
		}
		if err := render.PNG(w, ds, render.Options{Width: width, Height: height}); err != nil {
			closeFn()
			return err
		}
		if err := closeFn(); err != nil {
			return err
		}
		log.Info("rendered", zap.String("symbol", ds.Symbol), zap.Strings("series", ds.Labels()), zap.String("file", path))
		return nil
	},
}
