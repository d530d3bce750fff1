package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"tradechart/config"
	"tradechart/internal/dataset"
	"tradechart/internal/indicator"
	"tradechart/internal/logger"
	"tradechart/internal/model"
	"tradechart/internal/seed"
	"tradechart/internal/series"
	"tradechart/internal/session"
	sqlitestore "tradechart/internal/store/sqlite"
)

var rootCmd = &cobra.Command{
	Use:   "tradechart",
	Short: "candlestick charts with indicator overlays",

	// SilenceUsage is an option to silence usage when an error occurs.
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "log level (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().String("seed", "", "YAML seed file (overrides SEED_FILE)")
}

// setup loads and validates the configuration and builds the logger.
func setup(cmd *cobra.Command, service string, logOutputs ...string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if v, _ := cmd.Flags().GetString("seed"); v != "" {
		cfg.SeedFile = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, logger.Init(service, logger.ParseLevel(cfg.LogLevel), logOutputs...), nil
}

func newAssembler(cfg *config.Config) (*dataset.Assembler, error) {
	eng, err := indicator.NewEngine(cfg.Periods())
	if err != nil {
		return nil, err
	}
	return dataset.NewAssembler(eng), nil
}

// seedSaver persists seed bars so later starts read them back from storage.
type seedSaver func(symbol string, bars []model.Bar) error

// warm loads store from src, then adds every seed symbol the store still
// lacks. src and save may be nil.
func warm(ctx context.Context, store *series.Store, src model.BarSource, name string, save seedSaver, cfg *config.Config, log *zap.Logger) error {
	if src != nil {
		n, err := store.Warm(ctx, src)
		if err != nil {
			log.Warn("warm start failed", zap.String("source", name), zap.Error(err))
		} else {
			log.Info("warm start", zap.String("source", name), zap.Int("symbols", n))
		}
	}

	sample, err := seed.Open(cfg.SeedFile)
	if err != nil {
		return err
	}
	symbols, err := sample.Symbols(ctx)
	if err != nil {
		return err
	}
	added := 0
	for _, sym := range symbols {
		if store.Len(sym) > 0 {
			continue
		}
		bars, err := sample.ReadBars(ctx, sym)
		if err != nil {
			return err
		}
		if err := store.Load(sym, bars); err != nil {
			return err
		}
		if save != nil {
			if err := save(sym, bars); err != nil {
				log.Warn("persist seed bars", zap.String("symbol", sym), zap.Error(err))
			}
		}
		added++
	}
	if added > 0 {
		log.Info("warm start", zap.String("source", "seed"), zap.Int("symbols", added))
	}
	return nil
}

// openStore builds a read-only store for the offline commands from the SQLite
// database when it exists, plus the seed bars it lacks.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*series.Store, error) {
	store := series.NewStore(series.WithLogger(log))

	var src model.BarSource
	if cfg.SQLite.Enabled {
		if _, err := os.Stat(cfg.SQLite.Path); err == nil {
			r, err := sqlitestore.NewReader(cfg.SQLite.Path)
			if err != nil {
				return nil, err
			}
			defer r.Close()
			src = r
		}
	}
	if err := warm(ctx, store, src, "sqlite", nil, cfg, log); err != nil {
		return nil, err
	}
	return store, nil
}

func addChartFlags(cmd *cobra.Command, layout string) {
	cmd.Flags().String("symbol", "", "symbol to chart, e.g. EURUSD")
	cmd.Flags().String("layout", layout, "chart layout: main, analysis or full")
	cmd.Flags().String("range", "", "date window: 24h, 7d or 30d (empty for all bars)")
	cmd.Flags().String("toggles", "", "comma-separated indicators, e.g. SMA,RSI")
	_ = cmd.MarkFlagRequired("symbol")
}

// openChart loads the store and selects the chart described by the flags.
func openChart(cmd *cobra.Command) (*session.Session, dataset.Dataset, *zap.Logger, error) {
	// Logs go to stderr so CSV and PNG can be piped from stdout.
	cfg, log, err := setup(cmd, "tradechart-cli", "stderr")
	if err != nil {
		return nil, dataset.Dataset{}, nil, err
	}
	asm, err := newAssembler(cfg)
	if err != nil {
		return nil, dataset.Dataset{}, nil, err
	}
	store, err := openStore(cmd.Context(), cfg, log)
	if err != nil {
		return nil, dataset.Dataset{}, nil, err
	}

	symbol, _ := cmd.Flags().GetString("symbol")
	layoutName, _ := cmd.Flags().GetString("layout")
	window, _ := cmd.Flags().GetString("range")
	toggles, _ := cmd.Flags().GetString("toggles")

	layout, err := dataset.LayoutByName(layoutName)
	if err != nil {
		return nil, dataset.Dataset{}, nil, err
	}
	ts, err := dataset.ParseToggles(toggles)
	if err != nil {
		return nil, dataset.Dataset{}, nil, err
	}

	s := session.New(store, asm, session.WithLogger(log))
	ds, err := s.Select(session.Selection{Symbol: symbol, Layout: layout, Range: window, Toggles: ts})
	if err != nil {
		return nil, dataset.Dataset{}, nil, err
	}
	return s, ds, log, nil
}

// output opens path for writing; "" or "-" is stdout.
func output(path string) (*os.File, func() error, error) {
	if path == "" || path == "-" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}
