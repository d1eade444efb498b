package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"stopboard.dev/board/model"
	"stopboard.dev/board/partition"
	"stopboard.dev/board/snapshot"
	"stopboard.dev/board/storage"
)

var rootCmd = &cobra.Command{
	Use:          "boardctl",
	Short:        "Stop board tool",
	Long:         "Composes stop boards and refreshes live data over per-mode partition databases",
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.InfoLevel
		if debug {
			level = zerolog.DebugLevel
		}
		log.Logger = log.Logger.Level(level)
	},
}

var (
	dataDir string
	debug   bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dataDir, "data-dir", "", ".", "directory holding one <route_type>.db per partition")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "", false, "enable debug logging")
	rootCmd.AddCommand(boardCmd)
	rootCmd.AddCommand(refreshCmd)
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// Opens every <route_type>.db under the data dir and registers a
// partition for it.
func openRegistry() (*partition.Registry, error) {
	paths, err := filepath.Glob(filepath.Join(dataDir, "*.db"))
	if err != nil {
		return nil, fmt.Errorf("listing partition databases: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no partition databases in %s", dataDir)
	}

	registry := partition.NewRegistry()
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".db")
		routeType, err := strconv.Atoi(name)
		if err != nil {
			log.Warn().Str("path", path).Msg("skipping database without numeric route type name")
			continue
		}

		store, err := storage.NewSQLiteStore(storage.SQLiteConfig{Path: path})
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}

		snap, err := snapshot.FromStore(store, log.Logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("loading schedule from %s: %w", path, err)
		}

		registry.Register(model.RouteType(routeType), store, snap)
	}

	return registry, nil
}

// Formats seconds past midnight as a clock string. Values past 24h
// wrap for display.
func clock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	h := seconds / 3600 % 24
	m := seconds / 60 % 60
	s := seconds % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
