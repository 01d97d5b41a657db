package main

import (
	"fmt"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"vecstash/internal/config"
	"vecstash/internal/engine"
	"vecstash/internal/index"
	"vecstash/internal/store"
	"vecstash/internal/version"
)

var (
	cfgFile string
	dataDir string
	verbose bool

	cfg    *config.Config
	logger *charmlog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vecstash",
	Short: "Local vector store with similarity search",
	Long: `vecstash stores text embeddings in a local database and answers
similarity queries over them, using an approximate index for large
collections and exact scans for small ones.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", defaultConfigPath(), "config file path")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "vecstash.yaml"
	}
	return home + "/.vecstash/config.yaml"
}

func initConfig() {
	logger = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: false,
	})
	if verbose {
		logger.SetLevel(charmlog.DebugLevel)
	}

	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		logger.Fatal("load config", "err", err)
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
}

// openEngine opens the store under DataDir and wires the search engine.
// The caller closes the returned store.
func openEngine() (*engine.Engine, *store.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(cfg.StorePath(), store.PoolConfig{
		MaxSlots:       cfg.Pool.MaxSlots,
		AcquireTimeout: cfg.Pool.AcquireTimeout(),
	})
	if err != nil {
		return nil, nil, err
	}
	eng := engine.New(st, logger, engine.Config{
		ExactThreshold: cfg.Search.ExactThreshold,
		Index: index.Config{
			M:              cfg.Index.M,
			EfConstruction: cfg.Index.EfConstruction,
			EfSearch:       cfg.Index.EfSearch,
		},
	})
	return eng, st, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
