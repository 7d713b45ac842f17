package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"rxsearch/internal/config"
	"rxsearch/internal/logging"
)

// version is stamped by the build: -ldflags "-X main.version=v1.2.3".
var version = "dev"

var (
	// Global flags
	cfgPath string
	verbose bool

	// Loaded in PersistentPreRunE, shared by every subcommand.
	cfg    *config.Config
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "rxsearch",
	Short: "rxsearch - hybrid semantic drug search over an FDB catalog",
	Long: `rxsearch indexes a First Databank drug catalog into a Redis vector index
and serves hybrid search over it: an LLM parses free-text queries into
drug terms and filters, embeddings drive KNN retrieval, and class
expansion pulls in pharmacological and therapeutic alternatives.

Typical flow:
  rxsearch index create      # create the vector index
  rxsearch ingest            # load the catalog (resumable)
  rxsearch serve             # start the HTTP API`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Format)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// versionCmd prints the build version.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the rxsearch version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("rxsearch %s (%s)\n", version, runtime.Version())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "rxsearch.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
