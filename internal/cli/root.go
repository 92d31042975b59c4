// Package cli provides the command-line interface for jobingest.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/jobingest/internal/client"
	"github.com/raphaelgruber/jobingest/internal/config"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	// Global config and logger
	cfg       config.Config
	logger    *slog.Logger
	logCloser func() error
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "jobingest",
	Short: "Job posting ingestion pipeline client",
	Long: `jobingest turns job posting URLs into structured job data.

The server renders each page in a headless browser, strips it down to
content-bearing HTML and asks a language model for company, position,
employment type, remote policy and technologies. This CLI submits URLs
and follows records until they finish. The normalize and fetch commands
run the first two stages locally without a server.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config for version and help commands
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}

		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if serverURL != "" {
			cfg.ServerURL = serverURL
		}

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		// CLI output goes to stdout, so only warnings reach stderr unless -v.
		if !verbose && level < slog.LevelWarn {
			level = slog.LevelWarn
		}
		logger, logCloser = config.SetupLogger("", level)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			if err := logCloser(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// newClient returns an API client for the configured server.
func newClient() *client.Client {
	return client.New(cfg.ServerURL)
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default from JOBINGEST_SERVER_URL)")

	// Add subcommands
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(fetchCmd)
}
