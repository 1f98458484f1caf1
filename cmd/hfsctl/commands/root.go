package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/marmos91/dittohfs/internal/logger"
	"github.com/marmos91/dittohfs/pkg/config"
	"github.com/marmos91/dittohfs/pkg/hfsplus"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	logLevel   string

	// Loaded in PersistentPreRunE for every command but init
	cfg *config.Config

	// logFile is the file logs go to when logging.output is a path
	logFile io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "hfsctl",
	Short: "Drive the DittoHFS catalog engine from the command line",
	Long: `hfsctl opens the HFS+ catalog configured in the DittoHFS config file and
runs one metadata operation against it.

With the default in-memory store every invocation starts from an empty
volume; select the badger store for a catalog that persists between runs.

Commands:
  init       Write a default configuration file
  mkdir      Create directories
  touch      Create regular files
  ln         Create symbolic or hard links
  rm         Remove files
  rmdir      Remove empty directories
  mv         Rename entries
  ls         Enumerate a directory
  stat       Show the attributes of an entry
  setxattr   Set or remove an extended attribute`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: loadConfig,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logFile != nil {
			_ = logFile.Close()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errno := hfsplus.Errno(err); errno != 0 {
			fmt.Fprintf(os.Stderr, "Error: %v (errno %d)\n", err, int(errno))
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/dittohfs/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (DEBUG, INFO, WARN, ERROR)")
}

func loadConfig(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "init" {
		return nil
	}

	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Logging.Level = logLevel
	}
	cfg = loaded

	return setupLogging(&cfg.Logging)
}

// setupLogging applies the logging section.
func setupLogging(lc *config.LoggingConfig) error {
	logger.SetLevel(lc.Level)

	switch lc.Output {
	case "stdout":
		logger.SetOutput(os.Stdout)
	case "stderr":
		logger.SetOutput(os.Stderr)
	default:
		f, err := os.OpenFile(lc.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logger.SetOutput(f)
		logFile = f
	}
	return nil
}
