package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/labscan/internal/api"
	"github.com/jackzampolin/labscan/internal/config"
	"github.com/jackzampolin/labscan/internal/home"
	"github.com/jackzampolin/labscan/internal/logging"
	"github.com/jackzampolin/labscan/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "labscan",
	Short: "Extract exam results from lab report images and PDFs",
	Long: `labscan sends lab report images and PDFs to a multimodal model and
returns one parameter/value/unit record per exam found in the document.

It can run as:
  - an HTTP service (labscan serve)
  - a one-shot CLI (labscan extract laudo.pdf)
  - an MCP tool server over stdio (labscan mcp)`,
	Version:      version.GitRelease,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.labscan/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "labscan home directory (default: ~/.labscan)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml, json or text",
	)
	rootCmd.PersistentFlags().StringVar(
		&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)",
	)

	// Set output format before any command runs
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return api.SetOutputFormat(outputFormat)
	}

	rootCmd.AddCommand(versionCmd)
}

// loadConfig resolves the home directory and loads configuration. Without
// --config, a config.yaml inside --home takes precedence over the search path.
func loadConfig() (*config.Manager, *home.Dir, error) {
	h, err := home.New(homeDir)
	if err != nil {
		return nil, nil, err
	}
	path := cfgFile
	if path == "" && homeDir != "" && h.ConfigExists() {
		path = h.ConfigPath()
	}
	cm, err := config.NewManager(path)
	if err != nil {
		return nil, nil, err
	}
	return cm, h, nil
}

// setupLogger builds the process logger from configuration. toFile forces
// file output, for commands whose stdout or stderr belongs to a protocol.
func setupLogger(cfg *config.Config, h *home.Dir, toFile bool) (*slog.Logger, func() error, error) {
	lc := logging.DefaultConfig()
	lc.Level = cfg.Logging.Level
	if logLevel != "" {
		lc.Level = logLevel
	}
	lc.FilePath = cfg.Logging.File
	if lc.FilePath == "" && toFile {
		lc.FilePath = h.LogPath()
	}
	if cfg.Logging.MaxSizeMB > 0 {
		lc.MaxSizeMB = cfg.Logging.MaxSizeMB
	}
	if cfg.Logging.MaxBackups > 0 {
		lc.MaxBackups = cfg.Logging.MaxBackups
	}
	if cfg.Logging.MaxAgeDays > 0 {
		lc.MaxAgeDays = cfg.Logging.MaxAgeDays
	}
	lc.Compress = cfg.Logging.Compress
	return logging.Setup(lc)
}
