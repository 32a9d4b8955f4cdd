package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/labscan/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve extraction tools over the Model Context Protocol (stdio)",
	Long: `Run an MCP server on stdin/stdout exposing:
  - extract_lab_report  Extract exam records from an image or PDF on disk
  - parse_lab_output    Parse raw model output without calling a model

Logs go to the configured log file, or ~/.labscan/logs/labscan.log, never
to stdout.

Example client configuration:
  {"command": "labscan", "args": ["mcp"]}`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cm, h, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := cm.Get()
		logger, closeLog, err := setupLogger(cfg, h, true)
		if err != nil {
			return err
		}
		defer closeLog()

		extractor, err := newExtractor(cfg, logger)
		if err != nil {
			return err
		}

		srv, err := mcp.NewServer(&mcp.Deps{
			Extractor: extractor,
			MaxBytes:  cfg.MaxUploadBytes(),
			Logger:    logger,
		})
		if err != nil {
			return err
		}

		logger.Info("mcp server starting", "provider", extractor.Options().Provider)
		return srv.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
