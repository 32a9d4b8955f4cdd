package main

import (
	"strconv"

	"github.com/spf13/cobra"

	_ "github.com/jackzampolin/labscan/docs/swagger"
	"github.com/jackzampolin/labscan/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the labscan server",
	Long: `Start the labscan HTTP server.

The server accepts lab report uploads and keeps its configuration in sync
with the config file, which is watched for changes.

The server provides:
  - /health          - Basic server health check
  - /ready           - Readiness check (provider registered, API key present)
  - /api/extract     - Multipart upload, returns exam records
  - /api/auth        - API key status and replacement
  - /api/llmcalls    - Recent model call history
  - /swagger         - OpenAPI documentation

Examples:
  labscan serve                    # Start on the configured port (default 8080)
  labscan serve --port 3000        # Start on custom port
  labscan serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cm, h, err := loadConfig()
		if err != nil {
			return err
		}
		if err := h.EnsureExists(); err != nil {
			return err
		}
		cfg := cm.Get()

		logger, closeLog, err := setupLogger(cfg, h, false)
		if err != nil {
			return err
		}
		defer closeLog()

		host := serveHost
		if host == "" {
			host = cfg.Server.Host
		}
		port := servePort
		if port == "" && cfg.Server.Port > 0 {
			port = strconv.Itoa(cfg.Server.Port)
		}

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			ConfigManager: cm,
			Home:          h,
			Logger:        logger,
		})
		if err != nil {
			return err
		}

		cm.WatchConfig()

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "Host to bind to (default from config, 127.0.0.1)")
	serveCmd.Flags().StringVar(&servePort, "port", "", "Port to listen on (default from config, 8080)")

	rootCmd.AddCommand(serveCmd)
}
