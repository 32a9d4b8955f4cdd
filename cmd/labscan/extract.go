package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jackzampolin/labscan/internal/api"
	"github.com/jackzampolin/labscan/internal/config"
	"github.com/jackzampolin/labscan/internal/document"
	"github.com/jackzampolin/labscan/internal/export"
	"github.com/jackzampolin/labscan/internal/extract"
	"github.com/jackzampolin/labscan/internal/providers"
)

var (
	extractMode     string
	extractUnits    bool
	extractProvider string
	extractModel    string
	extractXLSX     string
	extractExport   bool
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract exam results from a lab report without a server",
	Long: `Extract exam results from a local image or PDF.

The document is sent directly to the configured provider; no server is
needed. Text output prints one "Name: Value Unit" line per exam; use
-o json or -o yaml for the full response with metadata.

Examples:
  labscan extract laudo.pdf
  labscan extract hemograma.jpg --mode lines
  labscan extract laudo.pdf --export          # also write ~/.labscan/exports/laudo_<time>.xlsx
  labscan extract laudo.pdf --xlsx out.xlsx -o json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		path := args[0]

		cm, h, err := loadConfig()
		if err != nil {
			return err
		}
		cfg := cm.Get()
		logger, closeLog, err := setupLogger(cfg, h, false)
		if err != nil {
			return err
		}
		defer closeLog()

		extractor, err := newExtractor(cfg, logger)
		if err != nil {
			return err
		}

		var opts []extract.Option
		if extractMode != "" {
			mode, err := extract.ParseMode(extractMode)
			if err != nil {
				return err
			}
			opts = append(opts, extract.WithMode(mode))
		}
		if cmd.Flags().Changed("units") {
			opts = append(opts, extract.WithUnits(extractUnits))
		}
		if extractProvider != "" {
			opts = append(opts, extract.WithProvider(extractProvider))
		}
		if extractModel != "" {
			opts = append(opts, extract.WithModel(extractModel))
		}

		if _, err := extractor.Credentials().Key(); err != nil {
			return errors.New(extract.UserMessage(err))
		}

		doc, err := document.Open(path)
		if err != nil {
			return err
		}
		if err := document.Accept(doc); err != nil {
			return err
		}
		if err := document.CheckSize(doc.Size, cfg.MaxUploadBytes()); err != nil {
			return err
		}

		resp, err := extractor.Extract(ctx, doc, opts...)
		if err != nil {
			logger.Debug("extraction failed", "error", err)
			return errors.New(extract.UserMessage(err))
		}

		xlsxPath := extractXLSX
		if xlsxPath == "" && extractExport {
			if err := h.EnsureExists(); err != nil {
				return err
			}
			xlsxPath = h.ExportPath(path, time.Now())
		}
		if xlsxPath != "" {
			if err := export.WriteFile(xlsxPath, resp); err != nil {
				return err
			}
		}

		printSummary(cmd, resp, xlsxPath)
		if !api.IsStructuredOutput() {
			fmt.Fprintln(cmd.OutOrStdout(), resp.RawText)
			return nil
		}
		return api.Output(resp)
	},
}

// printSummary writes a one-line summary to stderr using Brazilian number
// formatting, matching the reports labscan reads.
func printSummary(cmd *cobra.Command, resp *extract.ExtractionResponse, xlsxPath string) {
	p := message.NewPrinter(language.BrazilianPortuguese)
	p.Fprintf(cmd.ErrOrStderr(), "%d exames extraídos de %s em %.1fs (%s, %s)\n",
		len(resp.Results), resp.Meta.Document, resp.Meta.Elapsed.Seconds(), resp.Meta.Provider, resp.Meta.Outcome)
	if xlsxPath != "" {
		p.Fprintf(cmd.ErrOrStderr(), "planilha gravada em %s\n", xlsxPath)
	}
}

// newExtractor builds a standalone extraction client from configuration.
func newExtractor(cfg *config.Config, logger *slog.Logger) (*extract.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	registry := providers.NewRegistry()
	registry.SetLogger(logger)
	registry.Reload(cfg.ToProviderRegistryConfig())

	return extract.NewClient(extract.Config{
		Resolver:    registry,
		Credentials: extract.NewCredentials(cfg.ActiveAPIKey(), "config"),
		Options:     cfg.ToExtractOptions(),
		Logger:      logger,
	})
}

func init() {
	extractCmd.Flags().StringVar(&extractMode, "mode", "", "Prompt variant: schema or lines (default from config)")
	extractCmd.Flags().BoolVar(&extractUnits, "units", true, "Request units (schema mode)")
	extractCmd.Flags().StringVar(&extractProvider, "provider", "", "Provider override")
	extractCmd.Flags().StringVar(&extractModel, "model", "", "Model override")
	extractCmd.Flags().StringVar(&extractXLSX, "xlsx", "", "Also write the results to this XLSX file")
	extractCmd.Flags().BoolVar(&extractExport, "export", false, "Write an XLSX file to the home exports directory")

	rootCmd.AddCommand(extractCmd)
}
