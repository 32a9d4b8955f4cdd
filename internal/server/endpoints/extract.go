package endpoints

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jackzampolin/labscan/internal/api"
	"github.com/jackzampolin/labscan/internal/document"
	"github.com/jackzampolin/labscan/internal/export"
	"github.com/jackzampolin/labscan/internal/extract"
	"github.com/jackzampolin/labscan/internal/svcctx"
)

// multipartOverhead is allowed on top of the document limit for form
// boundaries and fields.
const multipartOverhead = 1 << 20

// ExtractEndpoint handles POST /api/extract.
type ExtractEndpoint struct{}

func (e *ExtractEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/extract", e.handler
}

func (e *ExtractEndpoint) RequiresInit() bool { return true }

// handler godoc
//
//	@Summary		Extract lab results
//	@Description	Upload an image or PDF lab report and extract parameter/value/unit records
//	@Tags			extract
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file		formData	file	true	"Lab report (image/* or .pdf)"
//	@Param			mode		formData	string	false	"Prompt variant: schema or lines"
//	@Param			units		formData	bool	false	"Request units (schema mode)"
//	@Param			provider	formData	string	false	"Provider override"
//	@Param			model		formData	string	false	"Model override"
//	@Success		200			{object}	extract.ExtractionResponse
//	@Failure		400			{object}	ErrorResponse
//	@Failure		401			{object}	ErrorResponse
//	@Failure		413			{object}	ErrorResponse
//	@Failure		415			{object}	ErrorResponse
//	@Failure		422			{object}	ErrorResponse
//	@Failure		502			{object}	ErrorResponse
//	@Router			/api/extract [post]
func (e *ExtractEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	extractor := svcctx.ExtractorFrom(r.Context())
	if extractor == nil {
		writeError(w, http.StatusServiceUnavailable, "extractor not initialized")
		return
	}

	// Fail before reading the upload when no key is configured.
	if _, err := extractor.Credentials().Key(); err != nil {
		writeExtractError(w, err)
		return
	}

	maxBytes := svcctx.MaxUploadBytesFrom(r.Context())
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeDocumentError(w, http.StatusRequestEntityTooLarge,
				fmt.Errorf("%w: limit is %d bytes", document.ErrTooLarge, maxBytes))
			return
		}
		writeDocumentError(w, http.StatusBadRequest, fmt.Errorf("multipart form with a \"file\" field required: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeDocumentError(w, http.StatusBadRequest, fmt.Errorf("missing \"file\" field: %w", err))
		return
	}
	defer file.Close()

	if err := document.CheckSize(header.Size, maxBytes); err != nil {
		writeDocumentError(w, http.StatusRequestEntityTooLarge, err)
		return
	}

	doc, err := document.Read(header.Filename, file, header.Header.Get("Content-Type"))
	if err != nil {
		writeDocumentError(w, http.StatusBadRequest, err)
		return
	}
	if err := document.Accept(doc); err != nil {
		writeDocumentError(w, http.StatusUnsupportedMediaType, err)
		return
	}

	opts, err := extractOptions(r)
	if err != nil {
		writeExtractError(w, err)
		return
	}

	resp, err := extractor.Extract(r.Context(), doc, opts...)
	if err != nil {
		writeExtractError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// extractOptions reads mode, units, provider and model from the form or query.
func extractOptions(r *http.Request) ([]extract.Option, error) {
	var opts []extract.Option

	if v := r.FormValue("mode"); v != "" {
		mode, err := extract.ParseMode(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, extract.WithMode(mode))
	}
	if v := r.FormValue("units"); v != "" {
		include, err := strconv.ParseBool(v)
		if err != nil {
			return nil, &extract.Error{Kind: extract.KindInvalidDocument, Message: fmt.Sprintf("invalid units: %q must be true or false", v)}
		}
		opts = append(opts, extract.WithUnits(include))
	}
	opts = append(opts,
		extract.WithProvider(r.FormValue("provider")),
		extract.WithModel(r.FormValue("model")),
	)
	return opts, nil
}

// statusForKind maps extraction error kinds to HTTP status codes.
func statusForKind(kind extract.Kind) int {
	switch kind {
	case extract.KindAPIKeyMissing, extract.KindAuthRequired:
		return http.StatusUnauthorized
	case extract.KindInvalidDocument:
		return http.StatusBadRequest
	case extract.KindUnprocessable:
		return http.StatusUnprocessableEntity
	case extract.KindRemote:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeExtractError(w http.ResponseWriter, err error) {
	kind := extract.KindOf(err)
	writeJSON(w, statusForKind(kind), ErrorResponse{
		Error:   err.Error(),
		Code:    string(kind),
		Message: extract.UserMessage(err),
	})
}

func writeDocumentError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Code:    string(extract.KindInvalidDocument),
		Message: err.Error(),
	})
}

func (e *ExtractEndpoint) Command(getServerURL func() string) *cobra.Command {
	var mode, provider, model, xlsxPath string
	var units bool

	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Upload a lab report to the server for extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := args[0]

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("failed to open %s: %w", path, err)
			}
			defer f.Close()

			fields := map[string]string{}
			if mode != "" {
				fields["mode"] = mode
			}
			if cmd.Flags().Changed("units") {
				fields["units"] = strconv.FormatBool(units)
			}
			if provider != "" {
				fields["provider"] = provider
			}
			if model != "" {
				fields["model"] = model
			}

			client := api.NewClient(getServerURL())
			var resp extract.ExtractionResponse
			if err := client.PostFile(ctx, "/api/extract", filepath.Base(path), f, fields, &resp); err != nil {
				return err
			}

			if xlsxPath != "" {
				if err := export.WriteFile(xlsxPath, &resp); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", xlsxPath)
			}
			if !api.IsStructuredOutput() {
				fmt.Fprintln(cmd.OutOrStdout(), resp.RawText)
				return nil
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().StringVar(&mode, "mode", "", "Prompt variant: schema or lines")
	cmd.Flags().BoolVar(&units, "units", true, "Request units (schema mode)")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider override")
	cmd.Flags().StringVar(&model, "model", "", "Model override")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Also write the results to this XLSX file")
	return cmd
}
