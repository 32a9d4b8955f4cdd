package mcp

import (
	"context"
	"fmt"
	"strings"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/jackzampolin/labscan/internal/document"
	"github.com/jackzampolin/labscan/internal/export"
	"github.com/jackzampolin/labscan/internal/extract"
)

// Error codes for tool failures that are not extraction kinds.
const (
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeIO           = "IO_ERROR"
)

// CodedError is returned from tool handlers; the SDK reports it to the
// client as a tool error.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CodedError) Unwrap() error {
	return e.Cause
}

func invalidInput(format string, args ...any) error {
	return &CodedError{Code: ErrCodeInvalidInput, Message: fmt.Sprintf(format, args...)}
}

// wrapExtractError keeps the extraction kind as the code and the
// user-facing message as the text.
func wrapExtractError(err error) error {
	kind := extract.KindOf(err)
	if kind == "" {
		return &CodedError{Code: ErrCodeIO, Message: "extraction failed", Cause: err}
	}
	return &CodedError{Code: string(kind), Message: extract.UserMessage(err), Cause: err}
}

// Record is one extracted measurement.
type Record struct {
	Parameter string `json:"parameter" jsonschema:"exam name as printed in the report"`
	Value     string `json:"value" jsonschema:"measured value"`
	Unit      string `json:"unit" jsonschema:"unit of measure, empty when absent"`
}

func toRecords(results []extract.ExamResult) []Record {
	out := make([]Record, 0, len(results))
	for _, r := range results {
		out = append(out, Record{Parameter: r.Parameter, Value: r.Value, Unit: r.Unit})
	}
	return out
}

// ExtractInput is the input for extract_lab_report.
type ExtractInput struct {
	Path         string `json:"path" jsonschema:"path to an image or PDF lab report"`
	Mode         string `json:"mode,omitempty" jsonschema:"prompt variant: schema or lines (default from server configuration)"`
	IncludeUnits *bool  `json:"include_units,omitempty" jsonschema:"request units in schema mode (default true)"`
	XLSXPath     string `json:"xlsx_path,omitempty" jsonschema:"also write the results to this XLSX file"`
}

// ExtractOutput is the output for extract_lab_report.
type ExtractOutput struct {
	Results   []Record `json:"results"`
	RawText   string   `json:"raw_text"`
	Outcome   string   `json:"outcome"`
	Mode      string   `json:"mode"`
	Provider  string   `json:"provider"`
	Model     string   `json:"model"`
	RequestID string   `json:"request_id"`
	Cached    bool     `json:"cached"`
	XLSXPath  string   `json:"xlsx_path,omitempty"`
}

// ParseInput is the input for parse_lab_output.
type ParseInput struct {
	Text string `json:"text" jsonschema:"raw model output to parse"`
	Mode string `json:"mode,omitempty" jsonschema:"parser variant: schema (default) or lines"`
}

// ParseOutput is the output for parse_lab_output.
type ParseOutput struct {
	Results []Record `json:"results"`
	RawText string   `json:"raw_text"`
	Outcome string   `json:"outcome"`
}

// Register registers all tools with the MCP server.
func Register(srv *sdkmcp.Server, d *Deps) {
	sdkmcp.AddTool(srv, &sdkmcp.Tool{
		Name: "extract_lab_report",
		Description: "Extract exam names, values and units from a lab report image or PDF on disk. " +
			"Returns one record per exam in document order. Never returns reference ranges or diagnoses.",
	}, ToolExtract(d))

	sdkmcp.AddTool(srv, &sdkmcp.Tool{
		Name: "parse_lab_output",
		Description: "Parse raw model output into exam records without calling a model. " +
			"Schema mode accepts JSON (optionally fenced or wrapped in prose) and salvages truncated output; " +
			"lines mode parses \"Name: Value\" lines.",
	}, ToolParse())
}

// ToolExtract runs an extraction on a file.
func ToolExtract(d *Deps) func(ctx context.Context, req *sdkmcp.CallToolRequest, input ExtractInput) (*sdkmcp.CallToolResult, ExtractOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input ExtractInput) (*sdkmcp.CallToolResult, ExtractOutput, error) {
		if strings.TrimSpace(input.Path) == "" {
			return nil, ExtractOutput{}, invalidInput("path is required")
		}
		var opts []extract.Option
		if input.Mode != "" {
			mode, err := extract.ParseMode(input.Mode)
			if err != nil {
				return nil, ExtractOutput{}, invalidInput("mode must be schema or lines, got %q", input.Mode)
			}
			opts = append(opts, extract.WithMode(mode))
		}

		// Fail before touching the file when no key is configured.
		if _, err := d.Extractor.Credentials().Key(); err != nil {
			return nil, ExtractOutput{}, wrapExtractError(err)
		}

		doc, err := document.Open(input.Path)
		if err != nil {
			return nil, ExtractOutput{}, &CodedError{Code: ErrCodeIO, Message: "cannot read " + input.Path, Cause: err}
		}
		if err := document.Accept(doc); err != nil {
			return nil, ExtractOutput{}, &CodedError{Code: string(extract.KindInvalidDocument), Message: "only images and PDFs are accepted", Cause: err}
		}
		if err := document.CheckSize(doc.Size, d.MaxBytes); err != nil {
			return nil, ExtractOutput{}, &CodedError{Code: string(extract.KindInvalidDocument), Message: "document too large", Cause: err}
		}

		if input.IncludeUnits != nil {
			opts = append(opts, extract.WithUnits(*input.IncludeUnits))
		}

		resp, err := d.Extractor.Extract(ctx, doc, opts...)
		if err != nil {
			return nil, ExtractOutput{}, wrapExtractError(err)
		}

		out := ExtractOutput{
			Results:   toRecords(resp.Results),
			RawText:   resp.RawText,
			Outcome:   string(resp.Meta.Outcome),
			Mode:      string(resp.Meta.Mode),
			Provider:  resp.Meta.Provider,
			Model:     resp.Meta.Model,
			RequestID: resp.Meta.RequestID,
			Cached:    resp.Meta.Cached,
		}
		if input.XLSXPath != "" {
			if err := export.WriteFile(input.XLSXPath, resp); err != nil {
				return nil, ExtractOutput{}, &CodedError{Code: ErrCodeIO, Message: "failed to write " + input.XLSXPath, Cause: err}
			}
			out.XLSXPath = input.XLSXPath
		}
		return nil, out, nil
	}
}

// ToolParse parses model output offline.
func ToolParse() func(ctx context.Context, req *sdkmcp.CallToolRequest, input ParseInput) (*sdkmcp.CallToolResult, ParseOutput, error) {
	return func(ctx context.Context, req *sdkmcp.CallToolRequest, input ParseInput) (*sdkmcp.CallToolResult, ParseOutput, error) {
		mode, err := extract.ParseMode(input.Mode)
		if err != nil {
			return nil, ParseOutput{}, invalidInput("mode must be schema or lines, got %q", input.Mode)
		}

		if mode == extract.ModeLines {
			results := extract.ParseLines(input.Text)
			return nil, ParseOutput{
				Results: toRecords(results),
				RawText: input.Text,
				Outcome: string(extract.OutcomeLines),
			}, nil
		}

		if strings.TrimSpace(input.Text) == "" {
			return nil, ParseOutput{}, invalidInput("text is required")
		}
		results, outcome, err := extract.ParseStructured(input.Text)
		if err != nil {
			return nil, ParseOutput{}, wrapExtractError(err)
		}
		return nil, ParseOutput{
			Results: toRecords(results),
			RawText: extract.RenderRawText(results),
			Outcome: string(outcome),
		}, nil
	}
}
