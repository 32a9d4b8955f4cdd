package api

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// OutputFormat defines the output format for CLI commands.
type OutputFormat string

const (
	OutputFormatYAML OutputFormat = "yaml"
	OutputFormatJSON OutputFormat = "json"
	// OutputFormatText prints command-specific human summaries.
	OutputFormatText OutputFormat = "text"
)

// DefaultOutput is the default output format.
var DefaultOutput OutputFormat = OutputFormatYAML

// globalOutputFormat is set by the root command's --output flag.
var globalOutputFormat OutputFormat = OutputFormatYAML

// SetOutputFormat sets the global output format.
func SetOutputFormat(format string) error {
	switch OutputFormat(strings.ToLower(format)) {
	case OutputFormatJSON:
		globalOutputFormat = OutputFormatJSON
	case OutputFormatYAML:
		globalOutputFormat = OutputFormatYAML
	case OutputFormatText:
		globalOutputFormat = OutputFormatText
	case "":
		globalOutputFormat = DefaultOutput
	default:
		return fmt.Errorf("unknown output format %q (want yaml, json or text)", format)
	}
	return nil
}

// GetOutputFormat returns the current global output format.
func GetOutputFormat() OutputFormat {
	return globalOutputFormat
}

// Output writes data to stdout in the configured format.
func Output(data any) error {
	return OutputTo(os.Stdout, globalOutputFormat, data)
}

// OutputTo writes data to the given writer in the specified format. Text
// falls back to YAML for commands without a summary of their own.
func OutputTo(w io.Writer, format OutputFormat, data any) error {
	switch format {
	case OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case OutputFormatYAML, OutputFormatText:
		node, err := toYAMLNode(data)
		if err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(node)
	default:
		return fmt.Errorf("unknown output format: %s", format)
	}
}

// OutputToFile writes data to path, choosing JSON for .json files and YAML otherwise.
func OutputToFile(data any, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	format := OutputFormatYAML
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = OutputFormatJSON
	}
	return OutputTo(f, format, data)
}

// IsStructuredOutput returns true if the output format is structured (JSON/YAML).
// Commands print human-friendly summaries only when this is false.
func IsStructuredOutput() bool {
	return globalOutputFormat == OutputFormatJSON || globalOutputFormat == OutputFormatYAML
}

// toYAMLNode converts data through its JSON form so YAML output uses the
// same field names and order as the HTTP API.
func toYAMLNode(data any) (*yaml.Node, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to convert output: %w", err)
	}
	blockStyle(&doc)
	return &doc, nil
}

// blockStyle clears the flow and quoting styles inherited from JSON syntax.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
