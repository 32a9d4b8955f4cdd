package api

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	RawText string   `json:"rawText"`
	Items   []string `json:"items"`
	Empty   string   `json:"empty,omitempty"`
}

func TestOutputTo_YAMLUsesJSONNames(t *testing.T) {
	var buf bytes.Buffer
	if err := OutputTo(&buf, OutputFormatYAML, sample{RawText: "Glicose: 95", Items: []string{"a", "b"}}); err != nil {
		t.Fatalf("OutputTo() error = %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "rawText: 'Glicose: 95'") {
		t.Errorf("expected json field name in yaml, got:\n%s", out)
	}
	if !strings.Contains(out, "items:\n  - a\n  - b") {
		t.Errorf("expected block sequence, got:\n%s", out)
	}
	if strings.Contains(out, "empty") {
		t.Errorf("omitempty field rendered:\n%s", out)
	}
}

func TestOutputTo_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := OutputTo(&buf, OutputFormatJSON, sample{RawText: "x"}); err != nil {
		t.Fatalf("OutputTo() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"rawText": "x"`) {
		t.Errorf("unexpected json output %s", buf.String())
	}
}

func TestSetOutputFormat(t *testing.T) {
	defer SetOutputFormat("yaml")

	if err := SetOutputFormat("JSON"); err != nil {
		t.Fatalf("SetOutputFormat() error = %v", err)
	}
	if GetOutputFormat() != OutputFormatJSON || !IsStructuredOutput() {
		t.Error("expected structured json output")
	}

	if err := SetOutputFormat("text"); err != nil {
		t.Fatalf("SetOutputFormat() error = %v", err)
	}
	if IsStructuredOutput() {
		t.Error("text output should not be structured")
	}

	if err := SetOutputFormat("xml"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestOutputToFile(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "out.json")
	if err := OutputToFile(sample{RawText: "x"}, jsonPath); err != nil {
		t.Fatalf("OutputToFile() error = %v", err)
	}
	data, _ := os.ReadFile(jsonPath)
	if !strings.HasPrefix(string(data), "{") {
		t.Errorf("expected json file, got %s", data)
	}
}
