// Package export writes extraction results to spreadsheets.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/xuri/excelize/v2"

	"github.com/jackzampolin/labscan/internal/extract"
)

const (
	// ResultsSheet holds one row per exam.
	ResultsSheet = "Exames"
	// MetaSheet holds provenance of the extraction.
	MetaSheet = "Detalhes"
)

// ResultsHeader is the first row of ResultsSheet.
var ResultsHeader = []string{"Parâmetro", "Valor", "Unidade"}

// XLSX renders resp as a workbook and returns its bytes.
func XLSX(resp *extract.ExtractionResponse) ([]byte, error) {
	if resp == nil {
		return nil, fmt.Errorf("nothing to export")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", ResultsSheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}
	for i, h := range ResultsHeader {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		_ = f.SetCellValue(ResultsSheet, cell, h)
	}

	for i, r := range resp.Results {
		row := i + 2
		write := func(col int, v any) {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			_ = f.SetCellValue(ResultsSheet, cell, v)
		}
		write(1, r.Parameter)
		write(2, r.Value)
		write(3, r.Unit)
	}

	_ = f.SetColWidth(ResultsSheet, "A", "A", 36) // parameter
	_ = f.SetColWidth(ResultsSheet, "B", "B", 16) // value
	_ = f.SetColWidth(ResultsSheet, "C", "C", 14) // unit
	_ = f.SetPanes(ResultsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})

	if err := writeMeta(f, resp.Meta); err != nil {
		return nil, err
	}

	idx, _ := f.GetSheetIndex(ResultsSheet)
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

func writeMeta(f *excelize.File, m extract.Metadata) error {
	if _, err := f.NewSheet(MetaSheet); err != nil {
		return fmt.Errorf("xlsx sheet: %w", err)
	}
	rows := [][2]string{
		{"Documento", m.Document},
		{"Tipo", m.MIMEType},
		{"SHA-256", m.SHA256},
		{"Páginas", strconv.Itoa(m.Pages)},
		{"Modo", string(m.Mode)},
		{"Resultado da análise", string(m.Outcome)},
		{"Provedor", m.Provider},
		{"Modelo", m.Model},
		{"Requisição", m.RequestID},
		{"Data", m.StartedAt.Format("2006-01-02 15:04:05")},
	}
	for i, kv := range rows {
		for j, v := range kv {
			cell, _ := excelize.CoordinatesToCellName(j+1, i+1)
			_ = f.SetCellValue(MetaSheet, cell, v)
		}
	}
	_ = f.SetColWidth(MetaSheet, "A", "A", 22)
	_ = f.SetColWidth(MetaSheet, "B", "B", 70)
	return nil
}

// WriteFile renders resp and writes it to path, creating parent directories.
func WriteFile(path string, resp *extract.ExtractionResponse) error {
	data, err := XLSX(resp)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
