package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PDFExporter renders tables into a simple A4 portrait document.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a PDF document with a title, an optional subtitle and
// the table body. Column widths follow Column.Weight; columns with a
// zero weight share the remaining width equally.
func (e *PDFExporter) Render(table Table, title, subtitle string) ([]byte, error) {
	if len(table.Columns) == 0 {
		return nil, fmt.Errorf("pdf requires at least one column")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 9, title, "", 1, "C", false, 0, "")
	}
	if subtitle != "" {
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 6, subtitle, "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	widths := columnWidths(table.Columns, 190.0)

	pdf.SetFont("Arial", "B", 10)
	pdf.SetFillColor(230, 230, 230)
	for i, col := range table.Columns {
		pdf.CellFormat(widths[i], 8, col.Title, "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 9)
	for _, row := range table.Rows {
		for i, col := range table.Columns {
			pdf.CellFormat(widths[i], 7, row[col.Key], "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	if len(table.Summary) > 0 {
		pdf.Ln(4)
		for _, line := range table.Summary {
			pdf.SetFont("Arial", "B", 10)
			pdf.CellFormat(60, 7, line[0], "", 0, "", false, 0, "")
			pdf.SetFont("Arial", "", 10)
			pdf.CellFormat(0, 7, line[1], "", 1, "", false, 0, "")
		}
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidths(columns []Column, total float64) []float64 {
	widths := make([]float64, len(columns))
	var weighted float64
	unweighted := 0
	for _, col := range columns {
		if col.Weight > 0 {
			weighted += col.Weight
		} else {
			unweighted++
		}
	}
	if weighted <= 0 {
		for i := range widths {
			widths[i] = total / float64(len(columns))
		}
		return widths
	}
	// Weighted columns split the total proportionally; the remainder is
	// shared by the unweighted ones.
	scale := total
	if unweighted > 0 {
		scale = total * weighted / (weighted + float64(unweighted))
	}
	rest := total - scale
	for i, col := range columns {
		if col.Weight > 0 {
			widths[i] = scale * col.Weight / weighted
		} else {
			widths[i] = rest / float64(unweighted)
		}
	}
	return widths
}
