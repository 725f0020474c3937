package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// PDFContentType is the MIME type produced by RenderPDF.
const PDFContentType = "application/pdf"

const pdfBodyWidth = 277.0

// RenderPDF draws the table on landscape A4 pages, repeating the header row
// on every page.
func RenderPDF(t Table) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 12, 10)
	pdf.SetAutoPageBreak(true, 12)
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	widths := columnWidths(t.Columns)
	header := func() {
		pdf.SetFont("Arial", "B", 9)
		for i, col := range t.Columns {
			pdf.CellFormat(widths[i], 7, tr(col.Title), "1", 0, "C", false, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
	}

	pdf.SetHeaderFunc(func() {
		if t.Title != "" {
			pdf.SetFont("Arial", "B", 12)
			pdf.CellFormat(0, 8, tr(t.Title), "", 1, "L", false, 0, "")
		}
		header()
	})
	pdf.AddPage()

	for _, row := range t.Rows {
		for i, value := range t.record(row) {
			pdf.CellFormat(widths[i], 6, tr(value), "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func columnWidths(cols []Column) []float64 {
	total := 0.0
	for _, col := range cols {
		total += weight(col)
	}
	widths := make([]float64, len(cols))
	for i, col := range cols {
		widths[i] = pdfBodyWidth * weight(col) / total
	}
	return widths
}

func weight(col Column) float64 {
	if col.Width <= 0 {
		return 1
	}
	return col.Width
}
