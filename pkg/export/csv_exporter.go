package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// CSVContentType is the MIME type produced by RenderCSV.
const CSVContentType = "text/csv; charset=utf-8"

// utf8BOM lets spreadsheet apps detect UTF-8 for non-ASCII names.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// RenderCSV encodes the table with a header row of column titles.
func RenderCSV(t Table) ([]byte, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	buf := bytes.NewBuffer(append([]byte{}, utf8BOM...))
	writer := csv.NewWriter(buf)

	headers := make([]string, len(t.Columns))
	for i, col := range t.Columns {
		headers[i] = col.Title
	}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, row := range t.Rows {
		if err := writer.Write(t.record(row)); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}
