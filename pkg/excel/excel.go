package excel

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"
)

// ContentType is the MIME type declared on xlsx downloads.
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Extension is the only accepted upload extension.
const Extension = ".xlsx"

const dateNumFmt = "yyyy-mm-dd"

// Sheet defines tabular spreadsheet content. Row cells keep their native
// types: time.Time values become date cells, numbers stay numeric.
type Sheet struct {
	Headers []string
	Rows    [][]interface{}
}

// Write renders the sheet into xlsx bytes.
func Write(sheet Sheet) ([]byte, error) {
	if len(sheet.Headers) == 0 {
		return nil, fmt.Errorf("sheet requires at least one header")
	}

	f := excelize.NewFile()
	defer f.Close()
	name := f.GetSheetName(0)

	dateFmt := dateNumFmt
	dateStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &dateFmt})
	if err != nil {
		return nil, fmt.Errorf("create date style: %w", err)
	}

	headers := make([]interface{}, len(sheet.Headers))
	for i, h := range sheet.Headers {
		headers[i] = h
	}
	if err := f.SetSheetRow(name, "A1", &headers); err != nil {
		return nil, fmt.Errorf("write headers: %w", err)
	}

	for i, row := range sheet.Rows {
		for j, value := range row {
			axis, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return nil, fmt.Errorf("resolve cell: %w", err)
			}
			if err := f.SetCellValue(name, axis, value); err != nil {
				return nil, fmt.Errorf("write cell %s: %w", axis, err)
			}
			if _, ok := value.(time.Time); ok {
				if err := f.SetCellStyle(name, axis, axis, dateStyle); err != nil {
					return nil, fmt.Errorf("style cell %s: %w", axis, err)
				}
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("render workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// Read loads the active sheet of an xlsx stream into string rows. Trailing
// empty cells are padded so every row spans at least width columns.
func Read(r io.Reader, width int) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(f.GetActiveSheetIndex()))
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	for i, row := range rows {
		for len(row) < width {
			row = append(row, "")
		}
		rows[i] = row
	}
	return rows, nil
}

// ParseDate interprets a cell value as a calendar date. It accepts the
// formats the workbook writer emits plus raw Excel serial values.
func ParseDate(raw string) (time.Time, error) {
	layouts := []string{"2006-01-02", "2006/01/02", "01-02-06", "1/2/06", "2006-01-02 15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	var serial float64
	if _, err := fmt.Sscanf(raw, "%f", &serial); err == nil {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date value %q", raw)
}
