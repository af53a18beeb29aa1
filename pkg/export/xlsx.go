// Package export writes flattened records to a single-sheet xlsx workbook.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"unicode/utf8"

	"github.com/Sternrassler/kobo-export/pkg/flatten"
	"github.com/Sternrassler/kobo-export/pkg/jsonvalue"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// SheetName is the name of the only sheet in the workbook.
const SheetName = "Sheet1"

var (
	// ErrNoRecords is returned when there is nothing to export.
	ErrNoRecords = errors.New("no records to export")

	// ErrCellTooLong is returned when a value exceeds the xlsx cell limit of
	// excelize.TotalCellChars characters. The workbook is not written.
	ErrCellTooLong = errors.New("cell value exceeds xlsx character limit")
)

var rowsWritten = promauto.NewCounter(prometheus.CounterOpts{
	Name: "kobo_export_rows_written_total",
	Help: "Total data rows written to the workbook",
})

// Exporter handles exporting flat records to an xlsx file.
type Exporter struct {
	path string
}

// New creates a new xlsx exporter writing to path.
func New(path string) *Exporter {
	return &Exporter{path: path}
}

// Path returns the output file path.
func (e *Exporter) Path() string {
	return e.path
}

// Export writes records as one header row plus one row per record. The file
// at the output path is replaced only when the whole workbook was written.
func (e *Exporter) Export(records []*flatten.Record) error {
	if len(records) == 0 {
		return ErrNoRecords
	}

	columns := Columns(records)

	tmp, err := os.CreateTemp(filepath.Dir(e.path), ".kobo-export-*.xlsx")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if err := writeWorkbook(tmp, columns, records); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync workbook: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close workbook: %w", err)
	}

	if err := os.Rename(tmpPath, e.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move workbook into place: %w", err)
	}

	rowsWritten.Add(float64(len(records)))
	log.Info().
		Str("path", e.path).
		Int("rows", len(records)).
		Int("columns", len(columns)).
		Msg("Workbook written")

	return nil
}

// writeWorkbook streams the sheet into w.
func writeWorkbook(w *os.File, columns []string, records []*flatten.Record) error {
	f := excelize.NewFile()
	defer f.Close()

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet writer: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	header := make([]interface{}, len(columns))
	for i, name := range columns {
		if err := checkCellLength(name, 1, name); err != nil {
			return err
		}
		header[i] = excelize.Cell{StyleID: headerStyle, Value: name}
	}
	if err := sw.SetRow("A1", header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for i, record := range records {
		row := make([]interface{}, len(columns))
		for j, name := range columns {
			if v, ok := record.Get(name); ok {
				value := cellValue(v)
				if err := checkCellLength(value, i+2, name); err != nil {
					return err
				}
				row[j] = value
			}
		}

		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to address row %d: %w", i+2, err)
		}
		if err := sw.SetRow(cell, row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	if err := sw.Flush(); err != nil {
		return fmt.Errorf("failed to flush sheet: %w", err)
	}

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	return nil
}

// checkCellLength rejects strings that excelize would silently truncate.
func checkCellLength(value interface{}, row int, column string) error {
	s, ok := value.(string)
	if !ok {
		return nil
	}
	if n := utf8.RuneCountInString(s); n > excelize.TotalCellChars {
		return fmt.Errorf("%w: row %d, column %q has %d characters (limit %d)",
			ErrCellTooLong, row, column, n, excelize.TotalCellChars)
	}
	return nil
}

// Columns returns the union of record keys in first-seen order.
func Columns(records []*flatten.Record) []string {
	seen := make(map[string]struct{})
	var columns []string

	for _, record := range records {
		for _, key := range record.Keys() {
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			columns = append(columns, key)
		}
	}

	return columns
}

// cellValue converts a scalar to the value stored in its cell. Null yields
// nil, which leaves the cell blank.
func cellValue(v jsonvalue.Value) interface{} {
	switch v.Kind() {
	case jsonvalue.KindNull:
		return nil
	case jsonvalue.KindBool:
		b, _ := v.AsBool()
		return b
	case jsonvalue.KindNumber:
		n, _ := v.AsNumber()
		if i, err := strconv.ParseInt(string(n), 10, 64); err == nil {
			return i
		}
		if fl, err := strconv.ParseFloat(string(n), 64); err == nil {
			return fl
		}
		return string(n)
	default:
		return v.Text()
	}
}
