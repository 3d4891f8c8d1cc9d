// Package names reads the ordered list of faction names a pass works on,
// from plain text, CSV or XLSX exports.
package names

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
)

// ErrEmptyInput is returned when the input yields no names.
var ErrEmptyInput = errors.New("no names found in input")

// Options configures how names are pulled from tabular inputs.
type Options struct {
	// Column selects the column holding names by header text (case
	// insensitive). When set, the first row is treated as a header. When
	// empty, the first column of every row is used.
	Column string
	// SheetName picks an XLSX sheet; the first sheet is used when empty.
	SheetName string
}

// Read loads names from path, dispatching on the file extension. Order is
// preserved and duplicates are kept; blank entries are dropped.
func Read(path string, opts Options) ([]string, error) {
	var (
		out []string
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		out, err = readCSVFile(path, opts)
	case ".xlsx":
		out, err = readXLSX(path, opts)
	default:
		out, err = readTextFile(path)
	}
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, eris.Wrapf(ErrEmptyInput, "names: %s", path)
	}
	return out, nil
}

func readTextFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "names: open file")
	}
	defer f.Close() //nolint:errcheck
	return ReadText(f)
}

// ReadText reads one name per line, trimming whitespace and a leading
// UTF-8 byte order mark.
func ReadText(r io.Reader) ([]string, error) {
	var out []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	first := true
	for sc.Scan() {
		line := sc.Text()
		if first {
			line = strings.TrimPrefix(line, "\uFEFF")
			first = false
		}
		if name := strings.TrimSpace(line); name != "" {
			out = append(out, name)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "names: read lines")
	}
	return out, nil
}

func readCSVFile(path string, opts Options) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "names: open file")
	}
	defer f.Close() //nolint:errcheck

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "names: read csv row")
		}
		rows = append(rows, record)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\uFEFF")
	}
	return pickColumn(rows, opts.Column)
}

func readXLSX(path string, opts Options) ([]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "names: open xlsx")
	}

	sheet, err := getSheet(f, opts.SheetName)
	if err != nil {
		return nil, err
	}

	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		if row == nil {
			continue
		}
		rows = append(rows, rowToStrings(row))
	}
	return pickColumn(rows, opts.Column)
}

func getSheet(f *xlsx.File, name string) (*xlsx.Sheet, error) {
	if name != "" {
		sheet, ok := f.Sheet[name]
		if !ok {
			return nil, eris.Errorf("names: sheet %q not found", name)
		}
		return sheet, nil
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("names: workbook has no sheets")
	}
	return f.Sheets[0], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// pickColumn extracts the name column from tabular rows. With a column
// header it locates the column in the first row and skips that row.
func pickColumn(rows [][]string, column string) ([]string, error) {
	col := 0
	start := 0
	if column != "" {
		if len(rows) == 0 {
			return nil, nil
		}
		col = -1
		for i, h := range rows[0] {
			if strings.EqualFold(strings.TrimSpace(h), column) {
				col = i
				break
			}
		}
		if col < 0 {
			return nil, eris.Errorf("names: column %q not found in header", column)
		}
		start = 1
	}

	var out []string
	for _, row := range rows[start:] {
		if col >= len(row) {
			continue
		}
		// Multi-line cells would break the line-oriented output log.
		name := strings.TrimSpace(lineBreaks.Replace(row[col]))
		if name != "" {
			out = append(out, name)
		}
	}
	return out, nil
}
