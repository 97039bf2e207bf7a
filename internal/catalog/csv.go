package catalog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/terrafield-labs/featureline/internal/domain"
)

// DirProvider reads <root>/<name>.csv into a snapshot with inferred column
// types. Empty cells are absent values.
type DirProvider struct {
	root string
}

func NewDirProvider(root string) *DirProvider {
	return &DirProvider{root: root}
}

func (p *DirProvider) Load(ctx context.Context, name string) (*domain.Snapshot, error) {
	path := filepath.Join(p.root, name+".csv")
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.NewFailure(domain.FailureMissingInput, "dataset %q not found at %s", name, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open dataset %q: %w", name, err)
	}
	defer func() { _ = file.Close() }()
	return ReadCSV(name, file)
}

// ReadCSV decodes one CSV document into a snapshot. The column type is
// inferred from the values: a column is integer, float or timestamp only
// when every non-empty cell parses as such, otherwise string.
func ReadCSV(name string, r io.Reader) (*domain.Snapshot, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("dataset %q is empty", name)
	}
	if err != nil {
		return nil, fmt.Errorf("read header of %q: %w", name, err)
	}

	raw := make([][]string, len(header))
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", name, err)
		}
		for i := range header {
			cell := ""
			if i < len(record) {
				cell = record[i]
			}
			raw[i] = append(raw[i], cell)
		}
	}

	return FromColumns(name, header, raw)
}

// FromColumns builds a snapshot from column-major raw cells, inferring the
// semantic type per column. Shared by the CSV and XLSX decode paths.
func FromColumns(name string, header []string, raw [][]string) (*domain.Snapshot, error) {
	schema := make(domain.Schema, 0, len(header))
	columns := make(map[string][]any, len(header))
	for i, column := range header {
		column = strings.TrimSpace(column)
		colType := inferType(raw[i])
		values := make([]any, len(raw[i]))
		for row, cell := range raw[i] {
			v, err := parseCell(colType, cell)
			if err != nil {
				return nil, fmt.Errorf("dataset %q column %q row %d: %w", name, column, row, err)
			}
			values[row] = v
		}
		schema = append(schema, domain.ColumnSpec{Name: column, Type: colType})
		columns[column] = values
	}
	return domain.NewSnapshot(name, schema, columns)
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func inferType(cells []string) domain.ColumnType {
	isInt, isFloat, isTime := true, true, true
	seen := false
	for _, cell := range cells {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		seen = true
		if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
			isInt = false
		}
		if _, err := strconv.ParseFloat(cell, 64); err != nil {
			isFloat = false
		}
		if _, ok := parseTimestamp(cell); !ok {
			isTime = false
		}
	}
	switch {
	case !seen:
		return domain.ColumnString
	case isInt:
		return domain.ColumnInteger
	case isFloat:
		return domain.ColumnFloat
	case isTime:
		return domain.ColumnTimestamp
	default:
		return domain.ColumnString
	}
}

func parseCell(t domain.ColumnType, cell string) (any, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return nil, nil
	}
	switch t {
	case domain.ColumnInteger:
		return strconv.ParseInt(cell, 10, 64)
	case domain.ColumnFloat:
		return strconv.ParseFloat(cell, 64)
	case domain.ColumnTimestamp:
		ts, ok := parseTimestamp(cell)
		if !ok {
			return nil, fmt.Errorf("unparseable timestamp %q", cell)
		}
		return ts, nil
	default:
		return cell, nil
	}
}

func parseTimestamp(cell string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, cell); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}
