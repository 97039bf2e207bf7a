package artifacts

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/terrafield-labs/featureline/internal/catalog"
	"github.com/terrafield-labs/featureline/internal/domain"
)

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func encodeSnapshot(w io.Writer, format Format, snap *domain.Snapshot) (string, int64, error) {
	hash := sha256.New()
	counter := &countingWriter{w: io.MultiWriter(w, hash)}

	var err error
	switch format {
	case FormatCSV:
		err = encodeCSV(counter, snap)
	case FormatXLSX:
		err = encodeXLSX(counter, snap)
	default:
		err = fmt.Errorf("unsupported artifact format %q", format)
	}
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(hash.Sum(nil)), counter.n, nil
}

func encodeCSV(w io.Writer, snap *domain.Snapshot) error {
	writer := csv.NewWriter(w)
	schema := snap.Schema()
	if err := writer.Write(schema.Names()); err != nil {
		return err
	}
	record := make([]string, len(schema))
	for row := 0; row < snap.RowCount(); row++ {
		for i, col := range schema {
			values, _ := snap.Column(col.Name)
			record[i] = encodeCell(values[row])
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func encodeXLSX(w io.Writer, snap *domain.Snapshot) error {
	file := excelize.NewFile()
	defer func() { _ = file.Close() }()

	const sheet = "Sheet1"
	schema := snap.Schema()
	header := make([]any, len(schema))
	for i, col := range schema {
		header[i] = col.Name
	}
	if err := file.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}
	record := make([]any, len(schema))
	for row := 0; row < snap.RowCount(); row++ {
		for i, col := range schema {
			values, _ := snap.Column(col.Name)
			record[i] = encodeCell(values[row])
		}
		cell, err := excelize.CoordinatesToCellName(1, row+2)
		if err != nil {
			return err
		}
		if err := file.SetSheetRow(sheet, cell, &record); err != nil {
			return err
		}
	}
	return file.Write(w)
}

// encodeCell renders a value the same way the fingerprint canonicalizes it,
// so byte-identical inputs produce byte-identical artifacts.
func encodeCell(v any) string {
	switch tv := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(tv, 10)
	case float64:
		return strconv.FormatFloat(tv, 'g', -1, 64)
	case string:
		return tv
	case time.Time:
		return tv.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprintf("%v", tv)
	}
}

func decodeArtifact(version, path string, format Format) (*domain.Snapshot, error) {
	switch format {
	case FormatCSV:
		file, err := os.Open(path)
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.NewFailure(domain.FailureMissingInput, "artifact for %q not found at %s", version, path)
		}
		if err != nil {
			return nil, fmt.Errorf("open artifact %q: %w", version, err)
		}
		defer func() { _ = file.Close() }()
		return catalog.ReadCSV(version, file)
	case FormatXLSX:
		return decodeXLSX(version, path)
	default:
		return nil, fmt.Errorf("unsupported artifact format %q", format)
	}
}

func decodeXLSX(version, path string) (*domain.Snapshot, error) {
	file, err := excelize.OpenFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, domain.NewFailure(domain.FailureMissingInput, "artifact for %q not found at %s", version, path)
	}
	if err != nil {
		return nil, fmt.Errorf("open artifact %q: %w", version, err)
	}
	defer func() { _ = file.Close() }()

	rows, err := file.GetRows("Sheet1")
	if err != nil {
		return nil, fmt.Errorf("read artifact %q: %w", version, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("artifact %q is empty", version)
	}
	header := rows[0]
	raw := make([][]string, len(header))
	for _, row := range rows[1:] {
		for i := range header {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			raw[i] = append(raw[i], cell)
		}
	}
	return catalog.FromColumns(version, header, raw)
}
