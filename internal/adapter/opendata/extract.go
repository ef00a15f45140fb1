package opendata

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"golang.org/x/text/encoding/traditionalchinese"

	"github.com/couchcryptid/prtr-penalty-etl/internal/domain"
)

// ErrDecode marks bodies that are neither a readable ZIP archive nor JSON
// holding a record array.
var ErrDecode = errors.New("decode failed")

var (
	zipMagic = []byte("PK")
	utf8BOM  = "\ufeff"

	// recordPaths are tried in order; the body itself is the last resort.
	recordPaths = []string{"Result.Data", "data"}
)

// Extract turns a response body into records. ZIP archives (by content type
// or "PK" signature) are read as a set of CSV files; anything else is JSON.
func Extract(body []byte, contentType string, logger *slog.Logger) ([]domain.RawRecord, error) {
	if isZip(body, contentType) {
		return extractZip(body, logger)
	}
	return extractJSON(body)
}

// IsArchive reports whether the response carries a ZIP archive rather than
// a JSON page.
func (r Response) IsArchive() bool {
	return isZip(r.Body, r.ContentType)
}

func isZip(body []byte, contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "zip") || bytes.HasPrefix(body, zipMagic)
}

func extractJSON(body []byte) ([]domain.RawRecord, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: body is not valid JSON", ErrDecode)
	}

	var list gjson.Result
	for _, p := range recordPaths {
		if r := gjson.GetBytes(body, p); r.IsArray() {
			list = r
			break
		}
	}
	if !list.Exists() {
		if r := gjson.ParseBytes(body); r.IsArray() {
			list = r
		}
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("%w: no record array at Result.Data, data or top level", ErrDecode)
	}

	records := make([]domain.RawRecord, 0, len(list.Array()))
	list.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		rec := make(domain.RawRecord)
		item.ForEach(func(k, v gjson.Result) bool {
			rec[k.String()] = scalarText(v)
			return true
		})
		records = append(records, rec)
		return true
	})
	return records, nil
}

// scalarText renders a JSON value as text: numbers keep their literal form,
// null becomes empty and nested values keep their raw JSON.
func scalarText(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.JSON:
		return v.Raw
	default:
		return v.String()
	}
}

func extractZip(body []byte, logger *slog.Logger) ([]domain.RawRecord, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("%w: open archive: %w", ErrDecode, err)
	}

	var records []domain.RawRecord
	for _, f := range zr.File {
		if !strings.EqualFold(path.Ext(f.Name), ".csv") {
			continue
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %w", ErrDecode, f.Name, err)
		}
		recs, err := parseCSV(data, f.Name, logger)
		if err != nil {
			return nil, fmt.Errorf("%w: parse %s: %w", ErrDecode, f.Name, err)
		}
		records = append(records, recs...)
	}
	return records, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// parseCSV reads a header line and data lines. Rows whose field count differs
// from the header's are dropped with a warning.
func parseCSV(data []byte, name string, logger *slog.Logger) ([]domain.RawRecord, error) {
	if !utf8.Valid(data) {
		decoded, err := traditionalchinese.Big5.NewDecoder().Bytes(data)
		if err != nil {
			return nil, fmt.Errorf("decode big5: %w", err)
		}
		data = decoded
	}

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var header []string
	var records []domain.RawRecord
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if isBlankRow(row) {
			continue
		}

		if header == nil {
			row[0] = strings.TrimPrefix(row[0], utf8BOM)
			header = make([]string, len(row))
			for i, h := range row {
				header[i] = strings.TrimSpace(h)
			}
			continue
		}

		if len(row) != len(header) {
			line, _ := r.FieldPos(0)
			logger.Warn("skipping csv row with mismatched field count",
				"entry", name,
				"line", line,
				"fields", len(row),
				"expected", len(header),
			)
			continue
		}

		rec := make(domain.RawRecord, len(header))
		for i, h := range header {
			rec[h] = row[i]
		}
		records = append(records, rec)
	}
	return records, nil
}

func isBlankRow(row []string) bool {
	for _, f := range row {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
