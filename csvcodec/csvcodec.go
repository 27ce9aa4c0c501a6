// Package csvcodec converts between CSV documents and record batches.
//
// The codec is a pure function over bytes: it performs no I/O and holds no
// state. Reading splits a document into raw rows tagged with their 1-based
// line number (the header is line 1); ParseRow converts one raw row into an
// import row and is safe to run concurrently across batch chunks. Writing
// emits the declared schema header followed by one row per record.
package csvcodec

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/c360/recordstream/errors"
	"github.com/c360/recordstream/record"
)

// Schema is the declared CSV field order for both import and export
var Schema = []string{"id", "name", "email", "age", "created_at", "updated_at"}

// RawRow is one unparsed CSV data row with its position in the document
type RawRow struct {
	Line   int // 1-based line number; the header is line 1
	Fields []string
}

// ImportRow is one parsed CSV row ready to be applied to the store
type ImportRow struct {
	Line      int
	ID        string
	Req       record.CreateRequest
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReadRaw parses a CSV document, validates the header against Schema, and
// returns the data rows unparsed. Structural CSV errors (wrong field count,
// bad quoting) are reported with their line number.
func ReadRaw(data []byte) ([]RawRow, error) {
	if len(data) == 0 {
		return nil, errors.WrapInvalid(errors.ErrEmptyPayload, "csvcodec", "ReadRaw", "read document")
	}

	r := csv.NewReader(bytes.NewReader(data))
	// Field-count enforcement happens per row in ParseRow so lenient imports
	// can report a bad row's line number and keep going.
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, errors.WrapInvalid(err, "csvcodec", "ReadRaw", "read header")
	}
	// Exact header match: extra columns fail here with a header error
	// instead of failing every data row on field count.
	if len(header) != len(Schema) {
		return nil, errors.WrapInvalid(errors.ErrInvalidData, "csvcodec", "ReadRaw",
			fmt.Sprintf("invalid header, expected %q", strings.Join(Schema, ",")))
	}
	for i, name := range Schema {
		if strings.TrimSpace(header[i]) != name {
			return nil, errors.WrapInvalid(errors.ErrInvalidData, "csvcodec", "ReadRaw",
				fmt.Sprintf("invalid header, expected %q", strings.Join(Schema, ",")))
		}
	}

	var rows []RawRow
	line := 1
	for {
		line++
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewChunkError(0, line, err)
		}
		rows = append(rows, RawRow{Line: line, Fields: fields})
	}

	return rows, nil
}

// ParseRow converts one raw row into an ImportRow. Field validation follows
// the create-request rules; an empty id means the worker will assign one.
func ParseRow(row RawRow) (ImportRow, error) {
	if len(row.Fields) != len(Schema) {
		return ImportRow{}, errors.NewChunkError(0, row.Line,
			fmt.Errorf("expected %d fields, got %d", len(Schema), len(row.Fields)))
	}

	name := strings.TrimSpace(row.Fields[1])
	email := strings.TrimSpace(row.Fields[2])
	ageStr := strings.TrimSpace(row.Fields[3])

	age, err := strconv.Atoi(ageStr)
	if err != nil {
		return ImportRow{}, errors.NewChunkError(0, row.Line,
			fmt.Errorf("invalid age %q: not a number", ageStr))
	}

	req := record.CreateRequest{Name: name, Email: email, Age: age}
	if err := req.Validate(); err != nil {
		return ImportRow{}, errors.NewChunkError(0, row.Line, err)
	}

	out := ImportRow{
		Line: row.Line,
		ID:   strings.TrimSpace(row.Fields[0]),
		Req:  req,
	}

	if ts := strings.TrimSpace(row.Fields[4]); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return ImportRow{}, errors.NewChunkError(0, row.Line,
				fmt.Errorf("invalid created_at %q", ts))
		}
		out.CreatedAt = t
	}
	if ts := strings.TrimSpace(row.Fields[5]); ts != "" {
		t, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return ImportRow{}, errors.NewChunkError(0, row.Line,
				fmt.Errorf("invalid updated_at %q", ts))
		}
		out.UpdatedAt = t
	}

	return out, nil
}

// EncodeRows serializes records into CSV data rows (no header) in Schema
// field order. Safe to run concurrently across batch chunks.
func EncodeRows(records []record.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for _, rec := range records {
		row := []string{
			rec.ID,
			rec.Name,
			rec.Email,
			strconv.Itoa(rec.Age),
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, errors.Wrap(err, "csvcodec", "EncodeRows", "write row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, errors.Wrap(err, "csvcodec", "EncodeRows", "flush rows")
	}
	return buf.Bytes(), nil
}

// EncodeHeader returns the Schema header line, terminated with a newline.
// An export of an empty store is exactly this header and nothing else.
func EncodeHeader() []byte {
	return []byte(strings.Join(Schema, ",") + "\n")
}
