package table

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"datalineage/internal/common"
)

// nullTokens are the spellings read as missing values.
var nullTokens = map[string]bool{
	"":     true,
	"NA":   true,
	"N/A":  true,
	"null": true,
	"NULL": true,
	"NaN":  true,
	"nan":  true,
	"None": true,
}

// ParseCell converts raw CSV text to a cell, mapping null spellings to null.
func ParseCell(raw string) Cell {
	if nullTokens[strings.TrimSpace(raw)] {
		return Null()
	}
	return Text(raw)
}

// ReadCSV parses CSV with a header row into a frame.
func ReadCSV(r io.Reader) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 0 // every record must match the header width

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &common.InvalidInputError{Field: "content", Reason: "no header row"}
	}
	if err != nil {
		return nil, &common.InvalidInputError{Field: "content", Reason: err.Error()}
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	f, err := New(header...)
	if err != nil {
		return nil, &common.InvalidInputError{Field: "header", Reason: err.Error()}
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &common.InvalidInputError{Field: "content", Reason: err.Error()}
		}
		cells := make([]Cell, len(record))
		for j, v := range record {
			cells[j] = ParseCell(v)
		}
		if err := f.AppendRow(cells); err != nil {
			return nil, &common.InvalidInputError{Field: "content", Reason: err.Error()}
		}
	}
	return f, nil
}

// Decode parses CSV bytes.
func Decode(content []byte) (*Frame, error) {
	return ReadCSV(bytes.NewReader(content))
}

// WriteCSV writes the frame with a header row. Output is canonical: the same
// frame always produces the same bytes.
func (f *Frame) WriteCSV(w io.Writer) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(f.ColumnNames()); err != nil {
		return err
	}
	record := make([]string, len(f.cols))
	for i := 0; i < f.rows; i++ {
		for j, c := range f.cols {
			if c.Cells[i].Valid {
				record[j] = c.Cells[i].Value
			} else {
				record[j] = ""
			}
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

// Encode renders the frame as CSV bytes.
func (f *Frame) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := f.WriteCSV(&buf); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	return buf.Bytes(), nil
}
