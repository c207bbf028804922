package datalog

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"
)

// CSVSink writes rows as CSV. A header line is written before the first row
// and again whenever the column set changes.
type CSVSink struct {
	w      *csv.Writer
	closer io.Closer
	header []string
	wrote  bool
}

func NewCSVSink(w io.Writer) *CSVSink {
	s := &CSVSink{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// CreateCSV creates (or truncates) the file at path.
func CreateCSV(path string) (*CSVSink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return NewCSVSink(f), nil
}

func (s *CSVSink) Write(row Row) error {
	if !s.wrote || !sameColumns(s.header, row.Columns) {
		header := append([]string{"index", "time"}, row.Columns...)
		if err := s.w.Write(header); err != nil {
			return err
		}
		s.header = row.Columns
		s.wrote = true
	}

	record := make([]string, 0, len(row.Values)+2)
	record = append(record, strconv.FormatUint(row.Index, 10), row.Time.Format(time.RFC3339Nano))
	for _, v := range row.Values {
		record = append(record, formatValue(v))
	}
	if err := s.w.Write(record); err != nil {
		return err
	}
	s.w.Flush()
	return s.w.Error()
}

func (s *CSVSink) Close() error {
	s.w.Flush()
	err := s.w.Error()
	if s.closer != nil {
		if cerr := s.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func sameColumns(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func formatValue(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
