package helpers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
	"text/tabwriter"
)

// OutputFormat represents the desired output format.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
)

// SummaryFormats are the formats accepted for run and inventory summaries.
var SummaryFormats = []OutputFormat{FormatTable, FormatJSON, FormatCSV}

// Formatter writes command results.
type Formatter interface {
	Format(data any, writer io.Writer) error
}

// NewFormatter creates a new Formatter for the given format.
func NewFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatTable:
		return &TableFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	case FormatCSV:
		return &CSVFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// JSONFormatter formats any value as indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(data any, writer io.Writer) error {
	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// TableFormatter formats a slice of structs as an aligned table. Columns are
// the fields carrying a `header` tag; the header row is written even when the
// slice is empty.
type TableFormatter struct{}

func (f *TableFormatter) Format(data any, writer io.Writer) error {
	headers, rows, err := tabulate(data)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(writer, 0, 0, 3, ' ', 0)
	if _, err := fmt.Fprintln(w, strings.Join(headers, "\t")); err != nil {
		return err
	}
	for _, row := range rows {
		if _, err := fmt.Fprintln(w, strings.Join(row, "\t")); err != nil {
			return err
		}
	}
	return w.Flush()
}

// CSVFormatter formats a slice of structs as CSV, columns chosen like
// TableFormatter's.
type CSVFormatter struct{}

func (f *CSVFormatter) Format(data any, writer io.Writer) error {
	headers, rows, err := tabulate(data)
	if err != nil {
		return err
	}

	w := csv.NewWriter(writer)
	if err := w.Write(headers); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

func tabulate(data any) ([]string, [][]string, error) {
	val := reflect.ValueOf(data)
	if val.Kind() != reflect.Slice {
		return nil, nil, fmt.Errorf("data must be a slice, got %T", data)
	}

	elem := val.Type().Elem()
	if elem.Kind() == reflect.Ptr {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("data must be a slice of structs, got %T", data)
	}

	var (
		headers []string
		columns []int
	)
	for i := 0; i < elem.NumField(); i++ {
		if tag := elem.Field(i).Tag.Get("header"); tag != "" {
			headers = append(headers, tag)
			columns = append(columns, i)
		}
	}

	rows := make([][]string, 0, val.Len())
	for i := 0; i < val.Len(); i++ {
		v := reflect.Indirect(val.Index(i))
		if !v.IsValid() {
			continue
		}
		row := make([]string, len(columns))
		for j, c := range columns {
			row[j] = fmt.Sprintf("%v", v.Field(c).Interface())
		}
		rows = append(rows, row)
	}
	return headers, rows, nil
}
