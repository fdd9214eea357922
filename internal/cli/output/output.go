// Package output provides output formatting for clipmesh-cli.
package output

import (
	"encoding/json"
	"io"
	"text/tabwriter"
)

// Format identifies an output format.
type Format string

// Supported output formats.
const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
)

// JSONFormatter writes data as indented JSON.
type JSONFormatter struct{}

// Format writes data to w as JSON.
func (f *JSONFormatter) Format(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// Table represents tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
}

// AddRow adds a row to the table.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Render renders the table to the writer.
func (t *Table) Render(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	if len(t.Headers) > 0 {
		for i, h := range t.Headers {
			if i > 0 {
				if _, err := tw.Write([]byte("\t")); err != nil {
					return err
				}
			}
			if _, err := tw.Write([]byte(h)); err != nil {
				return err
			}
		}
		if _, err := tw.Write([]byte("\n")); err != nil {
			return err
		}
	}

	for _, row := range t.Rows {
		for i, cell := range row {
			if i > 0 {
				if _, err := tw.Write([]byte("\t")); err != nil {
					return err
				}
			}
			if _, err := tw.Write([]byte(cell)); err != nil {
				return err
			}
		}
		if _, err := tw.Write([]byte("\n")); err != nil {
			return err
		}
	}
	return nil
}
