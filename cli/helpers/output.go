package helpers

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"text/tabwriter"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/tidwall/pretty"
	"gopkg.in/yaml.v3"
)

// OutputFormat selects how command results are printed.
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
	FormatYAML OutputFormat = "yaml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(s); f {
	case FormatText, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", NewCliError("INVALID_FORMAT", fmt.Sprintf("unknown output format %q", s), "use text, json or yaml")
	}
}

var headerStyle = lipgloss.NewStyle().Bold(true)

// Row is one line of text output.
type Row struct {
	Key   string
	Value any
}

// Encode writes v as JSON or YAML. JSON written to a terminal is colorized
// unless NO_COLOR is set.
func Encode(w io.Writer, format OutputFormat, v any) error {
	if format == FormatYAML {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode yaml: %w", err)
		}
		return enc.Close()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode json: %w", err)
	}
	b = pretty.Pretty(b)
	if colorEnabled(w) {
		b = pretty.Color(b, nil)
	}
	_, err = w.Write(b)
	return err
}

func colorEnabled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// WriteTable prints rows under a two-column header.
func WriteTable(w io.Writer, header [2]string, rows []Row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\t%s\n", headerStyle.Render(header[0]), headerStyle.Render(header[1]))
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\n", r.Key, FormatValue(r.Value))
	}
	return tw.Flush()
}

// Text is printed verbatim by FormatValue.
type Text string

// FormatValue renders a setting value on one line. Undefined values print
// as a dash.
func FormatValue(v any) string {
	if v == nil {
		return "-"
	}
	switch v := v.(type) {
	case Text:
		return string(v)
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	case string:
		return strconv.Quote(v)
	default:
		return fmt.Sprint(v)
	}
}

// SortedRows builds rows from a map in key order.
func SortedRows(m map[string]any) []Row {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	rows := make([]Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, Row{Key: k, Value: m[k]})
	}
	return rows
}
