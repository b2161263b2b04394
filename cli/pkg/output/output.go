// Package output prints vcat command results.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr

	// NoColor disables ANSI escapes. Set from NO_COLOR at startup.
	NoColor = os.Getenv("NO_COLOR") != ""
)

const (
	reset  = "\033[0m"
	green  = "\033[32;1m"
	red    = "\033[31;1m"
	cyan   = "\033[36m"
	yellow = "\033[33m"
	bold   = "\033[37;1m"
)

func paint(code, s string) string {
	if NoColor {
		return s
	}
	return code + s + reset
}

func Success(format string, a ...any) {
	fmt.Fprintln(Stdout, paint(green, "✓ "+fmt.Sprintf(format, a...)))
}

func Error(format string, a ...any) {
	fmt.Fprintln(Stderr, paint(red, "✗ "+fmt.Sprintf(format, a...)))
}

func Info(format string, a ...any) {
	fmt.Fprintln(Stdout, paint(cyan, fmt.Sprintf(format, a...)))
}

func Warn(format string, a ...any) {
	fmt.Fprintln(Stdout, paint(yellow, "⚠ "+fmt.Sprintf(format, a...)))
}

func JSON(v any) error {
	enc := json.NewEncoder(Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func YAML(v any) error {
	enc := yaml.NewEncoder(Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// Print renders v as json or yaml; any other format falls back to table,
// which the caller renders itself, and returns false.
func Print(format string, v any) (bool, error) {
	switch format {
	case "json":
		return true, JSON(v)
	case "yaml":
		return true, YAML(v)
	default:
		return false, nil
	}
}

type Table struct {
	headers []string
	rows    [][]string
}

func NewTable(headers ...string) *Table {
	return &Table{headers: headers}
}

func (t *Table) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

func (t *Table) Render() {
	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = len(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	var b strings.Builder
	for i, header := range t.headers {
		b.WriteString(paint(bold, fmt.Sprintf("%-*s", widths[i], header)))
		b.WriteString("  ")
	}
	fmt.Fprintln(Stdout, strings.TrimRight(b.String(), " "))

	b.Reset()
	for i := range t.headers {
		b.WriteString(strings.Repeat("-", widths[i]))
		b.WriteString("  ")
	}
	fmt.Fprintln(Stdout, strings.TrimRight(b.String(), " "))

	for _, row := range t.rows {
		b.Reset()
		for i, cell := range row {
			if i >= len(widths) {
				break
			}
			fmt.Fprintf(&b, "%-*s  ", widths[i], cell)
		}
		fmt.Fprintln(Stdout, strings.TrimRight(b.String(), " "))
	}
}
