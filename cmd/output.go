package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// render writes v as json or yaml, or calls text for the human format.
func render(w io.Writer, format string, v any, text func(io.Writer) error) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format result: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to format result: %w", err)
		}
		return enc.Close()
	case "text", "":
		return text(w)
	default:
		return fmt.Errorf("unknown output format %q (must be text/json/yaml)", format)
	}
}

// newTable builds a bordered table for text output.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func printTable(w io.Writer, t *table.Table) error {
	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func success(w io.Writer, format string, a ...any) error {
	_, err := fmt.Fprintln(w, okStyle.Render("✓ "+fmt.Sprintf(format, a...)))
	return err
}
