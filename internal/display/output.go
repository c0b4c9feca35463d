package display

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents different output format options
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates a user supplied format name
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatTable:
		return FormatTable, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format %q (want table, json or yaml)", s)
	}
}

// Printer writes status messages, tables and structured documents for the CLI
type Printer struct {
	out    io.Writer
	in     io.Reader
	colors *ColorSystem
	theme  ColorTheme
	quiet  bool
}

// NewPrinter creates a printer on stdout, coloring output when stdout is a terminal
func NewPrinter(noColor bool) *Printer {
	colors := NewColorSystem(os.Stdout)
	if noColor {
		colors = newColorSystem(false)
	}
	return &Printer{out: os.Stdout, in: os.Stdin, colors: colors, theme: DarkColorTheme()}
}

// NewPlainPrinter creates an uncolored printer on arbitrary streams
func NewPlainPrinter(out io.Writer, in io.Reader) *Printer {
	return &Printer{out: out, in: in, colors: newColorSystem(false), theme: PlainTextTheme()}
}

// SetQuiet suppresses Info and Success messages
func (p *Printer) SetQuiet(quiet bool) { p.quiet = quiet }

// Writer returns the underlying output stream
func (p *Printer) Writer() io.Writer { return p.out }

func (p *Printer) Success(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	p.status("✓", p.theme.Success, format, args...)
}

func (p *Printer) Info(format string, args ...interface{}) {
	if p.quiet {
		return
	}
	p.status("•", p.theme.Info, format, args...)
}

func (p *Printer) Warning(format string, args ...interface{}) {
	p.status("!", p.theme.Warning, format, args...)
}

func (p *Printer) Error(format string, args ...interface{}) {
	p.status("✗", p.theme.Error, format, args...)
}

func (p *Printer) status(icon string, clr Color, format string, args ...interface{}) {
	fmt.Fprintf(p.out, "%s %s\n", p.colors.Colorize(icon, clr), fmt.Sprintf(format, args...))
}

// KeyValues prints aligned "key: value" lines
func (p *Printer) KeyValues(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		if len(kv[0]) > width {
			width = len(kv[0])
		}
	}
	for _, kv := range pairs {
		key := p.colors.Colorize(fmt.Sprintf("%-*s", width+1, kv[0]+":"), p.theme.Muted)
		fmt.Fprintf(p.out, "%s %s\n", key, kv[1])
	}
}

// NewTable returns a table styled like this printer
func (p *Printer) NewTable() *Table {
	return NewTable(p.colors, p.theme)
}

// Document writes v as JSON or YAML
func (p *Printer) Document(format OutputFormat, v interface{}) error {
	switch format {
	case FormatJSON:
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON output: %w", err)
		}
		_, err = fmt.Fprintln(p.out, string(data))
		return err
	case FormatYAML:
		enc := yaml.NewEncoder(p.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to marshal YAML output: %w", err)
		}
		return enc.Close()
	default:
		return fmt.Errorf("format %q is not a document format", format)
	}
}

// Confirm asks a yes/no question; anything but y or yes is a no
func (p *Printer) Confirm(question string) (bool, error) {
	fmt.Fprintf(p.out, "%s %s [y/N]: ", p.colors.Colorize("?", p.theme.Warning), question)

	line, err := bufio.NewReader(p.in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, fmt.Errorf("failed to read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// FormatBytes renders a byte count with a binary unit
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
