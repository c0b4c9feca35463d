package display

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	Corner     string
	Horizontal string
	Vertical   string
}

var (
	ASCIIBorderStyle   = BorderStyle{Corner: "+", Horizontal: "-", Vertical: "|"}
	UnicodeBorderStyle = BorderStyle{Corner: "┼", Horizontal: "─", Vertical: "│"}
)

// Table renders rows of cells as an aligned, bordered text table
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	border     BorderStyle
	maxWidth   int
	colors     *ColorSystem
	theme      ColorTheme
}

// NewTable creates an ASCII table. colors may be nil.
func NewTable(colors *ColorSystem, theme ColorTheme) *Table {
	return &Table{
		alignments: make(map[int]Alignment),
		border:     ASCIIBorderStyle,
		maxWidth:   terminalWidth(),
		colors:     colors,
		theme:      theme,
	}
}

func (t *Table) SetHeaders(headers ...string) { t.headers = headers }

func (t *Table) AddRow(cells ...string) { t.rows = append(t.rows, cells) }

func (t *Table) SetAlignment(column int, alignment Alignment) { t.alignments[column] = alignment }

func (t *Table) SetBorder(border BorderStyle) { t.border = border }

// SetMaxWidth caps the rendered width; 0 disables the cap
func (t *Table) SetMaxWidth(width int) { t.maxWidth = width }

// Len returns the number of data rows
func (t *Table) Len() int { return len(t.rows) }

// Render returns the table as a string
func (t *Table) Render() string {
	widths := t.columnWidths()
	if len(widths) == 0 {
		return ""
	}

	var b strings.Builder
	rule := t.rule(widths)
	b.WriteString(rule)
	if len(t.headers) > 0 {
		b.WriteString(t.renderRow(t.headers, widths, true))
		b.WriteString(rule)
	}
	for _, row := range t.rows {
		b.WriteString(t.renderRow(row, widths, false))
	}
	b.WriteString(rule)
	return b.String()
}

// RenderTo writes the table to w
func (t *Table) RenderTo(w io.Writer) error {
	_, err := io.WriteString(w, t.Render())
	return err
}

func (t *Table) columnWidths() []int {
	n := len(t.headers)
	for _, row := range t.rows {
		if len(row) > n {
			n = len(row)
		}
	}
	widths := make([]int, n)
	measure := func(row []string) {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}

	// shrink the widest column until the table fits
	if t.maxWidth > 0 {
		for total(widths) > t.maxWidth {
			widest := 0
			for i := range widths {
				if widths[i] > widths[widest] {
					widest = i
				}
			}
			if widths[widest] <= 8 {
				break
			}
			widths[widest]--
		}
	}
	return widths
}

// total is the rendered line width for column widths w
func total(w []int) int {
	sum := 1
	for _, x := range w {
		sum += x + 3
	}
	return sum
}

func (t *Table) rule(widths []int) string {
	var b strings.Builder
	b.WriteString(t.border.Corner)
	for _, w := range widths {
		b.WriteString(strings.Repeat(t.border.Horizontal, w+2))
		b.WriteString(t.border.Corner)
	}
	b.WriteString("\n")
	return b.String()
}

func (t *Table) renderRow(row []string, widths []int, header bool) string {
	var b strings.Builder
	b.WriteString(t.border.Vertical)
	for i, w := range widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		b.WriteString(" ")
		b.WriteString(t.formatCell(cell, w, t.alignments[i], header))
		b.WriteString(" ")
		b.WriteString(t.border.Vertical)
	}
	b.WriteString("\n")
	return b.String()
}

// formatCell truncates and pads content to width, coloring headers after
// padding so escape codes do not count toward the width
func (t *Table) formatCell(content string, width int, alignment Alignment, header bool) string {
	if utf8.RuneCountInString(content) > width {
		runes := []rune(content)
		if width > 3 {
			content = string(runes[:width-3]) + "..."
		} else {
			content = string(runes[:width])
		}
	}

	pad := strings.Repeat(" ", width-utf8.RuneCountInString(content))
	if header {
		content = t.colors.Colorize(content, t.theme.Primary)
	}
	if alignment == AlignRight {
		return pad + content
	}
	return content + pad
}

func terminalWidth() int {
	width, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || width <= 0 {
		return 0
	}
	return width
}
