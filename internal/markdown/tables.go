// Package markdown renders and reads the GitHub-flavoured tables used in
// evaluation reports.
package markdown

import (
	"regexp"
	"strings"
)

// Align is a column alignment.
type Align int

const (
	AlignLeft Align = iota
	AlignRight
	AlignCenter
)

// Table is a markdown table.
type Table struct {
	Headers []string
	Rows    [][]string
	// Align holds per-column alignment; missing entries are left aligned.
	Align []Align
}

// AddRow appends a row, padding or trimming it to the header width.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.Headers))
	copy(row, cells)
	t.Rows = append(t.Rows, row)
}

// Render returns the table as markdown with padded columns. Cell text is
// escaped so pipes and newlines cannot break the layout.
func (t Table) Render() string {
	if len(t.Headers) == 0 {
		return ""
	}
	header := escapeAll(t.Headers)
	rows := make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		rows[i] = escapeAll(r)
	}

	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = max(3, runeLen(h))
	}
	for _, r := range rows {
		for i := range widths {
			if i < len(r) {
				widths[i] = max(widths[i], runeLen(r[i]))
			}
		}
	}

	var b strings.Builder
	writeRow(&b, header, widths, t.Align)
	b.WriteString("|")
	for i, w := range widths {
		b.WriteString(" ")
		b.WriteString(separator(w, t.align(i)))
		b.WriteString(" |")
	}
	b.WriteString("\n")
	for _, r := range rows {
		writeRow(&b, r, widths, t.Align)
	}
	return b.String()
}

func (t Table) align(i int) Align {
	if i < len(t.Align) {
		return t.Align[i]
	}
	return AlignLeft
}

func writeRow(b *strings.Builder, cells []string, widths []int, align []Align) {
	b.WriteString("|")
	for i, w := range widths {
		cell := ""
		if i < len(cells) {
			cell = cells[i]
		}
		pad := strings.Repeat(" ", w-runeLen(cell))
		b.WriteString(" ")
		if i < len(align) && align[i] == AlignRight {
			b.WriteString(pad + cell)
		} else {
			b.WriteString(cell + pad)
		}
		b.WriteString(" |")
	}
	b.WriteString("\n")
}

func separator(width int, a Align) string {
	switch a {
	case AlignRight:
		return strings.Repeat("-", width-1) + ":"
	case AlignCenter:
		return ":" + strings.Repeat("-", width-2) + ":"
	default:
		return strings.Repeat("-", width)
	}
}

// Escape makes s safe inside a table cell.
func Escape(s string) string {
	s = strings.ReplaceAll(s, "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, `|`, `\|`)
	return strings.TrimSpace(s)
}

func escapeAll(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = Escape(c)
	}
	return out
}

func runeLen(s string) int {
	return len([]rune(s))
}

// Bullets renders each row as "header: cell" pairs, for outputs that do
// not display tables.
func (t Table) Bullets() string {
	var lines []string
	for _, row := range t.Rows {
		var parts []string
		for i, cell := range row {
			if cell == "" {
				continue
			}
			if i < len(t.Headers) && t.Headers[i] != "" {
				cell = t.Headers[i] + ": " + cell
			}
			parts = append(parts, cell)
		}
		if len(parts) > 0 {
			lines = append(lines, "- "+strings.Join(parts, ", "))
		}
	}
	return strings.Join(lines, "\n")
}

var (
	tableRowRegex  = regexp.MustCompile(`^\s*\|(.+)\|\s*$`)
	separatorRegex = regexp.MustCompile(`^\s*\|[\s\-:|]+\|\s*$`)
)

// FindTables parses every table in text. Escaped pipes are unescaped.
func FindTables(text string) []Table {
	var tables []Table
	lines := strings.Split(text, "\n")
	for i := 0; i < len(lines); {
		if tableRowRegex.MatchString(lines[i]) {
			if table, end := parseTable(lines, i); table != nil {
				tables = append(tables, *table)
				i = end
				continue
			}
		}
		i++
	}
	return tables
}

func parseTable(lines []string, start int) (*Table, int) {
	headers := parseCells(lines[start])
	if len(headers) == 0 || start+1 >= len(lines) || !separatorRegex.MatchString(lines[start+1]) {
		return nil, start
	}
	table := &Table{Headers: headers}
	for _, sep := range parseCells(lines[start+1]) {
		switch {
		case strings.HasPrefix(sep, ":") && strings.HasSuffix(sep, ":"):
			table.Align = append(table.Align, AlignCenter)
		case strings.HasSuffix(sep, ":"):
			table.Align = append(table.Align, AlignRight)
		default:
			table.Align = append(table.Align, AlignLeft)
		}
	}
	end := start + 2
	for ; end < len(lines) && tableRowRegex.MatchString(lines[end]); end++ {
		cells := parseCells(lines[end])
		for len(cells) < len(headers) {
			cells = append(cells, "")
		}
		table.Rows = append(table.Rows, cells)
	}
	return table, end
}

// parseCells splits a row on unescaped pipes.
func parseCells(row string) []string {
	row = strings.TrimSpace(row)
	row = strings.TrimPrefix(row, "|")
	if strings.HasSuffix(row, "|") && !strings.HasSuffix(row, `\|`) {
		row = row[:len(row)-1]
	}
	var cells []string
	var cur strings.Builder
	for i := 0; i < len(row); i++ {
		switch {
		case row[i] == '\\' && i+1 < len(row) && row[i+1] == '|':
			cur.WriteByte('|')
			i++
		case row[i] == '|':
			cells = append(cells, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(row[i])
		}
	}
	return append(cells, strings.TrimSpace(cur.String()))
}
