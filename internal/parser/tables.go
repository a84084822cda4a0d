package parser

import (
	"math"
	"sort"
	"strings"
)

const (
	// fallback glyph width when the run carries none
	charWidth = 5.0
	// horizontal whitespace that separates two cells
	cellGap = 10.0
	// allowed drift between the left edges of a column
	columnTolerance = 4.0
	minTableRows    = 2
	minTableColumns = 2
)

// TextRun is a positioned piece of text on a page row
type TextRun struct {
	X float64
	W float64
	S string
}

func (r TextRun) end() float64 {
	if r.W > 0 {
		return r.X + r.W
	}
	return r.X + float64(len([]rune(r.S)))*charWidth
}

// TextRow is one baseline of text, top to bottom order is kept by the caller
type TextRow struct {
	Y    float64
	Runs []TextRun
}

type cell struct {
	x    float64
	text string
}

// DetectTables finds runs of consecutive rows that split into the same column layout.
// A table needs at least two rows of at least two aligned cells.
func DetectTables(rows []TextRow) [][][]string {
	var (
		tables  [][][]string
		current [][]cell
	)
	flush := func() {
		if len(current) >= minTableRows {
			table := make([][]string, 0, len(current))
			for _, r := range current {
				values := make([]string, len(r))
				for i, c := range r {
					values[i] = c.text
				}
				table = append(table, values)
			}
			tables = append(tables, table)
		}
		current = nil
	}

	for _, row := range rows {
		cells := splitCells(row.Runs)
		if len(cells) < minTableColumns {
			flush()
			continue
		}
		if len(current) > 0 && !aligned(current[0], cells) {
			flush()
		}
		current = append(current, cells)
	}
	flush()
	return tables
}

func splitCells(runs []TextRun) []cell {
	if len(runs) == 0 {
		return nil
	}
	sorted := make([]TextRun, len(runs))
	copy(sorted, runs)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].X < sorted[j].X })

	var (
		cells []cell
		b     strings.Builder
		x     = sorted[0].X
		last  = sorted[0].end()
	)
	b.WriteString(sorted[0].S)
	for _, r := range sorted[1:] {
		if r.X-last > cellGap {
			if t := strings.TrimSpace(b.String()); t != "" {
				cells = append(cells, cell{x: x, text: t})
			}
			b.Reset()
			x = r.X
		}
		b.WriteString(r.S)
		last = math.Max(last, r.end())
	}
	if t := strings.TrimSpace(b.String()); t != "" {
		cells = append(cells, cell{x: x, text: t})
	}
	return cells
}

func aligned(ref, cells []cell) bool {
	if len(ref) != len(cells) {
		return false
	}
	for i := range ref {
		if math.Abs(ref[i].x-cells[i].x) > columnTolerance {
			return false
		}
	}
	return true
}
