package main

import (
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"

	"github.com/gomlx/svscheck/internal/runner"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)
	headerStyle = lipgloss.NewStyle().Reverse(true).Padding(0, 2, 0, 2).Align(lipgloss.Center)
	cellStyle   = lipgloss.NewStyle().PaddingLeft(1).PaddingRight(1)

	// kindColors highlights the rows of failed checks: configuration problems in yellow, models
	// that can't be built in magenta, and broken shape contracts (or anything else) in red.
	kindColors = map[runner.Kind]lipgloss.Color{
		runner.KindConfigError:       "11",
		runner.KindConstructionError: "13",
		runner.KindContractViolation: "9",
		runner.KindError:             "9",
	}
)

// kindStyle returns the style of a cell of a row with the given result kind. Passed rows
// alternate between normal and faint text.
func kindStyle(kind runner.Kind, row int) lipgloss.Style {
	if color, found := kindColors[kind]; found {
		return cellStyle.Foreground(color).Bold(true)
	}
	return cellStyle.Faint(row%2 == 1)
}

// kindTable is a table whose rows are colored by the kind of result they show.
type kindTable struct {
	*lgtable.Table
	kinds []runner.Kind
}

// Row adds a row for a result of the given kind.
func (t *kindTable) Row(kind runner.Kind, row ...string) {
	t.kinds = append(t.kinds, kind)
	t.Table.Row(row...)
}

// newKindTable creates a table with the given column alignments. Columns past the last
// alignment take the last one.
func newKindTable(alignments ...lipgloss.Position) *kindTable {
	t := &kindTable{}
	t.Table = lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row < 0 {
				return headerStyle
			}
			s := kindStyle(t.kinds[row], row)
			switch {
			case col < len(alignments):
				s = s.Align(alignments[col])
			case len(alignments) > 0:
				s = s.Align(alignments[len(alignments)-1])
			}
			return s
		})
	return t
}
