package main

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/gomlx/fusedloop/types/arrays"
)

var (
	headerRowStyle = lipgloss.NewStyle().Reverse(true).
			Padding(0, 2, 0, 2).Align(lipgloss.Center)

	oddRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFF")).
			PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#999")).
			PaddingLeft(1).PaddingRight(1)

	titleStyle = lipgloss.NewStyle().Bold(true).Padding(1, 4, 1, 4)

	nestStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8AE")).PaddingLeft(2)
)

func newPlainTable(withHeader bool) *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) (s lipgloss.Style) {
			if withHeader && row == lgtable.HeaderRow {
				s = headerRowStyle
				return
			}
			switch {
			case row%2 == 0:
				s = evenRowStyle
			default:
				s = oddRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			} else {
				s = s.Align(lipgloss.Left)
			}
			return
		})
}

// formatValues prints the logical values of the array, eliding the middle of large arrays.
func formatValues(array *arrays.Array, maxValues int) string {
	values := reflect.ValueOf(array.Values())
	n := values.Len()
	format := func(ii int) string { return fmt.Sprintf("%v", values.Index(ii).Interface()) }
	var parts []string
	if n <= maxValues {
		for ii := range n {
			parts = append(parts, format(ii))
		}
	} else {
		head := maxValues / 2
		for ii := range head {
			parts = append(parts, format(ii))
		}
		parts = append(parts, fmt.Sprintf("...(%d more)...", n-maxValues))
		for ii := n - (maxValues - head); ii < n; ii++ {
			parts = append(parts, format(ii))
		}
	}
	return "[" + strings.Join(parts, " ") + "]"
}
