package engine

import (
	"fmt"

	"trainingquiz/internal/domain"
)

// FreeCellItemID marks the pre-marked center cell of a card.
const FreeCellItemID = "_free"

// Coord addresses one card cell.
type Coord struct {
	Row int
	Col int
}

// Pattern is a named set of coordinates whose simultaneous marking is a win
// condition.
type Pattern struct {
	Name  string
	Cells []Coord
}

// PatternLibrary builds the standard win patterns for a size x size card:
// every row and column, both diagonals, four corners, the center cross, the
// X, and the full card.
func PatternLibrary(size int) []Pattern {
	var lib []Pattern

	for r := 0; r < size; r++ {
		p := Pattern{Name: fmt.Sprintf("row_%d", r+1)}
		for c := 0; c < size; c++ {
			p.Cells = append(p.Cells, Coord{Row: r, Col: c})
		}
		lib = append(lib, p)
	}
	for c := 0; c < size; c++ {
		p := Pattern{Name: fmt.Sprintf("col_%d", c+1)}
		for r := 0; r < size; r++ {
			p.Cells = append(p.Cells, Coord{Row: r, Col: c})
		}
		lib = append(lib, p)
	}

	main := Pattern{Name: "diagonal_main"}
	anti := Pattern{Name: "diagonal_anti"}
	for i := 0; i < size; i++ {
		main.Cells = append(main.Cells, Coord{Row: i, Col: i})
		anti.Cells = append(anti.Cells, Coord{Row: i, Col: size - 1 - i})
	}
	lib = append(lib, main, anti)

	lib = append(lib, Pattern{Name: "four_corners", Cells: []Coord{
		{Row: 0, Col: 0},
		{Row: 0, Col: size - 1},
		{Row: size - 1, Col: 0},
		{Row: size - 1, Col: size - 1},
	}})

	mid := size / 2
	cross := Pattern{Name: "cross"}
	for i := 0; i < size; i++ {
		cross.Cells = append(cross.Cells, Coord{Row: mid, Col: i})
		if i != mid {
			cross.Cells = append(cross.Cells, Coord{Row: i, Col: mid})
		}
	}
	lib = append(lib, cross)

	x := Pattern{Name: "x"}
	x.Cells = append(x.Cells, main.Cells...)
	for _, c := range anti.Cells {
		if c.Row != c.Col { // center of an odd-sized card is already in main
			x.Cells = append(x.Cells, c)
		}
	}
	lib = append(lib, x)

	full := Pattern{Name: "full_card"}
	for r := 0; r < size; r++ {
		for c := 0; c < size; c++ {
			full.Cells = append(full.Cells, Coord{Row: r, Col: c})
		}
	}
	lib = append(lib, full)

	return lib
}

// NewCardRows lays items row-major onto a size x size grid with the center
// cell free and pre-marked. Items wrap if fewer than size*size are given.
func NewCardRows(items []domain.Item, size int) [][]domain.CardCell {
	rows := make([][]domain.CardCell, size)
	mid := size / 2
	idx := 0
	for r := 0; r < size; r++ {
		rows[r] = make([]domain.CardCell, size)
		for c := 0; c < size; c++ {
			if r == mid && c == mid {
				rows[r][c] = domain.CardCell{ItemID: FreeCellItemID, Marked: true}
				continue
			}
			itemID := ""
			if len(items) > 0 {
				itemID = items[idx%len(items)].ID
				idx++
			}
			rows[r][c] = domain.CardCell{ItemID: itemID}
		}
	}
	return rows
}

// MarkCell sets a cell to marked. Re-marking is a no-op, not an error; the
// return value reports whether anything changed.
func MarkCell(rows [][]domain.CardCell, row, col int) (bool, error) {
	if row < 0 || row >= len(rows) || col < 0 || col >= len(rows[row]) {
		return false, domain.ErrCellOutOfRange
	}
	if rows[row][col].Marked {
		return false, nil
	}
	rows[row][col].Marked = true
	return true, nil
}

// DetectNewPatterns returns the names of patterns whose cells are all
// marked and that are not in credited. Running it again after the credited
// set has been updated yields nothing, so a replayed detection never
// double-awards.
func DetectNewPatterns(rows [][]domain.CardCell, library []Pattern, credited []string) []string {
	creditedSet := make(map[string]struct{}, len(credited))
	for _, name := range credited {
		creditedSet[name] = struct{}{}
	}

	var newly []string
	for _, p := range library {
		if _, done := creditedSet[p.Name]; done {
			continue
		}
		satisfied := true
		for _, c := range p.Cells {
			if c.Row >= len(rows) || c.Col >= len(rows[c.Row]) || !rows[c.Row][c.Col].Marked {
				satisfied = false
				break
			}
		}
		if satisfied {
			newly = append(newly, p.Name)
		}
	}
	return newly
}
