// Package board reconstructs stone placement from a GTP move history, by
// replaying captures the same way lizgoban's rule.js (as ported to
// original_source/katawrap/board.py) does: no ko rule, no history beyond
// "is this group currently without liberties".
package board

import (
	"regexp"
	"strconv"
	"strings"
)

// Stone is one board point.
type Stone struct {
	Present bool
	Black   bool
}

// Board is indexed [row][col], row 0 being the top (the GTP row with the
// highest number).
type Board [][]Stone

// Move is one GTP move: Player is "B" or "W" (case-insensitive); Coord is
// a GTP vertex such as "Q16", or "pass"/anything non-matching for a pass.
type Move struct {
	Player string
	Coord  string
}

// FromMoves replays moves on an xSize*ySize board and returns the
// resulting stone placement.
func FromMoves(moves []Move, xSize, ySize int) Board {
	stones := newGrid(ySize, xSize)
	for _, mv := range moves {
		place(mv, stones)
	}
	return stones
}

// AfterMove returns a copy of b with mv played on it, leaving b itself
// unmodified. Grounded on board_after_move in board.py, used to show the
// hypothetical board for one candidate move in moveInfos.
func AfterMove(b Board, mv Move) Board {
	clone := b.Clone()
	place(mv, clone)
	return clone
}

// Clone returns an independent copy of b.
func (b Board) Clone() Board {
	out := make(Board, len(b))
	for i, row := range b {
		out[i] = append([]Stone(nil), row...)
	}
	return out
}

// MoveToIndex converts a GTP vertex (case-insensitive) to a (row, col)
// pair on a board of the given ySize, row 0 at the top. onBoard is false
// for "pass" or any string that does not parse as a vertex.
func MoveToIndex(move string, ySize int) (row, col int, onBoard bool) {
	i, j, isPass := moveToIdx(strings.ToUpper(move), ySize)
	return i, j, !isPass
}

// Flatten returns the board's points in the same row-major, top-row-first
// order KataGo reports its ownership array in, so the two can be paired
// index-for-index.
func (b Board) Flatten() []Stone {
	out := make([]Stone, 0, len(b)*len(b[0]))
	for _, row := range b {
		out = append(out, row...)
	}
	return out
}

// String renders the board as one line per row, '.'/'X'/'O' per point.
func (b Board) String() string {
	var sb strings.Builder
	for i, row := range b {
		if i > 0 {
			sb.WriteByte('\n')
		}
		for _, s := range row {
			sb.WriteByte(letterFor(s))
		}
	}
	return sb.String()
}

func place(mv Move, stones Board) {
	isBlack := strings.EqualFold(mv.Player, "B")
	ySize, xSize := len(stones), len(stones[0])
	i, j, isPass := moveToIdx(strings.ToUpper(mv.Coord), ySize)
	if isPass || i < 0 || i >= ySize || j < 0 || j >= xSize {
		return
	}
	stones[i][j] = Stone{Present: true, Black: isBlack}
	removeDeadBy(i, j, isBlack, stones)
}

func removeDeadBy(i, j int, isBlack bool, stones Board) {
	for _, n := range around(i, j) {
		removeDead(n[0], n[1], !isBlack, stones)
	}
	removeDead(i, j, isBlack, stones)
}

// removeDead flood-fills the same-color group touching (i, j) and clears
// it if the group has no liberties. Ported directly from
// check_if_liberty/search_for_liberty/push_hope in board.py: the
// asymmetry (one BFS pop per outer iteration, checking all four
// neighbors before looping again) is preserved rather than simplified.
func removeDead(i, j int, isBlack bool, stones Board) {
	ySize, xSize := len(stones), len(stones[0])
	visited := newBoolGrid(ySize, xSize)
	var hope [][2]int
	var deadPool [][2]int

	checkLiberty := func(ci, cj int) bool {
		s, onBoard := ref(stones, ci, cj)
		if !onBoard {
			return false
		}
		if !s.Present {
			return true
		}
		if s.Black != isBlack || visited[ci][cj] {
			return false
		}
		visited[ci][cj] = true
		hope = append(hope, [2]int{ci, cj})
		deadPool = append(deadPool, [2]int{ci, cj})
		return false
	}

	checkLiberty(i, j)
	for len(hope) > 0 {
		cur := hope[0]
		hope = hope[1:]
		found := false
		for _, n := range around(cur[0], cur[1]) {
			if checkLiberty(n[0], n[1]) {
				found = true
				break
			}
		}
		if found {
			return
		}
	}
	for _, d := range deadPool {
		stones[d[0]][d[1]] = Stone{}
	}
}

func around(i, j int) [][2]int {
	return [][2]int{{i + 1, j}, {i, j + 1}, {i - 1, j}, {i, j - 1}}
}

func ref(b Board, i, j int) (Stone, bool) {
	if i < 0 || j < 0 || i >= len(b) || (len(b) > 0 && j >= len(b[0])) {
		return Stone{}, false
	}
	return b[i][j], true
}

func letterFor(s Stone) byte {
	switch {
	case !s.Present:
		return '.'
	case s.Black:
		return 'X'
	default:
		return 'O'
	}
}

func newGrid(ySize, xSize int) Board {
	g := make(Board, ySize)
	for i := range g {
		g[i] = make([]Stone, xSize)
	}
	return g
}

func newBoolGrid(ySize, xSize int) [][]bool {
	g := make([][]bool, ySize)
	for i := range g {
		g[i] = make([]bool, xSize)
	}
	return g
}

var coordPattern = regexp.MustCompile(`^([A-HJ-T])((?:1[0-9])|[1-9])`)

const colNames = "ABCDEFGHJKLMNOPQRST"

// moveToIdx converts an uppercased GTP vertex to (row, col), row 0 at the
// top of a board with the given ySize. isPass is true for "PASS" and any
// other string not matching a vertex.
func moveToIdx(move string, ySize int) (i, j int, isPass bool) {
	m := coordPattern.FindStringSubmatch(move)
	if m == nil {
		return 0, 0, true
	}
	row, _ := strconv.Atoi(m[2])
	col := strings.IndexByte(colNames, m[1][0])
	return ySize - row, col, false
}
