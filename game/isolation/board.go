package isolation

import (
	"encoding/binary"
	"fmt"
	"slices"
	"strings"

	"arbor/game"

	"github.com/cespare/xxhash/v2"
)

const (
	DefaultWidth  = 7
	DefaultHeight = 7

	Player1 = 1
	Player2 = 2

	blank   uint8 = 0
	blocked uint8 = 1
)

// NoMove mirrors game.NoAction for callers that only deal with Isolation.
const NoMove = game.NoAction

var knightOffsets = [8][2]int{
	{-2, -1}, {-2, 1}, {-1, -2}, {-1, 2},
	{1, -2}, {1, 2}, {2, -1}, {2, 1},
}

// Board is an immutable Isolation position. Each player first places their
// piece on any blank square, then moves like a chess knight onto blank
// squares. Every square a piece has occupied stays blocked. A player with
// no legal move loses.
type Board struct {
	width     int
	height    int
	cells     []uint8
	positions [2]int // square index per player, -1 before placement
	toMove    int    // 0 or 1
	ply       int
}

// NewBoard returns an empty board with player 1 to move.
func NewBoard(width, height int) (*Board, error) {
	if width < 3 || height < 3 {
		return nil, fmt.Errorf("board must be at least 3x3, got %dx%d", width, height)
	}
	return &Board{
		width:     width,
		height:    height,
		cells:     make([]uint8, width*height),
		positions: [2]int{-1, -1},
	}, nil
}

// NewDefaultBoard returns an empty 7x7 board.
func NewDefaultBoard() *Board {
	b, _ := NewBoard(DefaultWidth, DefaultHeight)
	return b
}

func (b *Board) Width() int  { return b.width }
func (b *Board) Height() int { return b.height }
func (b *Board) Ply() int    { return b.ply }

// Player returns Player1 or Player2.
func (b *Board) Player() int {
	return b.toMove + 1
}

// Opponent returns the player waiting for its turn.
func (b *Board) Opponent() int {
	return 2 - b.toMove
}

// Position returns the (row, col) of the given player's piece, ok is false
// before the piece has been placed.
func (b *Board) Position(player int) (row, col int, ok bool) {
	idx := b.positions[player-1]
	if idx < 0 {
		return 0, 0, false
	}
	return idx / b.width, idx % b.width, true
}

// Action converts a square to its action index.
func (b *Board) Action(row, col int) game.Action {
	return game.Action(row*b.width + col)
}

// Square converts an action index back to (row, col).
func (b *Board) Square(action game.Action) (row, col int) {
	return int(action) / b.width, int(action) % b.width
}

func (b *Board) IsBlank(row, col int) bool {
	if row < 0 || row >= b.height || col < 0 || col >= b.width {
		return false
	}
	return b.cells[row*b.width+col] == blank
}

func (b *Board) LegalActions() []game.Action {
	return b.movesOf(b.toMove)
}

// MovesOf returns the legal actions of the given player as if it were to move.
func (b *Board) MovesOf(player int) []game.Action {
	return b.movesOf(player - 1)
}

func (b *Board) movesOf(idx int) []game.Action {
	pos := b.positions[idx]
	if pos < 0 {
		moves := make([]game.Action, 0, len(b.cells))
		for i, cell := range b.cells {
			if cell == blank {
				moves = append(moves, game.Action(i))
			}
		}
		return moves
	}

	row, col := pos/b.width, pos%b.width
	moves := make([]game.Action, 0, len(knightOffsets))
	for _, off := range knightOffsets {
		r, c := row+off[0], col+off[1]
		if b.IsBlank(r, c) {
			moves = append(moves, b.Action(r, c))
		}
	}
	slices.Sort(moves)
	return moves
}

// Play returns the board after the player to move occupies action. The
// action is assumed legal; use game.IsLegal to check untrusted input.
func (b *Board) Play(action game.Action) game.State {
	return b.Forecast(action)
}

// Forecast is the typed form of Play.
func (b *Board) Forecast(action game.Action) *Board {
	next := &Board{
		width:     b.width,
		height:    b.height,
		cells:     slices.Clone(b.cells),
		positions: b.positions,
		toMove:    1 - b.toMove,
		ply:       b.ply + 1,
	}
	next.cells[action] = blocked
	next.positions[b.toMove] = int(action)
	return next
}

func (b *Board) Terminal() bool {
	return len(b.LegalActions()) == 0
}

// Outcome is a loss for the player to move: it has no square left to go to.
func (b *Board) Outcome() float64 {
	if !b.Terminal() {
		return game.Draw
	}
	return game.Loss
}

// Winner returns the winning player on a terminal board, 0 otherwise.
func (b *Board) Winner() int {
	if !b.Terminal() {
		return 0
	}
	return b.Opponent()
}

func (b *Board) Hash() game.StateHash {
	buf := make([]byte, 0, len(b.cells)+3*8)
	buf = append(buf, b.cells...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(b.positions[0])))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(int64(b.positions[1])))
	buf = binary.LittleEndian.AppendUint64(buf, uint64(b.toMove))
	return game.StateHash(xxhash.Sum64(buf))
}

// String draws the board with '1'/'2' for the pieces, '-' for blocked
// squares and '.' for blank ones.
func (b *Board) String() string {
	return b.render(func(player int) string { return fmt.Sprint(player) })
}

func (b *Board) render(piece func(player int) string) string {
	var sb strings.Builder
	for row := 0; row < b.height; row++ {
		for col := 0; col < b.width; col++ {
			if col > 0 {
				sb.WriteByte(' ')
			}
			idx := row*b.width + col
			switch {
			case idx == b.positions[0]:
				sb.WriteString(piece(Player1))
			case idx == b.positions[1]:
				sb.WriteString(piece(Player2))
			case b.cells[idx] == blocked:
				sb.WriteByte('-')
			default:
				sb.WriteByte('.')
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
