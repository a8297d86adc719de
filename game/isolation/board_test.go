package isolation

import (
	"testing"

	"arbor/game"

	"github.com/muesli/termenv"
	"github.com/stretchr/testify/require"
)

func TestBoardPlacement(t *testing.T) {
	t.Run("empty board offers every square", func(t *testing.T) {
		b := NewDefaultBoard()

		moves := b.LegalActions()

		require.Len(t, moves, 49, "Every square should be open for placement")
		require.Equal(t, Player1, b.Player())
		require.False(t, b.Terminal())
	})

	t.Run("placement blocks the square for the opponent", func(t *testing.T) {
		b := NewDefaultBoard()
		center := b.Action(3, 3)

		next := b.Forecast(center)

		require.Equal(t, Player2, next.Player(), "Turn should pass to player 2")
		require.Len(t, next.LegalActions(), 48, "Occupied square should not be offered")
		require.NotContains(t, next.LegalActions(), center)
		require.Len(t, b.LegalActions(), 49, "Original board should not change")
	})

	t.Run("placed piece moves like a knight", func(t *testing.T) {
		b := NewDefaultBoard().Forecast(game.Action(24)).Forecast(game.Action(0))

		moves := b.LegalActions()

		expected := []game.Action{
			b.Action(1, 2), b.Action(1, 4), b.Action(2, 1), b.Action(2, 5),
			b.Action(4, 1), b.Action(4, 5), b.Action(5, 2), b.Action(5, 4),
		}
		require.ElementsMatch(t, expected, moves)
		require.IsIncreasing(t, moves, "Moves should be sorted by action index")
	})
}

func TestBoardTerminal(t *testing.T) {
	// Player 1 in the corner of a 3x3 board with both knight squares blocked.
	b, err := FromSnapshot(Snapshot{
		Width:     3,
		Height:    3,
		Blocked:   []int{0, 5, 7, 4},
		Positions: [2]int{0, 4},
		ToMove:    Player1,
	})
	require.NoError(t, err)

	require.True(t, b.Terminal(), "Player 1 should have no moves")
	require.Equal(t, game.Loss, b.Outcome(), "Player to move should lose")
	require.Equal(t, Player2, b.Winner())
	require.Empty(t, b.LegalActions())
}

func TestBoardHash(t *testing.T) {
	a := NewDefaultBoard().Forecast(10).Forecast(20)
	b := NewDefaultBoard().Forecast(10).Forecast(20)
	c := NewDefaultBoard().Forecast(20).Forecast(10)

	require.Equal(t, a.Hash(), b.Hash(), "Same position should hash equally")
	require.NotEqual(t, a.Hash(), c.Hash(), "Swapped pieces should hash differently")
}

func TestSnapshotRoundTrip(t *testing.T) {
	b := NewDefaultBoard().Forecast(10).Forecast(30).Forecast(25)

	got, err := FromSnapshot(b.Snapshot())

	require.NoError(t, err)
	require.Equal(t, b.Hash(), got.Hash())
	require.Equal(t, b.String(), got.String())
	require.Equal(t, b.Ply(), got.Ply())
}

func TestFromSnapshotRejectsInvalid(t *testing.T) {
	_, err := FromSnapshot(Snapshot{Width: 7, Height: 7, ToMove: 3})
	require.Error(t, err)

	_, err = FromSnapshot(Snapshot{Width: 7, Height: 7, ToMove: 1, Positions: [2]int{5, -1}})
	require.Error(t, err, "Unblocked piece square should be rejected")

	_, err = FromSnapshot(Snapshot{Width: 7, Height: 7, ToMove: 1, Blocked: []int{99}, Positions: [2]int{-1, -1}})
	require.Error(t, err)
}

func TestHeuristics(t *testing.T) {
	b := NewDefaultBoard().Forecast(24).Forecast(0)

	// Player 1 in the center has 8 moves, player 2 in the corner has 2.
	require.Equal(t, 6.0, MoveDifference(b))
	require.Equal(t, 8.0, Mobility(b))
	require.Equal(t, 4.0, Aggressive(b))
}

func TestRender(t *testing.T) {
	b := NewDefaultBoard().Forecast(0)

	require.Equal(t, b.String(), b.Render(termenv.Ascii), "Ascii profile should not add escape codes")
	require.Contains(t, b.String(), "1 . .")
}

func TestFeatures(t *testing.T) {
	b := NewDefaultBoard().Forecast(24).Forecast(0)
	f := Features{Width: 7, Height: 7}
	channels, height, width := f.Shape()
	dst := make([]float32, channels*height*width)

	f.Features(b, dst)

	require.Equal(t, 49, f.ActionSpace())
	require.Equal(t, float32(1), dst[24], "Own piece should be on the first plane")
	require.Equal(t, float32(1), dst[49+0], "Opponent piece should be on the second plane")
	require.Equal(t, float32(1), dst[98+24])
	require.Equal(t, float32(1), dst[98+0])
	require.Equal(t, float32(0), dst[98+1])
}
