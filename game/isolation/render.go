package isolation

import (
	"fmt"

	"github.com/muesli/termenv"
)

var pieceColors = map[int]string{
	Player1: "#E88388",
	Player2: "#71BEF2",
}

// Render draws the board like String, coloring each piece for the given
// terminal profile. termenv.Ascii yields the plain form.
func (b *Board) Render(profile termenv.Profile) string {
	return b.render(func(player int) string {
		return profile.String(fmt.Sprint(player)).
			Foreground(profile.Color(pieceColors[player])).
			Bold().
			String()
	})
}
