package board

import (
	"fmt"
	"strings"

	"github.com/muesli/termenv"
)

// Render draws the position with the given output's color profile. When
// heat is non-nil (one value per slot), empty points show the decile of
// their value relative to the largest one, which is how the coordinator
// displays aggregated win counts.
func (b *Board) Render(out *termenv.Output, heat []int64) string {
	var max int64
	for i := 0; i < len(heat) && i < len(b.cells); i++ {
		if heat[i] > max {
			max = heat[i]
		}
	}
	var sb strings.Builder
	sb.WriteString("   ")
	for x := 0; x < b.size; x++ {
		sb.WriteString(" " + string(columns[x]))
	}
	sb.WriteString("\n")
	for y := b.size - 1; y >= 0; y-- {
		fmt.Fprintf(&sb, "%2d ", y+1)
		for x := 0; x < b.size; x++ {
			p := Point(y*b.size + x)
			sb.WriteString(" ")
			switch b.cells[p] {
			case Black:
				sb.WriteString(out.String("X").Bold().String())
			case White:
				sb.WriteString(out.String("O").Foreground(out.Color("15")).Bold().String())
			default:
				if max > 0 && int(p) < len(heat) && heat[p] > 0 {
					d := heat[p] * 9 / max
					sb.WriteString(out.String(fmt.Sprint(d)).Foreground(heatColor(out, d)).String())
				} else if p == b.last {
					sb.WriteString("+")
				} else {
					sb.WriteString(".")
				}
			}
		}
		fmt.Fprintf(&sb, " %2d\n", y+1)
	}
	fmt.Fprintf(&sb, "%s to play", b.toPlay)
	if len(heat) == b.Slots() && heat[b.Pass()] > 0 {
		fmt.Fprintf(&sb, ", pass %d", heat[b.Pass()])
	}
	sb.WriteString("\n")
	return sb.String()
}

func heatColor(out *termenv.Output, decile int64) termenv.Color {
	switch {
	case decile >= 7:
		return out.Color("9")
	case decile >= 4:
		return out.Color("11")
	}
	return out.Color("12")
}
