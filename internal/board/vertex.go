package board

import (
	"fmt"
	"strconv"
	"strings"
)

// columns skips "I" as GTP does.
const columns = "ABCDEFGHJKLMNOPQRST"

// Format renders p as a GTP vertex such as "D4" or "pass".
func (b *Board) Format(p Point) string {
	switch {
	case p == b.Pass():
		return "pass"
	case p == NoPoint:
		return "none"
	case !b.OnBoard(p):
		return fmt.Sprintf("invalid(%d)", int(p))
	}
	return fmt.Sprintf("%c%d", columns[int(p)%b.size], int(p)/b.size+1)
}

// Parse converts a GTP vertex into a point on this board.
func (b *Board) Parse(vertex string) (Point, error) {
	v := strings.ToUpper(strings.TrimSpace(vertex))
	if v == "PASS" {
		return b.Pass(), nil
	}
	if len(v) < 2 {
		return NoPoint, fmt.Errorf("invalid vertex %q", vertex)
	}
	x := strings.IndexByte(columns[:b.size], v[0])
	if x < 0 {
		return NoPoint, fmt.Errorf("invalid vertex %q: column out of range", vertex)
	}
	y, err := strconv.Atoi(v[1:])
	if err != nil || y < 1 || y > b.size {
		return NoPoint, fmt.Errorf("invalid vertex %q: row out of range", vertex)
	}
	return Point((y-1)*b.size + x), nil
}
