// Package color converts between RGB and the CIE xy chromaticity
// coordinates the hub uses for colour lights. Every conversion is clamped
// to a gamut triangle, the set of colours a given bulb generation can render.
package color

import (
	"fmt"
	"math"
	"strings"
)

// Point is a chromaticity coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Gamut is the triangle of chromaticities a device class can reproduce.
type Gamut struct {
	Name  string
	Red   Point
	Green Point
	Blue  Point
}

// Gamut triangles per hub hardware generation.
var (
	GamutA = Gamut{Name: "A", Red: Point{0.704, 0.296}, Green: Point{0.2151, 0.7106}, Blue: Point{0.138, 0.08}}
	GamutB = Gamut{Name: "B", Red: Point{0.675, 0.322}, Green: Point{0.409, 0.518}, Blue: Point{0.167, 0.04}}
	GamutC = Gamut{Name: "C", Red: Point{0.6915, 0.3083}, Green: Point{0.17, 0.7}, Blue: Point{0.1532, 0.0475}}
)

// whitePoint is used when a colour carries no chromaticity (pure black).
var whitePoint = Point{0.3127, 0.3290}

// GamutByName returns the gamut triangle with the given letter (A, B or C).
func GamutByName(name string) (Gamut, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "A":
		return GamutA, nil
	case "B":
		return GamutB, nil
	case "C":
		return GamutC, nil
	default:
		return Gamut{}, fmt.Errorf("color: unknown gamut %q", name)
	}
}

// Contains reports whether p lies inside the triangle. Points on an edge
// or vertex count as inside.
func (g Gamut) Contains(p Point) bool {
	v1 := sub(g.Green, g.Red)
	v2 := sub(g.Blue, g.Red)
	q := sub(p, g.Red)

	d := cross(v1, v2)
	if d == 0 {
		return false
	}
	s := cross(q, v2) / d
	t := cross(v1, q) / d
	return s >= 0 && t >= 0 && s+t <= 1
}

// Closest returns p when it is inside the gamut, otherwise the nearest
// point on the triangle's perimeter.
func (g Gamut) Closest(p Point) Point {
	if g.Contains(p) {
		return p
	}

	candidates := [3]Point{
		closestOnSegment(g.Red, g.Green, p),
		closestOnSegment(g.Green, g.Blue, p),
		closestOnSegment(g.Blue, g.Red, p),
	}

	best := candidates[0]
	bestDist := distance(best, p)
	for _, c := range candidates[1:] {
		if d := distance(c, p); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// RGBToXY converts an 8-bit RGB triple to a gamut-clamped chromaticity.
func RGBToXY(r, g, b int, gamut Gamut) Point {
	lr := gammaExpand(channel(r))
	lg := gammaExpand(channel(g))
	lb := gammaExpand(channel(b))

	x := lr*0.664511 + lg*0.154324 + lb*0.162028
	y := lr*0.283881 + lg*0.668433 + lb*0.047685
	z := lr*0.000088 + lg*0.072310 + lb*0.986039

	sum := x + y + z
	if sum == 0 {
		return gamut.Closest(whitePoint)
	}
	return gamut.Closest(Point{X: x / sum, Y: y / sum})
}

// XYToRGB converts a chromaticity and a relative brightness (0-1) to an
// 8-bit RGB triple. Channels are truncated, not rounded.
func XYToRGB(x, y, bri float64, gamut Gamut) (r, g, b int) {
	p := gamut.Closest(Point{X: x, Y: y})
	if p.Y == 0 {
		return 0, 0, 0
	}

	cy := bri
	cx := (cy / p.Y) * p.X
	cz := (cy / p.Y) * (1 - p.X - p.Y)

	lr := cx*1.656492 - cy*0.354851 - cz*0.255038
	lg := -cx*0.707196 + cy*1.655397 + cz*0.036152
	lb := cx*0.051713 - cy*0.121364 + cz*1.011530

	fr := math.Max(gammaCompress(lr), 0)
	fg := math.Max(gammaCompress(lg), 0)
	fb := math.Max(gammaCompress(lb), 0)

	if m := math.Max(fr, math.Max(fg, fb)); m > 1 {
		fr, fg, fb = fr/m, fg/m, fb/m
	}
	return int(fr * 255), int(fg * 255), int(fb * 255)
}

func channel(v int) float64 {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 1
	default:
		return float64(v) / 255
	}
}

func gammaExpand(c float64) float64 {
	if c > 0.04045 {
		return math.Pow((c+0.055)/1.055, 2.4)
	}
	return c / 12.92
}

func gammaCompress(c float64) float64 {
	if c <= 0.0031308 {
		return 12.92 * c
	}
	return 1.055*math.Pow(c, 1/2.4) - 0.055
}

func closestOnSegment(a, b, p Point) Point {
	ab := sub(b, a)
	ap := sub(p, a)
	denom := ab.X*ab.X + ab.Y*ab.Y
	if denom == 0 {
		return a
	}
	t := (ap.X*ab.X + ap.Y*ab.Y) / denom
	t = math.Max(0, math.Min(1, t))
	return Point{X: a.X + ab.X*t, Y: a.Y + ab.Y*t}
}

func sub(a, b Point) Point { return Point{X: a.X - b.X, Y: a.Y - b.Y} }

func cross(a, b Point) float64 { return a.X*b.Y - a.Y*b.X }

func distance(a, b Point) float64 { return math.Hypot(a.X-b.X, a.Y-b.Y) }
