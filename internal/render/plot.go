package render

import (
	"image/color"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// Plotter accumulates particles into an RGBA buffer additively.
type Plotter struct {
	View View
	// MaxSpeed is the speed drawn fully red. Slower particles ramp from blue.
	MaxSpeed float32
	// Intensity is added per particle to each channel, scaled by its colour.
	Intensity float32

	pix []byte
}

// NewPlotter allocates the pixel buffer for view.
func NewPlotter(view View, maxSpeed float32) *Plotter {
	return &Plotter{
		View:      view,
		MaxSpeed:  maxSpeed,
		Intensity: 0.35,
		pix:       make([]byte, 4*view.Width*view.Height),
	}
}

// Pixels returns the buffer in ebiten's WritePixels layout.
func (p *Plotter) Pixels() []byte { return p.pix }

// Clear resets every pixel to opaque black.
func (p *Plotter) Clear() {
	for i := 0; i < len(p.pix); i += 4 {
		p.pix[i], p.pix[i+1], p.pix[i+2], p.pix[i+3] = 0, 0, 0, 255
	}
}

// SpeedColor interpolates between blue at rest and red at maxSpeed.
func SpeedColor(speed, maxSpeed float32) color.RGBA {
	t := float32(1)
	if maxSpeed > 0 {
		t = min(max(speed/maxSpeed, 0), 1)
	}
	return color.RGBA{
		R: uint8(255 * t),
		G: uint8(64 * (1 - t)),
		B: uint8(255 * (1 - t)),
		A: 255,
	}
}

// Plot adds count particles from interleaved position and velocity arrays.
// It returns how many landed on screen.
func (p *Plotter) Plot(positions, velocities []float32, count int) int {
	w, h := p.View.Width, p.View.Height
	count = min(count, len(positions)/2, len(velocities)/2)
	drawn := 0
	for i := 0; i < count; i++ {
		x, y := p.View.WorldToScreen(mgl32.Vec2{positions[2*i], positions[2*i+1]})
		if math.IsNaN(float64(x)) || math.IsNaN(float64(y)) || x < 0 || y < 0 || x >= float32(w) || y >= float32(h) {
			continue
		}
		vx, vy := velocities[2*i], velocities[2*i+1]
		c := SpeedColor(float32(math.Sqrt(float64(vx*vx+vy*vy))), p.MaxSpeed)
		p.add(int(x), int(y), c)
		drawn++
	}
	return drawn
}

func (p *Plotter) add(x, y int, c color.RGBA) {
	base := 4 * (y*p.View.Width + x)
	p.pix[base] = addSat(p.pix[base], c.R, p.Intensity)
	p.pix[base+1] = addSat(p.pix[base+1], c.G, p.Intensity)
	p.pix[base+2] = addSat(p.pix[base+2], c.B, p.Intensity)
	p.pix[base+3] = 255
}

func addSat(dst, src uint8, k float32) uint8 {
	v := float32(dst) + float32(src)*k
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// Marker draws a cross of half-size r centred on a world position.
func (p *Plotter) Marker(at mgl32.Vec2, r int, c color.RGBA) {
	cx, cy := p.screen(at)
	p.line(cx-r, cy, cx+r, cy, c)
	p.line(cx, cy-r, cx, cy+r, c)
}

// Grid draws world-space lines every spacing units over [-extent, extent]
// on both axes and marks the world origin.
func (p *Plotter) Grid(extent, spacing float32, line, origin color.RGBA) {
	if spacing <= 0 || extent < 0 {
		return
	}
	n := int(extent / spacing)
	lo, hi := -float32(n)*spacing, float32(n)*spacing
	for i := -n; i <= n; i++ {
		v := float32(i) * spacing
		x0, y0 := p.screen(mgl32.Vec2{lo, v})
		x1, y1 := p.screen(mgl32.Vec2{hi, v})
		p.line(x0, y0, x1, y1, line)
		x0, y0 = p.screen(mgl32.Vec2{v, lo})
		x1, y1 = p.screen(mgl32.Vec2{v, hi})
		p.line(x0, y0, x1, y1, line)
	}
	ox, oy := p.screen(mgl32.Vec2{})
	p.line(ox, oy, ox, oy, origin)
}

func (p *Plotter) screen(at mgl32.Vec2) (int, int) {
	x, y := p.View.WorldToScreen(at)
	return int(x), int(y)
}

// line plots a segment using Bresenham's integer algorithm.
func (p *Plotter) line(x0, y0, x1, y1 int, c color.RGBA) {
	w, h := p.View.Width, p.View.Height
	dx := abs(x1 - x0)
	sx := -1
	if x0 < x1 {
		sx = 1
	}
	dy := -abs(y1 - y0)
	sy := -1
	if y0 < y1 {
		sy = 1
	}
	err := dx + dy
	for {
		if x0 >= 0 && x0 < w && y0 >= 0 && y0 < h {
			base := 4 * (y0*w + x0)
			p.pix[base], p.pix[base+1], p.pix[base+2], p.pix[base+3] = c.R, c.G, c.B, 255
		}
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
