package render

import (
	"image/color"
	"testing"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/stretchr/testify/assert"
)

func TestViewRoundTrip(t *testing.T) {
	v := NewView(800, 600, 20)
	assert.Equal(t, float32(30), v.Scale())

	assert.Equal(t, mgl32.Vec2{0, 0}, v.ScreenToWorld(400, 300))
	assert.Equal(t, mgl32.Vec2{-400.0 / 30, 10}, v.ScreenToWorld(0, 0))

	for _, p := range []mgl32.Vec2{{0, 0}, {3, -2}, {-6.5, 7.25}} {
		x, y := v.WorldToScreen(p)
		back := v.ScreenToWorld(float64(x), float64(y))
		assert.InDelta(t, p[0], back[0], 1e-4)
		assert.InDelta(t, p[1], back[1], 1e-4)
	}

	v.Center = mgl32.Vec2{1, 1}
	assert.Equal(t, mgl32.Vec2{1, 1}, v.ScreenToWorld(400, 300))
}

func TestViewDefaults(t *testing.T) {
	v := NewView(100, 100, 0)
	assert.Equal(t, float32(DefaultWorldHeight), v.WorldHeight)
	assert.Equal(t, v.Center, View{}.ScreenToWorld(10, 10))
}

func TestSpeedColor(t *testing.T) {
	assert.Equal(t, uint8(255), SpeedColor(0, 5).B)
	assert.Equal(t, uint8(0), SpeedColor(0, 5).R)
	assert.Equal(t, uint8(255), SpeedColor(5, 5).R)
	assert.Equal(t, uint8(0), SpeedColor(50, 5).B)
}

func TestPlotAddsAndClips(t *testing.T) {
	p := NewPlotter(NewView(10, 10, 10), 1)
	p.Clear()
	positions := []float32{0, 0, 0, 0, 100, 100}
	velocities := []float32{1, 0, 1, 0, 0, 0}

	assert.Equal(t, 2, p.Plot(positions, velocities, 3))
	base := 4 * (5*10 + 5)
	px := p.Pixels()
	assert.Equal(t, uint8(178), px[base], "two additive hits of red")
	assert.Equal(t, uint8(255), px[base+3])

	for i := 0; i < 10; i++ {
		p.Plot(positions, velocities, 1)
	}
	assert.Equal(t, uint8(255), px[base], "saturates")
	assert.Equal(t, 0, p.Plot(positions, velocities, 0))
}

func TestMarker(t *testing.T) {
	p := NewPlotter(NewView(9, 9, 9), 1)
	p.Clear()
	red := SpeedColor(1, 1)
	p.Marker(mgl32.Vec2{0, 0}, 2, red)
	px := p.Pixels()
	for _, xy := range [][2]int{{2, 4}, {6, 4}, {4, 2}, {4, 6}, {4, 4}} {
		assert.Equal(t, uint8(255), px[4*(xy[1]*9+xy[0])], "%v", xy)
	}
	assert.Equal(t, uint8(0), px[4*(0*9+0)])
}

func TestGrid(t *testing.T) {
	p := NewPlotter(NewView(9, 9, 9), 1)
	p.Clear()
	grey := color.RGBA{77, 77, 77, 255}
	red := color.RGBA{255, 0, 0, 255}
	p.Grid(2, 1, grey, red)
	px := p.Pixels()
	at := func(x, y int) uint8 { return px[4*(y*9+x)] }

	assert.Equal(t, uint8(255), at(4, 4), "origin")
	for _, xy := range [][2]int{{2, 4}, {6, 4}, {3, 3}, {4, 2}, {6, 6}} {
		assert.Equal(t, uint8(77), at(xy[0], xy[1]), "%v", xy)
	}
	for _, xy := range [][2]int{{0, 0}, {1, 4}, {7, 4}, {4, 8}} {
		assert.Equal(t, uint8(0), at(xy[0], xy[1]), "%v", xy)
	}

	p.Clear()
	p.Grid(2, 0, grey, red)
	assert.Equal(t, uint8(0), at(4, 4), "zero spacing draws nothing")
}
