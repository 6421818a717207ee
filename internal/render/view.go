// Package render rasterises particle generations into an RGBA pixel buffer
// and maps between screen pixels and world coordinates.
package render

import "github.com/go-gl/mathgl/mgl32"

// DefaultWorldHeight is the world-space height shown on screen. It leaves a
// margin around the seed grid.
const DefaultWorldHeight = 20

// View maps world coordinates, y up and centred on Center, to a Width×Height
// pixel screen with y down.
type View struct {
	Width, Height int
	WorldHeight   float32
	Center        mgl32.Vec2
}

// NewView returns a view of the given pixel size centred on the origin.
func NewView(width, height int, worldHeight float32) View {
	if worldHeight <= 0 {
		worldHeight = DefaultWorldHeight
	}
	return View{Width: width, Height: height, WorldHeight: worldHeight}
}

// Scale is pixels per world unit.
func (v View) Scale() float32 {
	if v.WorldHeight <= 0 || v.Height <= 0 {
		return 0
	}
	return float32(v.Height) / v.WorldHeight
}

// ScreenToWorld converts a pixel position to world space.
func (v View) ScreenToWorld(x, y float64) mgl32.Vec2 {
	s := v.Scale()
	if s == 0 {
		return v.Center
	}
	return mgl32.Vec2{
		(float32(x)-float32(v.Width)/2)/s + v.Center[0],
		-(float32(y)-float32(v.Height)/2)/s + v.Center[1],
	}
}

// WorldToScreen converts a world position to pixel space.
func (v View) WorldToScreen(p mgl32.Vec2) (x, y float32) {
	s := v.Scale()
	x = (p[0]-v.Center[0])*s + float32(v.Width)/2
	y = -(p[1]-v.Center[1])*s + float32(v.Height)/2
	return x, y
}
