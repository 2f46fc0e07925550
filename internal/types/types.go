package types

import (
	"fmt"
	"image"
	"math"
	"strconv"
	"strings"
)

// Region is an axis-aligned rectangle in pixel coordinates marking an area to blur.
// Coordinates may be fractional, negative, or extend past the image; consumers clamp.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect converts the region to an image.Rectangle, flooring every component.
func (r Region) Rect() image.Rectangle {
	x, y := int(math.Floor(r.X)), int(math.Floor(r.Y))
	return image.Rect(x, y, x+int(math.Floor(r.Width)), y+int(math.Floor(r.Height)))
}

// Scale multiplies every component by f.
func (r Region) Scale(f float64) Region {
	return Region{X: r.X * f, Y: r.Y * f, Width: r.Width * f, Height: r.Height * f}
}

func (r Region) String() string {
	return fmt.Sprintf("%g,%g,%g,%g", r.X, r.Y, r.Width, r.Height)
}

// ParseRegion parses the "x,y,w,h" form used on the command line.
func ParseRegion(s string) (Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return Region{}, fmt.Errorf("region %q must have the form x,y,w,h", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return Region{}, fmt.Errorf("region %q: invalid number %q", s, p)
		}
		v[i] = f
	}
	return Region{X: v[0], Y: v[1], Width: v[2], Height: v[3]}, nil
}

// Detection is a located face before thresholding.
type Detection struct {
	Region
	Score float32 `json:"score"`
}

// ImageTask represents a single image sent to a scan engine
type ImageTask struct {
	Index int
	Path  string
}
