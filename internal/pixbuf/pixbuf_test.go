package pixbuf

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gradient fills each pixel with (x, y, x+y, 255) so positions are recognizable.
func gradient(w, h int) *Buffer {
	b := New(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			b.Set(x, y, [4]uint8{uint8(x), uint8(y), uint8(x + y), 255})
		}
	}
	return b
}

func TestNewLength(t *testing.T) {
	assert.Len(t, New(7, 3).Pix, 7*3*4)
	assert.Len(t, New(-1, 5).Pix, 0)
}

func TestReadPatchInside(t *testing.T) {
	b := gradient(6, 5)
	p := b.ReadPatch(1, 2, 3, 2)

	require.Equal(t, 3, p.Width)
	require.Equal(t, 2, p.Height)
	require.Len(t, p.Pix, 3*2*4)
	// top-left of patch is (1,2)
	assert.Equal(t, []uint8{1, 2, 3, 255}, p.Pix[0:4])
	// bottom-right of patch is (3,3)
	assert.Equal(t, []uint8{3, 3, 6, 255}, p.Pix[len(p.Pix)-4:])
}

func TestReadPatchClamped(t *testing.T) {
	b := gradient(4, 4)
	p := b.ReadPatch(-2, 2, 4, 10)
	assert.Equal(t, 2, p.Width)
	assert.Equal(t, 2, p.Height)
	assert.Equal(t, []uint8{0, 2, 2, 255}, p.Pix[0:4])
}

func TestReadPatchEmpty(t *testing.T) {
	b := gradient(4, 4)
	for _, r := range [][4]int{{0, 0, 0, 3}, {0, 0, 3, 0}, {4, 0, 2, 2}, {0, -5, 2, 2}, {1, 1, -2, 2}} {
		p := b.ReadPatch(r[0], r[1], r[2], r[3])
		assert.Zero(t, p.Width)
		assert.Zero(t, p.Height)
		assert.Empty(t, p.Pix)
	}
}

func TestWritePatchRoundTrip(t *testing.T) {
	b := gradient(5, 5)
	p := b.ReadPatch(1, 1, 2, 2)
	for i := range p.Pix {
		p.Pix[i] = 9
	}
	b.WritePatch(1, 1, p)

	assert.Equal(t, [4]uint8{9, 9, 9, 9}, b.At(2, 2))
	assert.Equal(t, [4]uint8{0, 0, 0, 255}, b.At(0, 0))
	assert.Equal(t, [4]uint8{3, 3, 6, 255}, b.At(3, 3))
}

func TestWritePatchOutOfRangePanics(t *testing.T) {
	b := New(3, 3)
	p := Patch{Width: 2, Height: 2, Pix: make([]uint8, 16)}
	assert.Panics(t, func() { b.WritePatch(2, 2, p) })
	assert.Panics(t, func() { b.WritePatch(-1, 0, p) })
	assert.NotPanics(t, func() { b.WritePatch(1, 1, p) })
}

func TestFromImageAndView(t *testing.T) {
	src := image.NewRGBA(image.Rect(10, 10, 13, 12)) // non-zero Min
	src.Set(10, 10, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	b := FromImage(src)
	require.Equal(t, 3, b.Width())
	require.Equal(t, 2, b.Height())
	assert.Equal(t, [4]uint8{200, 100, 50, 255}, b.At(0, 0))

	// the view shares memory with the buffer
	view := b.Image()
	view.Pix[0] = 1
	assert.Equal(t, uint8(1), b.At(0, 0)[0])
	// and the source was copied, not aliased
	assert.Equal(t, uint8(200), src.RGBAAt(10, 10).R)
}

func TestClone(t *testing.T) {
	b := gradient(2, 2)
	c := b.Clone()
	c.Set(0, 0, [4]uint8{})
	assert.NotEqual(t, b.At(0, 0), c.At(0, 0))
}
