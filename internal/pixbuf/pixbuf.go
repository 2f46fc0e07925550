// Package pixbuf holds the mutable RGBA sample grid the blur kernel operates on.
package pixbuf

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Buffer is a width x height grid of non-premultiplied RGBA samples, row-major, 4 bytes per pixel.
// len(Pix) is always Width*Height*4.
type Buffer struct {
	width  int
	height int
	Pix    []uint8
}

// Patch is a copy of a rectangular sub-area of a Buffer.
type Patch struct {
	Width  int
	Height int
	Pix    []uint8
}

// New allocates a zeroed buffer. Negative dimensions are treated as zero.
func New(width, height int) *Buffer {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Buffer{width: width, height: height, Pix: make([]uint8, width*height*4)}
}

// FromImage copies img into a new buffer. The source is never aliased.
func FromImage(img image.Image) *Buffer {
	n := imaging.Clone(img)
	b := n.Bounds()
	return &Buffer{width: b.Dx(), height: b.Dy(), Pix: n.Pix}
}

// Image wraps the samples in an *image.NRGBA without copying.
func (b *Buffer) Image() *image.NRGBA {
	return &image.NRGBA{
		Pix:    b.Pix,
		Stride: b.width * 4,
		Rect:   image.Rect(0, 0, b.width, b.height),
	}
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	pix := make([]uint8, len(b.Pix))
	copy(pix, b.Pix)
	return &Buffer{width: b.width, height: b.height, Pix: pix}
}

func (b *Buffer) Width() int  { return b.width }
func (b *Buffer) Height() int { return b.height }

// At returns the four samples of pixel (x, y).
func (b *Buffer) At(x, y int) [4]uint8 {
	off := b.offset(x, y)
	return [4]uint8{b.Pix[off], b.Pix[off+1], b.Pix[off+2], b.Pix[off+3]}
}

// Set overwrites pixel (x, y).
func (b *Buffer) Set(x, y int, c [4]uint8) {
	off := b.offset(x, y)
	copy(b.Pix[off:off+4], c[:])
}

func (b *Buffer) offset(x, y int) int {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		panic(fmt.Sprintf("pixbuf: pixel (%d,%d) out of bounds %dx%d", x, y, b.width, b.height))
	}
	return (y*b.width + x) * 4
}

// ReadPatch copies the samples of the rectangle (x, y, w, h) clamped to the buffer.
// A request with no overlap returns an empty patch.
func (b *Buffer) ReadPatch(x, y, w, h int) Patch {
	r := image.Rect(x, y, x+w, y+h).Intersect(image.Rect(0, 0, b.width, b.height))
	if r.Empty() || w <= 0 || h <= 0 {
		return Patch{}
	}

	pw, ph := r.Dx(), r.Dy()
	p := Patch{Width: pw, Height: ph, Pix: make([]uint8, pw*ph*4)}
	for row := 0; row < ph; row++ {
		src := ((r.Min.Y+row)*b.width + r.Min.X) * 4
		copy(p.Pix[row*pw*4:(row+1)*pw*4], b.Pix[src:src+pw*4])
	}
	return p
}

// WritePatch stores p with its top-left corner at (x, y).
// The caller must ensure the patch fits inside the buffer.
func (b *Buffer) WritePatch(x, y int, p Patch) {
	if p.Width == 0 || p.Height == 0 {
		return
	}
	if x < 0 || y < 0 || x+p.Width > b.width || y+p.Height > b.height || len(p.Pix) != p.Width*p.Height*4 {
		panic(fmt.Sprintf("pixbuf: patch %dx%d at (%d,%d) does not fit %dx%d", p.Width, p.Height, x, y, b.width, b.height))
	}
	for row := 0; row < p.Height; row++ {
		dst := ((y+row)*b.width + x) * 4
		copy(b.Pix[dst:dst+p.Width*4], p.Pix[row*p.Width*4:(row+1)*p.Width*4])
	}
}
