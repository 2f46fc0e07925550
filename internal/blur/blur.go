// Package blur implements the region-restricted separable box blur used to anonymize faces.
//
// Every region is processed on a copy of its pixels (a patch) so nothing outside the
// clamped rectangle is ever read or written. Each iteration runs a horizontal sweep
// followed by a vertical sweep with a fixed radius equal to the strength. A sweep only
// updates positions whose full window fits inside the patch, so regions no wider (or
// taller) than 2*strength keep an unblurred band along that axis.
package blur

import (
	"math"
	"sync"

	"github.com/andresmejia3/veil/internal/pixbuf"
	"github.com/andresmejia3/veil/internal/types"
)

const (
	// MaxIterations bounds the number of box passes regardless of strength.
	MaxIterations = 5
	// strengthPerIteration is how much strength buys one extra pass.
	strengthPerIteration = 5
)

// snapshotPool recycles the per-sweep copies of a patch.
var snapshotPool = sync.Pool{
	New: func() interface{} {
		b := make([]uint8, 0, 256*1024)
		return &b
	},
}

// colSumsPool recycles column accumulators for the vertical sweep.
var colSumsPool = sync.Pool{
	New: func() interface{} {
		b := make([]uint32, 0, 1024)
		return &b
	},
}

// Iterations maps a strength to the number of box passes: ceil(strength/5) clamped to [1, 5].
func Iterations(strength int) int {
	n := (strength + strengthPerIteration - 1) / strengthPerIteration
	if n < 1 {
		return 1
	}
	if n > MaxIterations {
		return MaxIterations
	}
	return n
}

// Clamp floors the region and restricts it to a width x height buffer.
// ok is false when nothing is left to blur. Bounds are applied before any
// conversion to int, so huge or non-finite coordinates cannot wrap around.
func Clamp(r types.Region, width, height int) (x, y, w, h int, ok bool) {
	if math.IsNaN(r.X) || math.IsNaN(r.Y) || math.IsNaN(r.Width) || math.IsNaN(r.Height) {
		return 0, 0, 0, 0, false
	}
	fx := math.Max(0, math.Floor(r.X))
	fy := math.Max(0, math.Floor(r.Y))
	if fx >= float64(width) || fy >= float64(height) {
		return 0, 0, 0, 0, false
	}
	x, y = int(fx), int(fy)
	w = int(math.Max(0, math.Min(float64(width-x), math.Floor(r.Width))))
	h = int(math.Max(0, math.Min(float64(height-y), math.Floor(r.Height))))
	return x, y, w, h, w > 0 && h > 0
}

// Apply blurs one region of buf in place. Regions that clamp to nothing and
// strengths below 1 leave buf untouched.
func Apply(buf *pixbuf.Buffer, r types.Region, strength int) {
	if strength < 1 {
		return
	}
	x, y, w, h, ok := Clamp(r, buf.Width(), buf.Height())
	if !ok {
		return
	}

	patch := buf.ReadPatch(x, y, w, h)

	snapPtr := snapshotPool.Get().(*[]uint8)
	if cap(*snapPtr) < len(patch.Pix) {
		*snapPtr = make([]uint8, len(patch.Pix))
	}
	snap := (*snapPtr)[:len(patch.Pix)]
	defer snapshotPool.Put(snapPtr)

	for i := 0; i < Iterations(strength); i++ {
		copy(snap, patch.Pix)
		sweepHorizontal(patch, snap, strength)

		copy(snap, patch.Pix)
		sweepVertical(patch, snap, strength)
	}

	buf.WritePatch(x, y, patch)
}

// All applies every region in order against the same buffer. Later regions see the
// output of earlier ones, so overlaps compound.
func All(buf *pixbuf.Buffer, regions []types.Region, strength int) {
	for _, r := range regions {
		Apply(buf, r, strength)
	}
}

// mean is the per-channel average rounded half up.
func mean(sum, n uint32) uint8 {
	return uint8((2*sum + n) / (2 * n))
}

// sweepHorizontal writes into p the average of src over [j-radius, j+radius] for every
// column radius <= j < width-radius. Inside those bounds the window never leaves the row.
func sweepHorizontal(p pixbuf.Patch, src []uint8, radius int) {
	w, h := p.Width, p.Height
	window := 2*radius + 1
	if w < window {
		return
	}
	n := uint32(window)

	for i := 0; i < h; i++ {
		rowStart := i * w * 4

		var sumR, sumG, sumB, sumA uint32
		for k := 0; k < window; k++ {
			off := rowStart + k*4
			sumR += uint32(src[off])
			sumG += uint32(src[off+1])
			sumB += uint32(src[off+2])
			sumA += uint32(src[off+3])
		}

		for j := radius; ; j++ {
			dst := rowStart + j*4
			p.Pix[dst] = mean(sumR, n)
			p.Pix[dst+1] = mean(sumG, n)
			p.Pix[dst+2] = mean(sumB, n)
			p.Pix[dst+3] = mean(sumA, n)

			if j+1 >= w-radius {
				break
			}

			// Slide Window: Subtract leaving pixel, Add entering pixel
			offRemove := rowStart + (j-radius)*4
			offAdd := rowStart + (j+radius+1)*4
			sumR = sumR - uint32(src[offRemove]) + uint32(src[offAdd])
			sumG = sumG - uint32(src[offRemove+1]) + uint32(src[offAdd+1])
			sumB = sumB - uint32(src[offRemove+2]) + uint32(src[offAdd+2])
			sumA = sumA - uint32(src[offRemove+3]) + uint32(src[offAdd+3])
		}
	}
}

// sweepVertical is the column counterpart of sweepHorizontal. It walks row by row and
// keeps one running sum per sample so memory is read sequentially.
func sweepVertical(p pixbuf.Patch, src []uint8, radius int) {
	w, h := p.Width, p.Height
	window := 2*radius + 1
	if h < window {
		return
	}
	n := uint32(window)
	stride := w * 4

	csPtr := colSumsPool.Get().(*[]uint32)
	if cap(*csPtr) < stride {
		*csPtr = make([]uint32, stride)
	}
	colSums := (*csPtr)[:stride]
	// Must zero out recycled buffer
	for c := range colSums {
		colSums[c] = 0
	}
	defer colSumsPool.Put(csPtr)

	for k := 0; k < window; k++ {
		row := src[k*stride : (k+1)*stride]
		for c, v := range row {
			colSums[c] += uint32(v)
		}
	}

	for i := radius; ; i++ {
		dst := p.Pix[i*stride : (i+1)*stride]
		for c := range dst {
			dst[c] = mean(colSums[c], n)
		}

		if i+1 >= h-radius {
			break
		}

		rowRemove := src[(i-radius)*stride : (i-radius+1)*stride]
		rowAdd := src[(i+radius+1)*stride : (i+radius+2)*stride]
		for c := range colSums {
			colSums[c] = colSums[c] - uint32(rowRemove[c]) + uint32(rowAdd[c])
		}
	}
}
