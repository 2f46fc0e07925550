package imageio

import (
	"bytes"
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/veil/internal/types"
)

func checker(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%2 == 0 {
				img.SetNRGBA(x, y, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
			} else {
				img.SetNRGBA(x, y, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
			}
		}
	}
	return img
}

func TestEncodeDecodePNGLossless(t *testing.T) {
	src := checker(8, 6)

	var buf bytes.Buffer
	require.NoError(t, Encode(&buf, src, imaging.PNG, 0))

	got, err := Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), got.Bounds())
	assert.Equal(t, src.Pix, imaging.Clone(got).Pix)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	src := checker(16, 16)

	for _, name := range []string{"out.png", "out.jpg", "out.bmp", "out.tif"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Save(path, src, 90), name)

		got, err := Load(path)
		require.NoError(t, err, name)
		assert.Equal(t, src.Bounds(), got.Bounds(), name)
	}
}

func TestSaveUnsupportedExtension(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "out.xyz"), checker(2, 2), 0)
	assert.Error(t, err)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.png"))
	assert.Error(t, err)

	_, err = Decode(bytes.NewReader([]byte("definitely not an image")))
	assert.ErrorContains(t, err, "image decoding failed")
}

func TestAnnotateLeavesSourceUntouched(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 40, 40))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	orig := append([]uint8(nil), src.Pix...)

	out := Annotate(src, []types.Region{{X: 5, Y: 5, Width: 20, Height: 20}})

	assert.Equal(t, orig, src.Pix)
	assert.Equal(t, src.Bounds(), out.Bounds())

	// the left edge of the outline is no longer white
	r, g, b, _ := out.At(5, 15).RGBA()
	assert.False(t, r == 0xffff && g == 0xffff && b == 0xffff)
	// the middle of the rectangle stays white
	r, g, b, _ = out.At(15, 20).RGBA()
	assert.True(t, r == 0xffff && g == 0xffff && b == 0xffff)
}
