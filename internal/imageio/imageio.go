// Package imageio decodes source images and encodes redacted output.
package imageio

import (
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/pkg/errors"
	_ "golang.org/x/image/webp" // registers the WebP decoder with image.Decode

	"github.com/andresmejia3/veil/internal/types"
)

// DefaultQuality is the JPEG quality used when the caller passes 0.
const DefaultQuality = 95

// Load opens and decodes an image file, applying its EXIF orientation.
func Load(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return Decode(f)
}

// Decode reads any registered format (JPEG, PNG, GIF, BMP, TIFF, WebP).
func Decode(r io.Reader) (image.Image, error) {
	img, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "image decoding failed")
	}
	return img, nil
}

// FormatFor picks the output format from a file name.
func FormatFor(path string) (imaging.Format, error) {
	f, err := imaging.FormatFromFilename(path)
	if err != nil {
		return 0, errors.Wrapf(err, "unsupported output extension %q", filepath.Ext(path))
	}
	return f, nil
}

// Save encodes img to path, choosing the format from the extension.
func Save(path string, img image.Image, quality int) error {
	format, err := FormatFor(path)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if err := Encode(f, img, format, quality); err != nil {
		f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "close %s", path)
}

// Encode writes img in the given format. quality only affects JPEG.
func Encode(w io.Writer, img image.Image, format imaging.Format, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	if err := imaging.Encode(w, img, format, imaging.JPEGQuality(quality)); err != nil {
		return errors.Wrapf(err, "encode %s", strings.ToLower(format.String()))
	}
	return nil
}

// Annotate returns a copy of img with every region outlined and numbered in sequence order.
// Regions are drawn as given, before any clamping.
func Annotate(img image.Image, regions []types.Region) image.Image {
	dc := gg.NewContextForImage(img)
	dc.SetLineWidth(2)
	for i, r := range regions {
		dc.SetRGBA(1, 0.1, 0.1, 0.9)
		dc.DrawRectangle(r.X, r.Y, r.Width, r.Height)
		dc.Stroke()

		dc.SetRGB(1, 1, 0)
		dc.DrawString(fmt.Sprintf("%d", i+1), r.X+3, r.Y+13)
	}
	return dc.Image()
}
