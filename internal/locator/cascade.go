package locator

import (
	"context"
	"image"
	"os"

	"github.com/disintegration/imaging"
	pigo "github.com/esimov/pigo/core"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"

	"github.com/andresmejia3/veil/internal/types"
	"github.com/andresmejia3/veil/internal/utils"
)

// CascadeConfig tunes the pigo face finder.
type CascadeConfig struct {
	CascadeFile    string
	MinSize        int
	MaxSize        int
	ShiftFactor    float64
	ScaleFactor    float64
	IouThreshold   float64
	ScoreThreshold float32
	Angle          float64
	// MaxDimension downscales larger images before detection; 0 disables it.
	MaxDimension int
	// MaxFaces keeps only the best scoring faces; 0 keeps all.
	MaxFaces int
}

func (c *CascadeConfig) setDefaults() {
	if c.MinSize == 0 {
		c.MinSize = 20
	}
	if c.MaxSize == 0 {
		c.MaxSize = 1000
	}
	if c.ShiftFactor == 0 {
		c.ShiftFactor = 0.1
	}
	if c.ScaleFactor == 0 {
		c.ScaleFactor = 1.1
	}
	if c.IouThreshold == 0 {
		c.IouThreshold = 0.2
	}
}

// Cascade locates faces with a pigo pixel-intensity-comparison cascade.
type Cascade struct {
	cfg        CascadeConfig
	classifier *pigo.Pigo
}

// NewCascade loads and unpacks the cascade file named in cfg.
func NewCascade(cfg CascadeConfig) (*Cascade, error) {
	data, err := os.ReadFile(cfg.CascadeFile)
	if err != nil {
		return nil, errors.Wrapf(err, "can not open cascade file %s", cfg.CascadeFile)
	}
	return NewCascadeFromBytes(data, cfg)
}

// NewCascadeFromBytes unpacks an in-memory cascade.
func NewCascadeFromBytes(data []byte, cfg CascadeConfig) (*Cascade, error) {
	cfg.setDefaults()

	// Unpack the binary file. This will return the number of cascade trees,
	// the tree depth, the threshold and the prediction from tree's leaf nodes.
	classifier, err := pigo.NewPigo().Unpack(data)
	if err != nil {
		return nil, errors.Wrap(err, "unpack cascade")
	}
	return &Cascade{cfg: cfg, classifier: classifier}, nil
}

func (c *Cascade) Locate(ctx context.Context, img image.Image) ([]types.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, scale := downscale(img, c.cfg.MaxDimension)
	cols, rows := src.Bounds().Dx(), src.Bounds().Dy()

	cParams := pigo.CascadeParams{
		MinSize:     c.cfg.MinSize,
		MaxSize:     c.cfg.MaxSize,
		ShiftFactor: c.cfg.ShiftFactor,
		ScaleFactor: c.cfg.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(src),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	// Run the classifier over the obtained leaf nodes and return the detection results.
	// The result contains quadruplets representing the row, column, scale and detection score.
	faces := c.classifier.RunCascade(cParams, c.cfg.Angle)

	// Calculate the intersection over union (IoU) of two clusters.
	faces = c.classifier.ClusterDetections(faces, c.cfg.IouThreshold)

	dets := detectionsToRegions(faces, 1/scale)
	regions := selectDetections(dets, c.cfg.ScoreThreshold, c.cfg.MaxFaces)

	utils.Logger().Debug("cascade located faces",
		"raw", len(faces), "kept", len(regions), "scale", scale, "cols", cols, "rows", rows)
	return regions, nil
}

// downscale shrinks img so its longest side is at most maxDim and returns the
// factor applied. Images are always returned as NRGBA for the grayscale pass.
func downscale(img image.Image, maxDim int) (*image.NRGBA, float64) {
	b := img.Bounds()
	longest := max(b.Dx(), b.Dy())
	if maxDim <= 0 || longest <= maxDim {
		return imaging.Clone(img), 1
	}

	scale := float64(maxDim) / float64(longest)
	w := uint(float64(b.Dx())*scale + 0.5)
	h := uint(float64(b.Dy())*scale + 0.5)
	small := resize.Resize(max(w, 1), max(h, 1), img, resize.Bilinear)
	return imaging.Clone(small), float64(small.Bounds().Dx()) / float64(b.Dx())
}

// detectionsToRegions turns pigo's centre/scale squares into top-left regions,
// multiplying by factor to return to source coordinates.
func detectionsToRegions(faces []pigo.Detection, factor float64) []types.Detection {
	out := make([]types.Detection, 0, len(faces))
	for _, f := range faces {
		half := float64(f.Scale) / 2
		r := types.Region{
			X:      float64(f.Col) - half,
			Y:      float64(f.Row) - half,
			Width:  float64(f.Scale),
			Height: float64(f.Scale),
		}
		out = append(out, types.Detection{Region: r.Scale(factor), Score: f.Q})
	}
	return out
}
