// Package locator finds the rectangles to anonymize in an image.
//
// A Locator returns regions in the order they should be blurred. Implementations
// range from a pigo face cascade to fixed, hand-annotated rectangles.
package locator

import (
	"context"
	"encoding/json"
	"image"
	"os"
	"sort"

	"github.com/pkg/errors"

	"github.com/andresmejia3/veil/internal/types"
)

// Locator produces the ordered regions to blur for a decoded image.
type Locator interface {
	Locate(ctx context.Context, img image.Image) ([]types.Region, error)
}

// Static always returns the same regions, regardless of the image.
type Static []types.Region

func (s Static) Locate(ctx context.Context, _ image.Image) ([]types.Region, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]types.Region, len(s))
	copy(out, s)
	return out, nil
}

// Chain runs each locator in turn and concatenates their regions.
type Chain []Locator

func (c Chain) Locate(ctx context.Context, img image.Image) ([]types.Region, error) {
	var out []types.Region
	for _, l := range c {
		regions, err := l.Locate(ctx, img)
		if err != nil {
			return nil, err
		}
		out = append(out, regions...)
	}
	return out, nil
}

// RegionSource looks up persisted regions for an image id.
type RegionSource interface {
	GetRegions(ctx context.Context, imageID string) ([]types.Region, error)
}

// Stored returns the regions previously saved for ImageID.
type Stored struct {
	Source  RegionSource
	ImageID string
}

func (s Stored) Locate(ctx context.Context, _ image.Image) ([]types.Region, error) {
	regions, err := s.Source.GetRegions(ctx, s.ImageID)
	if err != nil {
		return nil, errors.Wrapf(err, "load stored regions for %s", s.ImageID)
	}
	return regions, nil
}

// LoadRegionsFile reads a JSON array of {"x","y","width","height"} objects.
func LoadRegionsFile(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read regions file %s", path)
	}
	var regions []types.Region
	if err := json.Unmarshal(data, &regions); err != nil {
		return nil, errors.Wrapf(err, "parse regions file %s", path)
	}
	return Static(regions), nil
}

// selectDetections drops detections below minScore, keeps the maxFaces best
// (0 keeps all) and orders the survivors top-to-bottom, then left-to-right.
func selectDetections(dets []types.Detection, minScore float32, maxFaces int) []types.Region {
	kept := make([]types.Detection, 0, len(dets))
	for _, d := range dets {
		if d.Score >= minScore {
			kept = append(kept, d)
		}
	}

	if maxFaces > 0 && len(kept) > maxFaces {
		sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
		kept = kept[:maxFaces]
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Y != kept[j].Y {
			return kept[i].Y < kept[j].Y
		}
		return kept[i].X < kept[j].X
	})

	regions := make([]types.Region, len(kept))
	for i, d := range kept {
		regions[i] = d.Region
	}
	return regions
}
