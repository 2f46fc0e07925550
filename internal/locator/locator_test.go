package locator

import (
	"context"
	"errors"
	"image"
	"os"
	"path/filepath"
	"testing"

	pigo "github.com/esimov/pigo/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresmejia3/veil/internal/types"
)

type fakeSource map[string][]types.Region

func (f fakeSource) GetRegions(_ context.Context, id string) ([]types.Region, error) {
	r, ok := f[id]
	if !ok {
		return nil, errors.New("no such image")
	}
	return r, nil
}

var blank = image.NewNRGBA(image.Rect(0, 0, 10, 10))

func TestStaticReturnsCopy(t *testing.T) {
	s := Static{{X: 1, Y: 2, Width: 3, Height: 4}}
	got, err := s.Locate(context.Background(), blank)
	require.NoError(t, err)
	require.Equal(t, []types.Region(s), got)

	got[0].X = 99
	assert.Equal(t, 1.0, s[0].X)
}

func TestStaticHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Static{{Width: 1, Height: 1}}.Locate(ctx, blank)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChainKeepsOrder(t *testing.T) {
	a := Static{{X: 1}, {X: 2}}
	b := Static{{X: 3}}
	got, err := Chain{a, b}.Locate(context.Background(), blank)
	require.NoError(t, err)
	assert.Equal(t, []types.Region{{X: 1}, {X: 2}, {X: 3}}, got)
}

func TestChainStopsOnError(t *testing.T) {
	bad := Stored{Source: fakeSource{}, ImageID: "missing"}
	_, err := Chain{Static{{X: 1}}, bad}.Locate(context.Background(), blank)
	assert.ErrorContains(t, err, "missing")
}

func TestStored(t *testing.T) {
	src := fakeSource{"img1": {{X: 4, Y: 4, Width: 2, Height: 2}}}
	got, err := Stored{Source: src, ImageID: "img1"}.Locate(context.Background(), blank)
	require.NoError(t, err)
	assert.Equal(t, src["img1"], got)
}

func TestLoadRegionsFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "regions.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"x":1,"y":2,"width":3,"height":4},{"x":-5.5,"y":0,"width":10,"height":10,"score":0.9}]`), 0644))

	regions, err := LoadRegionsFile(path)
	require.NoError(t, err)
	assert.Equal(t, Static{{X: 1, Y: 2, Width: 3, Height: 4}, {X: -5.5, Y: 0, Width: 10, Height: 10}}, regions)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"x":1}`), 0644))
	_, err = LoadRegionsFile(bad)
	assert.Error(t, err)

	_, err = LoadRegionsFile(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestSelectDetections(t *testing.T) {
	dets := []types.Detection{
		{Region: types.Region{X: 50, Y: 10}, Score: 9},
		{Region: types.Region{X: 5, Y: 10}, Score: 7},
		{Region: types.Region{X: 0, Y: 0}, Score: 2}, // below threshold
		{Region: types.Region{X: 20, Y: 30}, Score: 6},
		{Region: types.Region{X: 90, Y: 90}, Score: 8},
	}

	got := selectDetections(dets, 5, 0)
	assert.Equal(t, []types.Region{{X: 5, Y: 10}, {X: 50, Y: 10}, {X: 20, Y: 30}, {X: 90, Y: 90}}, got)

	// max faces keeps the best scores, then orders spatially
	got = selectDetections(dets, 5, 2)
	assert.Equal(t, []types.Region{{X: 50, Y: 10}, {X: 90, Y: 90}}, got)

	assert.Empty(t, selectDetections(nil, 0, 10))
}

func TestDetectionsToRegions(t *testing.T) {
	faces := []pigo.Detection{{Row: 50, Col: 40, Scale: 20, Q: 12.5}}

	got := detectionsToRegions(faces, 1)
	require.Len(t, got, 1)
	assert.Equal(t, types.Region{X: 30, Y: 40, Width: 20, Height: 20}, got[0].Region)
	assert.Equal(t, float32(12.5), got[0].Score)

	got = detectionsToRegions(faces, 2)
	assert.Equal(t, types.Region{X: 60, Y: 80, Width: 40, Height: 40}, got[0].Region)
}

func TestDownscale(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 400, 200))

	small, scale := downscale(img, 100)
	assert.Equal(t, 100, small.Bounds().Dx())
	assert.Equal(t, 50, small.Bounds().Dy())
	assert.InDelta(t, 0.25, scale, 1e-9)

	same, scale := downscale(img, 0)
	assert.Equal(t, img.Bounds(), same.Bounds())
	assert.Equal(t, 1.0, scale)

	same, scale = downscale(img, 400)
	assert.Equal(t, img.Bounds(), same.Bounds())
	assert.Equal(t, 1.0, scale)
}

func TestNewCascadeMissingFile(t *testing.T) {
	_, err := NewCascade(CascadeConfig{CascadeFile: filepath.Join(t.TempDir(), "facefinder")})
	assert.ErrorContains(t, err, "can not open cascade file")
}

func TestCascadeDefaults(t *testing.T) {
	var c CascadeConfig
	c.setDefaults()
	assert.Equal(t, CascadeConfig{MinSize: 20, MaxSize: 1000, ShiftFactor: 0.1, ScaleFactor: 1.1, IouThreshold: 0.2}, c)
}
