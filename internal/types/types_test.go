package types

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegion(t *testing.T) {
	tests := []struct {
		in      string
		want    Region
		wantErr bool
	}{
		{in: "1,2,3,4", want: Region{1, 2, 3, 4}},
		{in: " 1.5, -2 ,30,40.25", want: Region{1.5, -2, 30, 40.25}},
		{in: "1,2,3", wantErr: true},
		{in: "1,2,3,x", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRegion(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRegionRectFloors(t *testing.T) {
	r := Region{X: 1.9, Y: -0.5, Width: 3.7, Height: 2.2}
	assert.Equal(t, image.Rect(1, -1, 4, 1), r.Rect())
}

func TestRegionScaleAndString(t *testing.T) {
	r := Region{X: 10, Y: 20, Width: 30, Height: 40}.Scale(0.5)
	assert.Equal(t, Region{5, 10, 15, 20}, r)
	assert.Equal(t, "5,10,15,20", r.String())
}
