package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveLayer(t *testing.T) {
	layers := []LayerInfo{
		{Name: "densenet121/conv5_block16_2_conv", Shape: Shape{1, 7, 7, 32}},
		{Name: "densenet121/conv5_block16_concat", Shape: Shape{1, 7, 7, 1024}},
		{Name: "head/pool", Shape: Shape{1, 1, 1, 1024}},
		{Name: "backbone/pool", Shape: Shape{1, 1, 1, 1024}},
	}

	tests := []struct {
		name    string
		query   string
		want    string
		wantErr bool
	}{
		{name: "exact", query: "head/pool", want: "head/pool"},
		{name: "nested suffix", query: "conv5_block16_2_conv", want: "densenet121/conv5_block16_2_conv"},
		{name: "dotted suffix", query: "densenet121.conv5_block16_concat", want: "densenet121/conv5_block16_concat"},
		{name: "ambiguous", query: "pool", wantErr: true},
		{name: "missing", query: "conv4_block1", wantErr: true},
		{name: "partial segment does not match", query: "2_conv", wantErr: true},
		{name: "empty", query: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveLayer(layers, tt.query)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrLayerNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestLayerInfoSpatial(t *testing.T) {
	h, w := LayerInfo{Shape: Shape{1, 7, 5, 3}}.Spatial()
	assert.Equal(t, 7, h)
	assert.Equal(t, 5, w)

	h, w = LayerInfo{Shape: Shape{1, 3}}.Spatial()
	assert.Zero(t, h)
	assert.Zero(t, w)
}

func TestCheckClass(t *testing.T) {
	require.NoError(t, CheckClass(0, 3))
	require.NoError(t, CheckClass(2, 3))
	assert.ErrorIs(t, CheckClass(3, 3), ErrClassOutOfRange)
	assert.ErrorIs(t, CheckClass(-1, 3), ErrClassOutOfRange)
}
