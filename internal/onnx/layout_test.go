package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MeKo-Tech/toraxia/internal/classifier"
)

func TestPlanGradientOutputs(t *testing.T) {
	outputs := []tensorSpec{
		{Name: "predictions", Dims: []int64{-1, 14}},
		{Name: "densenet121/conv5_block16_2_conv", Dims: []int64{-1, 7, 7, 32}},
		{Name: "densenet121/conv5_block16_2_conv_grad", Dims: []int64{-1, 7, 7, 32}},
		{Name: "densenet121/relu", Dims: []int64{-1, 7, 7, 1024}},
		{Name: "input_1_grad", Dims: []int64{-1, 224, 224, 3}},
	}
	g, err := planGradientOutputs("input_1", outputs)
	require.NoError(t, err)

	require.Len(t, g.layers, 1)
	assert.Equal(t, "densenet121/conv5_block16_2_conv", g.layers[0].Name)
	assert.Equal(t, classifier.Shape{1, 7, 7, 32}, g.layers[0].Shape)
	assert.Equal(t, "input_1_grad", g.inputGrad)
	assert.Equal(t, []string{
		"densenet121/conv5_block16_2_conv",
		"densenet121/conv5_block16_2_conv_grad",
		"input_1_grad",
	}, g.outputs)
	assert.Equal(t, 2, g.index["input_1_grad"])

	l, err := classifier.ResolveLayer(g.layers, "conv5_block16_2_conv")
	require.NoError(t, err)
	assert.Equal(t, g.layers[0], l)
}

func TestCheckImageInput(t *testing.T) {
	tests := []struct {
		name    string
		dims    []int64
		wantErr string
	}{
		{"nhwc", []int64{1, 224, 224, 3}, ""},
		{"dynamic", []int64{-1, -1, -1, -1}, ""},
		{"dynamic batch", []int64{-1, 224, 224, 3}, ""},
		{"nchw", []int64{1, 3, 224, 224}, "channels-first"},
		{"grayscale", []int64{1, 224, 224, 1}, "expected 3"},
		{"rank 3", []int64{224, 224, 3}, "4D"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkImageInput(tt.dims)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPlanGradientOutputs_Errors(t *testing.T) {
	_, err := planGradientOutputs("x", []tensorSpec{{Name: "probs", Dims: []int64{1, 2}}})
	assert.Error(t, err)

	_, err = planGradientOutputs("x", []tensorSpec{
		{Name: "feat", Dims: []int64{1, 7, 7, 8}},
		{Name: "feat_grad", Dims: []int64{1, 7, 7, 4}},
	})
	assert.Error(t, err)
}

func TestShapeHelpers(t *testing.T) {
	assert.Equal(t, classifier.Shape{-1, 224, 224, 3}, toShape([]int64{-1, 224, 224, 3}))
	assert.Equal(t, classifier.Shape{1, 7, 7, 3}, layerShape([]int64{-1, 7, 7, 3}))
	assert.True(t, equalDims([]int64{-1, 7}, []int64{1, 7}))
	assert.False(t, equalDims([]int64{1, 7}, []int64{1, 8}))
	assert.Equal(t, []float32{0, 0, 1, 0}, oneHot(2, 4))
}
