package utils

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateImageConstraints(t *testing.T) {
	c := DefaultImageConstraints()
	tests := []struct {
		name    string
		img     image.Image
		wantErr bool
	}{
		{"nil", nil, true},
		{"too small", image.NewGray(image.Rect(0, 0, 16, 64)), true},
		{"ok", image.NewGray(image.Rect(0, 0, 1024, 1024)), false},
		{"too large", image.NewGray(image.Rect(0, 0, 9000, 10)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateImageConstraints(tt.img, c)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
	assert.NoError(t, ValidateImageConstraints(image.NewGray(image.Rect(0, 0, 9000, 9000)), ImageConstraints{}))
}

func TestAssessImageQuality(t *testing.T) {
	gray := image.NewGray(image.Rect(0, 0, 200, 100))
	q := AssessImageQuality(gray)
	assert.True(t, q.IsGrayscale)
	assert.False(t, q.HasAlpha)
	assert.InDelta(t, 2.0, q.AspectRatio, 1e-9)

	rgba := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for y := range 4 {
		for x := range 4 {
			rgba.SetNRGBA(x, y, color.NRGBA{R: 120, G: 120, B: 120, A: 255})
		}
	}
	assert.True(t, AssessImageQuality(rgba).IsGrayscale)

	rgba.SetNRGBA(2, 2, color.NRGBA{R: 255, G: 0, B: 0, A: 128})
	q = AssessImageQuality(rgba)
	assert.False(t, q.IsGrayscale)
	assert.True(t, q.HasAlpha)

	assert.Equal(t, ImageQuality{}, AssessImageQuality(nil))
}

func TestImageProcessingError(t *testing.T) {
	inner := errors.New("boom")
	err := &ImageProcessingError{Operation: "resize", Err: inner}
	assert.Equal(t, "image processing error in resize: boom", err.Error())
	assert.ErrorIs(t, err, inner)
}
