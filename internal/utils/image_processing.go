package utils

import (
	"errors"
	"fmt"
	"image"
)

// ImageProcessingError represents errors that can occur while loading or
// checking an image.
type ImageProcessingError struct {
	Operation string
	Err       error
}

func (e *ImageProcessingError) Error() string {
	return fmt.Sprintf("image processing error in %s: %v", e.Operation, e.Err)
}

func (e *ImageProcessingError) Unwrap() error { return e.Err }

// ImageConstraints bounds accepted image dimensions.
type ImageConstraints struct {
	MaxWidth  int
	MaxHeight int
	MinWidth  int
	MinHeight int
}

// DefaultImageConstraints accepts anything from a thumbnail to a full-size
// digital radiograph.
func DefaultImageConstraints() ImageConstraints {
	return ImageConstraints{
		MaxWidth:  8192,
		MaxHeight: 8192,
		MinWidth:  32,
		MinHeight: 32,
	}
}

// ValidateImageConstraints checks dimensions against the provided constraints.
// Zero limits are not enforced.
func ValidateImageConstraints(img image.Image, c ImageConstraints) error {
	if img == nil {
		return &ImageProcessingError{Operation: "validate", Err: errors.New("input image is nil")}
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < c.MinWidth || h < c.MinHeight {
		return &ImageProcessingError{
			Operation: "validate",
			Err:       fmt.Errorf("image too small: %dx%d < %dx%d", w, h, c.MinWidth, c.MinHeight),
		}
	}
	if (c.MaxWidth > 0 && w > c.MaxWidth) || (c.MaxHeight > 0 && h > c.MaxHeight) {
		return &ImageProcessingError{
			Operation: "validate",
			Err:       fmt.Errorf("image too large: %dx%d > %dx%d", w, h, c.MaxWidth, c.MaxHeight),
		}
	}
	return nil
}

// ImageQuality summarizes basic pixel properties of an input radiograph.
type ImageQuality struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	AspectRatio float64 `json:"aspect_ratio"`
	IsGrayscale bool    `json:"is_grayscale"`
	HasAlpha    bool    `json:"has_alpha"`
}

// AssessImageQuality analyzes basic image properties.
func AssessImageQuality(img image.Image) ImageQuality {
	if img == nil {
		return ImageQuality{}
	}
	b := img.Bounds()
	q := ImageQuality{Width: b.Dx(), Height: b.Dy()}
	if q.Height > 0 {
		q.AspectRatio = float64(q.Width) / float64(q.Height)
	}
	q.IsGrayscale, q.HasAlpha = analyzePixelProperties(img, b)
	return q
}

// analyzePixelProperties checks whether all pixels are gray and whether any is
// translucent, stopping as soon as both answers are known.
func analyzePixelProperties(img image.Image, bounds image.Rectangle) (bool, bool) {
	switch img.(type) {
	case *image.Gray, *image.Gray16:
		return true, false
	}
	isGrayscale := true
	hasAlpha := false
	for y := bounds.Min.Y; y < bounds.Max.Y && (isGrayscale || !hasAlpha); y++ {
		for x := bounds.Min.X; x < bounds.Max.X && (isGrayscale || !hasAlpha); x++ {
			r, g, b, a := img.At(x, y).RGBA()
			if a < 0xffff {
				hasAlpha = true
			}
			if r != g || g != b {
				isGrayscale = false
			}
		}
	}
	return isGrayscale, hasAlpha
}
