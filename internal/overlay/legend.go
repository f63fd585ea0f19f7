package overlay

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const legendBarWidth = 16

// Legend renders a vertical color bar for pal with "high"/"low" tick labels
// and an optional caption, on a white background. Height is clamped to at
// least 40 pixels.
func Legend(pal *Palette, height int, caption string) *image.NRGBA {
	if pal == nil {
		pal, _ = LookupPalette(DefaultPalette)
	}
	if height < 40 {
		height = 40
	}
	face := basicfont.Face7x13
	textW := font.MeasureString(face, "high").Ceil()
	if cw := font.MeasureString(face, caption).Ceil(); cw > textW {
		textW = cw
	}
	width := legendBarWidth + 6 + textW + 4

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	barTop, barBottom := 4, height-4
	if caption != "" {
		barTop = 20
	}
	span := barBottom - barTop - 1
	for y := barTop; y < barBottom; y++ {
		v := float32(barBottom-1-y) / float32(span)
		c := pal.Value(v)
		for x := 2; x < 2+legendBarWidth; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	d := &font.Drawer{Dst: img, Src: image.NewUniform(color.Black), Face: face}
	labelX := fixed.I(2 + legendBarWidth + 4)
	d.Dot = fixed.Point26_6{X: labelX, Y: fixed.I(barTop + 10)}
	d.DrawString("high")
	d.Dot = fixed.Point26_6{X: labelX, Y: fixed.I(barBottom)}
	d.DrawString("low")
	if caption != "" {
		d.Dot = fixed.Point26_6{X: fixed.I(2), Y: fixed.I(14)}
		d.DrawString(caption)
	}
	return img
}
