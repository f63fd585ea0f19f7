// Package report bundles an analysis into a PDF: a findings summary page,
// the original radiograph and one page per attention overlay.
package report

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	lineHeight   = 18
	margin       = 16
	captionSpace = 28
	minPageWidth = 480
)

// Page is one captioned image.
type Page struct {
	Caption string
	Image   image.Image
}

// Bundle is the content of one report.
type Bundle struct {
	Title   string
	Summary []string
	Pages   []Page
}

// Write renders b as a PDF to w.
func Write(w io.Writer, b Bundle) error {
	var imgs []io.Reader
	if b.Title != "" || len(b.Summary) > 0 {
		r, err := encode(summaryPage(b.Title, b.Summary))
		if err != nil {
			return err
		}
		imgs = append(imgs, r)
	}
	for i, p := range b.Pages {
		if p.Image == nil {
			return fmt.Errorf("report: page %d has no image", i+1)
		}
		r, err := encode(captioned(p))
		if err != nil {
			return err
		}
		imgs = append(imgs, r)
	}
	if len(imgs) == 0 {
		return errors.New("report: nothing to render")
	}

	imp := pdfcpu.DefaultImportConfig()
	conf := model.NewDefaultConfiguration()
	if err := api.ImportImages(nil, w, imgs, imp, conf); err != nil {
		return fmt.Errorf("report: build pdf: %w", err)
	}
	return nil
}

// WriteFile renders b to path, creating parent directories.
func WriteFile(path string, b Bundle) error {
	var buf bytes.Buffer
	if err := Write(&buf, b); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("report: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o600)
}

// PageCount returns the number of pages of a rendered report.
func PageCount(pdf []byte) (int, error) {
	return api.PageCount(bytes.NewReader(pdf), model.NewDefaultConfiguration())
}

func encode(img image.Image) (io.Reader, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("report: encode page: %w", err)
	}
	return &buf, nil
}

func drawText(dst draw.Image, x, y int, s string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.Black),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func textWidth(s string) int {
	return font.MeasureString(basicfont.Face7x13, s).Ceil()
}

// captioned places the caption above the image on a white page.
func captioned(p Page) *image.NRGBA {
	b := p.Image.Bounds()
	w := max(b.Dx(), textWidth(p.Caption)+2*margin, minPageWidth)
	h := b.Dy() + captionSpace
	page := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(page, page.Bounds(), image.White, image.Point{}, draw.Src)
	off := image.Pt((w-b.Dx())/2, captionSpace)
	draw.Draw(page, image.Rectangle{Min: off, Max: off.Add(b.Size())}, p.Image, b.Min, draw.Src)
	drawText(page, margin, captionSpace-10, p.Caption)
	return page
}

func summaryPage(title string, lines []string) *image.NRGBA {
	w := max(textWidth(title), minPageWidth-2*margin)
	for _, l := range lines {
		w = max(w, textWidth(l))
	}
	w += 2 * margin
	h := 2*margin + lineHeight*(len(lines)+2)
	page := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(page, page.Bounds(), image.White, image.Point{}, draw.Src)
	y := margin + lineHeight
	drawText(page, margin, y, title)
	y += lineHeight
	for _, l := range lines {
		y += lineHeight
		drawText(page, margin, y, l)
	}
	return page
}
