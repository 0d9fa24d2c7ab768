package video

import (
	"image/color"
	"strings"

	"github.com/fogleman/gg"
	"github.com/pkg/errors"
)

const (
	titleFontSize    = 130.0
	titleLineSpacing = -20.0 // negative: lines overlap slightly, matching the house style
	titleStrokeWidth = 3
	titleShadowDX    = 3
	titleShadowDY    = 3
	titleTopRatio    = 0.10
	titleWidthRatio  = 0.90
)

var (
	titleFill   = color.NRGBA{R: 255, G: 215, B: 0, A: 255} // gold
	titleStroke = color.NRGBA{A: 255}
	titleShadow = color.NRGBA{A: 150}
)

// RenderTitle rasterizes the subject as a full-frame transparent PNG:
// gold fill, black stroke, soft drop shadow, word-wrapped to 90% of the
// frame width and anchored 10% from the top.
func RenderTitle(text, fontPath, outPath string, width, height int) error {
	if strings.TrimSpace(text) == "" {
		return errors.New("empty title")
	}
	dc := gg.NewContext(width, height)
	if err := dc.LoadFontFace(fontPath, titleFontSize); err != nil {
		return errors.Wrapf(err, "load font %s", fontPath)
	}

	maxWidth := float64(width) * titleWidthRatio
	lines := dc.WordWrap(text, maxWidth)
	lineHeight := titleFontSize + titleLineSpacing
	y := float64(height) * titleTopRatio

	for i, line := range lines {
		lw, _ := dc.MeasureString(line)
		x := (float64(width) - lw) / 2
		baseline := y + float64(i)*lineHeight + titleFontSize

		dc.SetColor(titleShadow)
		dc.DrawString(line, x+titleShadowDX, baseline+titleShadowDY)

		// Stroke by drawing the outline color at offsets around the glyphs.
		dc.SetColor(titleStroke)
		for dx := -titleStrokeWidth; dx <= titleStrokeWidth; dx++ {
			for dy := -titleStrokeWidth; dy <= titleStrokeWidth; dy++ {
				if dx == 0 && dy == 0 {
					continue
				}
				dc.DrawString(line, x+float64(dx), baseline+float64(dy))
			}
		}

		dc.SetColor(titleFill)
		dc.DrawString(line, x, baseline)
	}

	if err := dc.SavePNG(outPath); err != nil {
		return errors.Wrap(err, "save title png")
	}
	return nil
}
