package raster

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// monoFace is a deterministic stub font.Face: every glyph advances by
// exactly its point size in pixels, with no kerning. It exists so the
// font-size fitter's convergence property can be tested without
// shipping a binary font fixture.
type monoFace struct {
	sizePx float64
}

func (f monoFace) Close() error { return nil }

func (f monoFace) Glyph(dot fixed.Point26_6, r rune) (image.Rectangle, image.Image, image.Point, fixed.Int26_6, bool) {
	return image.Rectangle{}, nil, image.Point{}, fixed.I(int(f.sizePx)), true
}

func (f monoFace) GlyphBounds(r rune) (fixed.Rectangle26_6, fixed.Int26_6, bool) {
	return fixed.Rectangle26_6{}, fixed.I(int(f.sizePx)), true
}

func (f monoFace) GlyphAdvance(r rune) (fixed.Int26_6, bool) {
	return fixed.I(int(f.sizePx)), true
}

func (f monoFace) Kern(r0, r1 rune) fixed.Int26_6 {
	return 0
}

func (f monoFace) Metrics() font.Metrics {
	size := fixed.I(int(f.sizePx))
	return font.Metrics{
		Height:  size + size/2,
		Ascent:  size,
		Descent: size / 2,
	}
}

func monoFactory(sizePx float64) (font.Face, error) {
	return monoFace{sizePx: sizePx}, nil
}

func TestFitFontSizeConvergence(t *testing.T) {
	lines := []string{"HELLO WORLD"} // 11 runes
	const maxWidth = 200

	result, err := FitFontSize(lines, 4, 100, maxWidth, monoFactory)
	require.NoError(t, err)

	// Invariant 8: measured width at the returned size <= max_width.
	w := font.MeasureString(result.Face, lines[0])
	assert.LessOrEqual(t, int(w>>6), maxWidth)

	// no size strictly greater by more than (max-min)*2^-23 fits
	tolerance := (100 - 4) * 1.0 / (1 << 23)
	biggerSize := result.SizePx + 2*tolerance
	biggerFace, _ := monoFactory(biggerSize)
	biggerWidth := font.MeasureString(biggerFace, lines[0])
	assert.Greater(t, int(biggerWidth>>6), maxWidth)
}

func TestFitFontSizeFailsWhenMinimumOverflows(t *testing.T) {
	lines := []string{"THIS LINE IS FAR TOO WIDE FOR THE BUDGET"}
	_, err := FitFontSize(lines, 50, 100, 10, monoFactory)
	assert.Error(t, err)
}

func TestRenderTextInvertsPixels(t *testing.T) {
	face := monoFace{sizePx: 8}
	img, err := RenderText("", face, TextOptions{WidthPx: 32, HeightPx: 16, Invert: true})
	require.NoError(t, err)
	// blank text on an inverted white canvas becomes solid black
	for _, p := range img.Pix {
		assert.Equal(t, uint8(0), p)
	}
}
