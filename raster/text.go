package raster

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
)

// TextOptions configures RenderText.
type TextOptions struct {
	WidthPx               int // must be <= wire.DotsPerLine
	HeightPx              int
	X, Y                  int
	FontSizePx            float64
	LineSpacing           float64
	Threshold             uint8
	Invert                bool
	TrimBlankTopAndBottom bool
}

// RenderText rasterizes UTF-8 text (newlines split lines) onto a
// pure-white grayscale canvas, following the spec's line placement
// formula: y_line = y + round(i*line_height), line_height =
// max(1, (ascent-descent+line_gap)*line_spacing) evaluated at the
// requested px scale.
func RenderText(text string, face font.Face, opts TextOptions) (*image.Gray, error) {
	if opts.WidthPx <= 0 || opts.HeightPx <= 0 {
		return nil, errors.New("raster: width and height must be positive")
	}
	spacing := opts.LineSpacing
	if spacing <= 0 {
		spacing = 1.0
	}

	canvas := image.NewGray(image.Rect(0, 0, opts.WidthPx, opts.HeightPx))
	draw.Draw(canvas, canvas.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)

	lineHeight := lineHeightPx(face, spacing)

	d := font.Drawer{
		Dst:  canvas,
		Src:  image.NewUniform(color.Black),
		Face: face,
	}

	for i, line := range strings.Split(text, "\n") {
		if line == "" {
			continue
		}
		y := opts.Y + int(roundF(float64(i)*float64(lineHeight)))
		d.Dot = fixed.P(opts.X, y)
		d.DrawString(line)
	}

	if opts.Invert {
		invertGray(canvas)
	}
	return canvas, nil
}

// LineHeightPx exposes the line-height formula RenderText places
// lines with, so callers can size a canvas before rendering onto it.
func LineHeightPx(face font.Face, spacing float64) int {
	return lineHeightPx(face, spacing)
}

// lineHeightPx computes max(1, (ascent-descent+line_gap)*spacing) in
// pixels for the given face.
func lineHeightPx(face font.Face, spacing float64) int {
	m := face.Metrics()
	ascent := fixedToFloat(m.Ascent)
	descent := fixedToFloat(m.Descent)
	lineGap := fixedToFloat(m.Height - m.Ascent - m.Descent)
	h := (ascent - descent + lineGap) * spacing
	if h < 1 {
		h = 1
	}
	return int(roundF(h))
}

func fixedToFloat(v fixed.Int26_6) float64 {
	return float64(v) / 64
}

func roundF(f float64) float64 {
	if f < 0 {
		return float64(int64(f - 0.5))
	}
	return float64(int64(f + 0.5))
}

func invertGray(img *image.Gray) {
	for i, v := range img.Pix {
		img.Pix[i] = 255 - v
	}
}

// FaceFactory builds a font.Face at the given pixel size. Implementations
// typically close over already-loaded font bytes and a DPI.
type FaceFactory func(sizePx float64) (font.Face, error)

// FitResult is the outcome of FitFontSize.
type FitResult struct {
	SizePx     float64
	Face       font.Face
	LineHeight int
}

// FitFontSize performs 24 iterations of midpoint binary search over
// [minSize, maxSize] to find the largest font size whose widest
// rendered line (measured with pairwise kerning via
// font.MeasureString) fits within maxWidthPx. Fails only when even
// minSize overflows the budget.
func FitFontSize(lines []string, minSize, maxSize float64, maxWidthPx int, factory FaceFactory) (FitResult, error) {
	if minSize <= 0 || maxSize <= minSize {
		return FitResult{}, fmt.Errorf("raster: invalid size range [%v, %v]", minSize, maxSize)
	}
	maxWidthFixed := fixed.I(maxWidthPx)

	widest := func(size float64) (fixed.Int26_6, font.Face, error) {
		face, err := factory(size)
		if err != nil {
			return 0, nil, err
		}
		var w fixed.Int26_6
		for _, line := range lines {
			if lw := font.MeasureString(face, line); lw > w {
				w = lw
			}
		}
		return w, face, nil
	}

	w0, face0, err := widest(minSize)
	if err != nil {
		return FitResult{}, err
	}
	if w0 > maxWidthFixed {
		return FitResult{}, fmt.Errorf("raster: even minimum font size %v overflows width budget %dpx", minSize, maxWidthPx)
	}

	lo, hi := minSize, maxSize
	bestSize, bestFace := minSize, face0
	const iterations = 24
	for range iterations {
		mid := (lo + hi) / 2
		w, face, err := widest(mid)
		if err != nil {
			return FitResult{}, err
		}
		if w > maxWidthFixed {
			hi = mid
		} else {
			lo = mid
			bestSize, bestFace = mid, face
		}
	}

	return FitResult{
		SizePx:     bestSize,
		Face:       bestFace,
		LineHeight: lineHeightPx(bestFace, 1.0),
	}, nil
}
