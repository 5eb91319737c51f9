package raster

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilobyte-labs/funnyprint/wire"
)

func TestPackLineSize(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 384, 8))
	lines := Pack(img, ThresholdInk(128))
	for _, l := range lines {
		assert.Len(t, l, wire.PackedLineBytes)
	}
}

func TestPackSingleDot(t *testing.T) {
	// S6 — pack single dot.
	img := image.NewGray(image.Rect(0, 0, 1, 2))
	img.SetGray(0, 0, color.Gray{Y: 0})
	img.SetGray(0, 1, color.Gray{Y: 255})

	lines := Pack(paddedWidth(img, 384), ThresholdInk(128))
	require.Len(t, lines, 1)
	assert.Equal(t, byte(0x80), lines[0][0])
	assert.Equal(t, byte(0x00), lines[0][wire.BytesPerRow])
	for i, b := range lines[0] {
		if i == 0 || i == wire.BytesPerRow {
			continue
		}
		assert.Equal(t, byte(0), b, "byte %d should be zero", i)
	}
}

// paddedWidth widens img to width by padding with white so Pack's
// clamp-to-384 logic sees a realistic wide canvas while only pixel
// (0,0)/(0,1) are set, matching S6's "width 384" framing.
func paddedWidth(img *image.Gray, width int) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, width, b.Dy()))
	for i := range out.Pix {
		out.Pix[i] = 255
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.SetGray(x-b.Min.X, y-b.Min.Y, img.GrayAt(x, y))
		}
	}
	return out
}

func TestPackUnpackInverse(t *testing.T) {
	// Invariant 2: unpack(pack(img)) == img for b/w images, height
	// multiple of 2, width <= 384.
	const w, h = 16, 4
	img := image.NewGray(image.Rect(0, 0, w, h))
	pattern := [][]bool{
		{true, false, true, false, true, false, true, false, true, false, true, false, true, false, true, false},
		{false, true, false, true, false, true, false, true, false, true, false, true, false, true, false, true},
		{true, true, false, false, true, true, false, false, true, true, false, false, true, true, false, false},
		{false, false, false, false, false, false, false, false, false, false, false, false, false, false, false, false},
	}
	for y, row := range pattern {
		for x, black := range row {
			v := uint8(255)
			if black {
				v = 0
			}
			img.SetGray(x, y, color.Gray{Y: v})
		}
	}

	lines := Pack(img, BinarizedInk)
	got := Unpack(lines, w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			assert.Equal(t, img.GrayAt(x, y), got.GrayAt(x, y), "pixel (%d,%d)", x, y)
		}
	}
}

func TestTrimBlankIdempotent(t *testing.T) {
	var blank, ink wire.PackedLine
	ink[0] = 0x80
	lines := []wire.PackedLine{blank, blank, ink, blank, blank}

	once := TrimBlank(lines)
	twice := TrimBlank(once)
	assert.Equal(t, once, twice)
	assert.Equal(t, []wire.PackedLine{ink}, once)
}

func TestTrimBlankAllBlank(t *testing.T) {
	var blank wire.PackedLine
	out := TrimBlank([]wire.PackedLine{blank, blank, blank})
	assert.Empty(t, out)
}

func TestBinarizeThreshold(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 2, 1))
	img.SetGray(0, 0, color.Gray{Y: 50})
	img.SetGray(1, 0, color.Gray{Y: 200})

	out := Binarize(img, MethodThreshold, 128, false)
	assert.Equal(t, uint8(0), out.GrayAt(0, 0).Y)
	assert.Equal(t, uint8(255), out.GrayAt(1, 0).Y)
}

func TestBinarizeFloydSteinbergIsStrictBW(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x * 37) % 256)})
		}
	}
	out := Binarize(img, MethodFloydSteinberg, 128, false)
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			v := out.GrayAt(x, y).Y
			assert.True(t, v == 0 || v == 255, "pixel (%d,%d) = %d not strict b/w", x, y, v)
		}
	}
}

func TestResizeForPrintScalesHeight(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 768, 200))
	out, err := ResizeForPrint(src, 384, 0)
	require.NoError(t, err)
	assert.Equal(t, 384, out.Bounds().Dx())
	assert.Equal(t, 100, out.Bounds().Dy())
}

func TestResizeForPrintRejectsEmptyImage(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 0, 0))
	_, err := ResizeForPrint(src, 384, 0)
	assert.ErrorIs(t, err, errEmptyImage)
}

func TestAllDitherFunctionsIncludesDefaults(t *testing.T) {
	names := AllDitherFunctions()
	assert.Contains(t, names, "floyd-steinberg")
	assert.Contains(t, names, "atkinson")
	assert.Contains(t, names, "stucki")
	assert.Contains(t, names, "bayer")
	assert.Contains(t, names, "no-dither")
}

func TestDitherFunctionDefaultsEmptyName(t *testing.T) {
	fn, ok := DitherFunction("")
	require.True(t, ok)
	assert.NotNil(t, fn)
}
