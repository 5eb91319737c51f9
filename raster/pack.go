package raster

import (
	"image"
	"image/color"

	"github.com/kilobyte-labs/funnyprint/wire"
)

// InkTest reports whether a source pixel counts as "ink" (black) for
// packing purposes. Text paths use a threshold comparison; binarized
// image paths use strict zero-equality.
type InkTest func(img image.Image, x, y int) bool

// ThresholdInk returns an InkTest where ink means pixel <= threshold.
func ThresholdInk(threshold uint8) InkTest {
	return func(img image.Image, x, y int) bool {
		return colorToGray(img.At(x, y)) <= threshold
	}
}

// BinarizedInk is an InkTest where ink means pixel == 0, for sources
// already reduced to strict 0/255 by Binarize.
func BinarizedInk(img image.Image, x, y int) bool {
	return colorToGray(img.At(x, y)) == 0
}

// Pack walks output rows in pairs, producing one wire.PackedLine per
// pair: for row in {0,1}, for x in [0, width) (width clamped to
// wire.DotsPerLine), bit 7-(x mod 8) of byte row*48+x/8 is set when
// the source pixel at that row is ink. A missing trailing row (odd
// total height) leaves its 48 bytes zero.
func Pack(img image.Image, ink InkTest) []wire.PackedLine {
	b := img.Bounds()
	width := b.Dx()
	if width > wire.DotsPerLine {
		width = wire.DotsPerLine
	}
	height := b.Dy()

	out := make([]wire.PackedLine, 0, (height+1)/2)
	for y := 0; y < height; y += 2 {
		var line wire.PackedLine
		for row := 0; row < 2; row++ {
			yy := y + row
			if yy >= height {
				continue
			}
			for x := 0; x < width; x++ {
				if ink(img, b.Min.X+x, b.Min.Y+yy) {
					byteIdx := row*wire.BytesPerRow + x/8
					bit := 7 - (x % 8)
					line[byteIdx] |= 1 << uint(bit)
				}
			}
		}
		out = append(out, line)
	}
	return out
}

// TrimBlank drops leading and trailing PackedLines whose bytes are
// all zero. If every line is blank, the result is empty. Idempotent.
func TrimBlank(lines []wire.PackedLine) []wire.PackedLine {
	first := -1
	last := -1
	for i, l := range lines {
		if !isBlank(l) {
			if first == -1 {
				first = i
			}
			last = i
		}
	}
	if first == -1 {
		return []wire.PackedLine{}
	}
	out := make([]wire.PackedLine, last-first+1)
	copy(out, lines[first:last+1])
	return out
}

func isBlank(l wire.PackedLine) bool {
	for _, b := range l {
		if b != 0 {
			return false
		}
	}
	return true
}

// Unpack reconstructs a 1-bit grayscale image from packed lines,
// given the original pixel width (<= wire.DotsPerLine) and height.
// It is the left inverse of Pack for black-and-white images whose
// height is a multiple of 2 and width <= wire.DotsPerLine.
func Unpack(lines []wire.PackedLine, width, height int) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = 255
	}
	for li, line := range lines {
		for row := 0; row < 2; row++ {
			y := li*2 + row
			if y >= height {
				continue
			}
			for x := 0; x < width; x++ {
				byteIdx := row*wire.BytesPerRow + x/8
				bit := 7 - (x % 8)
				if line[byteIdx]&(1<<uint(bit)) != 0 {
					img.SetGray(x, y, color.Gray{Y: 0})
				}
			}
		}
	}
	return img
}
