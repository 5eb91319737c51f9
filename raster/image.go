package raster

import (
	"errors"
	"image"
	"image/color"
	"sort"

	"github.com/disintegration/imaging"
	"github.com/makeworld-the-better-one/dither/v2"
	"golang.org/x/image/draw"
)

// Binarization defaults.
const (
	DefaultThreshold = 128
	DefaultGamma     = 0.0
)

// BinarizeMethod selects how a grayscale image is reduced to 1-bit.
type BinarizeMethod int

const (
	// MethodThreshold: v' = invert ? 255-v : v; output 0 if v' <= threshold else 255.
	MethodThreshold BinarizeMethod = iota
	// MethodFloydSteinberg: float-buffer error diffusion with weights
	// 7/16, 3/16, 5/16, 1/16.
	MethodFloydSteinberg
)

// ResizeForPrint grayscales the source, computes target height
// round(srcH*targetWidth/srcW) clamped to >= 1 and optionally capped
// at maxHeight, and resizes with a high-quality filter. Returns
// errEmptyImage if src has zero width or height.
func ResizeForPrint(src image.Image, targetWidth, maxHeight int) (*image.Gray, error) {
	gray := toGray(src)
	srcW, srcH := gray.Bounds().Dx(), gray.Bounds().Dy()
	if srcW == 0 || srcH == 0 {
		return nil, errEmptyImage
	}
	targetHeight := int(roundF(float64(srcH) * float64(targetWidth) / float64(srcW)))
	if targetHeight < 1 {
		targetHeight = 1
	}
	if maxHeight > 0 && targetHeight > maxHeight {
		targetHeight = maxHeight
	}
	dst := image.NewGray(image.Rect(0, 0, targetWidth, targetHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), gray, gray.Bounds(), draw.Over, nil)
	return dst, nil
}

func toGray(src image.Image) *image.Gray {
	if g, ok := src.(*image.Gray); ok {
		return g
	}
	b := src.Bounds()
	dst := image.NewGray(b)
	draw.Draw(dst, b, src, b.Min, draw.Src)
	return dst
}

// Binarize reduces a grayscale image to strict 0/255 values using the
// requested method. Output pixels are always exactly 0 or 255.
func Binarize(src *image.Gray, method BinarizeMethod, threshold uint8, invert bool) *image.Gray {
	switch method {
	case MethodFloydSteinberg:
		return binarizeFloydSteinberg(src, threshold, invert)
	default:
		return binarizeThreshold(src, threshold, invert)
	}
}

func binarizeThreshold(src *image.Gray, threshold uint8, invert bool) *image.Gray {
	b := src.Bounds()
	dst := image.NewGray(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := src.GrayAt(x, y).Y
			if invert {
				v = 255 - v
			}
			if v <= threshold {
				dst.SetGray(x, y, color.Gray{Y: 0})
			} else {
				dst.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return dst
}

// binarizeFloydSteinberg copies pixels into a float buffer (applying
// invert on copy), then scans row-major, quantizing each pixel
// against threshold and diffusing the error old-new to neighbors
// with weights 7/16 (x+1,y), 3/16 (x-1,y+1), 5/16 (x,y+1), 1/16
// (x+1,y+1), clamping reads to [0,255].
func binarizeFloydSteinberg(src *image.Gray, threshold uint8, invert bool) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	buf := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := float64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			if invert {
				v = 255 - v
			}
			buf[y*w+x] = v
		}
	}

	at := func(x, y int) float64 {
		if x < 0 || x >= w || y < 0 || y >= h {
			return 0
		}
		v := buf[y*w+x]
		if v < 0 {
			return 0
		}
		if v > 255 {
			return 255
		}
		return v
	}
	set := func(x, y int, v float64) {
		if x < 0 || x >= w || y < 0 || y >= h {
			return
		}
		if v < 0 {
			v = 0
		}
		if v > 255 {
			v = 255
		}
		buf[y*w+x] = v
	}

	dst := image.NewGray(b)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			old := at(x, y)
			var newV float64
			if old <= float64(threshold) {
				newV = 0
			} else {
				newV = 255
			}
			set(x, y, newV)
			if newV == 0 {
				dst.SetGray(b.Min.X+x, b.Min.Y+y, color.Gray{Y: 0})
			} else {
				dst.SetGray(b.Min.X+x, b.Min.Y+y, color.Gray{Y: 255})
			}
			err := old - newV
			set(x+1, y, at(x+1, y)+err*7.0/16)
			set(x-1, y+1, at(x-1, y+1)+err*3.0/16)
			set(x, y+1, at(x, y+1)+err*5.0/16)
			set(x+1, y+1, at(x+1, y+1)+err*1.0/16)
		}
	}
	return dst
}

// DitherFunc is a named extended-dither transform, beyond the two
// binarization methods the wire format requires. It is used by the
// render-image endpoint's optional "dither" field.
type DitherFunc func(img image.Image, gamma float64) image.Image

var ditherFunctions = map[string]DitherFunc{
	"floyd-steinberg": DitherFloydSteinberg,
	"atkinson":        diffusionDither(dither.Atkinson, 3.0),
	"stucki":          diffusionDither(dither.Stucki, 3.5),
	"bayer":           patternDither(dither.Bayer(8, 8, 1.0), 3.5),
	"no-dither":       DitherThreshold(DefaultThreshold),
}

// DitherFunction returns a registered dither function by name. An
// empty name resolves to the default (Floyd-Steinberg).
func DitherFunction(name string) (DitherFunc, bool) {
	if name == "" {
		return ditherFunctions["floyd-steinberg"], true
	}
	fn, ok := ditherFunctions[name]
	return fn, ok
}

// RegisterDitherFunction registers an additional named dither function.
func RegisterDitherFunction(name string, fn DitherFunc) {
	if name == "" {
		panic("raster: dither function name cannot be empty")
	}
	if fn == nil {
		panic("raster: dither function cannot be nil")
	}
	if _, exists := ditherFunctions[name]; exists {
		panic("raster: dither function already registered: " + name)
	}
	ditherFunctions[name] = fn
}

// AllDitherFunctions returns the sorted list of registered dither
// function names.
func AllDitherFunctions() []string {
	keys := make([]string, 0, len(ditherFunctions))
	for k := range ditherFunctions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func diffusionDither(matrix dither.ErrorDiffusionMatrix, defaultGamma float64) DitherFunc {
	return func(img image.Image, gamma float64) image.Image {
		if gamma == DefaultGamma {
			gamma = defaultGamma
		}
		dithered := image.NewRGBA(img.Bounds())
		d := dither.NewDitherer([]color.Color{color.Black, color.White})
		d.Matrix = matrix
		d.Draw(dithered, dithered.Bounds(), imaging.AdjustGamma(img, gamma), image.Point{})
		return dithered
	}
}

func patternDither(matrix dither.PixelMapper, defaultGamma float64) DitherFunc {
	return func(img image.Image, gamma float64) image.Image {
		if gamma == DefaultGamma {
			gamma = defaultGamma
		}
		dithered := image.NewRGBA(img.Bounds())
		d := dither.NewDitherer([]color.Color{color.Black, color.White})
		d.Mapper = matrix
		d.Draw(dithered, dithered.Bounds(), imaging.AdjustGamma(img, gamma), image.Point{})
		return dithered
	}
}

// DitherFloydSteinberg applies the x/image/draw Floyd-Steinberg
// ditherer (distinct from the exact-weight Binarize path above,
// which is the one the wire-format invariants are defined against).
func DitherFloydSteinberg(img image.Image, gamma float64) image.Image {
	const defaultGamma = 1.5
	if gamma == DefaultGamma {
		gamma = defaultGamma
	}
	adjusted := imaging.AdjustGamma(img, gamma)
	dithered := image.NewPaletted(img.Bounds(), []color.Color{color.Black, color.White})
	draw.FloydSteinberg.Draw(dithered, dithered.Bounds(), adjusted, image.Point{})
	return dithered
}

// DitherThreshold returns a DitherFunc that applies a flat threshold
// with no error diffusion.
func DitherThreshold(threshold uint8) DitherFunc {
	return func(img image.Image, _ float64) image.Image {
		if threshold == 0 {
			threshold = DefaultThreshold
		}
		b := img.Bounds()
		trg := image.NewPaletted(b, []color.Color{color.Black, color.White})
		for x := b.Min.X; x < b.Max.X; x++ {
			for y := b.Min.Y; y < b.Max.Y; y++ {
				if colorToGray(img.At(x, y)) <= threshold {
					trg.SetColorIndex(x, y, 0)
				} else {
					trg.SetColorIndex(x, y, 1)
				}
			}
		}
		return trg
	}
}

func colorToGray(c color.Color) uint8 {
	if gray, ok := c.(color.Gray); ok {
		return gray.Y
	}
	r, g, bl, _ := c.RGBA()
	y := (299*r + 587*g + 114*bl) / 1000
	return uint8(y >> 8)
}

var errEmptyImage = errors.New("raster: image has zero bounds")
