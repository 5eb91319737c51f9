// Package fontmgr resolves font names and font files into
// golang.org/x/image/font.Face values usable by the raster pipeline:
// built-in embedded bitmap faces, external bitmap font files (.fnt/
// .bin), and TrueType/OpenType files.
package fontmgr

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/rusq/fontpic"
	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
)

// BitmapFont describes one catalogued bitmap font, either built in
// (IsEmbedded) or resolved from an external catalogue directory.
type BitmapFont struct {
	Name       string
	Width      uint8
	Height     uint8
	Filename   string
	IsEmbedded bool
}

// embeddedFonts are faces compiled into the fontpic package itself;
// no font assets need to ship alongside this binary.
var embeddedFonts = map[string]font.Face{
	"keyrus16":  fontpic.Face8x16,
	"keyrus14":  fontpic.Face8x14,
	"keyrus8":   fontpic.Face8x8,
	"4x4":       fontpic.Face4x4,
	"4x4bold":   fontpic.Face4x4Bold,
	"4x4italic": fontpic.Face4x4Italic,
	"4x5":       fontpic.Face4x5,
	"6x5":       fontpic.Face6x5,
	"6x5bold":   fontpic.Face6x5Bold,
	"6x5italic": fontpic.Face6x5Italic,
	"robotron":  fontpic.FaceRobotron,
}

const defaultFontName = "keyrus16"

// DefaultFont is the face used when a caller doesn't specify one.
var DefaultFont = embeddedFonts[defaultFontName]

var (
	errStop       = errors.New("stop")
	errDimInvalid = errors.New("dimensions invalid")
	ErrNotFound   = errors.New("font not found")
)

// ListEmbedded invokes cb for every built-in bitmap face, sorted by
// name. Inside this package cb may return errStop to end iteration
// early; callers outside this package simply return nil to continue.
func ListEmbedded(cb func(BitmapFont, error) error) error {
	var sorted []BitmapFont
	for name, face := range embeddedFonts {
		adv := font.MeasureString(face, "W")
		sorted = append(sorted, BitmapFont{
			Name:       name,
			Height:     uint8(face.Metrics().Height.Ceil()),
			Width:      uint8(adv.Ceil()),
			IsEmbedded: true,
		})
	}
	slices.SortFunc(sorted, func(a, b BitmapFont) int {
		return strings.Compare(a.Name, b.Name)
	})
	for _, fnt := range sorted {
		if err := cb(fnt, nil); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

// LoadCatalogue reads an external bitmap-font catalogue: a
// directory containing a fonts.csv (columns name,file,dimx,dimy) and
// the .fnt/.bin files it references. This is how a deployment can
// add house fonts without recompiling the daemon.
func LoadCatalogue(dir string, cb func(BitmapFont, error) error) error {
	f, err := os.Open(filepath.Join(dir, "fonts.csv"))
	if err != nil {
		return fmt.Errorf("unable to open font catalogue: %w", err)
	}
	defer f.Close()
	cr := csv.NewReader(f)

	header, err := cr.Read()
	if err != nil {
		return err
	}
	for {
		row, err := cr.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		rec := make(map[string]string, len(header))
		for i, key := range header {
			if i < len(row) {
				rec[key] = row[i]
			}
		}
		fnt := BitmapFont{Name: rec["name"], Filename: rec["file"]}

		width, err := atoiv[uint8](rec["dimx"], 0, 255)
		if err != nil {
			if err2 := cb(fnt, err); !errors.Is(err2, errStop) && err2 != nil {
				return err2
			}
			continue
		}
		fnt.Width = width

		height, err := atoiv[uint8](rec["dimy"], 0, 255)
		if err != nil {
			if err2 := cb(fnt, err); !errors.Is(err2, errStop) && err2 != nil {
				return err2
			}
			continue
		}
		fnt.Height = height

		if err := cb(fnt, nil); err != nil {
			if errors.Is(err, errStop) {
				return nil
			}
			return err
		}
	}
	return nil
}

func atoiv[T ~uint8](s string, lo, hi int) (T, error) {
	var v T
	y, err := strconv.Atoi(s)
	if err != nil {
		return v, err
	} else if y <= lo || hi < y {
		return v, fmt.Errorf("%w: %d", errDimInvalid, y)
	}
	return T(y), nil
}

// LoadEmbedded resolves a built-in bitmap face by name.
func LoadEmbedded(name string) (font.Face, error) {
	face, ok := embeddedFonts[name]
	if !ok {
		return nil, ErrNotFound
	}
	return face, nil
}

// LoadFromCatalogue resolves name against an external catalogue
// directory (see LoadCatalogue) and loads the referenced font file.
func LoadFromCatalogue(dir, name string) (font.Face, error) {
	var fnt *BitmapFont
	if err := LoadCatalogue(dir, func(bif BitmapFont, err error) error {
		if err != nil {
			return err
		}
		if bif.Name == name {
			fnt = &bif
			return errStop
		}
		return nil
	}); err != nil {
		return nil, err
	}
	if fnt == nil {
		return nil, fmt.Errorf("font %q: %w", name, ErrNotFound)
	}
	data, err := os.ReadFile(filepath.Join(dir, fnt.Filename))
	if err != nil {
		return nil, fmt.Errorf("error reading font file %s: %w", fnt.Filename, err)
	}
	return fontpic.FntToFace(data, int(fnt.Width), int(fnt.Height)), nil
}

// LoadByName resolves a font first against the built-in embedded
// faces, then (if dir is non-empty) against an external catalogue.
func LoadByName(dir, name string) (font.Face, error) {
	face, err := LoadEmbedded(name)
	if err == nil {
		return face, nil
	}
	if !errors.Is(err, ErrNotFound) || dir == "" {
		return nil, err
	}
	return LoadFromCatalogue(dir, name)
}

const maxTTFSize = 10 * 1048576 // 10 MB

// LoadTTF loads a TrueType/OpenType font file and returns a face
// scaled to size points at the given DPI.
func LoadTTF(filename string, size, dpi float64) (font.Face, error) {
	fi, err := os.Stat(filename)
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxTTFSize {
		return nil, errors.New("fontmgr: font file is too large")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	fnt, err := opentype.Parse(data)
	if err != nil {
		return nil, err
	}
	return opentype.NewFace(fnt, &opentype.FaceOptions{
		Size:    size,
		DPI:     dpi,
		Hinting: font.HintingFull,
	})
}

// LoadBitmapFile loads an external .fnt/.bin bitmap font file
// directly by path (width assumed 8 bits, the whole ASCII table of
// 256 characters, height derived from file size).
func LoadBitmapFile(filename string) (font.Face, error) {
	const (
		width                = 8
		minHeight, maxHeight = 2, 32
	)
	fi, err := os.Stat(filename)
	if err != nil {
		return nil, err
	}
	if maxHeight*256 < fi.Size() {
		return nil, fmt.Errorf("fontmgr: unsupported file format: %s", filename)
	}
	height := fi.Size() / (256 * width / 8)
	if height <= minHeight || maxHeight < height {
		return nil, fmt.Errorf("fontmgr: unsupported or incorrect dimensions: %s", filename)
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return fontpic.FntToFace(data, width, int(height)), nil
}

// LoadFromFile dispatches to LoadTTF or LoadBitmapFile based on the
// file extension.
func LoadFromFile(filename string, size, dpi float64) (font.Face, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".ttf", ".otf":
		return LoadTTF(filename, size, dpi)
	case ".fnt", ".bin":
		return LoadBitmapFile(filename)
	default:
		return nil, fmt.Errorf("fontmgr: unsupported font type: %s", ext)
	}
}
