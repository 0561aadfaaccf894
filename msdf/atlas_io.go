package msdf

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"image"
	"image/draw"
	"image/png"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// atlasMagic identifies the binary atlas dump format described by §6.
const atlasMagic uint32 = 0x344A5A4C

// atlasHeaderSize is the fixed-size header preceding the compressed
// payload: magic, width, height, uncompressed length, compressed length.
const atlasHeaderSize = 20

// ErrInvalidAtlasFile is returned when an atlas dump's header is
// missing, truncated, or carries the wrong magic number.
var ErrInvalidAtlasFile = errors.New("msdf: invalid atlas file")

// SaveAtlas writes the current bitmap and per-style glyph tables to
// disk: atlasPath holds the bitmap (a ".png" extension selects a plain
// PNG, anything else the LZ4 dump format), metricsPath holds the JSON
// sidecar. Intended to let a terminal cache a generated atlas across
// runs rather than re-rasterizing every glyph on startup.
func (f *Font) SaveAtlas(atlasPath, metricsPath string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.bitmap == nil {
		return ErrFontNotLoaded
	}

	if err := writeAtlasFile(atlasPath, f.bitmap, f.width, f.height); err != nil {
		return err
	}

	sidecar := atlasMetricsSidecar{
		AtlasWidth:       f.width,
		AtlasHeight:      f.height,
		FontSize:         f.config.PixelSize,
		LineHeight:       f.lineHeightLocked(),
		PixelRange:       f.config.Range,
		Glyphs:           glyphMapToJSON(f.metrics[StyleRegular]),
		BoldGlyphs:       glyphMapToJSON(f.metrics[StyleBold]),
		ItalicGlyphs:     glyphMapToJSON(f.metrics[StyleItalic]),
		BoldItalicGlyphs: glyphMapToJSON(f.metrics[StyleBoldItalic]),
	}
	data, err := json.MarshalIndent(sidecar, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(metricsPath, data, 0o644) //nolint:gosec // cache file, not sensitive
}

// LoadAtlas reconstructs a Font from a bitmap previously written by
// SaveAtlas and its JSON metrics sidecar, skipping rasterization
// entirely. The restored Font has no parsed source fonts attached, so
// it cannot Generate further glyphs directly; AddFallbackFont and a
// fresh Generate call against a real source still work as usual since
// both paths route through packGlyph/growAtlas.
func LoadAtlas(atlasPath, metricsPath string) (*Font, error) {
	sidecar, err := readMetricsSidecar(metricsPath)
	if err != nil {
		return nil, err
	}

	bitmap, width, height, err := readAtlasFile(atlasPath)
	if err != nil {
		return nil, err
	}

	cfg := FontConfig{
		PixelSize:      sidecar.FontSize,
		AtlasWidth:     width,
		Range:          sidecar.PixelRange,
		AngleThreshold: math.Pi / 3,
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Font{
		config: cfg,
		meta:   []GlyphMetrics{{}},
		bitmap: bitmap,
		width:  width,
		height: height,
		packer: NewShelfAllocator(width, height, 0),
	}

	// The dump carries no packer state. Seed a single shelf spanning the
	// whole restored height so it reads as fully occupied: any glyph
	// packed after a reload grows the atlas below the restored content
	// instead of risking an allocation that overlaps glyphs already on
	// disk (Allocate has no way to know which regions are actually free).
	f.packer.shelves = append(f.packer.shelves, shelf{y: 0, height: height, x: width})

	restoreGlyphStyle(f, StyleRegular, sidecar.Glyphs)
	restoreGlyphStyle(f, StyleBold, sidecar.BoldGlyphs)
	restoreGlyphStyle(f, StyleItalic, sidecar.ItalicGlyphs)
	restoreGlyphStyle(f, StyleBoldItalic, sidecar.BoldItalicGlyphs)

	f.resourceVersion = 1
	f.pending = true
	return f, nil
}

func restoreGlyphStyle(f *Font, style Style, glyphs map[string]glyphJSON) {
	if len(glyphs) == 0 {
		return
	}
	f.metrics[style] = make(map[rune]GlyphMetrics, len(glyphs))
	f.index[style] = make(map[rune]uint16, len(glyphs))
	for key, gj := range glyphs {
		cp, err := strconv.Atoi(key)
		if err != nil {
			continue // malformed codepoint key, skip
		}
		r := rune(cp)
		gm := GlyphMetrics{
			UVMin:      gj.UVMin,
			UVMax:      gj.UVMax,
			BitmapSize: gj.Size,
			Bearing:    gj.Bearing,
			Advance:    gj.Advance,
		}
		idx := f.appendMeta(gm)
		f.metrics[style][r] = gm
		f.index[style][r] = idx
	}
}

// atlasMetricsSidecar mirrors the JSON shape described by §6's "Metrics
// JSON sidecar".
type atlasMetricsSidecar struct {
	AtlasWidth       int                  `json:"atlasWidth"`
	AtlasHeight      int                  `json:"atlasHeight"`
	FontSize         float64              `json:"fontSize"`
	LineHeight       float64              `json:"lineHeight"`
	PixelRange       float64              `json:"pixelRange"`
	Glyphs           map[string]glyphJSON `json:"glyphs"`
	BoldGlyphs       map[string]glyphJSON `json:"boldGlyphs"`
	ItalicGlyphs     map[string]glyphJSON `json:"italicGlyphs"`
	BoldItalicGlyphs map[string]glyphJSON `json:"boldItalicGlyphs"`
}

type glyphJSON struct {
	UVMin   [2]float32 `json:"uvMin"`
	UVMax   [2]float32 `json:"uvMax"`
	Size    [2]float32 `json:"size"`
	Bearing [2]float32 `json:"bearing"`
	Advance float32    `json:"advance"`
}

func glyphMapToJSON(m map[rune]GlyphMetrics) map[string]glyphJSON {
	out := make(map[string]glyphJSON, len(m))
	for r, gm := range m {
		out[strconv.Itoa(int(r))] = glyphJSON{
			UVMin:   gm.UVMin,
			UVMax:   gm.UVMax,
			Size:    gm.BitmapSize,
			Bearing: gm.Bearing,
			Advance: gm.Advance,
		}
	}
	return out
}

func readMetricsSidecar(path string) (atlasMetricsSidecar, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided intentionally
	if err != nil {
		return atlasMetricsSidecar{}, err
	}
	var sidecar atlasMetricsSidecar
	if err := json.Unmarshal(data, &sidecar); err != nil {
		return atlasMetricsSidecar{}, err
	}
	return sidecar, nil
}

func isPNGPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".png")
}

func writeAtlasFile(path string, bitmap []byte, width, height int) error {
	if isPNGPath(path) {
		return writeAtlasPNG(path, bitmap, width, height)
	}
	return writeAtlasLZ4(path, bitmap, width, height)
}

func readAtlasFile(path string) (bitmap []byte, width, height int, err error) {
	if isPNGPath(path) {
		return readAtlasPNG(path)
	}
	return readAtlasLZ4(path)
}

func writeAtlasPNG(path string, bitmap []byte, width, height int) error {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	copy(img.Pix, bitmap)

	f, err := os.Create(path) //nolint:gosec // path is caller-provided intentionally
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()
	return png.Encode(f, img)
}

func readAtlasPNG(path string) ([]byte, int, int, error) {
	f, err := os.Open(path) //nolint:gosec // path is caller-provided intentionally
	if err != nil {
		return nil, 0, 0, err
	}
	defer func() {
		_ = f.Close()
	}()

	src, err := png.Decode(f)
	if err != nil {
		return nil, 0, 0, err
	}
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()

	rgba := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(rgba, rgba.Bounds(), src, bounds.Min, draw.Src)
	return rgba.Pix, width, height, nil
}

// writeAtlasLZ4 writes the §6 binary format: a 20-byte little-endian
// header (magic, width, height, uncompressed length, compressed
// length) followed by the LZ4-default-compressed bitmap. Incompressible
// input (CompressBlock reporting 0) falls back to storing it raw, with
// compressed length equal to uncompressed length signalling that to the
// reader.
func writeAtlasLZ4(path string, bitmap []byte, width, height int) error {
	compressed := make([]byte, lz4.CompressBlockBound(len(bitmap)))
	n, err := lz4.CompressBlock(bitmap, compressed, nil)
	if err != nil {
		return err
	}

	payload := compressed[:n]
	compressedLen := n
	if n == 0 {
		payload = bitmap
		compressedLen = len(bitmap)
	}

	header := make([]byte, atlasHeaderSize)
	binary.LittleEndian.PutUint32(header[0:4], atlasMagic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(width))   //nolint:gosec // atlas dims stay well under 2^32
	binary.LittleEndian.PutUint32(header[8:12], uint32(height)) //nolint:gosec // atlas dims stay well under 2^32
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(bitmap)))
	binary.LittleEndian.PutUint32(header[16:20], uint32(compressedLen))

	f, err := os.Create(path) //nolint:gosec // path is caller-provided intentionally
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	if _, err := f.Write(header); err != nil {
		return err
	}
	_, err = f.Write(payload)
	return err
}

func readAtlasLZ4(path string) ([]byte, int, int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is caller-provided intentionally
	if err != nil {
		return nil, 0, 0, err
	}
	if len(data) < atlasHeaderSize {
		return nil, 0, 0, ErrInvalidAtlasFile
	}
	if binary.LittleEndian.Uint32(data[0:4]) != atlasMagic {
		return nil, 0, 0, ErrInvalidAtlasFile
	}
	width := int(binary.LittleEndian.Uint32(data[4:8]))
	height := int(binary.LittleEndian.Uint32(data[8:12]))
	uncompressedLen := int(binary.LittleEndian.Uint32(data[12:16]))
	compressedLen := int(binary.LittleEndian.Uint32(data[16:20]))

	payload := data[atlasHeaderSize:]
	if len(payload) < compressedLen {
		return nil, 0, 0, ErrInvalidAtlasFile
	}
	payload = payload[:compressedLen]

	bitmap := make([]byte, uncompressedLen)
	if compressedLen == uncompressedLen {
		copy(bitmap, payload)
		return bitmap, width, height, nil
	}

	n, err := lz4.UncompressBlock(payload, bitmap)
	if err != nil {
		return nil, 0, 0, err
	}
	if n != uncompressedLen {
		return nil, 0, 0, ErrInvalidAtlasFile
	}
	return bitmap, width, height, nil
}
