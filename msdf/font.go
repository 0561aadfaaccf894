package msdf

import (
	"errors"
	"math"
	"sync"

	"github.com/yetty/core/logging"
	"github.com/yetty/core/text"
)

// Style selects one of the four style variants a Font tracks glyphs for.
type Style uint8

const (
	StyleRegular Style = iota
	StyleBold
	StyleItalic
	StyleBoldItalic

	numStyles = int(StyleBoldItalic) + 1
)

func (s Style) String() string {
	switch s {
	case StyleRegular:
		return "Regular"
	case StyleBold:
		return "Bold"
	case StyleItalic:
		return "Italic"
	case StyleBoldItalic:
		return "BoldItalic"
	default:
		return "Unknown"
	}
}

// sentinelGlyphIndex is the reserved "empty/space" index; index 0 in the
// packed metadata table is always the zero-valued sentinel entry.
const sentinelGlyphIndex uint16 = 0

// fallbackRune is tried when a codepoint can't be resolved in any font,
// regular or fallback.
const fallbackRune = '?'

// GlyphMetrics describes a glyph's placement inside the atlas and its
// typographic metrics, already scaled to the Font's pixel size.
type GlyphMetrics struct {
	UVMin, UVMax [2]float32
	BitmapSize   [2]float32
	Bearing      [2]float32
	Advance      float32
}

// FontConfig configures a Font's rasterization and atlas parameters.
type FontConfig struct {
	// Family is a human-readable name, used only for diagnostics.
	Family string

	// PixelSize is the rasterization size in pixels (ppem).
	PixelSize float64

	// AtlasWidth is the fixed atlas texture width; must be a power of two.
	AtlasWidth int

	// Range is the MSDF distance range, in pixels.
	Range float64

	// AngleThreshold is the corner-detection angle (radians) passed to
	// edge coloring.
	AngleThreshold float64
}

// DefaultFontConfig returns sensible defaults for terminal-grade text.
func DefaultFontConfig() FontConfig {
	return FontConfig{
		PixelSize:      32,
		AtlasWidth:     8192,
		Range:          4.0,
		AngleThreshold: math.Pi / 3,
	}
}

// Validate checks the configuration for obviously invalid values.
func (c *FontConfig) Validate() error {
	if c.PixelSize <= 0 {
		return &FontConfigError{Field: "PixelSize", Reason: "must be positive"}
	}
	if c.AtlasWidth < 64 || c.AtlasWidth&(c.AtlasWidth-1) != 0 {
		return &FontConfigError{Field: "AtlasWidth", Reason: "must be a power of two >= 64"}
	}
	if c.Range <= 0 {
		return &FontConfigError{Field: "Range", Reason: "must be positive"}
	}
	if c.AngleThreshold <= 0 || c.AngleThreshold > math.Pi {
		return &FontConfigError{Field: "AngleThreshold", Reason: "must be in (0, pi]"}
	}
	return nil
}

// FontConfigError reports an invalid FontConfig field.
type FontConfigError struct {
	Field  string
	Reason string
}

func (e *FontConfigError) Error() string {
	return "msdf: invalid font config." + e.Field + ": " + e.Reason
}

// Font-level sentinel errors.
var (
	ErrNilFontSource  = errors.New("msdf: font source is nil")
	ErrFontNotLoaded  = errors.New("msdf: font has not been generated for this style")
	ErrAtlasOverflow  = errors.New("msdf: atlas packer exhausted and could not grow")
	ErrUnsupportedGID = errors.New("msdf: glyph id not present in font")
)

// Font owns a single growable MSDF glyph atlas shared by four style
// variants (Regular, Bold, Italic, BoldItalic). Glyphs are packed at
// their individually-computed bounding box, not a uniform cell size, so
// the backing allocator is the growable ShelfAllocator rather than the
// fixed-cell GridAllocator used by AtlasManager.
type Font struct {
	mu sync.RWMutex

	config FontConfig

	parsed [numStyles]text.ParsedFont
	names  [numStyles]string

	metrics [numStyles]map[rune]GlyphMetrics
	index   [numStyles]map[rune]uint16

	// meta is the packed metadata table; meta[0] is the sentinel entry.
	meta []GlyphMetrics

	bitmap []byte // RGBA8, row-major, width*height*4
	width  int
	height int
	packer *ShelfAllocator

	// fallbacks is the append-only set of fallback font file paths.
	fallbacks     []string
	fallbackFonts []text.ParsedFont

	resourceVersion uint64
	pending         bool
}

// NewFont creates an empty Font. Call Generate for each style variant
// that should be populated.
func NewFont(config FontConfig) (*Font, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Font{
		config: config,
		meta:   []GlyphMetrics{{}}, // index 0: sentinel empty glyph
	}, nil
}

// ResourceVersion returns the counter bumped whenever the atlas texture
// or metadata buffer is recreated. Consumers compare versions to decide
// whether cached bind groups need rebuilding.
func (f *Font) ResourceVersion() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.resourceVersion
}

// Config returns the FontConfig this Font was created with, for callers
// that need the rasterization pixel size (e.g. package richtext's span
// scale computation).
func (f *Font) Config() FontConfig {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.config
}

// Pending reports whether the bitmap or metadata table changed since the
// last call to MarkUploaded.
func (f *Font) Pending() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pending
}

// MarkUploaded clears the pending flag after a successful GPU upload.
func (f *Font) MarkUploaded() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = false
}

// Bitmap returns the current RGBA8 atlas bitmap and its dimensions. The
// returned slice aliases internal storage and must not be retained past
// the next call that grows the atlas.
func (f *Font) Bitmap() (data []byte, width, height int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.bitmap, f.width, f.height
}

// MetadataTable returns the packed per-index glyph metadata table,
// suitable for direct upload as a storage buffer.
func (f *Font) MetadataTable() []GlyphMetrics {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]GlyphMetrics, len(f.meta))
	copy(out, f.meta)
	return out
}

// LineHeight returns the recommended baseline-to-baseline distance for
// the Regular style at the configured pixel size, for callers (e.g. the
// metrics sidecar written by SaveAtlas) that need a single summary value
// rather than the full FontMetrics. Returns 0 if Regular has not been
// generated yet.
func (f *Font) LineHeight() float64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.lineHeightLocked()
}

// lineHeightLocked is LineHeight's body, for callers that already hold
// f.mu (e.g. SaveAtlas assembling the metrics sidecar).
func (f *Font) lineHeightLocked() float64 {
	parsed := f.parsed[StyleRegular]
	if parsed == nil {
		return 0
	}
	return parsed.Metrics(f.config.PixelSize).Height()
}

// glyphWork is a glyph candidate extracted during the first pass of
// Generate, before atlas space is allocated.
type glyphWork struct {
	r       rune
	gid     uint16
	outline *text.GlyphOutline
	boxW    int
	boxH    int
}

// Generate rasterizes every codepoint of the base charset (extended to
// Nerd Font ranges when source's name indicates one) present in source
// into the atlas for the given style. Safe to call multiple times (e.g.
// once per style variant, sharing the same growable atlas).
func (f *Font) Generate(style Style, source *text.FontSource) error {
	if source == nil {
		return ErrNilFontSource
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.config.Validate(); err != nil {
		return err
	}

	parsed := source.Parsed()
	runes := candidateCharset(source.Name())
	padding := int(math.Ceil(f.config.Range))

	extractor := text.NewOutlineExtractor()

	work := make([]glyphWork, 0, len(runes))
	totalArea := 0
	maxGlyphH := 0

	for _, r := range runes {
		gid := parsed.GlyphIndex(r)
		if gid == 0 {
			continue // codepoint not present in face; skip per §4.B
		}

		outline, err := extractor.ExtractOutline(parsed, text.GlyphID(gid), f.config.PixelSize)
		if err != nil {
			logging.Get().Warn("msdf: skipping codepoint, outline load failed", "rune", r, "err", err)
			continue // outline load failure: skip that codepoint
		}

		gw := glyphWork{r: r, gid: gid, outline: outline}
		if outline != nil && !outline.IsEmpty() {
			gw.boxW = int(math.Ceil(outline.Bounds.Width())) + 2*padding
			gw.boxH = int(math.Ceil(outline.Bounds.Height())) + 2*padding
			totalArea += gw.boxW * gw.boxH
			if gw.boxH > maxGlyphH {
				maxGlyphH = gw.boxH
			}
		}
		work = append(work, gw)
	}

	if f.packer == nil {
		f.initAtlas(f.config.AtlasWidth, estimateAtlasHeight(totalArea, f.config.AtlasWidth, maxGlyphH))
	}

	if f.metrics[style] == nil {
		f.metrics[style] = make(map[rune]GlyphMetrics, len(work))
		f.index[style] = make(map[rune]uint16, len(work))
	}

	for _, gw := range work {
		idx, err := f.packGlyph(gw.outline, padding)
		if err != nil {
			logging.Get().Warn("msdf: skipping glyph, atlas allocation failed", "rune", gw.r, "err", err)
			continue // packer overflow without growth budget: skip that glyph
		}
		f.index[style][gw.r] = idx
		f.metrics[style][gw.r] = f.meta[idx]
	}

	f.parsed[style] = parsed
	f.names[style] = source.Name()
	f.pending = true
	f.resourceVersion++
	return nil
}

// estimateAtlasHeight implements the §4.B heuristic: start from the
// expected packed area, round up to a multiple of 512, and never go
// below the tallest glyph seen plus a safety margin.
func estimateAtlasHeight(totalArea, width, maxGlyphH int) int {
	if width <= 0 {
		width = 1
	}
	h := int(float64(totalArea) * 1.3 / float64(width))
	h = roundUp512(h)
	if floor := roundUp512(maxGlyphH + 64); h < floor {
		h = floor
	}
	if h < 512 {
		h = 512
	}
	return h
}

func roundUp512(v int) int {
	if v <= 0 {
		return 512
	}
	return ((v + 511) / 512) * 512
}

// initAtlas allocates the backing bitmap and packer. Must be called with
// f.mu held.
func (f *Font) initAtlas(width, height int) {
	f.width = width
	f.height = height
	f.bitmap = make([]byte, width*height*4)
	f.packer = NewShelfAllocator(width, height, 0)
}

// packGlyph rasterizes a single outline, packs it into the atlas, and
// appends its metadata entry. Must be called with f.mu held.
func (f *Font) packGlyph(outline *text.GlyphOutline, padding int) (uint16, error) {
	if outline == nil || outline.IsEmpty() {
		// Glyph has no visible bitmap (e.g. space): record advance-only
		// metrics without consuming atlas space.
		m := GlyphMetrics{}
		if outline != nil {
			m.Advance = outline.Advance
		}
		return f.appendMeta(m), nil
	}

	shape := FromOutline(outline)
	if shape.EdgeCount() == 0 {
		return f.appendMeta(GlyphMetrics{Advance: outline.Advance}), nil
	}
	AssignColors(shape, f.config.AngleThreshold)

	bounds := shape.Bounds
	boxW := int(math.Ceil(bounds.Width())) + 2*padding
	boxH := int(math.Ceil(bounds.Height())) + 2*padding
	if boxW <= 0 || boxH <= 0 {
		return f.appendMeta(GlyphMetrics{Advance: outline.Advance}), nil
	}

	x, y, ok := f.packer.Allocate(boxW, boxH)
	if !ok {
		if err := f.growAtlas(boxH); err != nil {
			return 0, err
		}
		x, y, ok = f.packer.Allocate(boxW, boxH)
		if !ok {
			return 0, ErrAllocationFailed
		}
	}

	expanded := bounds.Expand(float64(padding))
	data := generateRectMSDF(shape, expanded, boxW, boxH, f.config.Range)
	f.blitRGB(data, boxW, boxH, x, y)

	atlasW := float32(f.width)
	atlasH := float32(f.height)
	metrics := GlyphMetrics{
		UVMin:      [2]float32{float32(x) / atlasW, float32(y) / atlasH},
		UVMax:      [2]float32{float32(x+boxW) / atlasW, float32(y+boxH) / atlasH},
		BitmapSize: [2]float32{float32(boxW), float32(boxH)},
		Bearing: [2]float32{
			float32(bounds.MinX - float64(padding)),
			float32(bounds.MaxY + float64(padding)),
		},
		Advance: outline.Advance,
	}

	f.pending = true
	return f.appendMeta(metrics), nil
}

// appendMeta appends to the packed metadata table and returns its index.
// Must be called with f.mu held.
func (f *Font) appendMeta(m GlyphMetrics) uint16 {
	idx := uint16(len(f.meta)) //nolint:gosec // atlas glyph counts stay well under 65536
	f.meta = append(f.meta, m)
	f.pending = true
	return idx
}

// blitRGB writes a tightly-packed 3-channel MSDF buffer into the RGBA8
// atlas bitmap at (x, y), with full alpha. Must be called with f.mu held.
func (f *Font) blitRGB(data []byte, w, h, x, y int) {
	for row := 0; row < h; row++ {
		srcOff := row * w * 3
		dstOff := ((y+row)*f.width + x) * 4
		for col := 0; col < w; col++ {
			s := srcOff + col*3
			d := dstOff + col*4
			f.bitmap[d] = data[s]
			f.bitmap[d+1] = data[s+1]
			f.bitmap[d+2] = data[s+2]
			f.bitmap[d+3] = 0xff
		}
	}
}

// growAtlas doubles the atlas height (or grows enough to fit
// minGlyphH, whichever is larger), copying the existing bitmap into a
// freshly allocated, taller buffer. Must be called with f.mu held.
func (f *Font) growAtlas(minGlyphH int) error {
	usedY := f.height - f.packer.RemainingHeight()
	newHeight := roundUp512(max(2*f.height, usedY+minGlyphH+64))
	if newHeight <= f.height {
		return ErrAtlasOverflow
	}

	newBitmap := make([]byte, f.width*newHeight*4)
	copy(newBitmap, f.bitmap)
	f.bitmap = newBitmap
	f.height = newHeight
	f.packer.Grow(newHeight)
	f.pending = true
	logging.Get().Info("msdf: grew atlas", "width", f.width, "height", newHeight)
	return nil
}

// GetGlyphIndex resolves a codepoint to its packed metadata index for
// the given style, per §4.B lookup order: variant map, then Regular,
// then the fallback-font path, then '?', then the sentinel.
func (f *Font) GetGlyphIndex(r rune, style Style) uint16 {
	f.mu.RLock()
	if m := f.index[style]; m != nil {
		if idx, ok := m[r]; ok {
			f.mu.RUnlock()
			return idx
		}
	}
	if idx, ok := f.index[StyleRegular][r]; ok {
		f.mu.RUnlock()
		return idx
	}
	f.mu.RUnlock()

	if idx, ok := f.tryFallback(r); ok {
		return idx
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if idx, ok := f.index[StyleRegular][fallbackRune]; ok {
		return idx
	}
	return sentinelGlyphIndex
}

// AddFallbackFont registers a fallback font file path. The set is
// append-only for the Font's lifetime; fonts are parsed lazily on first
// use by tryFallback.
func (f *Font) AddFallbackFont(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fallbacks = append(f.fallbacks, path)
	f.fallbackFonts = append(f.fallbackFonts, nil)
}

// tryFallback attempts to resolve r via the configured fallback fonts,
// in registration order, loading each lazily. On success the glyph is
// packed into the existing atlas under the Regular variant and the atlas
// texture/metadata buffer are flagged for recreation.
func (f *Font) tryFallback(r rune) (uint16, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	padding := int(math.Ceil(f.config.Range))
	extractor := text.NewOutlineExtractor()

	for i, path := range f.fallbacks {
		parsed := f.fallbackFonts[i]
		if parsed == nil {
			source, err := text.NewFontSourceFromFile(path)
			if err != nil {
				continue
			}
			parsed = source.Parsed()
			f.fallbackFonts[i] = parsed
		}

		gid := parsed.GlyphIndex(r)
		if gid == 0 {
			continue
		}

		outline, err := extractor.ExtractOutline(parsed, text.GlyphID(gid), f.config.PixelSize)
		if err != nil {
			continue
		}

		idx, err := f.packGlyph(outline, padding)
		if err != nil {
			continue
		}

		if f.index[StyleRegular] == nil {
			f.index[StyleRegular] = make(map[rune]uint16)
			f.metrics[StyleRegular] = make(map[rune]GlyphMetrics)
		}
		f.index[StyleRegular][r] = idx
		f.metrics[StyleRegular][r] = f.meta[idx]
		f.resourceVersion++
		logging.Get().Info("msdf: resolved codepoint via fallback font", "rune", r, "path", path)
		return idx, true
	}
	return 0, false
}

// candidateCharset returns the base charset runes, extended with
// Nerd-Font icon ranges when fontName suggests a patched "Nerd Font".
func candidateCharset(fontName string) []rune {
	runes := make([]rune, 0, 512)
	appendRange := func(lo, hi rune) {
		for r := lo; r <= hi; r++ {
			runes = append(runes, r)
		}
	}

	appendRange(0x20, 0x7E)     // ASCII printable
	appendRange(0xA0, 0x24F)    // Latin-1 Supplement + Latin Extended-A/B
	appendRange(0x2000, 0x206F) // General Punctuation

	if isNerdFont(fontName) {
		appendRange(0x2500, 0x257F) // Box Drawing
		appendRange(0x2580, 0x259F) // Block Elements
		appendRange(0x2190, 0x21FF) // Arrows
		appendRange(0x2700, 0x27BF) // Dingbats
		appendRange(0xE000, 0xE0FF) // Powerline / Nerd Font private-use range (subset)
	}

	return runes
}

func isNerdFont(name string) bool {
	return containsFold(name, "Nerd Font")
}

func containsFold(s, substr string) bool {
	ls, lsub := []rune(s), []rune(substr)
	if len(lsub) == 0 || len(lsub) > len(ls) {
		return len(lsub) == 0
	}
	toLower := func(rs []rune) []rune {
		out := make([]rune, len(rs))
		for i, r := range rs {
			if r >= 'A' && r <= 'Z' {
				r += 'a' - 'A'
			}
			out[i] = r
		}
		return out
	}
	ls, lsub = toLower(ls), toLower(lsub)
	for i := 0; i+len(lsub) <= len(ls); i++ {
		match := true
		for j := range lsub {
			if ls[i+j] != lsub[j] {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// generateRectMSDF rasterizes shape into a tightly-fitted w×h box (3
// bytes per pixel, RGB), rather than Generator's fixed square canvas —
// glyph boxes in the atlas are sized to their own bounds, per §4.B.
// expanded is the outline-space rectangle the box covers; row 0 of the
// output corresponds to expanded.MaxY (font space is Y-up, image space
// is Y-down).
func generateRectMSDF(shape *Shape, expanded Rect, w, h int, pixelRange float64) []byte {
	data := make([]byte, w*h*3)

	for py := 0; py < h; py++ {
		oy := expanded.MaxY - (float64(py) + 0.5)
		rowOff := py * w * 3
		for px := 0; px < w; px++ {
			ox := expanded.MinX + (float64(px) + 0.5)
			p := Point{X: ox, Y: oy}

			r := shapeChannelDistance(shape, p, SelectRed)
			g := shapeChannelDistance(shape, p, SelectGreen)
			b := shapeChannelDistance(shape, p, SelectBlue)

			off := rowOff + px*3
			data[off] = distanceToPixel(r.Distance, pixelRange, 1.0)
			data[off+1] = distanceToPixel(g.Distance, pixelRange, 1.0)
			data[off+2] = distanceToPixel(b.Distance, pixelRange, 1.0)
		}
	}

	return data
}

// shapeChannelDistance is the rectangular-canvas counterpart of
// Generator.channelDistance: minimum signed distance among edges
// selected for one color channel, falling back to all edges if the
// coloring left a channel unselected.
func shapeChannelDistance(shape *Shape, p Point, selector EdgeSelectorFunc) SignedDistance {
	minDist := Infinite()
	for _, contour := range shape.Contours {
		for _, edge := range contour.Edges {
			if !selector(edge.Color) {
				continue
			}
			minDist = minDist.Combine(edge.SignedDistance(p))
		}
	}
	if minDist.Distance == math.MaxFloat64 {
		for _, contour := range shape.Contours {
			for _, edge := range contour.Edges {
				minDist = minDist.Combine(edge.SignedDistance(p))
			}
		}
	}
	return minDist
}
