package text

// FontParser is a font parsing backend. The abstraction allows swapping
// the underlying library (e.g. golang.org/x/image/font/opentype vs. a
// pure-Go implementation) without touching FontSource or
// OutlineExtractor.
//
// The default implementation uses golang.org/x/image/font/opentype.
type FontParser interface {
	Parse(data []byte) (ParsedFont, error)
}

// ParsedFont represents a parsed font file, abstracting the underlying
// font representation.
type ParsedFont interface {
	// Name returns the font family name, or "" if unavailable.
	Name() string

	// FullName returns the font's full name, or "" if unavailable.
	FullName() string

	// NumGlyphs returns the number of glyphs in the font.
	NumGlyphs() int

	// UnitsPerEm returns the font's units-per-em.
	UnitsPerEm() int

	// GlyphIndex returns the glyph index for a rune, or 0 if not found.
	GlyphIndex(r rune) uint16

	// GlyphAdvance returns the advance width for a glyph at the given
	// size (ppem, pixels per em).
	GlyphAdvance(glyphIndex uint16, ppem float64) float64

	// GlyphBounds returns the bounding box for a glyph at the given size.
	GlyphBounds(glyphIndex uint16, ppem float64) Rect

	// Metrics returns the font metrics at the given size.
	Metrics(ppem float64) FontMetrics
}

// FontMetrics holds font-level metrics at a specific rasterization size.
type FontMetrics struct {
	// Ascent is the distance from the baseline to the top of the font (positive).
	Ascent float64

	// Descent is the distance from the baseline to the bottom of the font (negative).
	Descent float64

	// LineGap is the recommended gap between lines.
	LineGap float64

	// XHeight is the height of lowercase letters (like 'x').
	XHeight float64

	// CapHeight is the height of uppercase letters.
	CapHeight float64
}

// Height returns the total line height (ascent - descent + line gap).
func (m FontMetrics) Height() float64 {
	return m.Ascent - m.Descent + m.LineGap
}

var parserRegistry = map[string]FontParser{
	"ximage": &ximageParser{},
}

const defaultParserName = "ximage"

// RegisterParser registers a custom font parser backend under name.
func RegisterParser(name string, parser FontParser) {
	parserRegistry[name] = parser
}

func getParser(name string) FontParser {
	if p, ok := parserRegistry[name]; ok {
		return p
	}
	return parserRegistry[defaultParserName]
}
