package text

// GlyphType classifies how a glyph's imagery is encoded in its font.
type GlyphType uint8

const (
	// GlyphTypeOutline is a vector outline (the common case, and the
	// only type OutlineExtractor currently produces).
	GlyphTypeOutline GlyphType = iota

	// GlyphTypeBitmap is an embedded raster (CBDT/sbix).
	GlyphTypeBitmap

	// GlyphTypeCOLR is a layered color-outline glyph (COLR/CPAL).
	GlyphTypeCOLR

	// GlyphTypeSVG is an embedded SVG glyph.
	GlyphTypeSVG
)

func (t GlyphType) String() string {
	switch t {
	case GlyphTypeOutline:
		return "Outline"
	case GlyphTypeBitmap:
		return "Bitmap"
	case GlyphTypeCOLR:
		return "COLR"
	case GlyphTypeSVG:
		return "SVG"
	default:
		return "Unknown"
	}
}
