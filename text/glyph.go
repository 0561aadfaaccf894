package text

// GlyphID is a font-internal glyph index, distinct from a Unicode rune.
type GlyphID uint16
