// Package text holds the font-parsing and glyph-outline-extraction layer
// shared by the rest of this module. It depends on neither msdf nor
// richtext: msdf imports it to turn glyph outlines into MSDF bitmaps,
// and richtext imports msdf, keeping the dependency graph a straight
// line instead of a cycle between the two.
//
// FontSource loads a TTF/OTF file through a pluggable ParsedFont
// backend (default: golang.org/x/image/font/opentype). OutlineExtractor
// turns a parsed font's glyph into a GlyphOutline: a flat list of
// move/line/quad/cubic segments in font units, the input msdf.Generator
// rasterizes into a signed-distance bitmap.
package text
