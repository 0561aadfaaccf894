// Package richtext implements the style-spanned glyph layout and GPU
// render pipeline for yetty's RichText widget (SPEC_FULL.md §4.H).
//
// LayoutDocument turns a Document (a list of styled spans, or a list of
// pre-positioned characters) into font-keyed batches of GPU glyph
// instances by decoding each span's UTF-8 text and looking up glyph
// metrics directly against msdf.Font. Rendering shares the package msdf
// atlas with the cell-grid text renderer: Renderer samples the same
// MSDF texture and invalidates its cached bind group whenever a font's
// resource version changes.
//
// # Example usage
//
//	fm := richtext.NewFontManager(defaultFont)
//	fm.Register("Roboto", robotoFont)
//	doc := richtext.Document{Spans: []richtext.Span{{Text: "hi", X: 10, Y: 10, Size: 24, FontFamily: "Roboto"}}}
//	result, err := richtext.LayoutDocument(doc, fm)
package richtext
