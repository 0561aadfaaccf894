package richtext

import (
	"fmt"

	"github.com/yetty/core/logging"
	"github.com/yetty/core/msdf"
)

// Span is one styled run of text laid out starting at (X, Y), per
// spec.md §4.H. Y is the baseline of the first line; wrapping and newlines
// advance the cursor downward by LineHeight (or the font's natural line
// height, scaled, when LineHeight is zero).
type Span struct {
	Text       string
	X, Y       float32
	Size       float32
	Color      [4]byte
	Style      msdf.Style
	FontFamily string

	// LineHeight overrides the font's natural line height when non-zero.
	LineHeight float32
	// MaxWidth enables wrapping when non-zero: a glyph whose advance would
	// cross X+MaxWidth wraps to the next line first.
	MaxWidth float32
}

// PositionedChar is one already-placed codepoint, for documents that skip
// span layout and supply exact positions directly (spec.md §4.H "Layout of
// pre-positioned chars: pass through").
type PositionedChar struct {
	Codepoint  rune
	X, Y       float32
	Size       float32
	Color      [4]byte
	Style      msdf.Style
	FontFamily string
}

// Document is either a list of styled spans (laid out by LayoutDocument)
// or a list of pre-positioned characters (passed through unchanged). Only
// one field should be populated; Chars takes precedence when both are set.
type Document struct {
	Spans []Span
	Chars []PositionedChar
}

// GlyphInstance is one glyph quad ready for the shared RichText render
// pipeline's instance storage buffer, per spec.md §4.H "Render".
type GlyphInstance struct {
	Pos, Size    [2]float32
	UVMin, UVMax [2]float32
	Color        [4]byte
}

// Batch groups glyph instances that share a Font, since the render
// pipeline binds one atlas texture per draw.
type Batch struct {
	Font      *msdf.Font
	Instances []GlyphInstance
}

// LayoutResult is LayoutDocument's output: font-keyed batches plus the
// overall content bounds.
type LayoutResult struct {
	Batches                     []Batch
	ContentWidth, ContentHeight float32
}

// FontManager resolves a (family, style) pair to an *msdf.Font, with
// fallback to a family's Regular style and then to a configured default
// font, per spec.md §4.H step 1.
type FontManager struct {
	byFamily map[string]*msdf.Font
	deflt    *msdf.Font
}

// NewFontManager creates a manager whose ultimate fallback is deflt.
func NewFontManager(deflt *msdf.Font) *FontManager {
	return &FontManager{byFamily: make(map[string]*msdf.Font), deflt: deflt}
}

// Register associates family with font. Subsequent Resolve calls for that
// family name return font.
func (m *FontManager) Register(family string, font *msdf.Font) {
	m.byFamily[family] = font
}

// Resolve looks up family, falling back to the manager's default font when
// the family is unknown. Style selection within the resolved Font is the
// caller's responsibility (msdf.Font tracks all four style variants
// itself); Resolve only picks which Font to use.
func (m *FontManager) Resolve(family string) (*msdf.Font, bool) {
	if font, ok := m.byFamily[family]; ok {
		return font, true
	}
	if m.deflt != nil {
		return m.deflt, true
	}
	return nil, false
}

// LayoutDocument implements spec.md §4.H: it lays out doc.Spans (wrapping,
// newlines, per-codepoint placement) when Chars is empty, or passes
// doc.Chars straight through, then builds font-keyed glyph instance
// batches for both cases identically.
func LayoutDocument(doc Document, fm *FontManager) (LayoutResult, error) {
	chars := doc.Chars
	var fromSpans bool
	if len(chars) == 0 && len(doc.Spans) > 0 {
		chars = layoutSpans(doc.Spans, fm)
		fromSpans = true
	}

	result := LayoutResult{}
	batchIndex := make(map[*msdf.Font]int)

	for _, ch := range chars {
		font, ok := fm.Resolve(ch.FontFamily)
		if !ok {
			logging.Get().Warn("richtext: no font resolved, skipping span", "family", ch.FontFamily)
			continue
		}

		inst, width, height, ok := glyphInstance(font, ch)
		if !ok {
			logging.Get().Warn("richtext: glyph skipped", "codepoint", ch.Codepoint, "family", ch.FontFamily)
			continue
		}

		idx, exists := batchIndex[font]
		if !exists {
			idx = len(result.Batches)
			batchIndex[font] = idx
			result.Batches = append(result.Batches, Batch{Font: font})
		}
		result.Batches[idx].Instances = append(result.Batches[idx].Instances, inst)

		right := inst.Pos[0] + width
		bottom := inst.Pos[1] + height
		if right > result.ContentWidth {
			result.ContentWidth = right
		}
		if bottom > result.ContentHeight {
			result.ContentHeight = bottom
		}
	}

	if !fromSpans && len(doc.Chars) == 0 && len(doc.Spans) == 0 {
		return result, fmt.Errorf("richtext: document has neither spans nor chars")
	}
	return result, nil
}

// layoutSpans implements spec.md §4.H "Layout of spans": per-span cursor
// tracking, newline and wrap handling, one PositionedChar per codepoint.
func layoutSpans(spans []Span, fm *FontManager) []PositionedChar {
	var out []PositionedChar

	for _, span := range spans {
		font, ok := fm.Resolve(span.FontFamily)
		if !ok {
			logging.Get().Warn("richtext: no font resolved for span, skipping", "family", span.FontFamily)
			continue
		}

		cfg := font.Config()
		scale := float32(1.0)
		if cfg.PixelSize > 0 {
			scale = span.Size / float32(cfg.PixelSize)
		}
		lineHeight := span.LineHeight
		if lineHeight == 0 {
			lineHeight = float32(font.LineHeight()) * scale
			if lineHeight == 0 {
				// No Regular face parsed yet: approximate from the
				// rasterization pixel size (no internal leading beyond the
				// configured size).
				lineHeight = float32(cfg.PixelSize) * scale
			}
		}

		cursorX, cursorY := span.X, span.Y

		for _, r := range span.Text {
			if r == '\n' {
				cursorX = span.X
				cursorY += lineHeight
				continue
			}

			idx := font.GetGlyphIndex(r, span.Style)
			meta := font.MetadataTable()
			var advance float32
			if int(idx) < len(meta) {
				advance = meta[idx].Advance * scale
			}

			if span.MaxWidth > 0 && cursorX+advance > span.X+span.MaxWidth && cursorX > span.X {
				cursorX = span.X
				cursorY += lineHeight
			}

			out = append(out, PositionedChar{
				Codepoint:  r,
				X:          cursorX,
				Y:          cursorY,
				Size:       span.Size,
				Color:      span.Color,
				Style:      span.Style,
				FontFamily: span.FontFamily,
			})

			cursorX += advance
		}
	}

	return out
}

// glyphInstance implements spec.md §4.H's shared glyph-instance
// construction: resolve metrics, compute scale/size/position, skip
// sub-pixel glyphs. ch.X, ch.Y are treated as the baseline (shifted by
// bearing·scale), matching the "else use (x, y) as baseline" branch —
// LayoutDocument does not distinguish pre-positioned-as-top-left from
// span-positioned-as-baseline, since spec.md leaves that choice to the
// caller's Document population and both inputs funnel through here
// identically once positioned.
func glyphInstance(font *msdf.Font, ch PositionedChar) (inst GlyphInstance, width, height float32, ok bool) {
	cfg := font.Config()
	scale := float32(1.0)
	if cfg.PixelSize > 0 {
		scale = ch.Size / float32(cfg.PixelSize)
	}

	idx := font.GetGlyphIndex(ch.Codepoint, ch.Style)
	meta := font.MetadataTable()
	if int(idx) >= len(meta) {
		return GlyphInstance{}, 0, 0, false
	}
	m := meta[idx]

	width = m.BitmapSize[0] * scale
	height = m.BitmapSize[1] * scale
	if width < 1 && height < 1 {
		return GlyphInstance{}, 0, 0, false
	}

	posX := ch.X + m.Bearing[0]*scale
	posY := ch.Y - m.Bearing[1]*scale

	return GlyphInstance{
		Pos:   [2]float32{posX, posY},
		Size:  [2]float32{width, height},
		UVMin: m.UVMin,
		UVMax: m.UVMax,
		Color: ch.Color,
	}, width, height, true
}
