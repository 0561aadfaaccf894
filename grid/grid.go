// Package grid implements the cell-grid text renderer: the CPU-side grid
// storage and damage tracking (this file) plus the GPU pipeline that
// samples an MSDF atlas per cell (pipeline.go), per spec.md §4.C.
package grid

import "github.com/yetty/core/widget"

// Attrs bits, packed into each cell's single attrs byte.
const (
	AttrBold uint8 = 1 << iota
	AttrItalic
	AttrUnderline
	AttrStrikethrough
	AttrEmojiHint
	AttrInverse
)

// Rect is an inclusive-exclusive cell-space rectangle: columns
// [X, X+W) and rows [Y, Y+H).
type Rect struct {
	X, Y, W, H int
}

// DamageKind distinguishes a full-grid upload from a set of dirty rects.
type DamageKind uint8

const (
	DamageNone DamageKind = iota
	DamageFull
	DamageRects
)

// Damage describes what changed since the last upload, per spec.md §4.C's
// update policy.
type Damage struct {
	Kind  DamageKind
	Rects []Rect
}

// Grid holds the four parallel cell arrays described in spec.md §4.C:
// glyph index, foreground color, background color, and attribute bits. Fg
// and Bg are kept as [][4]byte (rather than a flat byte plane) so package
// widget's ReserveCells/RestoreCells can mutate them in place through a
// widget.CellArrays view; GPU upload flattens to bytes on demand via
// FgBytes/BgBytes. Grid is not safe for concurrent use; callers serialize
// access (normally from the single render/update thread).
type Grid struct {
	cols, rows int

	glyph []uint16
	fg    [][4]byte
	bg    [][4]byte
	attrs []uint8

	pendingKind  DamageKind
	pendingRects []Rect
}

// NewGrid creates a cols×rows grid, fully cleared to spaces on a default
// background, with Full damage pending (nothing has been uploaded yet).
func NewGrid(cols, rows int) *Grid {
	g := &Grid{}
	g.Resize(cols, rows)
	return g
}

// Cols and Rows report the current grid dimensions.
func (g *Grid) Cols() int { return g.cols }
func (g *Grid) Rows() int { return g.rows }

// Resize reallocates the cell arrays for new dimensions and marks the
// entire grid as damaged, per spec.md §4.C's "texture recreation when grid
// dimensions change". A no-op resize (same dimensions) still marks Full
// damage, matching the original's conservative re-upload on any Resize
// call.
func (g *Grid) Resize(cols, rows int) {
	if cols < 0 {
		cols = 0
	}
	if rows < 0 {
		rows = 0
	}
	n := cols * rows
	g.cols, g.rows = cols, rows
	g.glyph = make([]uint16, n)
	g.fg = make([][4]byte, n)
	g.bg = make([][4]byte, n)
	g.attrs = make([]uint8, n)
	g.markFull()
}

func (g *Grid) index(col, row int) int { return row*g.cols + col }

func (g *Grid) inBounds(col, row int) bool {
	return col >= 0 && row >= 0 && col < g.cols && row < g.rows
}

// SetCell writes one cell's glyph, colors, and attrs, and records it in the
// pending damage set.
func (g *Grid) SetCell(col, row int, glyphIdx uint16, fg, bg [4]byte, attrs uint8) {
	if !g.inBounds(col, row) {
		return
	}
	i := g.index(col, row)
	g.glyph[i] = glyphIdx
	g.fg[i] = fg
	g.bg[i] = bg
	g.attrs[i] = attrs
	g.markRect(Rect{X: col, Y: row, W: 1, H: 1})
}

// Cell returns one cell's current contents.
func (g *Grid) Cell(col, row int) (glyphIdx uint16, fg, bg [4]byte, attrs uint8, ok bool) {
	if !g.inBounds(col, row) {
		return 0, fg, bg, 0, false
	}
	i := g.index(col, row)
	return g.glyph[i], g.fg[i], g.bg[i], g.attrs[i], true
}

// CellArrays returns a live view over this grid's glyph/fg/bg planes, for
// package widget's grid-cell reservation (spec.md §4.D). Mutations through
// the returned value are visible to the Grid; the caller is still
// responsible for recording damage via MarkDirty.
func (g *Grid) CellArrays() widget.CellArrays {
	return widget.CellArrays{Cols: g.cols, Glyph: g.glyph, Fg: g.fg, Bg: g.bg}
}

// markFull escalates pending damage to Full and discards any queued rects.
func (g *Grid) markFull() {
	g.pendingKind = DamageFull
	g.pendingRects = nil
}

// markRect adds r to the pending damage set, unless Full damage is already
// pending (in which case it is redundant).
func (g *Grid) markRect(r Rect) {
	if g.pendingKind == DamageFull {
		return
	}
	g.pendingKind = DamageRects
	g.pendingRects = append(g.pendingRects, r)
}

// MarkDirty records an externally-computed rect (e.g. a widget reserving or
// restoring its cells) as damaged.
func (g *Grid) MarkDirty(r Rect) { g.markRect(r) }

// MarkFullDamage forces the next TakeDamage to report Full, e.g. after a
// theme change recolors every cell without going through SetCell.
func (g *Grid) MarkFullDamage() { g.markFull() }

// TakeDamage returns the damage accumulated since the last call and resets
// the pending set to DamageNone.
func (g *Grid) TakeDamage() Damage {
	d := Damage{Kind: g.pendingKind, Rects: g.pendingRects}
	g.pendingKind = DamageNone
	g.pendingRects = nil
	return d
}

// GlyphBytes returns the glyph texture's row-major bytes (u16 little-endian
// per texel) for the whole grid, suitable for a full upload.
func (g *Grid) GlyphBytes() []byte {
	out := make([]byte, len(g.glyph)*2)
	for i, v := range g.glyph {
		out[i*2] = byte(v)
		out[i*2+1] = byte(v >> 8)
	}
	return out
}

// FgBytes, BgBytes flatten the RGBA8 foreground/background planes into
// row-major byte slices for a full texture upload.
func (g *Grid) FgBytes() []byte { return flattenRGBA(g.fg) }
func (g *Grid) BgBytes() []byte { return flattenRGBA(g.bg) }

// AttrsBytes returns the single-channel u8 attrs texture bytes.
func (g *Grid) AttrsBytes() []byte { return g.attrs }

func flattenRGBA(plane [][4]byte) []byte {
	out := make([]byte, len(plane)*4)
	for i, px := range plane {
		copy(out[i*4:i*4+4], px[:])
	}
	return out
}

// SubregionGlyph extracts the row-major u16-LE bytes for rect r, used by a
// partial (damage == rects) upload, per spec.md §4.C.
func (g *Grid) SubregionGlyph(r Rect) []byte {
	out := make([]byte, 0, r.W*r.H*2)
	for row := r.Y; row < r.Y+r.H; row++ {
		for col := r.X; col < r.X+r.W; col++ {
			v := g.glyph[g.index(col, row)]
			out = append(out, byte(v), byte(v>>8))
		}
	}
	return out
}

// SubregionFg, SubregionBg extract the RGBA8 bytes for rect r.
func (g *Grid) SubregionFg(r Rect) []byte { return g.subregionRGBA(g.fg, r) }
func (g *Grid) SubregionBg(r Rect) []byte { return g.subregionRGBA(g.bg, r) }

func (g *Grid) subregionRGBA(plane [][4]byte, r Rect) []byte {
	out := make([]byte, 0, r.W*r.H*4)
	for row := r.Y; row < r.Y+r.H; row++ {
		rowStart := g.index(r.X, row)
		out = append(out, flattenRGBA(plane[rowStart:rowStart+r.W])...)
	}
	return out
}

// SubregionAttrs extracts the single-byte attrs bytes for rect r.
func (g *Grid) SubregionAttrs(r Rect) []byte {
	out := make([]byte, 0, r.W*r.H)
	for row := r.Y; row < r.Y+r.H; row++ {
		base := g.index(r.X, row)
		out = append(out, g.attrs[base:base+r.W]...)
	}
	return out
}

// Cursor is the terminal's cursor position and visibility, part of the
// per-frame uniform block.
type Cursor struct {
	Col, Row int
	Visible  bool
}
