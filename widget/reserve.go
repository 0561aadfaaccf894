package widget

// GlyphDecorator is the reserved glyph-table index marking a cell as owned
// by a widget rather than drawn as text (spec.md §3, "a reserved value
// GLYPH_DECORATOR"). It intentionally aliases no real glyph: glyph index 0
// is the empty/space sentinel, so the decorator marker must be a distinct
// out-of-band value the Cell-Grid Text Renderer special-cases.
const GlyphDecorator uint16 = 0xFFFF

// EncodeWidgetFg packs a widget id into the 24 low bits of an fg-color cell,
// per spec.md §3 ("encode the owning widget id in the fg-color slot (24
// bits)"). The alpha byte is left zero.
func EncodeWidgetFg(id uint32) [4]byte {
	return [4]byte{
		byte(id),
		byte(id >> 8),
		byte(id >> 16),
		0,
	}
}

// DecodeWidgetFg is the inverse of EncodeWidgetFg.
func DecodeWidgetFg(fg [4]byte) uint32 {
	return uint32(fg[0]) | uint32(fg[1])<<8 | uint32(fg[2])<<16
}

// CellArrays is the minimal view over a grid's four parallel cell arrays
// that reservation needs. cols is the grid stride; Glyph/Fg/Bg must each
// have length cols*rows.
type CellArrays struct {
	Cols int
	Glyph []uint16
	Fg    [][4]byte
	Bg    [][4]byte
}

// ReserveCells overwrites the cells under the widget's cell-rect with
// (glyph = GlyphDecorator, fg = widget-id-encoded, bg = 0), per spec.md
// §4.D. Cells outside the grid bounds are silently skipped.
func (w *Widget) ReserveCells(cells CellArrays, rows int) {
	cells.mutate(w.X, w.Y, w.WidthCells, w.HeightCells, rows, func(i int) {
		cells.Glyph[i] = GlyphDecorator
		cells.Fg[i] = EncodeWidgetFg(w.ID)
		cells.Bg[i] = [4]byte{}
	})
}

// RestoreCells clears the widget's reserved cells back to space with
// default colors, per spec.md §4.D ("on destruction they are restored to
// space + default colors").
func (w *Widget) RestoreCells(cells CellArrays, rows int) {
	cells.mutate(w.X, w.Y, w.WidthCells, w.HeightCells, rows, func(i int) {
		cells.Glyph[i] = 0
		cells.Fg[i] = [4]byte{}
		cells.Bg[i] = [4]byte{}
	})
}

func (c CellArrays) mutate(x, y int32, widthCells, heightCells uint32, rows int, fn func(i int)) {
	if c.Cols <= 0 {
		return
	}
	for row := int32(0); row < int32(heightCells); row++ {
		gy := y + row
		if gy < 0 || gy >= int32(rows) {
			continue
		}
		for col := int32(0); col < int32(widthCells); col++ {
			gx := x + col
			if gx < 0 || gx >= int32(c.Cols) {
				continue
			}
			i := int(gy)*c.Cols + int(gx)
			if i < 0 || i >= len(c.Glyph) {
				continue
			}
			fn(i)
		}
	}
}
