// Package widget implements the per-instance layer model shared by every
// plugin-hosted widget: position, size, visibility, focus, and the lifecycle
// hooks the Plugin Host drives each frame.
package widget

import "sync/atomic"

// PositionMode selects how a widget's cell coordinates behave across scroll
// events.
type PositionMode uint8

const (
	// Absolute widgets keep fixed cell coordinates; they never move when the
	// terminal scrolls.
	Absolute PositionMode = iota
	// Relative widgets are anchored to the cursor line at creation time and
	// shift with it as the terminal scrolls.
	Relative
)

func (m PositionMode) String() string {
	if m == Relative {
		return "relative"
	}
	return "absolute"
}

// idCounter hands out monotonically increasing widget ids. 0 is reserved and
// never returned.
var idCounter uint32

// NextID returns the next monotonically increasing widget id. Safe for
// concurrent use from the Escape-Sequence Router and tests alike.
func NextID() uint32 {
	return atomic.AddUint32(&idCounter, 1)
}

// State is the typed plugin-local slot a Widget carries for its renderer's
// own bookkeeping (owned GPU handles, decoded assets, shader pipelines). It
// is opaque to everything outside the widget's own plugin.
type State any

// Widget is a single plugin-hosted layer: position, size, visibility, focus,
// and the opaque payload/state a plugin attaches to it. Exported fields
// mirror the original's accessor-pair PluginLayer one-for-one, translated
// into idiomatic Go.
type Widget struct {
	ID       uint32
	Plugin   string
	Position PositionMode

	// X, Y are cell coordinates. For Relative widgets these are adjusted by
	// AdjustScroll as the terminal scrolls.
	X, Y int32

	// WidthCells, HeightCells are the widget's footprint in grid cells.
	WidthCells, HeightCells uint32

	// PixelWidth, PixelHeight are derived from cell size and the terminal's
	// current cell pixel dimensions; recomputed by Resize.
	PixelWidth, PixelHeight uint32

	// Line records the cursor row at creation time for Relative widgets, so
	// AdjustScroll has a stable reference independent of repeated deltas.
	Line int32

	Visible     bool
	Focus       bool
	NeedsRender bool

	Payload []byte
	State   State
}

// New creates a widget at the given id, owned by the named plugin, in the
// given position mode and geometry. Visible and NeedsRender default to true,
// matching the original's PluginLayer defaults.
func New(id uint32, plugin string, mode PositionMode, x, y int32, widthCells, heightCells uint32) *Widget {
	return &Widget{
		ID:         id,
		Plugin:     plugin,
		Position:   mode,
		X:          x,
		Y:          y,
		WidthCells: widthCells,
		HeightCells: func() uint32 {
			if heightCells == 0 {
				return 1
			}
			return heightCells
		}(),
		Visible:     true,
		NeedsRender: true,
	}
}

// Resize recomputes PixelWidth/PixelHeight from the terminal's current cell
// pixel dimensions and flags the widget for re-render.
func (w *Widget) Resize(cellWidth, cellHeight uint32) {
	w.PixelWidth = w.WidthCells * cellWidth
	w.PixelHeight = w.HeightCells * cellHeight
	w.NeedsRender = true
}

// AdjustScroll shifts a Relative widget's Y by -delta lines, per spec: "on
// each scroll event of delta lines, y decreases by delta." Absolute widgets
// are untouched.
func (w *Widget) AdjustScroll(delta int32) {
	if w.Position != Relative {
		return
	}
	w.Y -= delta
}

// OffScreen reports whether a Relative widget has scrolled entirely off the
// visible screen and should be skipped at render time.
func (w *Widget) OffScreen(pixelY int32, screenPixelHeight uint32) bool {
	if w.Position != Relative {
		return false
	}
	bottom := pixelY + int32(w.PixelHeight) //nolint:gosec // widget pixel extents stay well under int32 range
	return bottom <= 0 || pixelY >= int32(screenPixelHeight)
}

// PixelRect returns the widget's pixel-space rectangle given the terminal's
// current cell pixel dimensions. Sub-pixel rounding is truncation toward
// zero, matching the reference implementation.
func (w *Widget) PixelRect(cellWidth, cellHeight uint32) (x, y, width, height int32) {
	x = w.X * int32(cellWidth)
	y = w.Y * int32(cellHeight)
	width = int32(w.WidthCells * cellWidth)
	height = int32(w.HeightCells * cellHeight)
	return x, y, width, height
}

// CellRect returns the widget's cell-space rectangle, used by the Plugin
// Host to reserve and restore grid cells.
func (w *Widget) CellRect() (x, y int32, width, height uint32) {
	return w.X, w.Y, w.WidthCells, w.HeightCells
}
