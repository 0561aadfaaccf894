// Package richtext adapts package richtext's span/char layout and shared
// glyph pipeline to the Widget Renderer contract, per spec.md §4.G
// "RichText".
package richtext

import (
	"errors"

	"github.com/gogpu/wgpu/hal"

	"github.com/yetty/core/logging"
	coretext "github.com/yetty/core/richtext"
	"github.com/yetty/core/widget"
)

// Errors returned by Renderer.
var (
	ErrNoFontManager = errors.New("richtext: Renderer requires a non-nil FontManager")
	ErrDeviceMissing = errors.New("richtext: FactoryContext.Device did not assert to hal.Device")
)

// Renderer implements widget.Renderer and widget.PassRenderer for the
// RichText widget type: it lays out a coretext.Document against a
// coretext.FontManager and draws the resulting batches with the shared
// coretext.Renderer pipeline.
type Renderer struct {
	widget *widget.Widget
	fm     *coretext.FontManager
	pipe   *coretext.Renderer

	doc          coretext.Document
	result       coretext.LayoutResult
	scrollOffset float32
	pixelRange   float32
	background   [4]byte
	failed       bool
}

// NewWithFontManager creates a Renderer bound to w, resolving fonts through
// fm and drawing with pipe.
func NewWithFontManager(device, queue any, w *widget.Widget, fm *coretext.FontManager) (*Renderer, error) {
	if fm == nil {
		return nil, ErrNoFontManager
	}
	d, ok := device.(hal.Device)
	if !ok {
		return nil, ErrDeviceMissing
	}
	q, ok := queue.(hal.Queue)
	if !ok {
		return nil, ErrDeviceMissing
	}
	return &Renderer{widget: w, fm: fm, pipe: coretext.NewRenderer(d, q), pixelRange: 4.0}, nil
}

// NewFromContext builds a Renderer from a plugin.FactoryContext-shaped
// device/queue pair, type-asserting them down to hal.Device/hal.Queue.
func NewFromContext(device, queue any, w *widget.Widget, fm *coretext.FontManager) (*Renderer, error) {
	return NewWithFontManager(device, queue, w, fm)
}

// Init ignores payload and returns nil: this package takes the
// already-parsed document via SetDocument rather than decoding an
// escape-sequence payload itself, since the document shape (spans vs.
// pre-positioned chars) is plugin-specific.
func (r *Renderer) Init(payload []byte) error { return nil }

// SetDocument replaces the laid-out content and re-runs layout immediately,
// so a failed layout is reported at the call site rather than silently
// skipped at the next Render.
func (r *Renderer) SetDocument(doc coretext.Document) error {
	result, err := coretext.LayoutDocument(doc, r.fm)
	if err != nil {
		logging.Get().Warn("richtext: layout failed", "error", err)
		r.failed = true
		return err
	}
	r.doc = doc
	r.result = result
	r.failed = false
	return nil
}

// AdjustScroll shifts the vertical scroll offset applied at render time.
func (r *Renderer) AdjustScroll(delta float32) {
	r.scrollOffset += delta
	if r.scrollOffset < 0 {
		r.scrollOffset = 0
	}
}

// SetBackground sets the optional solid background fill drawn behind the
// glyph batches; alpha 0 disables it.
func (r *Renderer) SetBackground(color [4]byte) {
	r.background = color
}

func (r *Renderer) Dispose() {
	r.pipe.Close()
}

// Update is a no-op: layout only changes on SetDocument/AdjustScroll.
func (r *Renderer) Update(dt float64) {}

// Render implements widget.PassRenderer. on == false tears down the shared
// pipeline's GPU resources, per spec.md §4.D.
func (r *Renderer) Render(pass any, ctx any, on bool) {
	if !on {
		r.Dispose()
		return
	}
	if r.failed {
		return
	}
	rp, ok := pass.(hal.RenderPassEncoder)
	if !ok {
		return
	}

	screenW, screenH := screenSize(ctx)
	cellW, cellH := cellSize(ctx)
	x, y, w, h := r.widget.PixelRect(cellW, cellH)

	params := coretext.FrameParams{
		RectX: float32(x), RectY: float32(y), RectW: float32(w), RectH: float32(h),
		ScreenW: screenW, ScreenH: screenH,
		ScrollOffset: r.scrollOffset,
		PixelRange:   r.pixelRange,
		Background:   r.background,
	}

	if err := r.pipe.Render(rp, r.result, params); err != nil {
		logging.Get().Warn("richtext: render failed", "error", err)
	}
}

func screenSize(ctx any) (float32, float32) {
	type sizer interface{ ScreenSize() (uint32, uint32) }
	if s, ok := ctx.(sizer); ok {
		w, h := s.ScreenSize()
		return float32(w), float32(h)
	}
	return 1, 1
}

func cellSize(ctx any) (uint32, uint32) {
	type cellSizer interface{ CellSize() (uint32, uint32) }
	if s, ok := ctx.(cellSizer); ok {
		return s.CellSize()
	}
	return 1, 1
}
