package widget

// Renderer is implemented by a plugin-specific widget instance to receive
// lifecycle, input, and render calls from the Plugin Host. A Widget's State
// field typically holds the concrete type implementing this interface.
type Renderer interface {
	// Init is called once after the widget and its Widget record are
	// constructed, with the decoded create-command payload.
	Init(payload []byte) error

	// Dispose releases any GPU or OS resources the renderer owns.
	Dispose()

	// Update advances per-frame animation state; dt is in seconds.
	Update(dt float64)
}

// InputHandler is implemented by renderers that want input routed to them.
// Each method reports whether it consumed the event.
type InputHandler interface {
	WantsKeyboard() bool
	WantsMouse() bool

	MouseMove(localX, localY float32) bool
	MouseButton(button int, pressed bool) bool
	MouseScroll(dx, dy float32, mods int) bool
	Key(key, scancode, action, mods int) bool
	Char(codepoint rune) bool
}

// PassRenderer is implemented by renderers that draw directly into the
// shared render pass, per spec.md §4.D option (a).
type PassRenderer interface {
	// Render draws into pass with viewport/scissor already set to the
	// widget's pixel rect. on reports whether the widget is currently
	// active; transitioning to false must release pipeline-sized GPU
	// resources while preserving enough state to reinitialize later.
	Render(pass any, ctx any, on bool)
}

// OffPassRenderer is implemented by renderers that do off-pass GPU work into
// an owned intermediate texture, then composite it over the widget rect, per
// spec.md §4.D option (b).
type OffPassRenderer interface {
	PrepareFrame(ctx any, on bool)
	BlitToPass(pass any, ctx any)
}

// Resizable is implemented by renderers that need to react to a pixel-size
// change beyond what Widget.Resize already recorded.
type Resizable interface {
	OnResize(newPixelWidth, newPixelHeight uint32)
}

// Focusable is implemented by renderers that change behavior on focus.
type Focusable interface {
	SetFocus(focused bool)
}

// SetFocus updates both the Widget record and, if present, notifies the
// renderer held in State.
func (w *Widget) SetFocus(focused bool) {
	w.Focus = focused
	if f, ok := w.State.(Focusable); ok {
		f.SetFocus(focused)
	}
}
