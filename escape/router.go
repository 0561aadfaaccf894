package escape

import (
	"github.com/yetty/core/logging"
	"github.com/yetty/core/plugin"
	"github.com/yetty/core/widget"
)

// WidgetHost is the subset of package plugin's Host the router needs.
type WidgetHost interface {
	CreateWidget(pluginName string, req plugin.CreateRequest) (*widget.Widget, error)
	DisposeWidget(w *widget.Widget)
}

// Active tracks live widgets by id for Update/Delete dispatch.
type Active interface {
	Get(id uint32) (*widget.Widget, bool)
	Put(w *widget.Widget)
	Remove(id uint32)
}

// Router parses and dispatches widget control sequences, per spec.md §4.F.
type Router struct {
	VendorID int
	Host     WidgetHost
	Active   Active

	// Reserve and Restore perform the grid-cell side effects of create and
	// delete, per spec.md §4.D. Both may be nil (e.g. in tests with no
	// grid), in which case reservation is skipped.
	Reserve func(w *widget.Widget)
	Restore func(w *widget.Widget)
}

// NewRouter creates a Router with DefaultVendorID.
func NewRouter(host WidgetHost, active Active) *Router {
	return &Router{VendorID: DefaultVendorID, Host: host, Active: active}
}

// Dispatch parses sequence and routes it, per spec.md §4.F's dispatch
// semantics. It returns the created widget id for a create operation (0 for
// every other operation or on failure), and ErrOtherVendor for sequences
// belonging to a different vendor (the caller should pass those through
// unhandled).
func (r *Router) Dispatch(sequence string) (id uint32, err error) {
	cmd, err := Parse(sequence, r.VendorID)
	if err != nil {
		return 0, err
	}

	switch cmd.Op {
	case OpCreateAbsolute, OpCreateRelative:
		return r.dispatchCreate(cmd)
	case OpUpdate:
		r.dispatchUpdate(cmd)
		return 0, nil
	case OpDelete:
		r.dispatchDelete(cmd)
		return 0, nil
	default:
		return 0, ErrMalformed
	}
}

func (r *Router) dispatchCreate(cmd Command) (uint32, error) {
	mode := widget.Absolute
	if cmd.Op == OpCreateRelative {
		mode = widget.Relative
	}

	w, err := r.Host.CreateWidget(cmd.Plugin, plugin.CreateRequest{
		WidgetType:  cmd.Plugin,
		Position:    mode,
		X:           cmd.X,
		Y:           cmd.Y,
		WidthCells:  cmd.Width,
		HeightCells: cmd.Height,
		Payload:     Base94Decode(cmd.Payload),
	})
	if err != nil {
		logging.Get().Warn("escape: create failed", "plugin", cmd.Plugin, "err", err)
		return 0, err
	}

	if r.Active != nil {
		r.Active.Put(w)
	}
	if r.Reserve != nil {
		r.Reserve(w)
	}
	return w.ID, nil
}

func (r *Router) dispatchUpdate(cmd Command) {
	if r.Active == nil {
		return
	}
	w, ok := r.Active.Get(cmd.ID)
	if !ok {
		return // look up by id; if not found, ignore
	}
	w.Payload = Base94Decode(cmd.Payload)
	w.NeedsRender = true
}

func (r *Router) dispatchDelete(cmd Command) {
	if r.Active == nil {
		return
	}
	w, ok := r.Active.Get(cmd.ID)
	if !ok {
		return
	}
	r.Host.DisposeWidget(w)
	if r.Restore != nil {
		r.Restore(w)
	}
	r.Active.Remove(cmd.ID)
}
