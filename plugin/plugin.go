// Package plugin implements the Plugin Host: discovery, lazy loading, and
// lifecycle routing for the shared libraries that provide widget types.
package plugin

import (
	"github.com/google/uuid"
	"github.com/yetty/core/widget"
)

// Plugin is a loaded implementation providing a factory for widgets and
// optional shared resources, per spec.md §3/§4.E.
type Plugin interface {
	// Name returns the plugin's short address, e.g. "pdf", "thorvg".
	Name() string

	// WidgetTypes lists the widget type names this plugin can create.
	WidgetTypes() []string

	// CreateWidget constructs a new widget instance. ctx gives the plugin
	// access to shared host resources (GPU device, config) without owning
	// them.
	CreateWidget(ctx FactoryContext, req CreateRequest) (*widget.Widget, error)

	// Dispose tears down shared resources. Called once when the plugin is
	// unloaded (normally only at host shutdown).
	Dispose()
}

// BatchRenderer is implemented by plugins that batch all their widgets into
// a single pass instead of rendering each widget independently (e.g. one
// shared immediate-mode UI context per frame).
type BatchRenderer interface {
	RenderAll(pass any, ctx FactoryContext, widgets []*widget.Widget)
}

// SharedResources is implemented by plugins that expose a resource shared
// across every widget of that plugin's type (a single parser, interpreter,
// or font manager), per spec.md §3 ("optional shared resources").
type SharedResources interface {
	Shared() any
}

// LockedRuntime is implemented by plugins whose underlying runtime requires
// exclusive access across its entry/exit points (e.g. an embedded scripting
// language with a global interpreter lock), per spec.md §4.E threading note.
// The Host holds Lock around the plugin's CreateWidget call and around a
// widget's Dispose in DisposeWidget, on the single render thread; it does
// not take it for WidgetTypes, for plugin construction, or for the
// plugin's Dispose at Close.
type LockedRuntime interface {
	Lock()
	Unlock()
}

// FactoryContext carries the host resources a plugin may need to create or
// render widgets, without granting ownership of any of them. Device/Queue
// are typed any to avoid this package depending on a concrete GPU binding;
// callers type-assert to their gpuctx.Context's concrete handle types.
type FactoryContext struct {
	Device any
	Queue  any
	Config any
}

// CreateRequest bundles the parameters the original's WidgetCreateFn takes
// positionally into one value, per original_source/src/yetty/widget-factory.h.
type CreateRequest struct {
	WidgetType string
	Position   widget.PositionMode
	X, Y       int32
	WidthCells, HeightCells uint32
	PluginArgs string
	Payload    []byte
}

// LoadToken identifies one dynamic-plugin load for cache-key and diagnostic
// purposes. Widget ids stay plain monotonic u32s per spec.md §3; this
// exists only for the Host's internal bookkeeping, per SPEC_FULL.md's
// Domain Stack note on google/uuid.
type LoadToken uuid.UUID

func newLoadToken() LoadToken {
	return LoadToken(uuid.New())
}

func (t LoadToken) String() string {
	return uuid.UUID(t).String()
}
