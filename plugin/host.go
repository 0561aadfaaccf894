package plugin

import (
	"fmt"
	"os"
	goplugin "plugin"
	"path/filepath"
	"sync"

	"github.com/yetty/core/logging"
	"github.com/yetty/core/widget"
)

// BuiltinFactory constructs a built-in (statically linked) Plugin instance.
type BuiltinFactory func() (Plugin, error)

// entrySymbol is the exported constructor every dynamically loaded plugin
// shared library must provide. It corresponds to the original's extern "C"
// create() entry point (original_source/src/yetty/widget-factory.h),
// translated to Go's plugin.Open/Lookup contract.
const entrySymbol = "NewPlugin"

// loaded tracks one resolved plugin handle alongside its load token.
type loaded struct {
	plugin Plugin
	token  LoadToken
}

// Host discovers, lazily loads, and routes calls to plugins, per spec.md
// §4.E. It keeps built-in and dynamically loaded plugins in two separate
// registries behind one resolution chain, following
// original_source/src/yetty/widget-factory.h's WidgetFactory.
type Host struct {
	mu sync.RWMutex

	searchPaths []string

	builtins map[string]BuiltinFactory
	loaded   map[string]*loaded

	ctx FactoryContext
}

// NewHost creates an empty Host with the given dynamic-library search paths.
// Register built-ins with RegisterBuiltin before first use.
func NewHost(searchPaths []string, ctx FactoryContext) *Host {
	return &Host{
		searchPaths: searchPaths,
		builtins:    make(map[string]BuiltinFactory),
		loaded:      make(map[string]*loaded),
		ctx:         ctx,
	}
}

// RegisterBuiltin registers a statically linked plugin factory under name.
// Built-ins are only instantiated lazily, on first resolution, matching the
// original's "_builtinPlugins" lazy-factory table.
func (h *Host) RegisterBuiltin(name string, factory BuiltinFactory) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.builtins[name] = factory
}

// Resolve returns the Plugin for name, loading it if necessary, per spec.md
// §4.E's resolution order: cached, then built-in, then dynamic library
// search.
func (h *Host) Resolve(name string) (Plugin, error) {
	h.mu.RLock()
	if l, ok := h.loaded[name]; ok {
		h.mu.RUnlock()
		return l.plugin, nil
	}
	h.mu.RUnlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	// Re-check under the write lock: another goroutine may have loaded it
	// while we waited, matching backend.Init's idempotent double-check.
	if l, ok := h.loaded[name]; ok {
		return l.plugin, nil
	}

	if factory, ok := h.builtins[name]; ok {
		p, err := factory()
		if err != nil {
			return nil, fmt.Errorf("plugin %q: built-in init failed: %w", name, err)
		}
		h.loaded[name] = &loaded{plugin: p, token: newLoadToken()}
		logging.Get().Info("plugin: loaded built-in", "name", name)
		return p, nil
	}

	p, err := h.findAndLoadDynamic(name)
	if err != nil {
		return nil, err
	}
	h.loaded[name] = &loaded{plugin: p, token: newLoadToken()}
	logging.Get().Info("plugin: loaded dynamic library", "name", name)
	return p, nil
}

// findAndLoadDynamic searches each configured path for <name>.{so,dylib,dll},
// loads the first match, resolves its entry symbol, and constructs the
// Plugin. Must be called with h.mu held for writing.
func (h *Host) findAndLoadDynamic(name string) (Plugin, error) {
	for _, dir := range h.searchPaths {
		for _, ext := range []string{".so", ".dylib", ".dll"} {
			path := filepath.Join(dir, name+ext)
			if _, err := os.Stat(path); err != nil {
				continue
			}
			return loadDynamicPlugin(path)
		}
	}
	return nil, fmt.Errorf("%w: %q (searched %d paths)", ErrPluginNotFound, name, len(h.searchPaths))
}

func loadDynamicPlugin(path string) (Plugin, error) {
	lib, err := goplugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("plugin: failed to open %q: %w", path, err)
	}

	sym, err := lib.Lookup(entrySymbol)
	if err != nil {
		return nil, fmt.Errorf("%w: %q in %q", ErrSymbolMissing, entrySymbol, path)
	}

	factory, ok := sym.(func() (Plugin, error))
	if !ok {
		return nil, fmt.Errorf("%w: %q in %q", ErrBadSymbolType, entrySymbol, path)
	}

	p, err := factory()
	if err != nil {
		return nil, fmt.Errorf("plugin: %q init failed: %w", path, err)
	}
	return p, nil
}

// CreateWidget resolves the named plugin and asks it to construct a widget,
// assigning the next monotonic id on success. On any failure, no id is
// consumed and the grid is left unmutated (the caller, normally
// package escape, is responsible for not reserving cells on error).
func (h *Host) CreateWidget(pluginName string, req CreateRequest) (*widget.Widget, error) {
	p, err := h.Resolve(pluginName)
	if err != nil {
		return nil, err
	}

	supported := false
	for _, t := range p.WidgetTypes() {
		if t == req.WidgetType {
			supported = true
			break
		}
	}
	if !supported {
		return nil, fmt.Errorf("%w: %q does not support %q", ErrUnsupportedWidgetType, pluginName, req.WidgetType)
	}

	if lr, ok := p.(LockedRuntime); ok {
		lr.Lock()
		defer lr.Unlock()
	}

	w, err := p.CreateWidget(h.ctx, req)
	if err != nil {
		return nil, fmt.Errorf("plugin %q: create widget %q: %w", pluginName, req.WidgetType, err)
	}
	w.ID = widget.NextID()
	w.Plugin = pluginName
	return w, nil
}

// DisposeWidget tears down a single widget through its owning plugin, under
// the plugin's lock if it is a LockedRuntime.
func (h *Host) DisposeWidget(w *widget.Widget) {
	h.mu.RLock()
	l, ok := h.loaded[w.Plugin]
	h.mu.RUnlock()
	if !ok {
		return
	}

	if lr, ok := l.plugin.(LockedRuntime); ok {
		lr.Lock()
		defer lr.Unlock()
	}
	if r, ok := w.State.(widget.Renderer); ok {
		r.Dispose()
	}
}

// Close tears down every loaded plugin's shared resources.
func (h *Host) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, l := range h.loaded {
		l.plugin.Dispose()
		logging.Get().Info("plugin: disposed", "name", name)
	}
	h.loaded = make(map[string]*loaded)
}

// Loaded reports whether name currently has a live plugin handle, cached or
// built-in.
func (h *Host) Loaded(name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.loaded[name]
	return ok
}
