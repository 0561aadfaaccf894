package plugin

import "errors"

var (
	// ErrPluginNotFound is returned when a plugin name resolves to neither
	// a cached handle, a built-in factory, nor a loadable shared library.
	ErrPluginNotFound = errors.New("plugin: not found")

	// ErrSymbolMissing is returned when a loaded shared library does not
	// export the expected "NewPlugin" constructor symbol.
	ErrSymbolMissing = errors.New("plugin: entry symbol not found")

	// ErrBadSymbolType is returned when the exported entry symbol does not
	// have the expected signature.
	ErrBadSymbolType = errors.New("plugin: entry symbol has unexpected type")

	// ErrUnsupportedWidgetType is returned when a resolved plugin does not
	// advertise the requested widget type.
	ErrUnsupportedWidgetType = errors.New("plugin: widget type not supported")
)
