// Package yettycore aggregates the externally-supplied configuration the
// rest of this module's packages need to stand up a terminal core: font
// sources, atlas sizing, the plugin host's search paths, and an optional
// on-disk atlas cache, per spec.md §6 "Environment and configuration".
package yettycore

import "github.com/yetty/core/msdf"

// Config is the top-level aggregate a host process builds once at
// startup and threads down into gpuctx, msdf, and plugin. It names only
// the shapes spec.md §6 calls out as externally configurable; everything
// else (WGSL shader paths, grid cell size, widget layout) is derived at
// runtime rather than supplied up front.
type Config struct {
	// FontPaths lists font file paths to load, in priority order.
	// FontPaths[0] is the primary font passed to msdf.Font.Generate;
	// the rest are appended as fallbacks via msdf.Font.AddFallbackFont.
	FontPaths []string

	// PixelSize is the rasterization size in pixels (ppem), forwarded to
	// FontConfig.PixelSize.
	PixelSize float64

	// MSDFRange is the MSDF distance range in pixels. spec.md §6
	// recommends 2-4.
	MSDFRange float64

	// AtlasWidth is the atlas's fixed initial width; must be a power of
	// two.
	AtlasWidth int

	// PluginSearchPaths lists directories plugin.Host searches for
	// dynamic widget factory libraries, forwarded to plugin.NewHost.
	PluginSearchPaths []string

	// AtlasCachePath, if non-empty, is the base path (without extension)
	// a generated atlas is persisted under between runs: AtlasBitmapPath
	// names the bitmap dump, AtlasMetricsPath the JSON sidecar. Empty
	// disables caching and every run rasterizes from FontPaths instead.
	AtlasCachePath string
}

// DefaultConfig returns sensible defaults for terminal-grade text,
// mirroring msdf.DefaultFontConfig's rasterization defaults. FontPaths
// and PluginSearchPaths are left empty; callers must supply at least one
// font path before Validate succeeds.
func DefaultConfig() Config {
	fc := msdf.DefaultFontConfig()
	return Config{
		PixelSize:  fc.PixelSize,
		MSDFRange:  fc.Range,
		AtlasWidth: fc.AtlasWidth,
	}
}

// Validate checks the configuration for obviously invalid values.
func (c *Config) Validate() error {
	if len(c.FontPaths) == 0 {
		return &ConfigError{Field: "FontPaths", Reason: "must name at least one font file"}
	}
	for _, p := range c.FontPaths {
		if p == "" {
			return &ConfigError{Field: "FontPaths", Reason: "must not contain an empty path"}
		}
	}
	if c.PixelSize <= 0 {
		return &ConfigError{Field: "PixelSize", Reason: "must be positive"}
	}
	if c.MSDFRange <= 0 {
		return &ConfigError{Field: "MSDFRange", Reason: "must be positive"}
	}
	if c.AtlasWidth < 64 || c.AtlasWidth&(c.AtlasWidth-1) != 0 {
		return &ConfigError{Field: "AtlasWidth", Reason: "must be a power of two >= 64"}
	}
	return nil
}

// FontConfig derives the msdf.FontConfig this Config implies.
// AngleThreshold is left at msdf.DefaultFontConfig's default since
// spec.md §6 does not name it as externally configurable.
func (c *Config) FontConfig() msdf.FontConfig {
	fc := msdf.DefaultFontConfig()
	fc.PixelSize = c.PixelSize
	fc.Range = c.MSDFRange
	fc.AtlasWidth = c.AtlasWidth
	if len(c.FontPaths) > 0 {
		fc.Family = c.FontPaths[0]
	}
	return fc
}

// CacheEnabled reports whether AtlasCachePath names a location to load
// from and save to.
func (c *Config) CacheEnabled() bool {
	return c.AtlasCachePath != ""
}

// AtlasBitmapPath returns the file path msdf.SaveAtlas/LoadAtlas should
// use for the atlas bitmap, derived from AtlasCachePath.
func (c *Config) AtlasBitmapPath() string {
	return c.AtlasCachePath + ".atlas"
}

// AtlasMetricsPath returns the file path msdf.SaveAtlas/LoadAtlas should
// use for the JSON metrics sidecar, derived from AtlasCachePath.
func (c *Config) AtlasMetricsPath() string {
	return c.AtlasCachePath + ".json"
}

// ConfigError reports an invalid Config field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "yettycore: invalid config." + e.Field + ": " + e.Reason
}
