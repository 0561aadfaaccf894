// Package gpuctx owns the WebGPU instance/adapter/device/queue/surface
// lifecycle, per spec.md §4.A. It is the single place in this module that
// talks to github.com/gogpu/wgpu/hal directly; every other package borrows
// the *Context's Device/Queue rather than creating its own.
package gpuctx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/yetty/core/logging"
)

// Errors returned by New and AcquireFrame.
var (
	// ErrNoAdapter is returned when no compatible GPU adapter is found,
	// matching spec.md §4.A's "adapter/device request failure → fatal".
	ErrNoAdapter = errors.New("gpuctx: no compatible GPU adapter found")

	// ErrDeviceLost is returned by AcquireFrame/Present when the device was
	// lost. On the first loss the context reinitializes once before
	// returning it, and the caller may retry on the fresh device; a later
	// loss, or a failed reinitialization, returns it without recovery.
	ErrDeviceLost = errors.New("gpuctx: GPU device lost")

	// ErrSurfaceSkipped is returned by AcquireFrame when the surface
	// acquire status is neither Success nor SuccessSuboptimal; the caller
	// must skip the frame (no Present), per spec.md §4.A.
	ErrSurfaceSkipped = errors.New("gpuctx: surface acquire failed, frame skipped")

	errContextClosed = errors.New("gpuctx: context is closed")
)

// SurfaceSource is the host-supplied windowing handle. It is deliberately
// opaque: this package never imports a windowing library, per spec.md §1
// ("windowing... external collaborators"). Backends type-assert RawHandle
// to whatever native handle type they require.
type SurfaceSource interface {
	RawHandle() any
}

// Options configures context creation.
type Options struct {
	// Width, Height are the initial surface dimensions in pixels.
	Width, Height uint32

	// PreferredBackend selects which hal backend to request (Vulkan,
	// Metal, DX12...). Zero value lets the backend registry pick the
	// platform default.
	PreferredBackend gputypes.Backends

	// Label is an optional debug name threaded through instance/device
	// descriptors.
	Label string
}

// FrameView is the acquired target for one frame's rendering, cached until
// Present releases it, per spec.md §4.A ("a second getCurrentTextureView
// call within a frame returns the cached handle").
type FrameView struct {
	Surface hal.SurfaceTexture
	View    hal.TextureView
	Format  gputypes.TextureFormat
	Width   uint32
	Height  uint32
}

// Context owns one GPU instance/adapter/device/queue/surface and the
// currently-acquired (if any) frame view.
type Context struct {
	mu sync.Mutex

	source SurfaceSource
	opts   Options

	instance hal.Instance
	adapter  hal.ExposedAdapter
	device   hal.Device
	queue    hal.Queue
	surface  hal.Surface

	width, height uint32

	cachedFrame    *FrameView
	reinitAttempts int
	closed         bool
}

// New creates and fully initializes a Context: instance, adapter, device,
// queue, and a surface configured for (opts.Width, opts.Height), per
// spec.md §4.A. Adapter or device acquisition failure is fatal and returned
// directly (no retry at this stage — retries only apply to device-lost
// recovery after a successful New, per §7 kind 3).
func New(_ context.Context, source SurfaceSource, opts Options) (*Context, error) {
	c := &Context{source: source, opts: opts, width: opts.Width, height: opts.Height}
	if err := c.init(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Context) init() error {
	backendID := c.opts.PreferredBackend
	if backendID == 0 {
		backendID = gputypes.BackendsPrimary
	}

	backend, ok := hal.GetBackend(backendID)
	if !ok {
		return fmt.Errorf("%w: backend %v unavailable", ErrNoAdapter, backendID)
	}

	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return fmt.Errorf("%w: create instance: %v", ErrNoAdapter, err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		return fmt.Errorf("%w: no adapters enumerated", ErrNoAdapter)
	}

	// Prefer a high-performance discrete/integrated GPU, matching the
	// original's PowerPreferenceHighPerformance request.
	selected := adapters[0]
	for _, a := range adapters {
		if a.Info.DeviceType == gputypes.DeviceTypeDiscreteGPU {
			selected = a
			break
		}
	}

	surface, err := instance.CreateSurface(c.source.RawHandle())
	if err != nil {
		return fmt.Errorf("%w: create surface: %v", ErrNoAdapter, err)
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		return fmt.Errorf("%w: open device: %v", ErrNoAdapter, err)
	}

	c.instance = instance
	c.adapter = selected
	c.surface = surface
	c.device = openDev.Device
	c.queue = openDev.Queue

	if err := c.configureSurface(); err != nil {
		c.device.Destroy()
		return fmt.Errorf("%w: configure surface: %v", ErrNoAdapter, err)
	}

	logging.Get().Info("gpuctx: context initialized", "adapter", selected.Info.Name, "width", c.width, "height", c.height)
	return nil
}

// configureSurface applies spec.md §4.A's per-resize configuration: format
// is the surface's first preferred format (fallback 8-bit BGRA unorm),
// present mode is non-vsync immediate when available, alpha is auto. Must
// be called with c.mu held, or during init before the Context is shared.
func (c *Context) configureSurface() error {
	caps := c.surface.GetCapabilities(c.adapter.Adapter)

	format := gputypes.TextureFormatBGRA8Unorm
	if len(caps.Formats) > 0 {
		format = caps.Formats[0]
	}

	presentMode := gputypes.PresentModeFifo
	for _, m := range caps.PresentModes {
		if m == gputypes.PresentModeImmediate {
			presentMode = gputypes.PresentModeImmediate
			break
		}
	}

	return c.surface.Configure(c.device, &hal.SurfaceConfiguration{
		Width:       c.width,
		Height:      c.height,
		Format:      format,
		Usage:       gputypes.TextureUsageRenderAttachment,
		PresentMode: presentMode,
		AlphaMode:   gputypes.CompositeAlphaModeAuto,
	})
}

// Resize reconfigures the surface for a new pixel size. Any cached,
// un-Presented frame is discarded, since its texture belongs to the old
// configuration.
func (c *Context) Resize(width, height uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || (width == c.width && height == c.height) {
		return
	}
	c.width, c.height = width, height
	c.cachedFrame = nil
	if err := c.configureSurface(); err != nil {
		logging.Get().Error("gpuctx: resize failed", "width", width, "height", height, "err", err)
	}
}

// AcquireFrame returns this frame's target view, acquiring a new one from
// the surface only if none is cached. Per spec.md §4.A, a second call
// within the same frame (before Present) returns the cached handle instead
// of acquiring again.
func (c *Context) AcquireFrame() (FrameView, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return FrameView{}, errContextClosed
	}
	if c.cachedFrame != nil {
		return *c.cachedFrame, nil
	}

	tex, status, err := c.surface.AcquireNextTexture()
	if err != nil {
		if errors.Is(err, hal.ErrDeviceLost) {
			return c.recoverFromDeviceLoss()
		}
		return FrameView{}, fmt.Errorf("%w: %v", ErrSurfaceSkipped, err)
	}
	if status != hal.SurfaceStatusSuccess && status != hal.SurfaceStatusSuccessSuboptimal {
		return FrameView{}, ErrSurfaceSkipped
	}

	view, err := tex.View(&hal.TextureViewDescriptor{Label: "gpuctx.frame"})
	if err != nil {
		return FrameView{}, fmt.Errorf("%w: create frame view: %v", ErrSurfaceSkipped, err)
	}

	frame := FrameView{
		Surface: tex,
		View:    view,
		Format:  tex.GetFormat(),
		Width:   tex.GetWidth(),
		Height:  tex.GetHeight(),
	}
	c.cachedFrame = &frame
	c.reinitAttempts = 0
	return frame, nil
}

// Present submits the cached frame to the surface and releases both the
// view and the texture, per spec.md §4.A.
func (c *Context) Present() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errContextClosed
	}
	if c.cachedFrame == nil {
		return nil // nothing acquired this frame; no-op
	}

	err := c.surface.Present()
	c.cachedFrame = nil
	if err != nil {
		if errors.Is(err, hal.ErrDeviceLost) {
			_, recErr := c.recoverFromDeviceLoss()
			return recErr
		}
		return fmt.Errorf("gpuctx: present failed: %w", err)
	}
	return nil
}

// recoverFromDeviceLoss implements §7 kind 3: exactly one reinitialization
// attempt on device loss before the failure is fatal. Must be called with
// c.mu held.
func (c *Context) recoverFromDeviceLoss() (FrameView, error) {
	if c.reinitAttempts > 0 {
		return FrameView{}, ErrDeviceLost
	}
	c.reinitAttempts++
	logging.Get().Warn("gpuctx: device lost, attempting one reinitialization")

	if err := c.init(); err != nil {
		return FrameView{}, fmt.Errorf("%w: reinitialization failed: %v", ErrDeviceLost, err)
	}
	return FrameView{}, ErrDeviceLost // caller retries AcquireFrame on the fresh device
}

// Device returns the underlying hal.Device for pipelines owned by other
// packages (grid, widget renderers, richtext) to build against.
func (c *Context) Device() hal.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

// Queue returns the underlying hal.Queue.
func (c *Context) Queue() hal.Queue {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queue
}

// Close unconfigures the surface and destroys the device; the instance is
// not released. Idempotent.
func (c *Context) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if c.surface != nil {
		c.surface.Unconfigure()
	}
	if c.device != nil {
		c.device.Destroy()
	}
	logging.Get().Info("gpuctx: context closed")
}
