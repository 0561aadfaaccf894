// Package image implements the Image widget renderer: decode an RGBA
// bitmap into a texture and draw it as a textured quad over the widget
// rect, per spec.md §4.G "Image".
package image

import (
	_ "embed"
	"bytes"
	"errors"
	"fmt"
	stdimage "image"
	"image/draw"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/yetty/core/widget"
)

//go:embed shaders/quad.wgsl
var quadShaderSource string

// Errors returned by Renderer.
var (
	ErrNotInitialized = errors.New("image: Init requires non-empty, decodable image bytes")
	ErrDeviceMissing  = errors.New("image: FactoryContext.Device did not assert to hal.Device")
)

const uniformSize = 32 // vec4 rect + vec2 screen_size + vec2 pad = 8 floats

// Renderer implements widget.Renderer and widget.PassRenderer for the
// Image widget type.
type Renderer struct {
	device hal.Device
	queue  hal.Queue

	pixels        []byte
	width, height int

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline
	sampler    hal.Sampler

	tex       hal.Texture
	texView   hal.TextureView
	uniform   hal.Buffer
	bindGroup hal.BindGroup

	uploaded bool
	widget   *widget.Widget
}

// New creates a Renderer bound to w's pixel rect, wrapping device/queue.
func New(device hal.Device, queue hal.Queue, w *widget.Widget) *Renderer {
	return &Renderer{device: device, queue: queue, widget: w}
}

// NewFromContext builds a Renderer from a plugin.FactoryContext, the shape
// plugin.Plugin.CreateWidget receives. Device/Queue there are typed any
// (package plugin never imports a concrete GPU binding), so this is where
// the Image plugin's factory asserts them down to hal.Device/hal.Queue.
func NewFromContext(device, queue any, w *widget.Widget) (*Renderer, error) {
	d, ok := device.(hal.Device)
	if !ok {
		return nil, ErrDeviceMissing
	}
	q, ok := queue.(hal.Queue)
	if !ok {
		return nil, ErrDeviceMissing
	}
	return New(d, q, w), nil
}

// Init decodes payload (PNG or JPEG bytes) into RGBA8 pixels sized to the
// image's own intrinsic dimensions; Render stretches the resulting texture
// to fill the widget's pixel rect, per spec.md §4.G "loads bytes into an
// (R,G,B,A) 8-bit texture".
func (r *Renderer) Init(payload []byte) error {
	if len(payload) == 0 {
		return ErrNotInitialized
	}
	img, _, err := stdimage.Decode(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	}
	bounds := img.Bounds()
	r.width, r.height = bounds.Dx(), bounds.Dy()
	if r.width == 0 || r.height == 0 {
		return ErrNotInitialized
	}

	rgba := stdimage.NewRGBA(stdimage.Rect(0, 0, r.width, r.height))
	draw.Draw(rgba, rgba.Bounds(), img, bounds.Min, draw.Src)
	r.pixels = rgba.Pix
	r.uploaded = false
	return nil
}

func (r *Renderer) Dispose() {
	if r.bindGroup != nil {
		r.device.DestroyBindGroup(r.bindGroup)
	}
	if r.texView != nil {
		r.device.DestroyTextureView(r.texView)
	}
	if r.tex != nil {
		r.device.DestroyTexture(r.tex)
	}
	if r.uniform != nil {
		r.device.DestroyBuffer(r.uniform)
	}
	if r.sampler != nil {
		r.device.DestroySampler(r.sampler)
	}
	if r.pipeline != nil {
		r.device.DestroyRenderPipeline(r.pipeline)
	}
	if r.pipeLayout != nil {
		r.device.DestroyPipelineLayout(r.pipeLayout)
	}
	if r.bindLayout != nil {
		r.device.DestroyBindGroupLayout(r.bindLayout)
	}
	if r.shader != nil {
		r.device.DestroyShaderModule(r.shader)
	}
}

// Update is a no-op: a static image has no per-frame animation state.
func (r *Renderer) Update(dt float64) {}

func (r *Renderer) ensureResources() error {
	if r.pipeline != nil {
		return nil
	}

	shader, err := r.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: "image_shader", Source: hal.ShaderSource{WGSL: quadShaderSource},
	})
	if err != nil {
		return fmt.Errorf("image: compile shader: %w", err)
	}
	r.shader = shader

	bindLayout, err := r.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "image_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{SampleType: gputypes.TextureSampleTypeFloat, ViewDimension: gputypes.TextureViewDimension2D}},
			{Binding: 2, Visibility: gputypes.ShaderStageFragment,
				Sampler: &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}},
		},
	})
	if err != nil {
		return fmt.Errorf("image: create bind group layout: %w", err)
	}
	r.bindLayout = bindLayout

	pipeLayout, err := r.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "image_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		return fmt.Errorf("image: create pipeline layout: %w", err)
	}
	r.pipeLayout = pipeLayout

	sampler, err := r.device.CreateSampler(&hal.SamplerDescriptor{
		Label: "image_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge, AddressModeV: gputypes.AddressModeClampToEdge,
		MagFilter: gputypes.FilterModeLinear, MinFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		return fmt.Errorf("image: create sampler: %w", err)
	}
	r.sampler = sampler

	premulBlend := gputypes.BlendStatePremultiplied()
	pipeline, err := r.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label: "image_pipeline", Layout: r.pipeLayout,
		Vertex: hal.VertexState{Module: r.shader, EntryPoint: "vs_main"},
		Fragment: &hal.FragmentState{
			Module: r.shader, EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{Format: gputypes.TextureFormatBGRA8Unorm, Blend: &premulBlend, WriteMask: gputypes.ColorWriteMaskAll}},
		},
		Primitive:   gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleList, CullMode: gputypes.CullModeNone},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return fmt.Errorf("image: create pipeline: %w", err)
	}
	r.pipeline = pipeline

	uniform, err := r.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "image_uniforms", Size: uniformSize, Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("image: create uniform buffer: %w", err)
	}
	r.uniform = uniform

	return nil
}

func (r *Renderer) ensureTexture() error {
	if r.tex != nil {
		return nil
	}
	tex, err := r.device.CreateTexture(&hal.TextureDescriptor{
		Label: "image_texture", Size: hal.Extent3D{Width: uint32(r.width), Height: uint32(r.height), DepthOrArrayLayers: 1},
		MipLevelCount: 1, SampleCount: 1, Dimension: gputypes.TextureDimension2D,
		Format: gputypes.TextureFormatRGBA8Unorm, Usage: gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("image: create texture: %w", err)
	}
	r.tex = tex
	view, err := r.device.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: "image_texture_view"})
	if err != nil {
		return fmt.Errorf("image: create texture view: %w", err)
	}
	r.texView = view
	return nil
}

func (r *Renderer) ensureBindGroup() error {
	if r.bindGroup != nil {
		return nil
	}
	bg, err := r.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "image_bind_group", Layout: r.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: r.uniform.NativeHandle(), Size: uniformSize}},
			{Binding: 1, Resource: r.texView},
			{Binding: 2, Resource: r.sampler},
		},
	})
	if err != nil {
		return fmt.Errorf("image: create bind group: %w", err)
	}
	r.bindGroup = bg
	return nil
}

// Render implements widget.PassRenderer. on == false releases the pipeline
// and texture so the widget can be reinitialized cheaply later, per
// spec.md §4.D.
func (r *Renderer) Render(pass any, ctx any, on bool) {
	if !on {
		r.Dispose()
		r.pipeline, r.tex, r.texView, r.bindGroup = nil, nil, nil, nil
		r.uploaded = false
		return
	}
	rp, ok := pass.(hal.RenderPassEncoder)
	if !ok || len(r.pixels) == 0 {
		return
	}
	if err := r.ensureResources(); err != nil {
		return
	}
	if err := r.ensureTexture(); err != nil {
		return
	}
	if !r.uploaded {
		r.queue.WriteTexture(&hal.ImageCopyTexture{Texture: r.tex}, r.pixels,
			&hal.ImageDataLayout{BytesPerRow: uint32(r.width) * 4, RowsPerImage: uint32(r.height)},
			&hal.Extent3D{Width: uint32(r.width), Height: uint32(r.height), DepthOrArrayLayers: 1})
		r.uploaded = true
	}
	if err := r.ensureBindGroup(); err != nil {
		return
	}

	x, y, w, h := r.widget.PixelRect(1, 1)
	screenW, screenH := screenSize(ctx)
	uniformBytes := rectUniformBytes(float32(x), float32(y), float32(w), float32(h), screenW, screenH)
	r.queue.WriteBuffer(r.uniform, 0, uniformBytes)

	rp.SetPipeline(r.pipeline)
	rp.SetBindGroup(0, r.bindGroup, nil)
	rp.Draw(6, 1, 0, 0)
}

// screenSize reads the (width, height) pair a *gpuctx.FrameView-shaped ctx
// is expected to expose; unknown ctx types report a conservative 1x1,
// which renders nothing visible rather than dividing by zero.
func screenSize(ctx any) (float32, float32) {
	type sizer interface{ ScreenSize() (uint32, uint32) }
	if s, ok := ctx.(sizer); ok {
		w, h := s.ScreenSize()
		return float32(w), float32(h)
	}
	return 1, 1
}

func rectUniformBytes(x, y, w, h, screenW, screenH float32) []byte {
	out := make([]byte, uniformSize)
	vals := []float32{x, y, w, h, screenW, screenH, 0, 0}
	for i, v := range vals {
		bits := math.Float32bits(v)
		o := i * 4
		out[o], out[o+1], out[o+2], out[o+3] = byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)
	}
	return out
}
