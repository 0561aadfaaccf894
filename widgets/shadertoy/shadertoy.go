// Package shadertoy implements the Shader-toy widget renderer: a
// user-supplied WGSL fragment shader drawn over a unit quad at the widget
// rect, with time/resolution/rect uniforms, per spec.md §4.G "Shader-toy".
package shadertoy

import (
	_ "embed"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
	"github.com/gogpu/wgpu/hal"

	"github.com/yetty/core/logging"
	"github.com/yetty/core/widget"
)

//go:embed shaders/vertex.wgsl
var vertexShaderSource string

// Errors returned by Renderer.
var (
	ErrNoSource      = errors.New("shadertoy: Init requires non-empty WGSL fragment source")
	ErrCompileFailed = errors.New("shadertoy: user fragment shader failed to compile")
	ErrDeviceMissing = errors.New("shadertoy: FactoryContext.Device did not assert to hal.Device")
)

const uniformSize = 32 // vec4 rect + vec2 resolution + f32 time + f32 pad

// Renderer implements widget.Renderer and widget.PassRenderer for the
// Shader-toy widget type. A compilation failure is sticky: once failed is
// set, Render is a permanent no-op until a new Init succeeds.
type Renderer struct {
	device hal.Device
	queue  hal.Queue
	widget *widget.Widget

	source string
	failed bool
	time   float64

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline
	uniform    hal.Buffer
	bindGroup  hal.BindGroup
}

// New creates a Renderer bound to w, wrapping device/queue.
func New(device hal.Device, queue hal.Queue, w *widget.Widget) *Renderer {
	return &Renderer{device: device, queue: queue, widget: w}
}

// NewFromContext builds a Renderer from a plugin.FactoryContext-shaped
// device/queue pair, type-asserting them down to hal.Device/hal.Queue.
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

// Init compiles payload as a WGSL fragment shader that must define
// fn fs_main(in: VertexOut) -> @location(0) vec4<f32>, where VertexOut
// exposes uv, frag_coord, and the package's Uniforms (time, resolution,
// rect) at @group(0) @binding(0). Compilation is pre-validated with naga
// before the shader ever reaches the device; a failure here sets the
// sticky failed flag and every subsequent Render call is skipped, per
// spec.md §4.G.
func (r *Renderer) Init(payload []byte) error {
	if len(payload) == 0 {
		r.failed = true
		return ErrNoSource
	}
	combined := vertexShaderSource + "\n" + string(payload)
	if _, err := naga.Compile(combined); err != nil {
		r.failed = true
		logging.Get().Warn("shadertoy: shader compile failed", "error", err)
		return fmt.Errorf("%w: %v", ErrCompileFailed, err)
	}

	r.releasePipeline()
	r.source = combined
	r.failed = false
	return nil
}

func (r *Renderer) Dispose() {
	r.releasePipeline()
	if r.uniform != nil {
		r.device.DestroyBuffer(r.uniform)
		r.uniform = nil
	}
}

func (r *Renderer) releasePipeline() {
	if r.bindGroup != nil {
		r.device.DestroyBindGroup(r.bindGroup)
		r.bindGroup = nil
	}
	if r.pipeline != nil {
		r.device.DestroyRenderPipeline(r.pipeline)
		r.pipeline = nil
	}
	if r.pipeLayout != nil {
		r.device.DestroyPipelineLayout(r.pipeLayout)
		r.pipeLayout = nil
	}
	if r.bindLayout != nil {
		r.device.DestroyBindGroupLayout(r.bindLayout)
		r.bindLayout = nil
	}
	if r.shader != nil {
		r.device.DestroyShaderModule(r.shader)
		r.shader = nil
	}
}

// Update advances the uniform clock; the renderer has no other per-frame
// state.
func (r *Renderer) Update(dt float64) {
	r.time += dt
}

func (r *Renderer) ensureResources() error {
	if r.pipeline != nil {
		return nil
	}

	shader, err := r.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: "shadertoy_shader", Source: hal.ShaderSource{WGSL: r.source},
	})
	if err != nil {
		r.failed = true
		return fmt.Errorf("shadertoy: compile shader: %w", err)
	}
	r.shader = shader

	bindLayout, err := r.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "shadertoy_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
		},
	})
	if err != nil {
		return fmt.Errorf("shadertoy: create bind group layout: %w", err)
	}
	r.bindLayout = bindLayout

	pipeLayout, err := r.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "shadertoy_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		return fmt.Errorf("shadertoy: create pipeline layout: %w", err)
	}
	r.pipeLayout = pipeLayout

	premulBlend := gputypes.BlendStatePremultiplied()
	pipeline, err := r.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label: "shadertoy_pipeline", Layout: r.pipeLayout,
		Vertex: hal.VertexState{Module: r.shader, EntryPoint: "vs_main"},
		Fragment: &hal.FragmentState{
			Module: r.shader, EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{Format: gputypes.TextureFormatBGRA8Unorm, Blend: &premulBlend, WriteMask: gputypes.ColorWriteMaskAll}},
		},
		Primitive:   gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleList, CullMode: gputypes.CullModeNone},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		r.failed = true
		return fmt.Errorf("shadertoy: create pipeline: %w", err)
	}
	r.pipeline = pipeline

	if r.uniform == nil {
		uniform, err := r.device.CreateBuffer(&hal.BufferDescriptor{
			Label: "shadertoy_uniforms", Size: uniformSize, Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("shadertoy: create uniform buffer: %w", err)
		}
		r.uniform = uniform
	}

	bg, err := r.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "shadertoy_bind_group", Layout: r.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: r.uniform.NativeHandle(), Size: uniformSize}},
		},
	})
	if err != nil {
		return fmt.Errorf("shadertoy: create bind group: %w", err)
	}
	r.bindGroup = bg

	return nil
}

// Render implements widget.PassRenderer. A sticky compile failure, or
// on == false, skips rendering entirely; on == false additionally tears
// down GPU resources per spec.md §4.D.
func (r *Renderer) Render(pass any, ctx any, on bool) {
	if !on {
		r.releasePipeline()
		return
	}
	if r.failed || r.source == "" {
		return
	}
	rp, ok := pass.(hal.RenderPassEncoder)
	if !ok {
		return
	}
	if err := r.ensureResources(); err != nil {
		logging.Get().Warn("shadertoy: render setup failed", "error", err)
		return
	}

	x, y, w, h := r.widget.PixelRect(1, 1)
	screenW, screenH := screenSize(ctx)
	r.queue.WriteBuffer(r.uniform, 0, uniformBytes(float32(x), float32(y), float32(w), float32(h), screenW, screenH, float32(r.time)))

	rp.SetPipeline(r.pipeline)
	rp.SetBindGroup(0, r.bindGroup, nil)
	rp.Draw(6, 1, 0, 0)
}

func screenSize(ctx any) (float32, float32) {
	type sizer interface{ ScreenSize() (uint32, uint32) }
	if s, ok := ctx.(sizer); ok {
		w, h := s.ScreenSize()
		return float32(w), float32(h)
	}
	return 1, 1
}

func uniformBytes(x, y, w, h, screenW, screenH, t float32) []byte {
	out := make([]byte, uniformSize)
	vals := []float32{x, y, w, h, screenW, screenH, t, 0}
	for i, v := range vals {
		bits := math.Float32bits(v)
		o := i * 4
		out[o], out[o+1], out[o+2], out[o+3] = byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)
	}
	return out
}
