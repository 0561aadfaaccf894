// Package sdfprimitive implements the SDF Primitives widget renderer: a
// declarative YAML document of 2D shapes, each evaluated in the fragment
// shader via a signed-distance function (closed-form, except for the two
// Bézier curves and the elliptical arc, which are sampled) and
// anti-aliased with smoothstep, per spec.md §4.G "SDF Primitives".
package sdfprimitive

import (
	_ "embed"
	"errors"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/yetty/core/logging"
	"github.com/yetty/core/widget"
)

//go:embed shaders/sdf.wgsl
var sdfShaderSource string

// MaxPrimitives bounds the fixed-capacity primitive array uploaded to the
// GPU, per spec.md §4.G.
const MaxPrimitives = 256

// PrimitiveType identifies which closed-form 2D SDF a Primitive evaluates.
type PrimitiveType int32

const (
	Circle PrimitiveType = iota
	Box
	RoundedBox
	Segment
	Triangle
	QuadraticBezier
	CubicBezier
	Arc
	Ellipse
	EllipticalArc
)

var typeNames = map[string]PrimitiveType{
	"circle":           Circle,
	"box":              Box,
	"rounded_box":      RoundedBox,
	"segment":          Segment,
	"triangle":         Triangle,
	"quadratic_bezier": QuadraticBezier,
	"cubic_bezier":     CubicBezier,
	"arc":              Arc,
	"ellipse":          Ellipse,
	"elliptical_arc":   EllipticalArc,
}

// Style carries the fill/stroke appearance shared by every primitive type.
type Style struct {
	Fill        [4]float32
	Stroke      [4]float32
	StrokeWidth float32
	Round       float32
	Rotate      float32
}

// Primitive is one shape: a type tag, up to 15 float parameters (the shape
// geometry, meaning depends on Type), and a Style.
type Primitive struct {
	Type   PrimitiveType
	Params [15]float32
	Style  Style
}

// Document is a bounded, ordered list of primitives composited back-to-front.
type Document struct {
	Primitives []Primitive
}

// yamlDoc mirrors the document's on-disk YAML shape.
type yamlDoc struct {
	Primitives []yamlPrimitive `yaml:"primitives"`
}

type yamlPrimitive struct {
	Type        string     `yaml:"type"`
	Params      []float32  `yaml:"params"`
	Fill        [4]float32 `yaml:"fill"`
	Stroke      [4]float32 `yaml:"stroke"`
	StrokeWidth float32    `yaml:"strokeWidth"`
	Round       float32    `yaml:"round"`
	Rotate      float32    `yaml:"rotate"`
}

// ErrUnknownType is returned by Parse when a primitive names a type that
// isn't one of the ten SDF types the fragment shader implements.
var ErrUnknownType = errors.New("sdfprimitive: unknown primitive type")

// Parse decodes a YAML document of primitives. Entries beyond MaxPrimitives
// are dropped with a warning log rather than rejected outright, matching
// the bounded-array contract of spec.md §4.G.
func Parse(data []byte) (Document, error) {
	var raw yamlDoc
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Document{}, fmt.Errorf("sdfprimitive: parse: %w", err)
	}

	if len(raw.Primitives) > MaxPrimitives {
		logging.Get().Warn("sdfprimitive: document exceeds MaxPrimitives, truncating",
			"count", len(raw.Primitives), "max", MaxPrimitives)
		raw.Primitives = raw.Primitives[:MaxPrimitives]
	}

	doc := Document{Primitives: make([]Primitive, 0, len(raw.Primitives))}
	for i, p := range raw.Primitives {
		pt, ok := typeNames[p.Type]
		if !ok {
			return Document{}, fmt.Errorf("%w: %q at index %d", ErrUnknownType, p.Type, i)
		}
		var params [15]float32
		copy(params[:], p.Params)
		doc.Primitives = append(doc.Primitives, Primitive{
			Type:   pt,
			Params: params,
			Style: Style{
				Fill: p.Fill, Stroke: p.Stroke,
				StrokeWidth: p.StrokeWidth, Round: p.Round, Rotate: p.Rotate,
			},
		})
	}
	return doc, nil
}

const primitiveStride = 112 // array<vec4<f32>,4> params + fill + stroke + style, all 16-byte aligned
const uniformSize = 32      // vec4 rect + vec2 screen_size + u32 count + f32 pad

// Errors returned by Renderer.
var (
	ErrDeviceMissing = errors.New("sdfprimitive: FactoryContext.Device did not assert to hal.Device")
)

// Renderer implements widget.Renderer and widget.PassRenderer for the SDF
// Primitives widget type.
type Renderer struct {
	device hal.Device
	queue  hal.Queue
	widget *widget.Widget

	doc Document

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline
	uniform    hal.Buffer
	storage    hal.Buffer
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

// Init parses payload as the declarative primitive document.
func (r *Renderer) Init(payload []byte) error {
	doc, err := Parse(payload)
	if err != nil {
		return err
	}
	r.doc = doc
	return nil
}

func (r *Renderer) Dispose() {
	if r.bindGroup != nil {
		r.device.DestroyBindGroup(r.bindGroup)
		r.bindGroup = nil
	}
	if r.storage != nil {
		r.device.DestroyBuffer(r.storage)
		r.storage = nil
	}
	if r.uniform != nil {
		r.device.DestroyBuffer(r.uniform)
		r.uniform = nil
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

// Update is a no-op: the document is static once parsed.
func (r *Renderer) Update(dt float64) {}

func (r *Renderer) ensureResources() error {
	if r.pipeline != nil {
		return nil
	}

	shader, err := r.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: "sdfprimitive_shader", Source: hal.ShaderSource{WGSL: sdfShaderSource},
	})
	if err != nil {
		return fmt.Errorf("sdfprimitive: compile shader: %w", err)
	}
	r.shader = shader

	bindLayout, err := r.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "sdfprimitive_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageFragment,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("sdfprimitive: create bind group layout: %w", err)
	}
	r.bindLayout = bindLayout

	pipeLayout, err := r.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "sdfprimitive_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		return fmt.Errorf("sdfprimitive: create pipeline layout: %w", err)
	}
	r.pipeLayout = pipeLayout

	premulBlend := gputypes.BlendStatePremultiplied()
	pipeline, err := r.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label: "sdfprimitive_pipeline", Layout: r.pipeLayout,
		Vertex: hal.VertexState{Module: r.shader, EntryPoint: "vs_main"},
		Fragment: &hal.FragmentState{
			Module: r.shader, EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{Format: gputypes.TextureFormatBGRA8Unorm, Blend: &premulBlend, WriteMask: gputypes.ColorWriteMaskAll}},
		},
		Primitive:   gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleList, CullMode: gputypes.CullModeNone},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return fmt.Errorf("sdfprimitive: create pipeline: %w", err)
	}
	r.pipeline = pipeline

	uniform, err := r.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "sdfprimitive_uniforms", Size: uniformSize, Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("sdfprimitive: create uniform buffer: %w", err)
	}
	r.uniform = uniform

	storage, err := r.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "sdfprimitive_storage", Size: uint64(MaxPrimitives * primitiveStride),
		Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("sdfprimitive: create storage buffer: %w", err)
	}
	r.storage = storage

	bg, err := r.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "sdfprimitive_bind_group", Layout: r.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: r.uniform.NativeHandle(), Size: uniformSize}},
			{Binding: 1, Resource: gputypes.BufferBinding{Buffer: r.storage.NativeHandle(), Size: uint64(MaxPrimitives * primitiveStride)}},
		},
	})
	if err != nil {
		return fmt.Errorf("sdfprimitive: create bind group: %w", err)
	}
	r.bindGroup = bg

	return nil
}

// Render implements widget.PassRenderer.
func (r *Renderer) Render(pass any, ctx any, on bool) {
	if !on {
		r.Dispose()
		return
	}
	rp, ok := pass.(hal.RenderPassEncoder)
	if !ok {
		return
	}
	if err := r.ensureResources(); err != nil {
		logging.Get().Warn("sdfprimitive: render setup failed", "error", err)
		return
	}

	r.queue.WriteBuffer(r.storage, 0, encodePrimitives(r.doc.Primitives))

	x, y, w, h := r.widget.PixelRect(1, 1)
	screenW, screenH := screenSize(ctx)
	r.queue.WriteBuffer(r.uniform, 0, uniformBytes(float32(x), float32(y), float32(w), float32(h), screenW, screenH, uint32(len(r.doc.Primitives))))

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

func uniformBytes(x, y, w, h, screenW, screenH float32, count uint32) []byte {
	out := make([]byte, uniformSize)
	putF32(out, 0, x)
	putF32(out, 4, y)
	putF32(out, 8, w)
	putF32(out, 12, h)
	putF32(out, 16, screenW)
	putF32(out, 20, screenH)
	putU32(out, 24, count)
	return out
}

// encodePrimitives packs each Primitive into primitiveStride bytes: 16
// floats of Params (15 used, last is padding), fill, stroke, then
// {strokeWidth, round, rotate, type-as-float}.
func encodePrimitives(prims []Primitive) []byte {
	out := make([]byte, MaxPrimitives*primitiveStride)
	for i, p := range prims {
		base := i * primitiveStride
		for j := 0; j < 15; j++ {
			putF32(out, base+j*4, p.Params[j])
		}
		o := base + 64
		for j := 0; j < 4; j++ {
			putF32(out, o+j*4, p.Style.Fill[j])
		}
		o += 16
		for j := 0; j < 4; j++ {
			putF32(out, o+j*4, p.Style.Stroke[j])
		}
		o += 16
		putF32(out, o, p.Style.StrokeWidth)
		putF32(out, o+4, p.Style.Round)
		putF32(out, o+8, p.Style.Rotate)
		putF32(out, o+12, float32(p.Type))
	}
	return out
}

func putF32(out []byte, off int, v float32) {
	bits := math.Float32bits(v)
	out[off], out[off+1], out[off+2], out[off+3] = byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)
}

func putU32(out []byte, off int, v uint32) {
	out[off], out[off+1], out[off+2], out[off+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
}
