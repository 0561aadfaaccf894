// Package vector implements the Vector widget renderer: an external
// SVG/Lottie compositor renders into an owned off-pass texture, composited
// onto the widget rect with a textured-quad blit, per spec.md §4.G
// "Vector (Thorvg/Lottie)".
package vector

import (
	_ "embed"
	"errors"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/yetty/core/logging"
	"github.com/yetty/core/widget"
)

//go:embed shaders/composite.wgsl
var compositeShaderSource string

// VectorEngine abstracts the external vector-graphics library (ThorVG, per
// spec.md §1 "external collaborators") that actually parses and rasterizes
// SVG/Lottie content. The shape here only covers what this package's
// composite step needs from it; a real build wires in a cgo binding that
// implements this interface, injected via NewWithEngine.
type VectorEngine interface {
	// Load parses data as either "image/svg+xml" or "application/json"
	// (Lottie) content, replacing any previously loaded content.
	Load(data []byte, mimeType string) error
	// IsAnimated reports whether the loaded content has more than one frame.
	IsAnimated() bool
	TotalFrames() float32
	Duration() float32
	// SetFrame seeks to the given frame index before the next Render.
	SetFrame(frame float32)
	// Render rasterizes the current frame into a width*height*4 RGBA8
	// buffer sized exactly width*height*4 bytes.
	Render(width, height uint32) ([]byte, error)
}

// Errors returned by Renderer.
var (
	ErrNoEngine      = errors.New("vector: Renderer requires a non-nil VectorEngine")
	ErrNoContent     = errors.New("vector: Init requires non-empty content bytes")
	ErrDeviceMissing = errors.New("vector: FactoryContext.Device did not assert to hal.Device")
)

const uniformSize = 32

// Renderer implements widget.Renderer and widget.PassRenderer for the
// Vector widget type.
type Renderer struct {
	device hal.Device
	queue  hal.Queue
	widget *widget.Widget
	engine VectorEngine

	failed       bool
	contentDirty bool
	playing      bool
	loop         bool
	currentFrame float32
	totalFrames  float32
	duration     float32

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline
	sampler    hal.Sampler
	tex        hal.Texture
	texView    hal.TextureView
	uniform    hal.Buffer
	bindGroup  hal.BindGroup
	texWidth   uint32
	texHeight  uint32
}

// NewWithEngine creates a Renderer bound to w, using engine to rasterize
// loaded content.
func NewWithEngine(device hal.Device, queue hal.Queue, w *widget.Widget, engine VectorEngine) (*Renderer, error) {
	if engine == nil {
		return nil, ErrNoEngine
	}
	return &Renderer{device: device, queue: queue, widget: w, engine: engine, playing: true, loop: true}, nil
}

// NewFromContext builds a Renderer from a plugin.FactoryContext-shaped
// device/queue pair, type-asserting them down to hal.Device/hal.Queue.
func NewFromContext(device, queue any, w *widget.Widget, engine VectorEngine) (*Renderer, error) {
	d, ok := device.(hal.Device)
	if !ok {
		return nil, ErrDeviceMissing
	}
	q, ok := queue.(hal.Queue)
	if !ok {
		return nil, ErrDeviceMissing
	}
	return NewWithEngine(d, q, w, engine)
}

// sniffMimeType classifies payload as SVG, Lottie JSON, or a YAML document
// to be converted to SVG first, mirroring the original's loadContent/
// yamlToSvg split.
func sniffMimeType(payload []byte) string {
	trimmed := strings.TrimSpace(string(payload))
	switch {
	case strings.HasPrefix(trimmed, "<?xml"), strings.HasPrefix(trimmed, "<svg"):
		return "image/svg+xml"
	case strings.HasPrefix(trimmed, "{"):
		return "application/json"
	default:
		return "application/x-yaml"
	}
}

// Init loads payload, converting a simple YAML shape document to SVG first
// when no XML/JSON markup is detected, per spec.md §4.G "simple
// YAML-to-SVG".
func (r *Renderer) Init(payload []byte) error {
	if len(payload) == 0 {
		return ErrNoContent
	}

	content := payload
	mime := sniffMimeType(payload)
	if mime == "application/x-yaml" {
		svg, err := yamlToSVG(payload)
		if err != nil {
			r.failed = true
			return fmt.Errorf("vector: yaml to svg: %w", err)
		}
		content = []byte(svg)
		mime = "image/svg+xml"
	}

	if err := r.engine.Load(content, mime); err != nil {
		r.failed = true
		logging.Get().Warn("vector: engine load failed", "error", err)
		return fmt.Errorf("vector: load: %w", err)
	}

	r.failed = false
	r.contentDirty = true
	r.currentFrame = 0
	r.totalFrames = r.engine.TotalFrames()
	r.duration = r.engine.Duration()
	return nil
}

func (r *Renderer) Dispose() {
	if r.bindGroup != nil {
		r.device.DestroyBindGroup(r.bindGroup)
		r.bindGroup = nil
	}
	if r.texView != nil {
		r.device.DestroyTextureView(r.texView)
		r.texView = nil
	}
	if r.tex != nil {
		r.device.DestroyTexture(r.tex)
		r.tex = nil
		r.texWidth, r.texHeight = 0, 0
	}
	if r.uniform != nil {
		r.device.DestroyBuffer(r.uniform)
		r.uniform = nil
	}
	if r.sampler != nil {
		r.device.DestroySampler(r.sampler)
		r.sampler = nil
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

// Update advances the animation clock when playing, looping or clamping to
// the last frame at the end depending on the loop flag.
func (r *Renderer) Update(dt float64) {
	if !r.playing || r.totalFrames <= 1 || r.duration <= 0 {
		return
	}
	fps := r.totalFrames / r.duration
	r.currentFrame += float32(dt) * fps
	if r.currentFrame >= r.totalFrames {
		if r.loop {
			r.currentFrame = float32(math.Mod(float64(r.currentFrame), float64(r.totalFrames)))
		} else {
			r.currentFrame = r.totalFrames - 1
			r.playing = false
		}
	}
	r.engine.SetFrame(r.currentFrame)
	r.contentDirty = true
}

// SetPlaying controls animation playback.
func (r *Renderer) SetPlaying(playing bool) { r.playing = playing }

// SetLoop controls whether playback wraps at the end.
func (r *Renderer) SetLoop(loop bool) { r.loop = loop }

func (r *Renderer) ensureResources() error {
	if r.pipeline != nil {
		return nil
	}
	shader, err := r.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: "vector_shader", Source: hal.ShaderSource{WGSL: compositeShaderSource},
	})
	if err != nil {
		return fmt.Errorf("vector: compile shader: %w", err)
	}
	r.shader = shader

	bindLayout, err := r.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "vector_bind_layout",
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
		return fmt.Errorf("vector: create bind group layout: %w", err)
	}
	r.bindLayout = bindLayout

	pipeLayout, err := r.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "vector_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		return fmt.Errorf("vector: create pipeline layout: %w", err)
	}
	r.pipeLayout = pipeLayout

	sampler, err := r.device.CreateSampler(&hal.SamplerDescriptor{
		Label: "vector_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge, AddressModeV: gputypes.AddressModeClampToEdge,
		MagFilter: gputypes.FilterModeLinear, MinFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		return fmt.Errorf("vector: create sampler: %w", err)
	}
	r.sampler = sampler

	premulBlend := gputypes.BlendStatePremultiplied()
	pipeline, err := r.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label: "vector_pipeline", Layout: r.pipeLayout,
		Vertex: hal.VertexState{Module: r.shader, EntryPoint: "vs_main"},
		Fragment: &hal.FragmentState{
			Module: r.shader, EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{Format: gputypes.TextureFormatBGRA8Unorm, Blend: &premulBlend, WriteMask: gputypes.ColorWriteMaskAll}},
		},
		Primitive:   gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleList, CullMode: gputypes.CullModeNone},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return fmt.Errorf("vector: create pipeline: %w", err)
	}
	r.pipeline = pipeline

	uniform, err := r.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "vector_uniforms", Size: uniformSize, Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("vector: create uniform buffer: %w", err)
	}
	r.uniform = uniform
	return nil
}

func (r *Renderer) ensureTexture(width, height uint32) error {
	if r.tex != nil && r.texWidth == width && r.texHeight == height {
		return nil
	}
	if r.texView != nil {
		r.device.DestroyTextureView(r.texView)
		r.texView = nil
	}
	if r.tex != nil {
		r.device.DestroyTexture(r.tex)
		r.tex = nil
	}
	tex, err := r.device.CreateTexture(&hal.TextureDescriptor{
		Label: "vector_texture", Size: hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1},
		MipLevelCount: 1, SampleCount: 1, Dimension: gputypes.TextureDimension2D,
		Format: gputypes.TextureFormatRGBA8Unorm, Usage: gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("vector: create texture: %w", err)
	}
	r.tex = tex
	r.texWidth, r.texHeight = width, height

	view, err := r.device.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: "vector_texture_view"})
	if err != nil {
		return fmt.Errorf("vector: create texture view: %w", err)
	}
	r.texView = view

	if r.bindGroup != nil {
		r.device.DestroyBindGroup(r.bindGroup)
		r.bindGroup = nil
	}
	return nil
}

func (r *Renderer) ensureBindGroup() error {
	if r.bindGroup != nil {
		return nil
	}
	bg, err := r.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "vector_bind_group", Layout: r.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: r.uniform.NativeHandle(), Size: uniformSize}},
			{Binding: 1, Resource: r.texView},
			{Binding: 2, Resource: r.sampler},
		},
	})
	if err != nil {
		return fmt.Errorf("vector: create bind group: %w", err)
	}
	r.bindGroup = bg
	return nil
}

// Render implements widget.PassRenderer. on == false tears down the
// off-pass texture and composite pipeline, per spec.md §4.D; a sticky
// engine-load failure skips rendering entirely.
func (r *Renderer) Render(pass any, ctx any, on bool) {
	if !on {
		if r.tex != nil {
			r.contentDirty = true
		}
		r.Dispose()
		return
	}
	if r.failed {
		return
	}
	rp, ok := pass.(hal.RenderPassEncoder)
	if !ok {
		return
	}

	x, y, w, h := r.widget.PixelRect(1, 1)
	if w <= 0 || h <= 0 {
		return
	}
	width, height := uint32(w), uint32(h)

	if err := r.ensureResources(); err != nil {
		logging.Get().Warn("vector: render setup failed", "error", err)
		return
	}
	if err := r.ensureTexture(width, height); err != nil {
		logging.Get().Warn("vector: texture setup failed", "error", err)
		return
	}

	if r.contentDirty {
		pixels, err := r.engine.Render(width, height)
		if err != nil {
			logging.Get().Warn("vector: engine render failed", "error", err)
			return
		}
		r.queue.WriteTexture(&hal.ImageCopyTexture{Texture: r.tex}, pixels,
			&hal.ImageDataLayout{BytesPerRow: width * 4, RowsPerImage: height},
			&hal.Extent3D{Width: width, Height: height, DepthOrArrayLayers: 1})
		r.contentDirty = false
	}

	if err := r.ensureBindGroup(); err != nil {
		logging.Get().Warn("vector: bind group setup failed", "error", err)
		return
	}

	screenW, screenH := screenSize(ctx)
	uniformBytes := rectUniformBytes(float32(x), float32(y), float32(w), float32(h), screenW, screenH)
	r.queue.WriteBuffer(r.uniform, 0, uniformBytes)

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

// yamlDoc is a minimal YAML-to-SVG input shape: a list of simple shapes,
// mirroring the original's "simple YAML-to-SVG" convenience path.
type yamlDoc struct {
	Width  int         `yaml:"width"`
	Height int         `yaml:"height"`
	Shapes []yamlShape `yaml:"shapes"`
}

type yamlShape struct {
	Type string  `yaml:"type"`
	X    float64 `yaml:"x"`
	Y    float64 `yaml:"y"`
	W    float64 `yaml:"w"`
	H    float64 `yaml:"h"`
	R    float64 `yaml:"r"`
	Fill string  `yaml:"fill"`
}

// ErrUnknownShape is returned by yamlToSVG for a shape type outside
// {rect, circle}.
var ErrUnknownShape = errors.New("vector: unknown yaml shape type")

func yamlToSVG(payload []byte) (string, error) {
	var doc yamlDoc
	if err := yaml.Unmarshal(payload, &doc); err != nil {
		return "", fmt.Errorf("parse: %w", err)
	}
	if doc.Width == 0 {
		doc.Width = 256
	}
	if doc.Height == 0 {
		doc.Height = 256
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		doc.Width, doc.Height, doc.Width, doc.Height)
	for _, s := range doc.Shapes {
		fill := s.Fill
		if fill == "" {
			fill = "black"
		}
		switch s.Type {
		case "rect":
			fmt.Fprintf(&b, `<rect x="%v" y="%v" width="%v" height="%v" fill="%s"/>`, s.X, s.Y, s.W, s.H, fill)
		case "circle":
			fmt.Fprintf(&b, `<circle cx="%v" cy="%v" r="%v" fill="%s"/>`, s.X, s.Y, s.R, fill)
		default:
			return "", fmt.Errorf("%w: %q", ErrUnknownShape, s.Type)
		}
	}
	b.WriteString(`</svg>`)
	return b.String(), nil
}
