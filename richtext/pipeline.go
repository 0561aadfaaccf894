package richtext

import (
	_ "embed"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/yetty/core/msdf"
)

//go:embed shaders/richtext.wgsl
var richtextShaderSource string

//go:embed shaders/bgquad.wgsl
var bgquadShaderSource string

// Errors returned by Renderer.
var (
	ErrNoShaderSource = errors.New("richtext: shader source is empty")
	ErrPipelineClosed = errors.New("richtext: renderer is closed")
	ErrNilFont        = errors.New("richtext: batch font is nil")
)

// uniformSize matches Uniforms in shaders/richtext.wgsl: rect (vec4, 16) +
// screen_size (vec2, 8) + scroll_offset (f32, 4) + pixel_range (f32, 4).
const uniformSize = 32

// bgUniformSize matches BgUniforms in shaders/bgquad.wgsl: rect (vec4, 16) +
// screen_size (vec2, 8, padded to 16) + color (vec4, 16).
const bgUniformSize = 48

const instanceStride = 48 // pos+size+uv_min+uv_max (4×vec2) + color (vec4)

// FrameParams describes the per-frame placement this pipeline draws into,
// per spec.md §4.H "Render": rect is the widget's pixel rectangle, screenW/H
// is the full render-target size, scrollOffset shifts glyph Y, pixelRange is
// the font's MSDF distance range.
type FrameParams struct {
	RectX, RectY, RectW, RectH float32
	ScreenW, ScreenH           float32
	ScrollOffset               float32
	PixelRange                 float32
	Background                 [4]byte // alpha 0 skips the background fill
}

// fontBatchState is the cached GPU state for one Font's glyph batch, rebuilt
// when the font's resourceVersion changes or the instance count outgrows the
// current buffer.
type fontBatchState struct {
	atlasTex     hal.Texture
	atlasView    hal.TextureView
	atlasVersion uint64
	instBuf      hal.Buffer
	instCap      int
	bindGroup    hal.BindGroup
}

// Renderer owns the GPU resources for the shared RichText glyph-instance
// pipeline: one render pipeline, one bind group layout, and a per-font
// cache of atlas textures/instance buffers/bind groups. Grounded on package
// grid's pipeline.go lifecycle (lazy pipeline creation, bind-group-per-
// resource-version invalidation, embedded WGSL).
type Renderer struct {
	device hal.Device
	queue  hal.Queue

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline
	sampler    hal.Sampler
	uniform    hal.Buffer

	bgShader     hal.ShaderModule
	bgBindLayout hal.BindGroupLayout
	bgPipeLayout hal.PipelineLayout
	bgPipeline   hal.RenderPipeline
	bgUniform    hal.Buffer
	bgBindGroup  hal.BindGroup

	fonts map[*msdf.Font]*fontBatchState

	closed bool
}

// NewRenderer creates a Renderer against device/queue. GPU resources are
// created lazily on the first Render call.
func NewRenderer(device hal.Device, queue hal.Queue) *Renderer {
	return &Renderer{device: device, queue: queue, fonts: make(map[*msdf.Font]*fontBatchState)}
}

// Close releases every GPU resource the renderer owns, including all
// per-font cached state. Idempotent.
func (r *Renderer) Close() {
	if r.closed {
		return
	}
	r.closed = true
	for font, st := range r.fonts {
		r.destroyFontBatch(st)
		delete(r.fonts, font)
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
	if r.bgBindGroup != nil {
		r.device.DestroyBindGroup(r.bgBindGroup)
	}
	if r.bgUniform != nil {
		r.device.DestroyBuffer(r.bgUniform)
	}
	if r.bgPipeline != nil {
		r.device.DestroyRenderPipeline(r.bgPipeline)
	}
	if r.bgPipeLayout != nil {
		r.device.DestroyPipelineLayout(r.bgPipeLayout)
	}
	if r.bgBindLayout != nil {
		r.device.DestroyBindGroupLayout(r.bgBindLayout)
	}
	if r.bgShader != nil {
		r.device.DestroyShaderModule(r.bgShader)
	}
}

func (r *Renderer) destroyFontBatch(st *fontBatchState) {
	if st.bindGroup != nil {
		r.device.DestroyBindGroup(st.bindGroup)
	}
	if st.instBuf != nil {
		r.device.DestroyBuffer(st.instBuf)
	}
	if st.atlasView != nil {
		r.device.DestroyTextureView(st.atlasView)
	}
	if st.atlasTex != nil {
		r.device.DestroyTexture(st.atlasTex)
	}
}

func (r *Renderer) ensurePipeline() error {
	if r.pipeline != nil {
		return nil
	}
	if richtextShaderSource == "" || bgquadShaderSource == "" {
		return ErrNoShaderSource
	}

	shader, err := r.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: "richtext_shader", Source: hal.ShaderSource{WGSL: richtextShaderSource},
	})
	if err != nil {
		return fmt.Errorf("richtext: compile shader: %w", err)
	}
	r.shader = shader

	bindLayout, err := r.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "richtext_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{SampleType: gputypes.TextureSampleTypeFloat, ViewDimension: gputypes.TextureViewDimension2D}},
			{Binding: 2, Visibility: gputypes.ShaderStageFragment,
				Sampler: &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}},
			{Binding: 3, Visibility: gputypes.ShaderStageVertex,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("richtext: create bind group layout: %w", err)
	}
	r.bindLayout = bindLayout

	pipeLayout, err := r.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "richtext_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		return fmt.Errorf("richtext: create pipeline layout: %w", err)
	}
	r.pipeLayout = pipeLayout

	sampler, err := r.device.CreateSampler(&hal.SamplerDescriptor{
		Label: "richtext_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge, AddressModeV: gputypes.AddressModeClampToEdge,
		MagFilter: gputypes.FilterModeLinear, MinFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		return fmt.Errorf("richtext: create sampler: %w", err)
	}
	r.sampler = sampler

	premulBlend := gputypes.BlendStatePremultiplied()
	pipeline, err := r.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label: "richtext_pipeline", Layout: r.pipeLayout,
		Vertex: hal.VertexState{Module: r.shader, EntryPoint: "vs_main"},
		Fragment: &hal.FragmentState{
			Module: r.shader, EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{Format: gputypes.TextureFormatBGRA8Unorm, Blend: &premulBlend, WriteMask: gputypes.ColorWriteMaskAll}},
		},
		Primitive:   gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleList, CullMode: gputypes.CullModeNone},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return fmt.Errorf("richtext: create pipeline: %w", err)
	}
	r.pipeline = pipeline

	uniform, err := r.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "richtext_uniforms", Size: uniformSize, Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("richtext: create uniform buffer: %w", err)
	}
	r.uniform = uniform

	return r.ensureBgPipeline()
}

func (r *Renderer) ensureBgPipeline() error {
	bgShader, err := r.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: "richtext_bg_shader", Source: hal.ShaderSource{WGSL: bgquadShaderSource},
	})
	if err != nil {
		return fmt.Errorf("richtext: compile background shader: %w", err)
	}
	r.bgShader = bgShader

	bgBindLayout, err := r.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "richtext_bg_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
		},
	})
	if err != nil {
		return fmt.Errorf("richtext: create background bind group layout: %w", err)
	}
	r.bgBindLayout = bgBindLayout

	bgPipeLayout, err := r.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "richtext_bg_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{bgBindLayout},
	})
	if err != nil {
		return fmt.Errorf("richtext: create background pipeline layout: %w", err)
	}
	r.bgPipeLayout = bgPipeLayout

	straightBlend := gputypes.BlendStatePremultiplied()
	bgPipeline, err := r.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label: "richtext_bg_pipeline", Layout: r.bgPipeLayout,
		Vertex: hal.VertexState{Module: r.bgShader, EntryPoint: "vs_main"},
		Fragment: &hal.FragmentState{
			Module: r.bgShader, EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{Format: gputypes.TextureFormatBGRA8Unorm, Blend: &straightBlend, WriteMask: gputypes.ColorWriteMaskAll}},
		},
		Primitive:   gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleList, CullMode: gputypes.CullModeNone},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return fmt.Errorf("richtext: create background pipeline: %w", err)
	}
	r.bgPipeline = bgPipeline

	bgUniform, err := r.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "richtext_bg_uniforms", Size: bgUniformSize, Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("richtext: create background uniform buffer: %w", err)
	}
	r.bgUniform = bgUniform

	bg, err := r.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "richtext_bg_bind_group", Layout: r.bgBindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: r.bgUniform.NativeHandle(), Size: bgUniformSize}},
		},
	})
	if err != nil {
		return fmt.Errorf("richtext: create background bind group: %w", err)
	}
	r.bgBindGroup = bg
	return nil
}

// ensureFontBatch rebuilds a font's atlas texture (on resourceVersion
// change) and instance storage buffer (growing by doubling, per spec.md
// §4.H "Render") and uploads instances, (re)building the bind group only
// when one of the two changed.
func (r *Renderer) ensureFontBatch(font *msdf.Font, instances []GlyphInstance) (*fontBatchState, error) {
	if font == nil {
		return nil, ErrNilFont
	}
	st, ok := r.fonts[font]
	if !ok {
		st = &fontBatchState{}
		r.fonts[font] = st
	}

	atlasRebuilt := false
	if st.atlasTex == nil || st.atlasVersion != font.ResourceVersion() {
		if st.atlasView != nil {
			r.device.DestroyTextureView(st.atlasView)
		}
		if st.atlasTex != nil {
			r.device.DestroyTexture(st.atlasTex)
		}
		data, w, h := font.Bitmap()
		tex, err := r.device.CreateTexture(&hal.TextureDescriptor{
			Label: "richtext_atlas", Size: hal.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
			MipLevelCount: 1, SampleCount: 1, Dimension: gputypes.TextureDimension2D,
			Format: gputypes.TextureFormatRGBA8Unorm, Usage: gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		})
		if err != nil {
			return nil, fmt.Errorf("richtext: create atlas texture: %w", err)
		}
		st.atlasTex = tex
		view, err := r.device.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: "richtext_atlas_view"})
		if err != nil {
			return nil, fmt.Errorf("richtext: create atlas view: %w", err)
		}
		st.atlasView = view
		r.queue.WriteTexture(&hal.ImageCopyTexture{Texture: tex}, data,
			&hal.ImageDataLayout{BytesPerRow: uint32(w) * 4, RowsPerImage: uint32(h)},
			&hal.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1})
		st.atlasVersion = font.ResourceVersion()
		atlasRebuilt = true
	}

	instBytes := encodeInstances(instances)
	bufferGrown := false
	if st.instBuf == nil || st.instCap < len(instBytes) {
		if st.instBuf != nil {
			r.device.DestroyBuffer(st.instBuf)
		}
		newCap := st.instCap
		if newCap == 0 {
			newCap = len(instBytes)
		}
		for newCap < len(instBytes) {
			newCap *= 2
		}
		instBuf, err := r.device.CreateBuffer(&hal.BufferDescriptor{
			Label: "richtext_instances", Size: uint64(newCap),
			Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return nil, fmt.Errorf("richtext: create instance buffer: %w", err)
		}
		st.instBuf = instBuf
		st.instCap = newCap
		bufferGrown = true
	}
	if len(instBytes) > 0 {
		r.queue.WriteBuffer(st.instBuf, 0, instBytes)
	}

	if st.bindGroup == nil || atlasRebuilt || bufferGrown {
		if st.bindGroup != nil {
			r.device.DestroyBindGroup(st.bindGroup)
		}
		bg, err := r.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label: "richtext_bind_group", Layout: r.bindLayout,
			Entries: []gputypes.BindGroupEntry{
				{Binding: 0, Resource: gputypes.BufferBinding{Buffer: r.uniform.NativeHandle(), Size: uniformSize}},
				{Binding: 1, Resource: st.atlasView},
				{Binding: 2, Resource: r.sampler},
				{Binding: 3, Resource: gputypes.BufferBinding{Buffer: st.instBuf.NativeHandle(), Size: uint64(st.instCap)}},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("richtext: create bind group: %w", err)
		}
		st.bindGroup = bg
	}

	return st, nil
}

// Render draws every batch in result, scissored to p's widget rect, per
// spec.md §4.H "Render": one bind group per (Font, resourceVersion),
// growable instance storage, 6×N instanced draw per batch. A non-transparent
// Background is drawn first as a single-color quad.
func (r *Renderer) Render(pass hal.RenderPassEncoder, result LayoutResult, p FrameParams) error {
	if r.closed {
		return ErrPipelineClosed
	}
	if err := r.ensurePipeline(); err != nil {
		return err
	}

	sx, sy, sw, sh := clampRectToScreen(p.RectX, p.RectY, p.RectW, p.RectH, p.ScreenW, p.ScreenH)
	if sw == 0 || sh == 0 {
		return nil
	}
	pass.SetScissorRect(sx, sy, sw, sh)

	if p.Background[3] != 0 {
		r.queue.WriteBuffer(r.bgUniform, 0, bgUniformBytes(p))
		pass.SetPipeline(r.bgPipeline)
		pass.SetBindGroup(0, r.bgBindGroup, nil)
		pass.Draw(6, 1, 0, 0)
	}

	r.queue.WriteBuffer(r.uniform, 0, frameUniformBytes(p))

	for _, batch := range result.Batches {
		if len(batch.Instances) == 0 {
			continue
		}
		st, err := r.ensureFontBatch(batch.Font, batch.Instances)
		if err != nil {
			return err
		}
		pass.SetPipeline(r.pipeline)
		pass.SetBindGroup(0, st.bindGroup, nil)
		pass.Draw(6, uint32(len(batch.Instances)), 0, 0)
	}
	return nil
}

func clampRectToScreen(x, y, w, h, screenW, screenH float32) (uint32, uint32, uint32, uint32) {
	x0, y0 := x, y
	x1, y1 := x+w, y+h
	if x0 < 0 {
		x0 = 0
	}
	if y0 < 0 {
		y0 = 0
	}
	if x1 > screenW {
		x1 = screenW
	}
	if y1 > screenH {
		y1 = screenH
	}
	if x1 <= x0 || y1 <= y0 {
		return 0, 0, 0, 0
	}
	return uint32(x0), uint32(y0), uint32(x1 - x0), uint32(y1 - y0)
}

func frameUniformBytes(p FrameParams) []byte {
	out := make([]byte, uniformSize)
	putF32(out, 0, p.RectX)
	putF32(out, 4, p.RectY)
	putF32(out, 8, p.RectW)
	putF32(out, 12, p.RectH)
	putF32(out, 16, p.ScreenW)
	putF32(out, 20, p.ScreenH)
	putF32(out, 24, p.ScrollOffset)
	putF32(out, 28, p.PixelRange)
	return out
}

func bgUniformBytes(p FrameParams) []byte {
	out := make([]byte, bgUniformSize)
	putF32(out, 0, p.RectX)
	putF32(out, 4, p.RectY)
	putF32(out, 8, p.RectW)
	putF32(out, 12, p.RectH)
	putF32(out, 16, p.ScreenW)
	putF32(out, 20, p.ScreenH)
	putF32(out, 32, float32(p.Background[0])/255.0)
	putF32(out, 36, float32(p.Background[1])/255.0)
	putF32(out, 40, float32(p.Background[2])/255.0)
	putF32(out, 44, float32(p.Background[3])/255.0)
	return out
}

// encodeInstances packs GlyphInstance entries into the 48-byte stride
// shaders/richtext.wgsl's GlyphInstance struct expects: pos+size+uv_min+
// uv_max (four vec2 fields) then color (vec4), each instance fully
// self-contained.
func encodeInstances(instances []GlyphInstance) []byte {
	out := make([]byte, len(instances)*instanceStride)
	for i, inst := range instances {
		off := i * instanceStride
		putF32(out, off, inst.Pos[0])
		putF32(out, off+4, inst.Pos[1])
		putF32(out, off+8, inst.Size[0])
		putF32(out, off+12, inst.Size[1])
		putF32(out, off+16, inst.UVMin[0])
		putF32(out, off+20, inst.UVMin[1])
		putF32(out, off+24, inst.UVMax[0])
		putF32(out, off+28, inst.UVMax[1])
		putF32(out, off+32, float32(inst.Color[0])/255.0)
		putF32(out, off+36, float32(inst.Color[1])/255.0)
		putF32(out, off+40, float32(inst.Color[2])/255.0)
		putF32(out, off+44, float32(inst.Color[3])/255.0)
	}
	return out
}

func putF32(out []byte, off int, v float32) {
	bits := math.Float32bits(v)
	out[off], out[off+1], out[off+2], out[off+3] = byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)
}
