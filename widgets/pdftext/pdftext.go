// Package pdftext implements the PDF widget renderer: text content from a
// parsed PDF page is drawn with the MSDF pipeline, extracting per-font
// glyph sets on demand and drawing one instanced quad batch per font, each
// with its own atlas bind group, per spec.md §4.G "PDF".
package pdftext

import (
	_ "embed"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/yetty/core/logging"
	"github.com/yetty/core/msdf"
	"github.com/yetty/core/richtext"
	"github.com/yetty/core/widget"
)

//go:embed shaders/pdftext.wgsl
var pdfShaderSource string

// Image is an image extracted from a page, positioned in page-space
// coordinates.
type Image struct {
	X, Y, Width, Height float32
	Pixels              []byte
	PixelWidth          uint32
	PixelHeight         uint32
}

// Char is one text character extracted from a page.
type Char struct {
	Codepoint rune
	X, Y      float32
	Size      float32
	Color     [4]byte
	Style     msdf.Style
	Font      *msdf.Font
}

// Page is one page's parsed content: text characters (grouped by font at
// render time) plus any embedded images. Render draws only the
// characters; Images are not drawn by this package, and a Page carries no
// vector graphics.
type Page struct {
	Width, Height float32
	Chars         []Char
	Images        []Image
}

// Document abstracts the external PDF parsing library (MuPDF, per the
// original implementation) this package needs: page count and on-demand
// per-page content extraction. No Go binding for that library exists in
// this module, so a real build injects a concrete implementation via
// NewWithDocument.
type Document interface {
	PageCount() int
	Page(index int) (Page, error)
}

// Errors returned by Renderer.
var (
	ErrNoDocument    = errors.New("pdftext: Renderer requires a non-nil Document")
	ErrDeviceMissing = errors.New("pdftext: FactoryContext.Device did not assert to hal.Device")
)

const uniformSize = 16 // vec2 screen_size + f32 scroll_offset + f32 pixel_range

type fontState struct {
	atlasTex    hal.Texture
	atlasView   hal.TextureView
	atlasVersion uint64
	instBuf     hal.Buffer
	instCap     int
	bindGroup   hal.BindGroup
	instCount   int
}

// Renderer implements widget.Renderer and widget.PassRenderer for the PDF
// widget type.
type Renderer struct {
	device hal.Device
	queue  hal.Queue
	widget *widget.Widget
	doc    Document

	currentPage  int
	scrollOffset float32
	pixelRange   float32

	shader     hal.ShaderModule
	bindLayout hal.BindGroupLayout
	pipeLayout hal.PipelineLayout
	pipeline   hal.RenderPipeline
	sampler    hal.Sampler
	uniform    hal.Buffer

	fonts map[*msdf.Font]*fontState
}

// NewWithDocument creates a Renderer bound to w, rendering pages from doc.
func NewWithDocument(device hal.Device, queue hal.Queue, w *widget.Widget, doc Document) (*Renderer, error) {
	if doc == nil {
		return nil, ErrNoDocument
	}
	return &Renderer{
		device: device, queue: queue, widget: w, doc: doc,
		pixelRange: 4.0, fonts: make(map[*msdf.Font]*fontState),
	}, nil
}

// NewFromContext builds a Renderer from a plugin.FactoryContext-shaped
// device/queue pair, type-asserting them down to hal.Device/hal.Queue.
func NewFromContext(device, queue any, w *widget.Widget, doc Document) (*Renderer, error) {
	d, ok := device.(hal.Device)
	if !ok {
		return nil, ErrDeviceMissing
	}
	q, ok := queue.(hal.Queue)
	if !ok {
		return nil, ErrDeviceMissing
	}
	return NewWithDocument(d, q, w, doc)
}

// Init is a no-op: Document content is pulled on demand per page via
// SetPage/Render rather than supplied as an Init payload.
func (r *Renderer) Init(payload []byte) error { return nil }

// SetPage selects the page to render and resets scroll.
func (r *Renderer) SetPage(index int) {
	r.currentPage = index
	r.scrollOffset = 0
}

// AdjustScroll shifts the vertical scroll offset within the current page.
func (r *Renderer) AdjustScroll(delta float32) {
	r.scrollOffset += delta
	if r.scrollOffset < 0 {
		r.scrollOffset = 0
	}
}

func (r *Renderer) Dispose() {
	for font, st := range r.fonts {
		r.destroyFontState(st)
		delete(r.fonts, font)
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

func (r *Renderer) destroyFontState(st *fontState) {
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

// Update is a no-op: page content only changes on SetPage/scroll.
func (r *Renderer) Update(dt float64) {}

func (r *Renderer) ensureResources() error {
	if r.pipeline != nil {
		return nil
	}
	shader, err := r.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label: "pdftext_shader", Source: hal.ShaderSource{WGSL: pdfShaderSource},
	})
	if err != nil {
		return fmt.Errorf("pdftext: compile shader: %w", err)
	}
	r.shader = shader

	bindLayout, err := r.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "pdftext_bind_layout",
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
		return fmt.Errorf("pdftext: create bind group layout: %w", err)
	}
	r.bindLayout = bindLayout

	pipeLayout, err := r.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "pdftext_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		return fmt.Errorf("pdftext: create pipeline layout: %w", err)
	}
	r.pipeLayout = pipeLayout

	sampler, err := r.device.CreateSampler(&hal.SamplerDescriptor{
		Label: "pdftext_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge, AddressModeV: gputypes.AddressModeClampToEdge,
		MagFilter: gputypes.FilterModeLinear, MinFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		return fmt.Errorf("pdftext: create sampler: %w", err)
	}
	r.sampler = sampler

	premulBlend := gputypes.BlendStatePremultiplied()
	pipeline, err := r.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label: "pdftext_pipeline", Layout: r.pipeLayout,
		Vertex: hal.VertexState{Module: r.shader, EntryPoint: "vs_main"},
		Fragment: &hal.FragmentState{
			Module: r.shader, EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{Format: gputypes.TextureFormatBGRA8Unorm, Blend: &premulBlend, WriteMask: gputypes.ColorWriteMaskAll}},
		},
		Primitive:   gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleList, CullMode: gputypes.CullModeNone},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return fmt.Errorf("pdftext: create pipeline: %w", err)
	}
	r.pipeline = pipeline

	uniform, err := r.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "pdftext_uniforms", Size: uniformSize, Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("pdftext: create uniform buffer: %w", err)
	}
	r.uniform = uniform
	return nil
}

// groupByFont converts a page's characters into per-font instance lists,
// skipping glyphs whose bitmap is under one pixel in either dimension
// (including the zero-sized sentinel).
func groupByFont(chars []Char) map[*msdf.Font][]richtext.GlyphInstance {
	out := make(map[*msdf.Font][]richtext.GlyphInstance)
	for _, ch := range chars {
		if ch.Font == nil {
			continue
		}
		idx := ch.Font.GetGlyphIndex(ch.Codepoint, ch.Style)
		meta := ch.Font.MetadataTable()
		if int(idx) >= len(meta) {
			continue
		}
		m := meta[idx]
		if m.BitmapSize[0] < 1 || m.BitmapSize[1] < 1 {
			continue
		}
		out[ch.Font] = append(out[ch.Font], richtext.GlyphInstance{
			Pos: [2]float32{ch.X, ch.Y}, Size: m.BitmapSize,
			UVMin: m.UVMin, UVMax: m.UVMax, Color: ch.Color,
		})
	}
	return out
}

func (r *Renderer) ensureFontState(font *msdf.Font, instances []richtext.GlyphInstance) (*fontState, error) {
	st, ok := r.fonts[font]
	if !ok {
		st = &fontState{}
		r.fonts[font] = st
	}

	if st.atlasTex == nil || st.atlasVersion != font.ResourceVersion() {
		if st.atlasView != nil {
			r.device.DestroyTextureView(st.atlasView)
		}
		if st.atlasTex != nil {
			r.device.DestroyTexture(st.atlasTex)
		}
		data, w, h := font.Bitmap()
		tex, err := r.device.CreateTexture(&hal.TextureDescriptor{
			Label: "pdftext_atlas", Size: hal.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1},
			MipLevelCount: 1, SampleCount: 1, Dimension: gputypes.TextureDimension2D,
			Format: gputypes.TextureFormatRGBA8Unorm, Usage: gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		})
		if err != nil {
			return nil, fmt.Errorf("pdftext: create atlas texture: %w", err)
		}
		st.atlasTex = tex
		view, err := r.device.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: "pdftext_atlas_view"})
		if err != nil {
			return nil, fmt.Errorf("pdftext: create atlas view: %w", err)
		}
		st.atlasView = view
		r.queue.WriteTexture(&hal.ImageCopyTexture{Texture: tex}, data,
			&hal.ImageDataLayout{BytesPerRow: uint32(w) * 4, RowsPerImage: uint32(h)},
			&hal.Extent3D{Width: uint32(w), Height: uint32(h), DepthOrArrayLayers: 1})
		st.atlasVersion = font.ResourceVersion()

		if st.bindGroup != nil {
			r.device.DestroyBindGroup(st.bindGroup)
			st.bindGroup = nil
		}
	}

	instBytes := encodeInstances(instances)
	if st.instBuf == nil || st.instCap < len(instBytes) {
		if st.instBuf != nil {
			r.device.DestroyBuffer(st.instBuf)
		}
		instBuf, err := r.device.CreateBuffer(&hal.BufferDescriptor{
			Label: "pdftext_instances", Size: uint64(len(instBytes)),
			Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return nil, fmt.Errorf("pdftext: create instance buffer: %w", err)
		}
		st.instBuf = instBuf
		st.instCap = len(instBytes)
		if st.bindGroup != nil {
			r.device.DestroyBindGroup(st.bindGroup)
			st.bindGroup = nil
		}
	}
	r.queue.WriteBuffer(st.instBuf, 0, instBytes)
	st.instCount = len(instances)

	if st.bindGroup == nil {
		bg, err := r.device.CreateBindGroup(&hal.BindGroupDescriptor{
			Label: "pdftext_bind_group", Layout: r.bindLayout,
			Entries: []gputypes.BindGroupEntry{
				{Binding: 0, Resource: gputypes.BufferBinding{Buffer: r.uniform.NativeHandle(), Size: uniformSize}},
				{Binding: 1, Resource: st.atlasView},
				{Binding: 2, Resource: r.sampler},
				{Binding: 3, Resource: gputypes.BufferBinding{Buffer: st.instBuf.NativeHandle(), Size: uint64(st.instCap)}},
			},
		})
		if err != nil {
			return nil, fmt.Errorf("pdftext: create bind group: %w", err)
		}
		st.bindGroup = bg
	}

	return st, nil
}

// Render implements widget.PassRenderer. on == false tears down every
// per-font GPU resource, per spec.md §4.D.
func (r *Renderer) Render(pass any, ctx any, on bool) {
	if !on {
		r.Dispose()
		return
	}
	rp, ok := pass.(hal.RenderPassEncoder)
	if !ok {
		return
	}
	page, err := r.doc.Page(r.currentPage)
	if err != nil {
		logging.Get().Warn("pdftext: page extraction failed", "page", r.currentPage, "error", err)
		return
	}
	if err := r.ensureResources(); err != nil {
		logging.Get().Warn("pdftext: render setup failed", "error", err)
		return
	}

	screenW, screenH := screenSize(ctx)
	r.queue.WriteBuffer(r.uniform, 0, uniformBytes(screenW, screenH, r.scrollOffset, r.pixelRange))

	byFont := groupByFont(page.Chars)
	for font, instances := range byFont {
		if len(instances) == 0 {
			continue
		}
		st, err := r.ensureFontState(font, instances)
		if err != nil {
			logging.Get().Warn("pdftext: font state setup failed", "error", err)
			continue
		}
		rp.SetPipeline(r.pipeline)
		rp.SetBindGroup(0, st.bindGroup, nil)
		rp.Draw(6, uint32(st.instCount), 0, 0)
	}
}

func screenSize(ctx any) (float32, float32) {
	type sizer interface{ ScreenSize() (uint32, uint32) }
	if s, ok := ctx.(sizer); ok {
		w, h := s.ScreenSize()
		return float32(w), float32(h)
	}
	return 1, 1
}

func uniformBytes(screenW, screenH, scrollOffset, pixelRange float32) []byte {
	out := make([]byte, uniformSize)
	vals := []float32{screenW, screenH, scrollOffset, pixelRange}
	for i, v := range vals {
		bits := math.Float32bits(v)
		o := i * 4
		out[o], out[o+1], out[o+2], out[o+3] = byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)
	}
	return out
}

// encodeInstances packs GlyphInstance entries into the 48-byte stride
// shaders/pdftext.wgsl's GlyphInstance struct expects: pos+size+uv_min+
// uv_max+color, each instance fully self-contained rather than indexing
// a separate glyph metadata table, matching the original PDFGlyphInstance
// layout where UV and size are baked in at construction time.
func encodeInstances(instances []richtext.GlyphInstance) []byte {
	const stride = 48
	out := make([]byte, len(instances)*stride)
	for i, inst := range instances {
		off := i * stride
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
