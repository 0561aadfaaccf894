package grid

import (
	_ "embed"
	"errors"
	"fmt"
	"math"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/yetty/core/msdf"
)

//go:embed shaders/grid.wgsl
var gridShaderSource string

// Errors returned by Renderer.
var (
	ErrNoShaderSource  = errors.New("grid: shader source is empty")
	ErrPipelineClosed  = errors.New("grid: renderer is closed")
	ErrNilFont         = errors.New("grid: font is nil")
)

// uniformSize matches GridUniforms in shaders/grid.wgsl: projection
// (mat4x4<f32>, 64 bytes) + screen/cell/grid size and cursor fields
// (4 × vec2, 32 bytes) + pixelRange/dpiScale/cursorVisible/_pad
// (16 bytes) = 112 bytes.
const uniformSize = 112

// Uniforms is the per-frame uniform block contents, per spec.md §4.C:
// "orthographic projection, screen size, cell size, grid size, MSDF pixel
// range, DPI scale, cursor position, cursor visibility".
type Uniforms struct {
	Projection                     [16]float32
	ScreenWidth, ScreenHeight      float32
	CellWidth, CellHeight          float32
	Cols, Rows                     uint32
	CursorCol, CursorRow           uint32
	PixelRange                     float32
	DPIScale                       float32
	CursorVisible                  uint32
	_pad                           uint32
}

func (u Uniforms) bytes() []byte {
	out := make([]byte, uniformSize)
	off := 0
	putF32s := func(vs ...float32) {
		for _, v := range vs {
			b := math.Float32bits(v)
			out[off], out[off+1], out[off+2], out[off+3] = byte(b), byte(b>>8), byte(b>>16), byte(b>>24)
			off += 4
		}
	}
	putU32 := func(v uint32) {
		out[off], out[off+1], out[off+2], out[off+3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
		off += 4
	}
	putF32s(u.Projection[:]...)
	putF32s(u.ScreenWidth, u.ScreenHeight, u.CellWidth, u.CellHeight)
	putU32(u.Cols)
	putU32(u.Rows)
	putU32(u.CursorCol)
	putU32(u.CursorRow)
	putF32s(u.PixelRange, u.DPIScale)
	putU32(u.CursorVisible)
	putU32(0)
	return out
}

// textureSet holds the four cell textures and their views, recreated
// whenever the grid's dimensions change.
type textureSet struct {
	glyphTex, fgTex, bgTex, attrsTex             hal.Texture
	glyphView, fgView, bgView, attrsView         hal.TextureView
	cols, rows                                   int
}

// Renderer owns the GPU resources for the cell-grid text pipeline: the
// render pipeline, cell textures, atlas bind group, and per-frame uniform
// buffer. Grounded on internal/gpu/text_pipeline.go's MSDFTextPipeline
// lifecycle (lazy pipeline creation, bind-group-per-resource-version
// invalidation, embedded WGSL via go:embed).
type Renderer struct {
	device hal.Device
	queue  hal.Queue

	shader        hal.ShaderModule
	bindLayout    hal.BindGroupLayout
	pipeLayout    hal.PipelineLayout
	pipeline      hal.RenderPipeline
	atlasSampler  hal.Sampler
	emojiSampler  hal.Sampler

	cells textureSet

	uniformBuf hal.Buffer
	metaBuf    hal.Buffer
	bindGroup  hal.BindGroup

	atlasView hal.TextureView
	emojiView hal.TextureView

	fontVersion  uint64
	metaCapacity int

	closed bool
}

// NewRenderer creates a Renderer against device/queue. The render pipeline
// itself is created lazily on the first Render call.
func NewRenderer(device hal.Device, queue hal.Queue) *Renderer {
	return &Renderer{device: device, queue: queue}
}

// Close releases every GPU resource the renderer owns. Idempotent.
func (r *Renderer) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.destroyCellTextures()
	if r.bindGroup != nil {
		r.device.DestroyBindGroup(r.bindGroup)
	}
	if r.uniformBuf != nil {
		r.device.DestroyBuffer(r.uniformBuf)
	}
	if r.metaBuf != nil {
		r.device.DestroyBuffer(r.metaBuf)
	}
	if r.atlasSampler != nil {
		r.device.DestroySampler(r.atlasSampler)
	}
	if r.emojiSampler != nil {
		r.device.DestroySampler(r.emojiSampler)
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

func (r *Renderer) ensurePipeline() error {
	if r.pipeline != nil {
		return nil
	}
	if gridShaderSource == "" {
		return ErrNoShaderSource
	}

	shader, err := r.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "grid_shader",
		Source: hal.ShaderSource{WGSL: gridShaderSource},
	})
	if err != nil {
		return fmt.Errorf("grid: compile shader: %w", err)
	}
	r.shader = shader

	bindLayout, err := r.device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label: "grid_bind_layout",
		Entries: []gputypes.BindGroupLayoutEntry{
			{Binding: 0, Visibility: gputypes.ShaderStageVertex | gputypes.ShaderStageFragment,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform}},
			{Binding: 1, Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{SampleType: gputypes.TextureSampleTypeUint, ViewDimension: gputypes.TextureViewDimension2D}},
			{Binding: 2, Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{SampleType: gputypes.TextureSampleTypeFloat, ViewDimension: gputypes.TextureViewDimension2D}},
			{Binding: 3, Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{SampleType: gputypes.TextureSampleTypeFloat, ViewDimension: gputypes.TextureViewDimension2D}},
			{Binding: 4, Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{SampleType: gputypes.TextureSampleTypeUint, ViewDimension: gputypes.TextureViewDimension2D}},
			{Binding: 5, Visibility: gputypes.ShaderStageFragment,
				Buffer: &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeReadOnlyStorage}},
			{Binding: 6, Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{SampleType: gputypes.TextureSampleTypeFloat, ViewDimension: gputypes.TextureViewDimension2D}},
			{Binding: 7, Visibility: gputypes.ShaderStageFragment,
				Sampler: &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}},
			{Binding: 8, Visibility: gputypes.ShaderStageFragment,
				Texture: &gputypes.TextureBindingLayout{SampleType: gputypes.TextureSampleTypeFloat, ViewDimension: gputypes.TextureViewDimension2D}},
			{Binding: 9, Visibility: gputypes.ShaderStageFragment,
				Sampler: &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering}},
		},
	})
	if err != nil {
		return fmt.Errorf("grid: create bind group layout: %w", err)
	}
	r.bindLayout = bindLayout

	pipeLayout, err := r.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label: "grid_pipe_layout", BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		return fmt.Errorf("grid: create pipeline layout: %w", err)
	}
	r.pipeLayout = pipeLayout

	atlasSampler, err := r.device.CreateSampler(&hal.SamplerDescriptor{
		Label: "grid_atlas_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge, AddressModeV: gputypes.AddressModeClampToEdge,
		MagFilter: gputypes.FilterModeLinear, MinFilter: gputypes.FilterModeLinear, MipmapFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		return fmt.Errorf("grid: create atlas sampler: %w", err)
	}
	r.atlasSampler = atlasSampler

	emojiSampler, err := r.device.CreateSampler(&hal.SamplerDescriptor{
		Label: "grid_emoji_sampler",
		AddressModeU: gputypes.AddressModeClampToEdge, AddressModeV: gputypes.AddressModeClampToEdge,
		MagFilter: gputypes.FilterModeLinear, MinFilter: gputypes.FilterModeLinear, MipmapFilter: gputypes.FilterModeNearest,
	})
	if err != nil {
		return fmt.Errorf("grid: create emoji sampler: %w", err)
	}
	r.emojiSampler = emojiSampler

	premulBlend := gputypes.BlendStatePremultiplied()
	pipeline, err := r.device.CreateRenderPipeline(&hal.RenderPipelineDescriptor{
		Label:  "grid_pipeline",
		Layout: r.pipeLayout,
		Vertex: hal.VertexState{Module: r.shader, EntryPoint: "vs_main"},
		Fragment: &hal.FragmentState{
			Module: r.shader, EntryPoint: "fs_main",
			Targets: []gputypes.ColorTargetState{{Format: gputypes.TextureFormatBGRA8Unorm, Blend: &premulBlend, WriteMask: gputypes.ColorWriteMaskAll}},
		},
		Primitive:   gputypes.PrimitiveState{Topology: gputypes.PrimitiveTopologyTriangleList, CullMode: gputypes.CullModeNone},
		Multisample: gputypes.MultisampleState{Count: 1, Mask: 0xFFFFFFFF},
	})
	if err != nil {
		return fmt.Errorf("grid: create pipeline: %w", err)
	}
	r.pipeline = pipeline

	uniformBuf, err := r.device.CreateBuffer(&hal.BufferDescriptor{
		Label: "grid_uniforms", Size: uniformSize, Usage: gputypes.BufferUsageUniform | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("grid: create uniform buffer: %w", err)
	}
	r.uniformBuf = uniformBuf

	return nil
}

func (r *Renderer) destroyCellTextures() {
	for _, v := range []hal.TextureView{r.cells.glyphView, r.cells.fgView, r.cells.bgView, r.cells.attrsView} {
		if v != nil {
			r.device.DestroyTextureView(v)
		}
	}
	for _, t := range []hal.Texture{r.cells.glyphTex, r.cells.fgTex, r.cells.bgTex, r.cells.attrsTex} {
		if t != nil {
			r.device.DestroyTexture(t)
		}
	}
	r.cells = textureSet{}
}

// ensureCellTextures (re)creates the four cell textures if the grid's
// dimensions changed, per spec.md §4.C "texture recreation when grid
// dimensions change". Returns true if textures were (re)created, which
// forces a bind-group rebuild.
func (r *Renderer) ensureCellTextures(g *Grid) (bool, error) {
	if r.cells.cols == g.Cols() && r.cells.rows == g.Rows() && r.cells.glyphTex != nil {
		return false, nil
	}
	r.destroyCellTextures()

	cols, rows := uint32(g.Cols()), uint32(g.Rows())
	size := hal.Extent3D{Width: cols, Height: rows, DepthOrArrayLayers: 1}

	mk := func(label string, format gputypes.TextureFormat) (hal.Texture, hal.TextureView, error) {
		tex, err := r.device.CreateTexture(&hal.TextureDescriptor{
			Label: label, Size: size, MipLevelCount: 1, SampleCount: 1,
			Dimension: gputypes.TextureDimension2D, Format: format,
			Usage: gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
		})
		if err != nil {
			return nil, nil, err
		}
		view, err := r.device.CreateTextureView(tex, &hal.TextureViewDescriptor{Label: label + "_view"})
		if err != nil {
			return nil, nil, err
		}
		return tex, view, nil
	}

	var err error
	if r.cells.glyphTex, r.cells.glyphView, err = mk("grid_cell_glyph", gputypes.TextureFormatR16Uint); err != nil {
		return false, fmt.Errorf("grid: create glyph texture: %w", err)
	}
	if r.cells.fgTex, r.cells.fgView, err = mk("grid_cell_fg", gputypes.TextureFormatRGBA8Unorm); err != nil {
		return false, fmt.Errorf("grid: create fg texture: %w", err)
	}
	if r.cells.bgTex, r.cells.bgView, err = mk("grid_cell_bg", gputypes.TextureFormatRGBA8Unorm); err != nil {
		return false, fmt.Errorf("grid: create bg texture: %w", err)
	}
	if r.cells.attrsTex, r.cells.attrsView, err = mk("grid_cell_attrs", gputypes.TextureFormatR8Uint); err != nil {
		return false, fmt.Errorf("grid: create attrs texture: %w", err)
	}
	r.cells.cols, r.cells.rows = g.Cols(), g.Rows()
	return true, nil
}

// Upload pushes damaged cell data to the GPU, per spec.md §4.C's update
// policy: Full re-uploads all four textures; a rect set copies only the
// dirty subregions with bytesPerRow = width·bytesPerTexel.
func (r *Renderer) Upload(g *Grid, damage Damage) error {
	if r.closed {
		return ErrPipelineClosed
	}
	recreated, err := r.ensureCellTextures(g)
	if err != nil {
		return err
	}
	if recreated {
		damage = Damage{Kind: DamageFull}
	}

	switch damage.Kind {
	case DamageNone:
		return nil
	case DamageFull:
		r.writeFull(g)
	case DamageRects:
		for _, rect := range damage.Rects {
			r.writeRect(g, rect)
		}
	}
	return nil
}

func (r *Renderer) writeFull(g *Grid) {
	cols, rows := uint32(g.Cols()), uint32(g.Rows())
	extent := &hal.Extent3D{Width: cols, Height: rows, DepthOrArrayLayers: 1}
	r.queue.WriteTexture(&hal.ImageCopyTexture{Texture: r.cells.glyphTex}, g.GlyphBytes(),
		&hal.ImageDataLayout{BytesPerRow: cols * 2, RowsPerImage: rows}, extent)
	r.queue.WriteTexture(&hal.ImageCopyTexture{Texture: r.cells.fgTex}, g.FgBytes(),
		&hal.ImageDataLayout{BytesPerRow: cols * 4, RowsPerImage: rows}, extent)
	r.queue.WriteTexture(&hal.ImageCopyTexture{Texture: r.cells.bgTex}, g.BgBytes(),
		&hal.ImageDataLayout{BytesPerRow: cols * 4, RowsPerImage: rows}, extent)
	r.queue.WriteTexture(&hal.ImageCopyTexture{Texture: r.cells.attrsTex}, g.AttrsBytes(),
		&hal.ImageDataLayout{BytesPerRow: cols, RowsPerImage: rows}, extent)
}

func (r *Renderer) writeRect(g *Grid, rect Rect) {
	w, h := uint32(rect.W), uint32(rect.H)
	origin := hal.Origin3D{X: uint32(rect.X), Y: uint32(rect.Y)}
	extent := &hal.Extent3D{Width: w, Height: h, DepthOrArrayLayers: 1}

	r.queue.WriteTexture(&hal.ImageCopyTexture{Texture: r.cells.glyphTex, Origin: origin}, g.SubregionGlyph(rect),
		&hal.ImageDataLayout{BytesPerRow: w * 2, RowsPerImage: h}, extent)
	r.queue.WriteTexture(&hal.ImageCopyTexture{Texture: r.cells.fgTex, Origin: origin}, g.SubregionFg(rect),
		&hal.ImageDataLayout{BytesPerRow: w * 4, RowsPerImage: h}, extent)
	r.queue.WriteTexture(&hal.ImageCopyTexture{Texture: r.cells.bgTex, Origin: origin}, g.SubregionBg(rect),
		&hal.ImageDataLayout{BytesPerRow: w * 4, RowsPerImage: h}, extent)
	r.queue.WriteTexture(&hal.ImageCopyTexture{Texture: r.cells.attrsTex, Origin: origin}, g.SubregionAttrs(rect),
		&hal.ImageDataLayout{BytesPerRow: w, RowsPerImage: h}, extent)
}

// ensureBindGroup (re)builds the bind group when the cell textures were
// just recreated or the font's resource version changed, per spec.md §4.C:
// "bind group recreation when textures or the font's resource version
// changes" (and per the Open Question decision recorded in DESIGN.md:
// damage alone, without one of those two triggers, never forces a rebuild).
func (r *Renderer) ensureBindGroup(font *msdf.Font, emojiView hal.TextureView, texturesChanged bool) error {
	if font == nil {
		return ErrNilFont
	}
	version := font.ResourceVersion()
	if r.bindGroup != nil && !texturesChanged && version == r.fontVersion && r.atlasView != nil {
		return nil
	}

	atlasData, atlasW, atlasH := font.Bitmap()
	atlasTex, err := r.device.CreateTexture(&hal.TextureDescriptor{
		Label: "grid_msdf_atlas", Size: hal.Extent3D{Width: uint32(atlasW), Height: uint32(atlasH), DepthOrArrayLayers: 1},
		MipLevelCount: 1, SampleCount: 1, Dimension: gputypes.TextureDimension2D,
		Format: gputypes.TextureFormatRGBA8Unorm, Usage: gputypes.TextureUsageTextureBinding | gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("grid: create atlas texture: %w", err)
	}
	atlasView, err := r.device.CreateTextureView(atlasTex, &hal.TextureViewDescriptor{Label: "grid_msdf_atlas_view"})
	if err != nil {
		return fmt.Errorf("grid: create atlas texture view: %w", err)
	}
	r.queue.WriteTexture(&hal.ImageCopyTexture{Texture: atlasTex}, atlasData,
		&hal.ImageDataLayout{BytesPerRow: uint32(atlasW) * 4, RowsPerImage: uint32(atlasH)},
		&hal.Extent3D{Width: uint32(atlasW), Height: uint32(atlasH), DepthOrArrayLayers: 1})
	r.atlasView = atlasView
	font.MarkUploaded()

	meta := font.MetadataTable()
	metaBytes := encodeMetadataTable(meta)
	if r.metaBuf == nil || r.metaCapacity < len(metaBytes) {
		if r.metaBuf != nil {
			r.device.DestroyBuffer(r.metaBuf)
		}
		metaBuf, err := r.device.CreateBuffer(&hal.BufferDescriptor{
			Label: "grid_glyph_metadata", Size: uint64(len(metaBytes)),
			Usage: gputypes.BufferUsageStorage | gputypes.BufferUsageCopyDst,
		})
		if err != nil {
			return fmt.Errorf("grid: create metadata buffer: %w", err)
		}
		r.metaBuf = metaBuf
		r.metaCapacity = len(metaBytes)
	}
	r.queue.WriteBuffer(r.metaBuf, 0, metaBytes)

	if r.bindGroup != nil {
		r.device.DestroyBindGroup(r.bindGroup)
	}
	bg, err := r.device.CreateBindGroup(&hal.BindGroupDescriptor{
		Label: "grid_bind_group", Layout: r.bindLayout,
		Entries: []gputypes.BindGroupEntry{
			{Binding: 0, Resource: gputypes.BufferBinding{Buffer: r.uniformBuf.NativeHandle(), Size: uniformSize}},
			{Binding: 1, Resource: r.cells.glyphView},
			{Binding: 2, Resource: r.cells.fgView},
			{Binding: 3, Resource: r.cells.bgView},
			{Binding: 4, Resource: r.cells.attrsView},
			{Binding: 5, Resource: gputypes.BufferBinding{Buffer: r.metaBuf.NativeHandle(), Size: uint64(len(metaBytes))}},
			{Binding: 6, Resource: r.atlasView},
			{Binding: 7, Resource: r.atlasSampler},
			{Binding: 8, Resource: emojiView},
			{Binding: 9, Resource: r.emojiSampler},
		},
	})
	if err != nil {
		return fmt.Errorf("grid: create bind group: %w", err)
	}
	r.bindGroup = bg
	r.fontVersion = version
	return nil
}

// Render uploads any pending damage, rebuilds GPU-side resources as
// needed, and records a single full-screen-triangle draw call into pass,
// per spec.md §4.C's "one draw call per frame, full-screen triangle pair".
func (r *Renderer) Render(pass hal.RenderPassEncoder, g *Grid, font *msdf.Font, emojiView hal.TextureView, u Uniforms) error {
	if r.closed {
		return ErrPipelineClosed
	}
	if err := r.ensurePipeline(); err != nil {
		return err
	}

	damage := g.TakeDamage()
	texturesChanged := r.cells.cols != g.Cols() || r.cells.rows != g.Rows() || r.cells.glyphTex == nil
	if err := r.Upload(g, damage); err != nil {
		return err
	}
	if err := r.ensureBindGroup(font, emojiView, texturesChanged); err != nil {
		return err
	}

	r.queue.WriteBuffer(r.uniformBuf, 0, u.bytes())

	pass.SetPipeline(r.pipeline)
	pass.SetBindGroup(0, r.bindGroup, nil)
	pass.Draw(3, 1, 0, 0)
	return nil
}

// encodeMetadataTable packs a glyph metadata table into the flat
// byte layout the fragment shader's storage buffer expects: each entry is
// uvMin(vec2) + uvMax(vec2) + size(vec2) + bearing(vec2) + advance(f32) +
// pad(f32) = 40 bytes, rounded to 16-byte alignment (48 bytes/entry).
func encodeMetadataTable(meta []msdf.GlyphMetrics) []byte {
	const stride = 48
	out := make([]byte, len(meta)*stride)
	for i, m := range meta {
		off := i * stride
		vals := []float32{m.UVMin[0], m.UVMin[1], m.UVMax[0], m.UVMax[1], m.BitmapSize[0], m.BitmapSize[1], m.Bearing[0], m.Bearing[1], m.Advance}
		for j, v := range vals {
			bits := math.Float32bits(v)
			o := off + j*4
			out[o], out[o+1], out[o+2], out[o+3] = byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)
		}
	}
	return out
}
