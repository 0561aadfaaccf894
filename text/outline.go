package text

import (
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

// OutlinePoint is a point in a glyph outline, in font units scaled by
// size/unitsPerEm.
type OutlinePoint struct {
	X, Y float32
}

// OutlineSegment is one segment of a glyph outline's path.
type OutlineSegment struct {
	// Op is the segment's operation type.
	Op OutlineOp

	// Points holds the control and end points for this segment:
	//   - MoveTo, LineTo: Points[0] is the target point
	//   - QuadTo: Points[0] is control, Points[1] is target
	//   - CubicTo: Points[0], Points[1] are controls, Points[2] is target
	Points [3]OutlinePoint
}

// OutlineOp is the type of path operation a segment performs.
type OutlineOp uint8

const (
	// OutlineOpMoveTo moves to a new point without drawing.
	OutlineOpMoveTo OutlineOp = iota

	// OutlineOpLineTo draws a line to the target point.
	OutlineOpLineTo

	// OutlineOpQuadTo draws a quadratic bezier curve.
	OutlineOpQuadTo

	// OutlineOpCubicTo draws a cubic bezier curve.
	OutlineOpCubicTo
)

func (op OutlineOp) String() string {
	switch op {
	case OutlineOpMoveTo:
		return "MoveTo"
	case OutlineOpLineTo:
		return "LineTo"
	case OutlineOpQuadTo:
		return "QuadTo"
	case OutlineOpCubicTo:
		return "CubicTo"
	default:
		return "Unknown"
	}
}

// GlyphOutline is the vector outline of a glyph: one or more path
// segments plus the metrics a rasterizer needs alongside them.
type GlyphOutline struct {
	// Segments is the list of path segments that make up the outline.
	Segments []OutlineSegment

	// Bounds is the outline's bounding box in font units.
	Bounds Rect

	// Advance is the glyph's horizontal advance width.
	Advance float32

	// LSB is the left side bearing.
	LSB float32

	// GID is the glyph ID this outline was extracted for.
	GID GlyphID

	// Type indicates how this glyph's imagery is encoded.
	Type GlyphType
}

// IsEmpty reports whether the outline has no segments (e.g. a space).
func (o *GlyphOutline) IsEmpty() bool {
	return len(o.Segments) == 0
}

// SegmentCount returns the number of segments in the outline.
func (o *GlyphOutline) SegmentCount() int {
	return len(o.Segments)
}

// OutlineExtractor extracts glyph outlines from a ParsedFont, reusing
// an internal sfnt buffer across calls.
type OutlineExtractor struct {
	buffer sfnt.Buffer
}

// NewOutlineExtractor creates a new outline extractor.
func NewOutlineExtractor() *OutlineExtractor {
	return &OutlineExtractor{}
}

// ExtractOutline extracts the outline for a glyph at the given size
// (ppem, pixels per em). Returns an empty, non-nil outline if the
// glyph has no visible path (e.g. space).
func (e *OutlineExtractor) ExtractOutline(font ParsedFont, gid GlyphID, size float64) (*GlyphOutline, error) {
	xiFont, ok := font.(*ximageParsedFont)
	if !ok {
		return nil, ErrUnsupportedFontType
	}

	return e.extractFromSFNT(xiFont.font, gid, size)
}

func (e *OutlineExtractor) extractFromSFNT(font *sfntFont, gid GlyphID, size float64) (*GlyphOutline, error) {
	ppem := fixed.Int26_6(size * 64)

	segments, err := font.LoadGlyph(&e.buffer, sfnt.GlyphIndex(gid), ppem, nil)
	if err != nil {
		return nil, err
	}

	if len(segments) == 0 {
		advance := getGlyphAdvance(font, &e.buffer, gid, size)
		return &GlyphOutline{
			GID:     gid,
			Type:    GlyphTypeOutline,
			Advance: float32(advance),
		}, nil
	}

	outline := &GlyphOutline{
		Segments: make([]OutlineSegment, 0, len(segments)),
		GID:      gid,
		Type:     GlyphTypeOutline,
	}

	minX, minY := float64(1e10), float64(1e10)
	maxX, maxY := float64(-1e10), float64(-1e10)

	for _, seg := range segments {
		outSeg := OutlineSegment{}

		switch seg.Op {
		case sfnt.SegmentOpMoveTo:
			outSeg.Op = OutlineOpMoveTo
			outSeg.Points[0] = fixedPointToOutline(seg.Args[0])
			updateBounds(outSeg.Points[0], &minX, &minY, &maxX, &maxY)

		case sfnt.SegmentOpLineTo:
			outSeg.Op = OutlineOpLineTo
			outSeg.Points[0] = fixedPointToOutline(seg.Args[0])
			updateBounds(outSeg.Points[0], &minX, &minY, &maxX, &maxY)

		case sfnt.SegmentOpQuadTo:
			outSeg.Op = OutlineOpQuadTo
			outSeg.Points[0] = fixedPointToOutline(seg.Args[0])
			outSeg.Points[1] = fixedPointToOutline(seg.Args[1])
			updateBounds(outSeg.Points[0], &minX, &minY, &maxX, &maxY)
			updateBounds(outSeg.Points[1], &minX, &minY, &maxX, &maxY)

		case sfnt.SegmentOpCubeTo:
			outSeg.Op = OutlineOpCubicTo
			outSeg.Points[0] = fixedPointToOutline(seg.Args[0])
			outSeg.Points[1] = fixedPointToOutline(seg.Args[1])
			outSeg.Points[2] = fixedPointToOutline(seg.Args[2])
			updateBounds(outSeg.Points[0], &minX, &minY, &maxX, &maxY)
			updateBounds(outSeg.Points[1], &minX, &minY, &maxX, &maxY)
			updateBounds(outSeg.Points[2], &minX, &minY, &maxX, &maxY)
		}

		outline.Segments = append(outline.Segments, outSeg)
	}

	if len(outline.Segments) > 0 {
		outline.Bounds = Rect{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
	}

	outline.Advance = float32(getGlyphAdvance(font, &e.buffer, gid, size))

	return outline, nil
}

func fixedPointToOutline(p fixed.Point26_6) OutlinePoint {
	return OutlinePoint{X: float32(p.X) / 64.0, Y: float32(p.Y) / 64.0}
}

func updateBounds(p OutlinePoint, minX, minY, maxX, maxY *float64) {
	if float64(p.X) < *minX {
		*minX = float64(p.X)
	}
	if float64(p.Y) < *minY {
		*minY = float64(p.Y)
	}
	if float64(p.X) > *maxX {
		*maxX = float64(p.X)
	}
	if float64(p.Y) > *maxY {
		*maxY = float64(p.Y)
	}
}

// getGlyphAdvance returns the advance width for a glyph, unhinted
// (hinting is meaningless once the outline feeds an MSDF rasterizer
// rather than a pixel grid).
func getGlyphAdvance(font *sfntFont, buf *sfnt.Buffer, gid GlyphID, size float64) float64 {
	ppem := fixed.Int26_6(size * 64)
	advance, err := font.GlyphAdvance(buf, sfnt.GlyphIndex(gid), ppem, 0)
	if err != nil {
		return 0
	}
	return float64(advance) / 64.0
}

// sfntFont is a type alias kept so callers don't need to import
// golang.org/x/image/font/sfnt directly.
type sfntFont = sfnt.Font

// ErrUnsupportedFontType is returned when ExtractOutline is given a
// ParsedFont backed by a parser other than the default ximage one.
var ErrUnsupportedFontType = &FontError{Reason: "unsupported font type for outline extraction"}

// FontError reports a font-related failure.
type FontError struct {
	Reason string
}

func (e *FontError) Error() string {
	return "text: " + e.Reason
}
