package export

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"whiteboard/pkg/types"
)

const (
	pageMargin   = 10.0 // mm
	minLineWidth = 0.1  // mm
)

type rgb struct{ r, g, b int }

var (
	black = rgb{0, 0, 0}
	white = rgb{255, 255, 255}
)

// RenderPDF draws the visible strokes of a room onto one landscape A4 page.
// Canvas coordinates are scaled uniformly to fit inside the page margins.
func RenderPDF(w io.Writer, ops []types.StrokeOperation) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetTitle("Whiteboard export", true)
	pdf.AddPage()
	pdf.SetLineCapStyle("round")
	pdf.SetLineJoinStyle("round")

	pageW, pageH := pdf.GetPageSize()
	fit := fitTransform(ops, pageW, pageH)

	for i := range ops {
		op := &ops[i]
		if op.Deleted || len(op.Points) == 0 {
			continue
		}

		c := parseColor(op.Color)
		if op.Tool == types.ToolEraser {
			c = white
		}
		width := math.Max(op.Size*fit.scale, minLineWidth)

		if len(op.Points) == 1 {
			// FUNCTIONAL DISCOVERY: A tap leaves a single point, drawn as a dot
			// the width of the brush
			x, y := fit.apply(op.Points[0])
			pdf.SetFillColor(c.r, c.g, c.b)
			pdf.Circle(x, y, width/2, "F")
			continue
		}

		pdf.SetDrawColor(c.r, c.g, c.b)
		pdf.SetLineWidth(width)
		for j := 1; j < len(op.Points); j++ {
			x1, y1 := fit.apply(op.Points[j-1])
			x2, y2 := fit.apply(op.Points[j])
			pdf.Line(x1, y1, x2, y2)
		}
	}

	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("failed to render pdf: %w", err)
	}
	return nil
}

// transform maps canvas coordinates onto the page
type transform struct {
	scale            float64
	offsetX, offsetY float64
	minX, minY       float64
}

func (t transform) apply(p types.Point) (float64, float64) {
	return t.offsetX + (p.X-t.minX)*t.scale, t.offsetY + (p.Y-t.minY)*t.scale
}

// fitTransform finds the bounding box of the visible strokes, padded by half
// their brush size, and centers it on the page preserving aspect ratio
func fitTransform(ops []types.StrokeOperation, pageW, pageH float64) transform {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, op := range ops {
		if op.Deleted {
			continue
		}
		pad := op.Size / 2
		for _, p := range op.Points {
			minX = math.Min(minX, p.X-pad)
			minY = math.Min(minY, p.Y-pad)
			maxX = math.Max(maxX, p.X+pad)
			maxY = math.Max(maxY, p.Y+pad)
		}
	}

	availW := pageW - 2*pageMargin
	availH := pageH - 2*pageMargin
	if math.IsInf(minX, 1) {
		return transform{scale: 1, offsetX: pageMargin, offsetY: pageMargin}
	}

	boxW, boxH := maxX-minX, maxY-minY
	scale := 1.0
	if boxW > 0 && boxH > 0 {
		scale = math.Min(availW/boxW, availH/boxH)
	} else if boxW > 0 {
		scale = availW / boxW
	} else if boxH > 0 {
		scale = availH / boxH
	}

	return transform{
		scale:   scale,
		offsetX: pageMargin + (availW-boxW*scale)/2,
		offsetY: pageMargin + (availH-boxH*scale)/2,
		minX:    minX,
		minY:    minY,
	}
}

// parseColor accepts #rgb, #rgba, #rrggbb and #rrggbbaa. Alpha is ignored and
// anything else falls back to black.
func parseColor(s string) rgb {
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == len(s) {
		return black
	}

	switch len(hex) {
	case 3, 4:
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	case 6, 8:
		hex = hex[:6]
	default:
		return black
	}

	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return black
	}
	return rgb{int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)}
}
