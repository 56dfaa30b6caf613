// Package overlay renders detection results: iris connector canvases laid
// over images and video frames, and the blend-shape score panels.
package overlay

import (
	"image"
	"io"
	"math"

	"github.com/fogleman/gg"
	"github.com/google/uuid"

	"github.com/ayusman/iriscope/internal/detector"
)

// Connector colors.
const (
	RightIrisColor = "#FF3030"
	LeftIrisColor  = "#30FF30"
)

// DefaultLineWidth matches the MediaPipe drawing utilities.
const DefaultLineWidth = 4.0

// ScaledHeight returns the height that keeps a width x height source's aspect
// ratio at displayWidth, rounded to the nearest pixel. It is 0 for an
// unknown source size.
func ScaledHeight(displayWidth, width, height int) int {
	if width <= 0 {
		return 0
	}
	return int(math.Round(float64(displayWidth) * float64(height) / float64(width)))
}

// Style is the on-page placement of a canvas, in CSS pixels.
type Style struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Canvas is a transparent drawing surface at native pixel resolution,
// displayed at Style's size on the page.
type Canvas struct {
	ID     string
	Width  int
	Height int
	Style  Style

	dc *gg.Context
}

// NewCanvas creates a transparent canvas of width x height pixels.
func NewCanvas(width, height int, style Style) *Canvas {
	return &Canvas{
		ID:     uuid.NewString(),
		Width:  width,
		Height: height,
		Style:  style,
		dc:     gg.NewContext(width, height),
	}
}

// DrawConnectors strokes each connection between two landmarks. Points are
// normalized, so they are scaled to the canvas size. Connections that index
// past the landmark set are skipped.
func (c *Canvas) DrawConnectors(face detector.FaceLandmarks, conns []detector.Connection, hexColor string) {
	w := float64(c.Width)
	h := float64(c.Height)

	c.dc.SetHexColor(hexColor)
	c.dc.SetLineWidth(DefaultLineWidth)

	for _, conn := range conns {
		if conn.Start >= len(face) || conn.End >= len(face) {
			continue
		}
		from := face[conn.Start]
		to := face[conn.End]
		c.dc.DrawLine(from.X*w, from.Y*h, to.X*w, to.Y*h)
		c.dc.Stroke()
	}
}

// DrawIrises draws the right iris then the left iris of a face.
func (c *Canvas) DrawIrises(face detector.FaceLandmarks) {
	c.DrawConnectors(face, detector.RightIrisConnections, RightIrisColor)
	c.DrawConnectors(face, detector.LeftIrisConnections, LeftIrisColor)
}

// Image returns the canvas pixels.
func (c *Canvas) Image() image.Image {
	return c.dc.Image()
}

// EncodePNG writes the canvas as a PNG with transparency.
func (c *Canvas) EncodePNG(w io.Writer) error {
	return c.dc.EncodePNG(w)
}

// Compose draws the canvas over a frame, scaling it to the frame size.
func Compose(frame image.Image, c *Canvas) image.Image {
	dc := gg.NewContextForImage(frame)
	if c == nil {
		return dc.Image()
	}

	b := frame.Bounds()
	if b.Dx() != c.Width || b.Dy() != c.Height {
		dc.Scale(float64(b.Dx())/float64(c.Width), float64(b.Dy())/float64(c.Height))
	}
	dc.DrawImage(c.Image(), 0, 0)
	return dc.Image()
}
