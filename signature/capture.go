// Package signature turns freehand signing input into normalized, immutable
// PNG artifacts. It holds no state; callers run it synchronously before
// submitting a sign request.
package signature

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"
)

// ErrEmptyInput is returned when no drawable content was provided.
var ErrEmptyInput = errors.New("signature: no strokes drawn")

// Canvas dimensions match the capture surface the clients draw on.
const (
	CanvasWidth  = 600
	CanvasHeight = 200
)

// penRadius is the half-width of the drawn line in pixels.
const penRadius = 1

// trimPadding keeps a small margin around the content bounding box.
const trimPadding = 4

// Point is a single sampled pen position in canvas coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Stroke is one continuous pen-down movement.
type Stroke []Point

// Capture rasterizes the strokes onto a fixed canvas, trims the result to
// its content bounding box, and encodes it as PNG. Returns ErrEmptyInput if
// nothing would be drawn.
func Capture(strokes []Stroke) ([]byte, error) {
	drawn := false
	for _, s := range strokes {
		if len(s) > 0 {
			drawn = true
			break
		}
	}
	if !drawn {
		return nil, ErrEmptyInput
	}

	img := image.NewNRGBA(image.Rect(0, 0, CanvasWidth, CanvasHeight))
	ink := color.NRGBA{A: 255}

	for _, stroke := range strokes {
		if len(stroke) == 1 {
			plot(img, stroke[0], ink)
			continue
		}
		for i := 1; i < len(stroke); i++ {
			line(img, stroke[i-1], stroke[i], ink)
		}
	}

	trimmed, err := trim(img)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("signature: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Normalize re-encodes an uploaded signature image trimmed to its content
// bounding box, so stored artifacts look the same regardless of whether the
// client sent strokes or a pre-rendered file. Returns ErrEmptyInput for a
// blank image.
func Normalize(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("signature: decode image: %w", err)
	}

	b := src.Bounds()
	img := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(img, img.Bounds(), src, b.Min, draw.Src)

	trimmed, err := trim(img)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, trimmed); err != nil {
		return nil, fmt.Errorf("signature: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func line(img *image.NRGBA, from, to Point, ink color.NRGBA) {
	dx := to.X - from.X
	dy := to.Y - from.Y
	steps := int(math.Max(math.Abs(dx), math.Abs(dy))) + 1
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		plot(img, Point{X: from.X + dx*t, Y: from.Y + dy*t}, ink)
	}
}

func plot(img *image.NRGBA, p Point, ink color.NRGBA) {
	cx := int(math.Round(p.X))
	cy := int(math.Round(p.Y))
	for y := cy - penRadius; y <= cy+penRadius; y++ {
		for x := cx - penRadius; x <= cx+penRadius; x++ {
			if (image.Point{X: x, Y: y}).In(img.Bounds()) {
				img.SetNRGBA(x, y, ink)
			}
		}
	}
}

// trim crops the image to the bounding box of its visible ink plus a small
// padding. Pixels count as ink when they are neither transparent nor white.
func trim(img *image.NRGBA) (image.Image, error) {
	b := img.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1

	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if !isInk(img.NRGBAAt(x, y)) {
				continue
			}
			if x < minX {
				minX = x
			}
			if x > maxX {
				maxX = x
			}
			if y < minY {
				minY = y
			}
			if y > maxY {
				maxY = y
			}
		}
	}

	if maxX < minX || maxY < minY {
		return nil, ErrEmptyInput
	}

	crop := image.Rect(minX-trimPadding, minY-trimPadding, maxX+1+trimPadding, maxY+1+trimPadding).Intersect(b)
	return img.SubImage(crop), nil
}

func isInk(c color.NRGBA) bool {
	if c.A == 0 {
		return false
	}
	// Treat near-white as background for scanned or pre-rendered uploads.
	return !(c.R > 245 && c.G > 245 && c.B > 245)
}
