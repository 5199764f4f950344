package signature

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func TestCapture_RendersStrokesToPNG(t *testing.T) {
	strokes := []Stroke{
		{{X: 10, Y: 10}, {X: 60, Y: 40}, {X: 120, Y: 15}},
		{{X: 40, Y: 80}, {X: 90, Y: 80}},
	}

	data, err := Capture(strokes)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not valid PNG: %v", err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		t.Fatal("decoded image is empty")
	}
	if b.Dx() > CanvasWidth || b.Dy() > CanvasHeight {
		t.Fatalf("trimmed image larger than canvas: %dx%d", b.Dx(), b.Dy())
	}

	// The trimmed box must still be big enough to cover the strokes.
	if b.Dx() < 100 {
		t.Fatalf("expected width covering strokes, got %d", b.Dx())
	}
}

func TestCapture_SinglePointStroke(t *testing.T) {
	data, err := Capture([]Stroke{{{X: 300, Y: 100}}})
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("output is not valid PNG: %v", err)
	}
}

func TestCapture_EmptyInput(t *testing.T) {
	cases := [][]Stroke{
		nil,
		{},
		{{}, {}},
	}
	for _, strokes := range cases {
		if _, err := Capture(strokes); !errors.Is(err, ErrEmptyInput) {
			t.Fatalf("expected ErrEmptyInput for %v, got %v", strokes, err)
		}
	}
}

func TestCapture_OutOfBoundsPointsClamped(t *testing.T) {
	// Points outside the canvas must not panic; in-bounds segments still draw.
	strokes := []Stroke{{{X: -50, Y: -50}, {X: 20, Y: 20}}}
	data, err := Capture(strokes)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected PNG bytes")
	}
}

func TestNormalize_TrimsUploadedImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 400, 300))
	white := color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	for y := 0; y < 300; y++ {
		for x := 0; x < 400; x++ {
			src.SetNRGBA(x, y, white)
		}
	}
	black := color.NRGBA{A: 255}
	for x := 100; x <= 180; x++ {
		src.SetNRGBA(x, 150, black)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	out, err := Normalize(buf.Bytes())
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("output is not valid PNG: %v", err)
	}
	b := img.Bounds()
	if b.Dx() >= 400 || b.Dy() >= 300 {
		t.Fatalf("expected trimmed image, got %dx%d", b.Dx(), b.Dy())
	}
	if b.Dx() < 81 {
		t.Fatalf("trim cut into the drawn line: width %d", b.Dx())
	}
}

func TestNormalize_BlankImage(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 100, 50))
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}

	if _, err := Normalize(buf.Bytes()); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestNormalize_RejectsGarbage(t *testing.T) {
	if _, err := Normalize([]byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}
