package stage

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"github.com/designanalyzer/api/internal/model"
)

const (
	mockPageWidth  = 800
	mockPageHeight = 600
)

// mockBlock is one painted region of the synthetic page. Its text stripe is
// drawn in the middle third of the box.
type mockBlock struct {
	element model.Element
	fill    color.RGBA
	text    color.RGBA
}

var white = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// mockPage is the synthetic landing page used when no capture service is
// configured. It carries a few deliberate problems so every rule has work to do.
var mockPage = []mockBlock{
	{
		element: model.Element{ID: "el-1", Kind: model.ElementText, Label: "Build faster", Box: model.Box{X: 40, Y: 40, Width: 520, Height: 60}, Confidence: 0.97},
		fill:    white,
		text:    color.RGBA{R: 0x22, G: 0x22, B: 0x22, A: 255},
	},
	{
		element: model.Element{ID: "el-2", Kind: model.ElementText, Label: "Ship your product in days, not months", Box: model.Box{X: 40, Y: 120, Width: 480, Height: 30}, Confidence: 0.93},
		fill:    white,
		text:    color.RGBA{R: 0xa0, G: 0xa0, B: 0xa0, A: 255},
	},
	{
		element: model.Element{ID: "el-3", Kind: model.ElementButton, Label: "Get started", Box: model.Box{X: 40, Y: 200, Width: 160, Height: 48}, Confidence: 0.95},
		fill:    color.RGBA{R: 0x1d, G: 0x4e, B: 0xd8, A: 255},
		text:    white,
	},
	{
		element: model.Element{ID: "el-4", Kind: model.ElementButton, Label: "Pricing", Box: model.Box{X: 220, Y: 208, Width: 110, Height: 32}, Confidence: 0.91},
		fill:    color.RGBA{R: 0x16, G: 0xa3, B: 0x4a, A: 255},
		text:    white,
	},
	{
		element: model.Element{ID: "el-5", Kind: model.ElementImage, Box: model.Box{X: 600, Y: 40, Width: 160, Height: 160}, Confidence: 0.88},
		fill:    color.RGBA{R: 0xe5, G: 0xe7, B: 0xeb, A: 255},
		text:    color.RGBA{R: 0x6b, G: 0x72, B: 0x80, A: 255},
	},
	{
		element: model.Element{ID: "el-6", Kind: model.ElementLink, Label: "Docs", Box: model.Box{X: 40, Y: 280, Width: 60, Height: 28}, Confidence: 0.86},
		fill:    white,
		text:    color.RGBA{R: 0x1d, G: 0x4e, B: 0xd8, A: 255},
	},
}

// Capture screenshots the page, or renders the synthetic page when no capture
// service is configured
func (a *Adapters) Capture(ctx context.Context, input string) (*model.Screenshot, error) {
	if configured(a.capturer) {
		return a.capturer.Capture(ctx, input)
	}

	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	data, err := renderMockPage()
	if err != nil {
		return nil, fmt.Errorf("failed to render mock page: %w", err)
	}

	return &model.Screenshot{
		PageURL:    input,
		Image:      data,
		Width:      mockPageWidth,
		Height:     mockPageHeight,
		CapturedAt: a.now().UTC(),
	}, nil
}

func renderMockPage() ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, mockPageWidth, mockPageHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: white}, image.Point{}, draw.Src)

	for _, b := range mockPage {
		box := b.element.Box
		rect := image.Rect(box.X, box.Y, box.X+box.Width, box.Y+box.Height)
		draw.Draw(img, rect, &image.Uniform{C: b.fill}, image.Point{}, draw.Src)

		stripe := image.Rect(
			box.X+box.Width/6, box.Y+box.Height/3,
			box.X+box.Width*5/6, box.Y+box.Height*2/3,
		)
		draw.Draw(img, stripe, &image.Uniform{C: b.text}, image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func mockElements() []model.Element {
	elements := make([]model.Element, len(mockPage))
	for i, b := range mockPage {
		elements[i] = b.element
	}
	return elements
}
