package stage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"

	"github.com/designanalyzer/api/internal/model"
)

// maxSamples caps how many pixels are read per element
const maxSamples = 10000

// ExtractColors samples each element's box on the screenshot. The background is
// the average of the box's border; the foreground is the average of the pixels
// that stand out most from it.
func (a *Adapters) ExtractColors(ctx context.Context, shot *model.Screenshot, elements []model.Element) ([]model.EnrichedElement, error) {
	if len(shot.Image) == 0 {
		return nil, errors.New("screenshot has no image data")
	}

	img, err := png.Decode(bytes.NewReader(shot.Image))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screenshot: %w", err)
	}

	enriched := make([]model.EnrichedElement, len(elements))
	for i, el := range elements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		enriched[i] = sampleElement(img, el)
	}

	return enriched, nil
}

func sampleElement(img image.Image, el model.Element) model.EnrichedElement {
	out := model.EnrichedElement{Element: el}

	rect := image.Rect(el.Box.X, el.Box.Y, el.Box.X+el.Box.Width, el.Box.Y+el.Box.Height).Intersect(img.Bounds())
	if rect.Empty() {
		return out
	}

	bg := borderAverage(img, rect)
	bgLum := relativeLuminance(bg)

	stride := 1
	if area := rect.Dx() * rect.Dy(); area > maxSamples {
		stride = int(math.Ceil(math.Sqrt(float64(area) / maxSamples)))
	}

	// first pass finds the largest luminance distance from the background
	maxDist := 0.0
	for y := rect.Min.Y; y < rect.Max.Y; y += stride {
		for x := rect.Min.X; x < rect.Max.X; x += stride {
			if d := math.Abs(relativeLuminance(toColor(img.At(x, y))) - bgLum); d > maxDist {
				maxDist = d
			}
		}
	}

	fg := bg
	if maxDist > 0 {
		var acc colorAcc
		for y := rect.Min.Y; y < rect.Max.Y; y += stride {
			for x := rect.Min.X; x < rect.Max.X; x += stride {
				c := toColor(img.At(x, y))
				if math.Abs(relativeLuminance(c)-bgLum) >= maxDist/2 {
					acc.add(c)
				}
			}
		}
		fg = acc.average()
	}

	out.Foreground = fg
	out.Background = bg
	out.Sampled = true
	return out
}

func borderAverage(img image.Image, rect image.Rectangle) model.Color {
	var acc colorAcc
	for x := rect.Min.X; x < rect.Max.X; x++ {
		acc.add(toColor(img.At(x, rect.Min.Y)))
		acc.add(toColor(img.At(x, rect.Max.Y-1)))
	}
	for y := rect.Min.Y + 1; y < rect.Max.Y-1; y++ {
		acc.add(toColor(img.At(rect.Min.X, y)))
		acc.add(toColor(img.At(rect.Max.X-1, y)))
	}
	return acc.average()
}

type colorAcc struct {
	r, g, b, n int
}

func (a *colorAcc) add(c model.Color) {
	a.r += int(c.R)
	a.g += int(c.G)
	a.b += int(c.B)
	a.n++
}

func (a *colorAcc) average() model.Color {
	if a.n == 0 {
		return model.Color{}
	}
	return model.Color{
		R: uint8((a.r + a.n/2) / a.n),
		G: uint8((a.g + a.n/2) / a.n),
		B: uint8((a.b + a.n/2) / a.n),
	}
}

func toColor(c color.Color) model.Color {
	r, g, b, _ := c.RGBA()
	return model.Color{R: uint8(r >> 8), G: uint8(g >> 8), B: uint8(b >> 8)}
}

// relativeLuminance follows the WCAG 2.x definition
func relativeLuminance(c model.Color) float64 {
	channel := func(v uint8) float64 {
		s := float64(v) / 255
		if s <= 0.03928 {
			return s / 12.92
		}
		return math.Pow((s+0.055)/1.055, 2.4)
	}
	return 0.2126*channel(c.R) + 0.7152*channel(c.G) + 0.0722*channel(c.B)
}

// contrastRatio is between 1 and 21
func contrastRatio(a, b model.Color) float64 {
	la, lb := relativeLuminance(a), relativeLuminance(b)
	if la < lb {
		la, lb = lb, la
	}
	return (la + 0.05) / (lb + 0.05)
}
