package cardtype

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"

	"github.com/titlecardmaker/titlecardmaker/internal/resolver"

	_ "image/png"
)

// standardOptions are the recipe keys the standard type recognizes.
var standardOptions = []string{
	"hide_season_text",
	"hide_episode_text",
	"season_text",
	"episode_text",
	"font_color",
	"font_size",
	"source_file",
	"logo_file",
}

const renderQuality = 90

// Standard is the built-in card type: the episode's source image with the
// configured style transforms applied. Rendering is deterministic so equal
// recipes produce byte-identical artifacts.
type Standard struct{}

func (Standard) Name() string { return "standard" }

func (Standard) SupportedOptions() []string { return standardOptions }

// Validate requires a source image and a title.
func (Standard) Validate(recipe *resolver.Recipe) error {
	if recipe.SourceFile == "" {
		return fmt.Errorf("%w: standard card requires a source file", ErrInvalidRecipe)
	}
	if recipe.Title == "" {
		return fmt.Errorf("%w: standard card requires a title", ErrInvalidRecipe)
	}
	if recipe.Font != nil && recipe.Font.Size <= 0 {
		return fmt.Errorf("%w: font size must be positive", ErrInvalidRecipe)
	}
	return nil
}

// Render composes the card from the source image, applying the recipe's
// blur and grayscale toggles, and encodes it at a fixed JPEG quality.
func (Standard) Render(ctx context.Context, recipe *resolver.Recipe) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(recipe.SourceFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file: %w", err)
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode source image: %w", err)
	}

	bounds := src.Bounds()
	canvas := image.NewRGBA(bounds)
	draw.Draw(canvas, bounds, src, bounds.Min, draw.Src)

	if recipe.Grayscale {
		applyGrayscale(canvas)
	}
	if recipe.Blur {
		applyBoxBlur(canvas)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, canvas, &jpeg.Options{Quality: renderQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode card: %w", err)
	}
	return buf.Bytes(), nil
}

func applyGrayscale(img *image.RGBA) {
	bounds := img.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := img.RGBAAt(x, y)
			gray := uint8((299*int(c.R) + 587*int(c.G) + 114*int(c.B)) / 1000)
			img.SetRGBA(x, y, color.RGBA{R: gray, G: gray, B: gray, A: c.A})
		}
	}
}

// applyBoxBlur runs a fixed-radius box blur, enough to hide spoilers
// without needing an external imaging library.
func applyBoxBlur(img *image.RGBA) {
	const radius = 8
	bounds := img.Bounds()
	src := image.NewRGBA(bounds)
	copy(src.Pix, img.Pix)

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			var r, g, b, a, n int
			for dy := -radius; dy <= radius; dy += radius {
				for dx := -radius; dx <= radius; dx += radius {
					px, py := x+dx, y+dy
					if px < bounds.Min.X || px >= bounds.Max.X || py < bounds.Min.Y || py >= bounds.Max.Y {
						continue
					}
					c := src.RGBAAt(px, py)
					r += int(c.R)
					g += int(c.G)
					b += int(c.B)
					a += int(c.A)
					n++
				}
			}
			img.SetRGBA(x, y, color.RGBA{
				R: uint8(r / n), G: uint8(g / n), B: uint8(b / n), A: uint8(a / n),
			})
		}
	}
}

var _ CardType = Standard{}
