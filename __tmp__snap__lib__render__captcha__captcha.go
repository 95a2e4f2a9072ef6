// Package captcha renders challenge secrets into distorted PNG images on the
// local filesystem.
package captcha

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand/v2"
	"os"
	"path/filepath"
	"unicode"

	"github.com/google/uuid"
	"github.com/uvensys/gatekeeper/internal"
)

const (
	glyphScale      = 4 // uppercase and digits
	glyphScaleSmall = 3 // lowercase, drawn small-caps style
	glyphAdvance    = 26
	maxJitter       = 8
)

// Impl draws secrets as noisy PNGs. The artifact handle is the file path.
type Impl struct {
	dir    string
	width  int
	height int
	noise  int
}

// Generate mints a fresh random secret and renders it into a PNG under the
// artifact directory. The file name is a UUID, never the secret itself.
func (i *Impl) Generate(ctx context.Context, secretLength int) (string, string, error) {
	secret, err := internal.RandomText(secretLength)
	if err != nil {
		return "", "", fmt.Errorf("captcha: can't generate secret: %w", err)
	}

	img := i.draw(secret)

	handle := filepath.Join(i.dir, uuid.NewString()+".png")
	fout, err := os.Create(handle)
	if err != nil {
		return "", "", fmt.Errorf("captcha: can't create artifact: %w", err)
	}

	if err := png.Encode(fout, img); err != nil {
		fout.Close()
		os.Remove(handle)
		return "", "", fmt.Errorf("captcha: can't encode artifact: %w", err)
	}

	if err := fout.Close(); err != nil {
		os.Remove(handle)
		return "", "", fmt.Errorf("captcha: can't close artifact: %w", err)
	}

	return secret, handle, nil
}

// DeleteArtifact removes the rendered file. An already-missing file counts
// as deleted.
func (i *Impl) DeleteArtifact(ctx context.Context, handle string) error {
	if err := os.Remove(handle); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("captcha: can't delete artifact %q: %w", handle, err)
	}

	return nil
}

func (i *Impl) draw(secret string) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, i.width, i.height))

	bg := color.RGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff}
	for x := 0; x < i.width; x++ {
		for y := 0; y < i.height; y++ {
			img.SetRGBA(x, y, bg)
		}
	}

	textWidth := len(secret) * glyphAdvance
	x := (i.width - textWidth) / 2
	baseline := (i.height - 7*glyphScale) / 2

	for _, r := range secret {
		scale := glyphScale
		if unicode.IsLower(r) {
			scale = glyphScaleSmall
		}

		ink := color.RGBA{
			R: uint8(rand.IntN(0x60)),
			G: uint8(rand.IntN(0x60)),
			B: uint8(rand.IntN(0x60)),
			A: 0xff,
		}

		y := baseline + rand.IntN(2*maxJitter) - maxJitter
		drawGlyph(img, unicode.ToUpper(r), x, y, scale, ink)
		x += glyphAdvance
	}

	for range i.noise {
		dot := color.RGBA{
			R: uint8(rand.IntN(0x100)),
			G: uint8(rand.IntN(0x100)),
			B: uint8(rand.IntN(0x100)),
			A: 0xff,
		}
		drawDot(img, rand.IntN(i.width), rand.IntN(i.height), rand.IntN(5)+1, dot)
	}

	return img
}

func drawGlyph(img *image.RGBA, r rune, x, y, scale int, ink color.RGBA) {
	glyph, ok := glyphs[r]
	if !ok {
		return
	}

	for row, bits := range glyph {
		for col, c := range bits {
			if c != '#' {
				continue
			}
			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					img.SetRGBA(x+col*scale+dx, y+row*scale+dy, ink)
				}
			}
		}
	}
}

func drawDot(img *image.RGBA, cx, cy, radius int, ink color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				img.SetRGBA(cx+dx, cy+dy, ink)
			}
		}
	}
}


