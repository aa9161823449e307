package core

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"os"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const (
	// DefaultImageQuality is the JPEG quality used when none is configured.
	DefaultImageQuality = 60

	// maxImagePixels guards against decompression bombs.
	maxImagePixels = 50_000_000
)

// ImageStrategy re-encodes images as JPEG. Alpha and palettes are flattened
// onto an opaque white canvas, so transparency is lost.
type ImageStrategy struct {
	Quality int
}

// NewImageStrategy creates an ImageStrategy. Out-of-range qualities fall back
// to DefaultImageQuality.
func NewImageStrategy(quality int) *ImageStrategy {
	if quality < 1 || quality > 100 {
		quality = DefaultImageQuality
	}
	return &ImageStrategy{Quality: quality}
}

func (s *ImageStrategy) Name() string { return "jpeg" }

func (s *ImageStrategy) Extension(string) string { return ".jpg" }

func (s *ImageStrategy) Compress(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(job.Source)
	if err != nil {
		return &CompressionError{Strategy: s.Name(), Err: err}
	}
	defer in.Close()

	img, err := decodeImage(in)
	if err != nil {
		return &CompressionError{Strategy: s.Name(), Err: err}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	out, err := os.Create(job.Dest)
	if err != nil {
		return &CompressionError{Strategy: s.Name(), Err: err}
	}
	defer out.Close()

	if err := jpeg.Encode(out, flatten(img), &jpeg.Options{Quality: s.Quality}); err != nil {
		return &CompressionError{Strategy: s.Name(), Err: fmt.Errorf("failed to encode jpeg: %w", err)}
	}
	if err := out.Close(); err != nil {
		return &CompressionError{Strategy: s.Name(), Err: err}
	}
	return nil
}

func decodeImage(r io.ReadSeeker) (image.Image, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxImagePixels {
		return nil, fmt.Errorf("unsupported image dimensions %dx%d", cfg.Width, cfg.Height)
	}

	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}

// flatten composites img over white and returns an opaque RGBA image.
func flatten(img image.Image) *image.RGBA {
	b := img.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Over)
	return canvas
}
