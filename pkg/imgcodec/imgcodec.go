package imgcodec

// Package imgcodec decodes uploaded images, and encodes processed frames for the browser.

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	"github.com/bmharper/cimg/v2"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"

	// Register the extra formats with image.Decode
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

const DefaultJPEGQuality = 85

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrCorrupt           = errors.New("failed to decode image")
)

// The formats that we accept as uploads
var SupportedTypes = []string{
	"image/jpeg",
	"image/png",
	"image/bmp",
	"image/webp",
}

// Sniff returns the mime type of b, judged from its content (not from any client-supplied name or header).
// Returns ErrUnsupportedFormat if the content is not one of SupportedTypes.
func Sniff(b []byte) (string, error) {
	mimeType := strings.Split(mimetype.Detect(b).String(), ";")[0]
	for _, t := range SupportedTypes {
		if t == mimeType {
			return mimeType, nil
		}
	}
	return mimeType, fmt.Errorf("%w: %v", ErrUnsupportedFormat, mimeType)
}

// Decode sniffs and decodes an image, applying any EXIF orientation.
// If maxDimension is positive, then images larger than that are scaled down to fit.
// The result always has its origin at (0,0).
func Decode(b []byte, maxDimension int) (*image.RGBA, error) {
	if _, err := Sniff(b); err != nil {
		return nil, err
	}
	img, err := imaging.Decode(bytes.NewReader(b), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if maxDimension > 0 && (img.Bounds().Dx() > maxDimension || img.Bounds().Dy() > maxDimension) {
		img = imaging.Fit(img, maxDimension, maxDimension, imaging.Lanczos)
	}
	return ToRGBA(img), nil
}

// ToRGBA returns img as an *image.RGBA with origin (0,0), copying only if necessary
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return rgba
	}
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
	return rgba
}

// EncodeJPEG compresses img with libjpeg-turbo, using 4:2:0 chroma subsampling
func EncodeJPEG(img *image.RGBA, quality int) ([]byte, error) {
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	wrapped := cimg.WrapImageStrided(img.Rect.Dx(), img.Rect.Dy(), cimg.PixelFormatRGBA, img.Pix, img.Stride)
	return cimg.Compress(wrapped, cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
}
