package imgcodec

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func testImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, color.NRGBA{uint8(x), uint8(y), 100, 255})
		}
	}
	return img
}

func TestDecodePNG(t *testing.T) {
	buf := bytes.Buffer{}
	require.NoError(t, png.Encode(&buf, testImage(64, 48)))

	mimeType, err := Sniff(buf.Bytes())
	require.NoError(t, err)
	require.Equal(t, "image/png", mimeType)

	img, err := Decode(buf.Bytes(), 0)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 64, 48), img.Rect)
	require.Equal(t, color.RGBA{10, 20, 100, 255}, img.RGBAAt(10, 20))
}

func TestDecodeBMP(t *testing.T) {
	buf := bytes.Buffer{}
	require.NoError(t, bmp.Encode(&buf, testImage(30, 20)))
	img, err := Decode(buf.Bytes(), 0)
	require.NoError(t, err)
	require.Equal(t, 30, img.Rect.Dx())
	require.Equal(t, 20, img.Rect.Dy())
}

func TestDecodeScalesDown(t *testing.T) {
	buf := bytes.Buffer{}
	require.NoError(t, png.Encode(&buf, testImage(400, 200)))
	img, err := Decode(buf.Bytes(), 100)
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 100, 50), img.Rect)
}

func TestRejectsNonImages(t *testing.T) {
	_, err := Sniff([]byte("hello, this is not an image"))
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Decode([]byte("%PDF-1.4\n"), 0)
	require.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Decode(nil, 0)
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestToRGBA(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 10, 10))
	require.Same(t, src, ToRGBA(src))

	sub := src.SubImage(image.Rect(2, 3, 6, 8))
	out := ToRGBA(sub)
	require.Equal(t, image.Rect(0, 0, 4, 5), out.Rect)
}

func TestEncodeJPEG(t *testing.T) {
	img := ToRGBA(testImage(64, 48))
	jpg, err := EncodeJPEG(img, 0)
	require.NoError(t, err)
	require.Equal(t, []byte{0xff, 0xd8}, jpg[:2])

	back, err := cimg.Decompress(jpg)
	require.NoError(t, err)
	require.Equal(t, 64, back.Width)
	require.Equal(t, 48, back.Height)
}

func TestTruncatedImage(t *testing.T) {
	buf := bytes.Buffer{}
	require.NoError(t, png.Encode(&buf, testImage(64, 48)))
	_, err := Decode(buf.Bytes()[:40], 0)
	require.ErrorIs(t, err, ErrCorrupt)
}
