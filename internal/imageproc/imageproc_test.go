package imageproc

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/pixtools/internal/domain"
)

func testImage(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestDecode_InvalidBytesIsFatal(t *testing.T) {
	_, err := Decode([]byte("definitely not an image"))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFatalTask)
}

func TestResize_AspectPreservingWidthOnly(t *testing.T) {
	img, err := Decode(testImage(t, 1280, 960))
	require.NoError(t, err)

	out := Resize(img, &domain.ResizeParams{Width: 640}, 8192, 8192)
	assert.Equal(t, 640, out.Bounds().Dx())
	assert.Equal(t, 480, out.Bounds().Dy())
}

func TestResize_NilParamsIsIdentity(t *testing.T) {
	img, err := Decode(testImage(t, 100, 50))
	require.NoError(t, err)

	out := Resize(img, nil, 8192, 8192)
	assert.Equal(t, img.Bounds(), out.Bounds())
}

func TestResize_ClampedToMax(t *testing.T) {
	img, err := Decode(testImage(t, 100, 100))
	require.NoError(t, err)

	out := Resize(img, &domain.ResizeParams{Width: 50000, Height: 50000}, 200, 150)
	assert.Equal(t, 200, out.Bounds().Dx())
	assert.Equal(t, 150, out.Bounds().Dy())
}

func TestEncode_JPEGQualityAffectsSize(t *testing.T) {
	img, err := Decode(testImage(t, 256, 256))
	require.NoError(t, err)

	low, ext, ct, err := Encode(img, domain.OpJPG, 30)
	require.NoError(t, err)
	assert.Equal(t, "jpg", ext)
	assert.Equal(t, "image/jpeg", ct)

	high, _, _, err := Encode(img, domain.OpJPG, 95)
	require.NoError(t, err)
	assert.Less(t, len(low), len(high))
}

func TestEncode_PNGRoundTrips(t *testing.T) {
	img, err := Decode(testImage(t, 64, 64))
	require.NoError(t, err)

	out, ext, ct, err := Encode(img, domain.OpPNG, 0)
	require.NoError(t, err)
	assert.Equal(t, "png", ext)
	assert.Equal(t, "image/png", ct)

	back, err := Decode(out)
	require.NoError(t, err)
	assert.Equal(t, img.Bounds(), back.Bounds())
}

func TestEncode_UnsupportedFormatIsFatal(t *testing.T) {
	img, err := Decode(testImage(t, 8, 8))
	require.NoError(t, err)

	_, _, _, err = Encode(img, "tiff", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrFatalTask)
}

func TestGPSToDecimal(t *testing.T) {
	// 37°26'29.7"N, 122°10'9.0"W
	lat := GPSToDecimal(37, 26, 29.7, "N")
	lon := GPSToDecimal(122, 10, 9.0, "W")
	assert.InDelta(t, 37.441583, lat, 1e-6)
	assert.InDelta(t, -122.169167, lon, 1e-6)
}

func TestGPSToDecimal_SouthNegated(t *testing.T) {
	assert.InDelta(t, -33.856784, GPSToDecimal(33, 51, 24.4224, "S"), 1e-6)
	assert.InDelta(t, 151.215297, GPSToDecimal(151, 12, 55.0692, "E"), 1e-6)
}

func TestFormatAperture(t *testing.T) {
	assert.Equal(t, "f/2.0", FormatAperture(2.0))
	assert.Equal(t, "f/1.8", FormatAperture(1.8))
	assert.Equal(t, "f/5.66", FormatAperture(5.657))
}

func TestExtractEXIF_NoExifYieldsEmptyMap(t *testing.T) {
	md := ExtractEXIF(testImage(t, 16, 16))
	assert.Empty(t, md)
}
