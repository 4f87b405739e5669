package domain

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawKey_Layout(t *testing.T) {
	key := RawKey("job-1", "Holiday Photo.JPG")
	assert.Regexp(t, regexp.MustCompile(`^raw/job-1/[0-9a-f]{32}\.jpg$`), key)
}

func TestRawKey_NoExtensionFallsBackToBin(t *testing.T) {
	key := RawKey("job-1", "photo")
	assert.Regexp(t, regexp.MustCompile(`^raw/job-1/[0-9a-f]{32}\.bin$`), key)
}

func TestProcessedKey_Layout(t *testing.T) {
	key := ProcessedKey("job-2", OpWebP, "webp")
	assert.Regexp(t, regexp.MustCompile(`^processed/job-2/webp_[0-9a-f]{8}\.webp$`), key)
}

func TestArchiveKey_Deterministic(t *testing.T) {
	assert.Equal(t, "archives/job-3/bundle.zip", ArchiveKey("job-3"))
	assert.Equal(t, ArchiveKey("job-3"), ArchiveKey("job-3"))
}

func TestDownloadFilename(t *testing.T) {
	assert.Equal(t, "pixtools_webp_vacation.webp", DownloadFilename(OpWebP, "vacation.jpg", "webp"))
	assert.Equal(t, "pixtools_denoise_image.png", DownloadFilename(OpDenoise, "", "png"))
}

func TestArchiveDownloadFilename(t *testing.T) {
	assert.Equal(t, "pixtools_bundle_vacation.zip", ArchiveDownloadFilename("vacation.jpg"))
}

func TestOpFromKey(t *testing.T) {
	op, ext, ok := OpFromKey("processed/job-4/denoise_1a2b3c4d.png")
	require.True(t, ok)
	assert.Equal(t, OpDenoise, op)
	assert.Equal(t, "png", ext)

	_, _, ok = OpFromKey("processed/job-4/garbage")
	assert.False(t, ok)
}
