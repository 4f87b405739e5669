package domain

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// Blob key layout. Raw uploads, processed outputs and archives live under
// separate prefixes so each can carry its own storage lifecycle rule.

// FileExt returns the lowercase extension of filename without the dot, or
// "bin" when there is none.
func FileExt(filename string) string {
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(filename), "."))
	if ext == "" {
		return "bin"
	}
	return ext
}

// FileBase returns the filename without directory or extension, or "image"
// when the name is empty.
func FileBase(filename string) string {
	base := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	if base == "" || base == "." {
		return "image"
	}
	return base
}

// RawKey builds the storage key for an uploaded original. The random
// component prevents key collisions when a job is resubmitted.
func RawKey(jobID, filename string) string {
	return fmt.Sprintf("raw/%s/%s.%s", jobID, randomHex(32), FileExt(filename))
}

// ProcessedKey builds the storage key for one operation output.
func ProcessedKey(jobID, op, ext string) string {
	return fmt.Sprintf("processed/%s/%s_%s.%s", jobID, op, randomHex(8), ext)
}

// ArchiveKey builds the storage key for the result bundle. Deterministic, so
// a redelivered archive task overwrites rather than duplicates.
func ArchiveKey(jobID string) string {
	return fmt.Sprintf("archives/%s/bundle.zip", jobID)
}

// DownloadFilename builds the client-facing attachment name for one
// processed output.
func DownloadFilename(op, originalFilename, ext string) string {
	return fmt.Sprintf("pixtools_%s_%s.%s", op, FileBase(originalFilename), ext)
}

// ArchiveDownloadFilename builds the client-facing attachment name for the
// result bundle.
func ArchiveDownloadFilename(originalFilename string) string {
	return fmt.Sprintf("pixtools_bundle_%s.zip", FileBase(originalFilename))
}

// OpFromKey recovers the operation name and extension from a processed key
// leaf of the form {op}_{hex}.{ext}.
func OpFromKey(key string) (op, ext string, ok bool) {
	leaf := path.Base(key)
	e := path.Ext(leaf)
	if e == "" {
		return "", "", false
	}
	stem := strings.TrimSuffix(leaf, e)
	i := strings.LastIndex(stem, "_")
	if i <= 0 {
		return "", "", false
	}
	return stem[:i], strings.TrimPrefix(e, "."), true
}

func randomHex(n int) string {
	h := strings.ReplaceAll(uuid.New().String(), "-", "")
	for len(h) < n {
		h += strings.ReplaceAll(uuid.New().String(), "-", "")
	}
	return h[:n]
}
