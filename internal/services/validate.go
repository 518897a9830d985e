package services

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// allowedImageTypes is the canonical allow-list for uploaded media.
var allowedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// mimeAliases normalizes declared types clients commonly get wrong.
var mimeAliases = map[string]string{
	"image/jpg":   "image/jpeg",
	"image/pjpeg": "image/jpeg",
}

// SniffLen is how many leading bytes the content check needs.
const SniffLen = 512

// FileMeta describes an upload before any bytes are persisted. Head holds
// up to SniffLen leading bytes for the content check; a short or empty Head
// skips sniffing (metadata-only validation).
type FileMeta struct {
	Filename     string
	DeclaredType string
	Size         int64
	Head         []byte
}

// ValidateUpload runs the three checks in a fixed order so the first error
// is deterministic: type allow-list, size limit, then content sniff against
// the declared type. It returns the normalized content type to store.
func ValidateUpload(meta FileMeta, maxBytes int64) (string, error) {
	declared := strings.ToLower(strings.TrimSpace(meta.DeclaredType))
	if alias, ok := mimeAliases[declared]; ok {
		declared = alias
	}
	if !allowedImageTypes[declared] {
		return "", newError(KindUnsupportedType,
			fmt.Sprintf("unsupported file type %q, allowed: JPEG, PNG, GIF, WebP", meta.DeclaredType))
	}

	if meta.Size > maxBytes {
		return "", newError(KindTooLarge,
			fmt.Sprintf("file %s exceeds the %d MiB limit", meta.Filename, maxBytes/(1024*1024)))
	}

	if len(meta.Head) > 0 {
		detected := mimetype.Detect(meta.Head)
		if !detected.Is(declared) {
			return "", newError(KindContentMismatch,
				fmt.Sprintf("file content is %s but was declared as %s", detected.String(), declared))
		}
	}

	return declared, nil
}
