package upload

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Per-kind allow-lists. Extensions are matched against the lowercased
// original filename; .tar.gz is treated as one extension.
var (
	imageExtensions    = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}
	downloadExtensions = []string{".tar.gz", ".tgz", ".zip"}

	imageContentTypes = map[string]bool{
		"image/png":  true,
		"image/jpeg": true,
		"image/gif":  true,
		"image/webp": true,
	}
	downloadContentTypes = map[string]bool{
		"application/zip":          true,
		"application/gzip":         true,
		"application/x-gzip":       true,
		"application/x-tar":        true,
		"application/octet-stream": true,
	}
)

// allowedExtension returns the matched extension (lowercased) or
// ErrDisallowedType.
func allowedExtension(kind Kind, filename string) (string, error) {
	lower := strings.ToLower(strings.TrimSpace(filename))
	if lower == "" {
		return "", fmt.Errorf("missing filename: %w", ErrDisallowedType)
	}
	exts := imageExtensions
	if kind == KindDownload {
		exts = downloadExtensions
	}
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) && len(lower) > len(ext) {
			return ext, nil
		}
	}
	return "", fmt.Errorf("%s not allowed for kind %s: %w", filename, kind, ErrDisallowedType)
}

func checkContentType(kind Kind, contentType string) error {
	// Parameters such as "; charset=binary" are irrelevant here.
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	allowed := imageContentTypes
	if kind == KindDownload {
		allowed = downloadContentTypes
	}
	if !allowed[contentType] {
		return fmt.Errorf("content type %q not allowed for kind %s: %w", contentType, kind, ErrDisallowedType)
	}
	return nil
}

// baseName strips the matched extension and any directory components the
// client may have smuggled into the filename.
func baseName(filename, ext string) string {
	name := filename
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, ext) {
		name = name[:len(name)-len(ext)]
	}
	return name
}

// stripMarks removes combining marks left over after NFKD decomposition,
// so "café" slugs to "cafe".
var stripMarks = transform.Chain(
	norm.NFKD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Slugify folds arbitrary text into the lowercase slug alphabet used for
// published asset names, for callers naming other resources the same way.
func Slugify(name string) string {
	return slugify(name)
}

// slugify reduces a filename base to lowercase ASCII letters, digits, and
// single hyphens. The result is never empty.
func slugify(name string) string {
	folded, _, err := transform.String(stripMarks, name)
	if err == nil {
		name = folded
	}
	name = strings.ToLower(name)

	var sb strings.Builder
	lastHyphen := true // suppress a leading hyphen
	for _, r := range name {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			sb.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				sb.WriteByte('-')
				lastHyphen = true
			}
		}
		if sb.Len() >= maxSlugLen {
			break
		}
	}
	slug := strings.Trim(sb.String(), "-")
	if slug == "" {
		return "asset"
	}
	return slug
}
