package domain

import (
	"net/url"
	"path"
	"strings"
	"time"
	"unicode"
)

// ArtifactInfo describes a blob held by the artifact store.
type ArtifactInfo struct {
	Path      string
	Digest    string
	Size      int64
	CreatedAt time.Time

	// Revision identifies the stored bytes as the backend sees them now. It
	// changes whenever the blob is replaced, even if the row does not.
	Revision string
}

const artifactFileName = "artifact"

// ArtifactPath derives the store locator of a model version. Each segment is
// escaped so arbitrary names cannot climb out of the store root.
func ArtifactPath(name, version string) string {
	return path.Join(escapeSegment(name), escapeSegment(version), artifactFileName)
}

func escapeSegment(s string) string {
	escaped := url.PathEscape(s)
	if strings.Trim(escaped, ".") == "" {
		escaped = strings.ReplaceAll(escaped, ".", "%2E")
	}
	return escaped
}

const maxFileNameLen = 255

// SanitizeFileName reduces a client supplied upload name to a bare basename
// safe to echo back in a Content-Disposition header. It returns "" when
// nothing usable is left.
func SanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == '"' {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return ""
	}
	if len(name) > maxFileNameLen {
		return ""
	}
	return name
}
