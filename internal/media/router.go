package media

import (
	"mime"
	"path/filepath"
	"strings"

	"duet/internal/constants"
)

// Router provides centralized recording container detection
type Router interface {
	// Container returns the container extension (without dot) of an uploaded recording.
	// The file name wins; the part's media type is the fallback. Unknown input yields "".
	Container(filename, contentType string) string
	// MimeType returns the Content-Type to serve a stored recording with
	MimeType(path string) string
}

type router struct {
	byMime map[string]string
}

// NewRouter creates a new Router instance
func NewRouter() Router {
	byMime := make(map[string]string, len(constants.RecordingMimeTypes))
	for ext, mt := range constants.RecordingMimeTypes {
		byMime[mt] = strings.TrimPrefix(ext, ".")
	}
	return &router{byMime: byMime}
}

func (r *router) Container(filename, contentType string) string {
	if ext := filepath.Ext(filename); ext != "" {
		return strings.ToLower(strings.TrimPrefix(ext, "."))
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	if ext, ok := r.byMime[mediaType]; ok {
		return ext
	}
	if kind, subtype, ok := strings.Cut(mediaType, "/"); ok && kind == "video" {
		return subtype
	}
	return ""
}

func (r *router) MimeType(path string) string {
	if mt, ok := constants.RecordingMimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	return constants.DefaultMimeType
}
