package storage

import (
	"mime"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultContentType is reported when no detector recognizes a file.
const DefaultContentType = "application/octet-stream"

// SniffLength is how many leading bytes are handed to content sniffers.
const SniffLength = 3072

// ContentTypeDetector guesses a media type from a file name and its leading
// bytes. It returns "" when it has no opinion.
type ContentTypeDetector interface {
	Detect(name string, head []byte) string
}

// DetectorFunc adapts a function to ContentTypeDetector.
type DetectorFunc func(name string, head []byte) string

func (f DetectorFunc) Detect(name string, head []byte) string {
	return f(name, head)
}

// extensionTypes pins the common upload types so results do not depend on
// the host's mime.types.
var extensionTypes = map[string]string{
	// Documents
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".ppt":  "application/vnd.ms-powerpoint",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".txt":  "text/plain; charset=utf-8",
	".csv":  "text/csv; charset=utf-8",
	".md":   "text/markdown; charset=utf-8",
	".html": "text/html; charset=utf-8",
	".css":  "text/css; charset=utf-8",
	".js":   "text/javascript; charset=utf-8",
	".json": "application/json",
	".xml":  "application/xml",

	// Images
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".bmp":  "image/bmp",
	".tiff": "image/tiff",

	// Audio and video
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".mp4":  "video/mp4",
	".mpeg": "video/mpeg",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",

	// Archives
	".zip": "application/zip",
	".tar": "application/x-tar",
	".gz":  "application/gzip",
	".7z":  "application/x-7z-compressed",
	".rar": "application/vnd.rar",
}

// ExtensionDetector maps the file extension through a fixed table and then
// the platform's MIME registry.
type ExtensionDetector struct {
	// Overrides take precedence over the built-in table.
	Overrides map[string]string
}

func (d ExtensionDetector) Detect(name string, _ []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return ""
	}
	if ct, ok := d.Overrides[ext]; ok {
		return ct
	}
	if ct, ok := extensionTypes[ext]; ok {
		return ct
	}
	return mime.TypeByExtension(ext)
}

// SniffDetector inspects the leading bytes. Generic results are treated as
// "no opinion" so the chain can fall through to the default.
type SniffDetector struct{}

func (SniffDetector) Detect(_ string, head []byte) string {
	if len(head) == 0 {
		return ""
	}
	mt := mimetype.Detect(head)
	if mt == nil || mt.Is(DefaultContentType) {
		return ""
	}
	return mt.String()
}

// DetectorChain asks each detector in order and returns the first answer.
type DetectorChain []ContentTypeDetector

func (c DetectorChain) Detect(name string, head []byte) string {
	for _, d := range c {
		if d == nil {
			continue
		}
		if ct := d.Detect(name, head); ct != "" {
			return ct
		}
	}
	return ""
}

// DefaultDetector is the extension table followed by content sniffing.
func DefaultDetector() ContentTypeDetector {
	return DetectorChain{ExtensionDetector{}, SniffDetector{}}
}

// needsContent reports whether running d may require file bytes. An
// ExtensionDetector alone never does.
func needsContent(d ContentTypeDetector) bool {
	switch v := d.(type) {
	case ExtensionDetector:
		return false
	case DetectorChain:
		for _, inner := range v {
			if needsContent(inner) {
				return true
			}
		}
		return false
	default:
		return d != nil
	}
}
