package drive

import (
	"path/filepath"
	"time"

	drive "google.golang.org/api/drive/v3"
)

// exportFormats maps Google-native document types to the concrete
// binary format they are exported as.
var exportFormats = map[string]struct{ mime, ext string }{
	"application/vnd.google-apps.document":     {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", ".docx"},
	"application/vnd.google-apps.spreadsheet":  {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", ".xlsx"},
	"application/vnd.google-apps.presentation": {"application/vnd.openxmlformats-officedocument.presentationml.presentation", ".pptx"},
	"application/vnd.google-apps.drawing":      {"image/png", ".png"},
	"application/vnd.google-apps.script":       {"application/vnd.google-apps.script+json", ".json"},
}

// mimeToExt maps common content types to a file extension.
var mimeToExt = map[string]string{
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   ".docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         ".xlsx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"application/vnd.google-apps.script+json":                                   ".json",

	"application/pdf":          ".pdf",
	"application/zip":          ".zip",
	"application/json":         ".json",
	"application/xml":          ".xml",
	"application/octet-stream": ".bin",
	"application/x-gzip":       ".gz",
	"application/x-tar":        ".tar",

	"text/plain":      ".txt",
	"text/csv":        ".csv",
	"text/html":       ".html",
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/gif":       ".gif",
	"image/svg+xml":   ".svg",
	"image/webp":      ".webp",
	"audio/mpeg":      ".mp3",
	"audio/wav":       ".wav",
	"video/mp4":       ".mp4",
	"video/webm":      ".webm",
	"video/quicktime": ".mov",
}

// ExtensionFor returns the extension for a content type, or empty when
// unknown.
func ExtensionFor(mimeType string) string {
	return mimeToExt[mimeType]
}

// EnsureExtension appends the extension implied by the content type
// when the name has none. Names that already carry an extension are
// left alone.
func EnsureExtension(name, mimeType string) string {
	if name == "" || filepath.Ext(name) != "" {
		return name
	}
	if ext := mimeToExt[mimeType]; ext != "" {
		return name + ext
	}
	return name
}

func descriptorFromFile(f *drive.File) *FileDescriptor {
	d := &FileDescriptor{
		ID:       f.Id,
		Name:     f.Name,
		MimeType: f.MimeType,
		Size:     f.Size,
	}
	if f.ModifiedTime != "" {
		if t, err := time.Parse(time.RFC3339, f.ModifiedTime); err == nil {
			d.ModifiedTime = t
		}
	}
	if exp, ok := exportFormats[f.MimeType]; ok {
		d.ExportMimeType = exp.mime
	}
	return d
}
