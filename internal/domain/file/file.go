// Package file defines uploaded blobs and the media classification rules
// shared by uploads, result listings and preview generation.
package file

import (
	"mime"
	"path/filepath"
	"strings"
	"time"
)

// File is an uploaded blob tracked by id.
type File struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	Name       string    `json:"file_name"`
	MimeType   string    `json:"mime_type"`
	Size       int64     `json:"file_size"`
	Path       string    `json:"-"`
	UploadedAt time.Time `json:"uploaded_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Page is one page of a cursor-paginated file listing.
type Page struct {
	Items      []File `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// Kind is the coarse media category of a file.
type Kind string

const (
	KindVideo   Kind = "video"
	KindAudio   Kind = "audio"
	KindImage   Kind = "image"
	KindText    Kind = "text"
	KindUnknown Kind = ""
)

var kindByExt = map[string]Kind{
	".mp4": KindVideo, ".webm": KindVideo, ".mkv": KindVideo, ".avi": KindVideo,
	".mov": KindVideo, ".flv": KindVideo, ".wmv": KindVideo,
	".mp3": KindAudio, ".wav": KindAudio, ".ogg": KindAudio, ".aac": KindAudio,
	".flac": KindAudio, ".m4a": KindAudio,
	".jpg": KindImage, ".jpeg": KindImage, ".png": KindImage, ".gif": KindImage,
	".svg": KindImage, ".webp": KindImage,
	".txt": KindText, ".json": KindText, ".srt": KindText, ".vtt": KindText,
}

// KindOf classifies a file name by extension.
func KindOf(name string) Kind {
	return kindByExt[strings.ToLower(filepath.Ext(name))]
}

// mediaTypes pins the types of media extensions, which the platform mime
// tables do not reliably carry.
var mediaTypes = map[string]string{
	".mp4": "video/mp4", ".webm": "video/webm", ".mkv": "video/x-matroska",
	".avi": "video/x-msvideo", ".mov": "video/quicktime", ".flv": "video/x-flv",
	".wmv": "video/x-ms-wmv",
	".mp3": "audio/mpeg", ".wav": "audio/wav", ".ogg": "audio/ogg", ".aac": "audio/aac",
	".flac": "audio/flac", ".m4a": "audio/mp4",
	".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".png": "image/png", ".gif": "image/gif",
	".webp": "image/webp", ".svg": "image/svg+xml",
	".txt": "text/plain; charset=utf-8", ".srt": "application/x-subrip", ".vtt": "text/vtt",
}

// MimeType guesses a content type from the file name, falling back to
// application/octet-stream.
func MimeType(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := mediaTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}

// SafeName reports whether name is a plain file name with no directory
// components, suitable for joining under a storage directory.
func SafeName(name string) bool {
	if name == "" || name == "." || name == ".." || len(name) > 255 {
		return false
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return false
	}
	return filepath.Base(name) == name
}
