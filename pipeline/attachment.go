package pipeline

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
)

// AttachmentSpec describes the files a route accepts
type AttachmentSpec struct {
	FormField           string
	MaxSizeBytes        int64
	AllowedMimePatterns []string
	Bucket              string
	Folder              string
	MaxFiles            int
}

// File is one uploaded file as received by the transport
type File struct {
	FormField   string
	Name        string
	Size        int64
	ContentType string
	Content     []byte
}

// StoredFile is a file written to object storage
type StoredFile struct {
	FormField   string `json:"field"`
	Name        string `json:"name"`
	Bucket      string `json:"bucket"`
	Key         string `json:"key"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// ObjectStore writes objects and resolves their public URLs
type ObjectStore interface {
	Store(ctx context.Context, bucket, key string, content []byte, contentType string) error
	PublicURL(ctx context.Context, bucket, key string) (string, error)
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// SanitizeFileName reduces a client file name to a safe object key segment
func SanitizeFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	base = unsafeNameChars.ReplaceAllString(base, "_")
	base = strings.Trim(base, "._")
	if base == "" {
		return "file"
	}
	return base
}

// DetectContentType returns the media type of f without parameters.
// The declared type wins unless it is missing or opaque, in which case the content is sniffed.
func DetectContentType(f File) string {
	declared := strings.TrimSpace(f.ContentType)
	if declared != "" {
		if mt, _, err := mime.ParseMediaType(declared); err == nil {
			declared = strings.ToLower(mt)
		} else {
			declared = ""
		}
	}
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}
	if len(f.Content) == 0 {
		return "application/octet-stream"
	}
	mt, _, err := mime.ParseMediaType(mimetype.Detect(f.Content).String())
	if err != nil {
		return "application/octet-stream"
	}
	return mt
}

// MatchMime reports whether mediaType matches one of patterns.
// A pattern is either an exact media type or "type/*".
func MatchMime(mediaType string, patterns []string) bool {
	mediaType = strings.ToLower(mediaType)
	for _, p := range patterns {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == mediaType {
			return true
		}
		if strings.HasSuffix(p, "/*") && strings.HasPrefix(mediaType, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}

func (s *AttachmentSpec) folder() string {
	if s.Folder != "" {
		return strings.Trim(s.Folder, "/")
	}
	return s.FormField
}

func (s *AttachmentSpec) maxFiles() int {
	if s.MaxFiles <= 0 {
		return 1
	}
	return s.MaxFiles
}

// Select returns the files submitted under the spec's form field
func (s *AttachmentSpec) Select(files []File) []File {
	var out []File
	for _, f := range files {
		if s.FormField == "" || f.FormField == s.FormField {
			out = append(out, f)
		}
	}
	return out
}

// Check validates every file against the spec without touching storage
func (s *AttachmentSpec) Check(files []File) error {
	if len(files) > s.maxFiles() {
		return NewUnsupportedMedia(fmt.Sprintf("too many files: at most %d allowed", s.maxFiles()))
	}
	for _, f := range files {
		size := f.Size
		if n := int64(len(f.Content)); n > size {
			size = n
		}
		if s.MaxSizeBytes > 0 && size > s.MaxSizeBytes {
			return NewUnsupportedMedia(fmt.Sprintf("file %q exceeds the %d byte limit", f.Name, s.MaxSizeBytes))
		}
		if ct := DetectContentType(f); !MatchMime(ct, s.AllowedMimePatterns) {
			return NewUnsupportedMedia(fmt.Sprintf("file %q has unsupported type %s; allowed: %s",
				f.Name, ct, strings.Join(s.AllowedMimePatterns, ", ")))
		}
	}
	return nil
}

// AttachmentHandler validates and stores uploaded files
type AttachmentHandler struct {
	store ObjectStore
	now   func() time.Time
}

// NewAttachmentHandler creates a handler writing to store
func NewAttachmentHandler(store ObjectStore) *AttachmentHandler {
	return &AttachmentHandler{store: store, now: time.Now}
}

// Handle checks all files first and only then writes each one and resolves its public URL.
// The first storage error aborts the run; nothing is retried.
func (h *AttachmentHandler) Handle(ctx context.Context, spec *AttachmentSpec, files []File) ([]StoredFile, error) {
	selected := spec.Select(files)
	if err := spec.Check(selected); err != nil {
		return nil, err
	}
	if len(selected) == 0 {
		return nil, nil
	}
	if h.store == nil {
		return nil, NewStorageFailure(fmt.Errorf("no object store configured"))
	}

	stored := make([]StoredFile, 0, len(selected))
	for i, f := range selected {
		key := h.objectKey(spec, f.Name, i)
		ct := DetectContentType(f)

		if err := h.store.Store(ctx, spec.Bucket, key, f.Content, ct); err != nil {
			return nil, NewStorageFailure(fmt.Errorf("failed to store %s/%s: %w", spec.Bucket, key, err))
		}
		url, err := h.store.PublicURL(ctx, spec.Bucket, key)
		if err != nil {
			return nil, NewStorageFailure(fmt.Errorf("failed to resolve url for %s/%s: %w", spec.Bucket, key, err))
		}

		stored = append(stored, StoredFile{
			FormField:   f.FormField,
			Name:        f.Name,
			Bucket:      spec.Bucket,
			Key:         key,
			URL:         url,
			ContentType: ct,
			Size:        int64(len(f.Content)),
		})
	}
	return stored, nil
}

func (h *AttachmentHandler) objectKey(spec *AttachmentSpec, name string, index int) string {
	nanos := h.now().UnixNano()
	if index > 0 {
		return fmt.Sprintf("%s/%d_%d_%s", spec.folder(), nanos, index, SanitizeFileName(name))
	}
	return fmt.Sprintf("%s/%d_%s", spec.folder(), nanos, SanitizeFileName(name))
}
