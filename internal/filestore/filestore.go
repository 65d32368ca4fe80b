// Package filestore keeps attachment bytes on the local filesystem under a
// per-chat directory inside the configured uploads root. All resolved paths
// are verified to stay inside the root.
package filestore

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zen-ai/zen-backend/internal/apperr"
)

// previewLimit caps extracted text previews for textual attachments.
const previewLimit = 4000

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

var textualMIMEs = map[string]struct{}{
	"text/plain":         {},
	"text/markdown":      {},
	"text/csv":           {},
	"text/html":          {},
	"text/xml":           {},
	"application/json":   {},
	"application/xml":    {},
	"application/yaml":   {},
	"application/x-yaml": {},
}

type Store struct {
	root    string
	maxSize int64
}

// New creates the uploads root if needed. maxSize bounds a single upload.
func New(root string, maxSize int64) (*Store, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve uploads root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create uploads root: %w", err)
	}
	return &Store{root: abs, maxSize: maxSize}, nil
}

func (s *Store) MaxSize() int64 { return s.maxSize }

// SavedFile describes a stored attachment.
type SavedFile struct {
	ID          string
	FileName    string
	MIMEType    string
	Size        int64
	StoragePath string // relative to the uploads root
	TextPreview string
}

// Save writes the upload under <root>/<chatID>/<uuid>_<sanitizedName>.
// declaredSize comes from the request's content length; both it and the
// actual byte count are checked against the limit. Partial writes are removed
// before an error is surfaced.
func (s *Store) Save(chatID, clientName, declaredMIME string, r io.Reader, declaredSize int64) (*SavedFile, error) {
	if declaredSize > s.maxSize {
		return nil, apperr.Validationf("File exceeds maximum allowed size.")
	}

	name := SanitizeFileName(clientName)
	fileID := strings.ReplaceAll(uuid.NewString(), "-", "")
	storedName := fileID + "_" + name

	chatDir := filepath.Join(s.root, chatID)
	if err := os.MkdirAll(chatDir, 0o755); err != nil {
		return nil, apperr.Wrap(apperr.Upload, "upload_failed", "Unable to store file.", err)
	}

	destination := filepath.Join(chatDir, storedName)
	size, err := s.writeFile(destination, r)
	if err != nil {
		removeQuiet(destination)
		return nil, err
	}
	if size == 0 {
		removeQuiet(destination)
		return nil, apperr.Validationf("Uploaded file is empty.")
	}

	mimeType := declaredMIME
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(name))
	}
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	saved := &SavedFile{
		ID:          fileID,
		FileName:    name,
		MIMEType:    mimeType,
		Size:        size,
		StoragePath: filepath.ToSlash(filepath.Join(chatID, storedName)),
	}
	if preview := extractTextPreview(destination, mimeType); preview != "" {
		saved.TextPreview = preview
	}
	return saved, nil
}

func (s *Store) writeFile(destination string, r io.Reader) (int64, error) {
	out, err := os.OpenFile(destination, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, apperr.Wrap(apperr.Upload, "upload_failed", "Unable to store file.", err)
	}

	// One extra byte past the limit is enough to detect oversize streams
	// whose declared length lied.
	size, err := io.Copy(out, io.LimitReader(r, s.maxSize+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.Upload, "upload_failed", "Unable to store file.", err)
	}
	if size > s.maxSize {
		return 0, apperr.Validationf("File exceeds maximum allowed size.")
	}
	return size, nil
}

// Resolve maps a stored relative path to an absolute one, rejecting anything
// that escapes the uploads root. Containment is checked on the canonicalized
// path, not by prefix comparison.
func (s *Store) Resolve(storagePath string) (string, error) {
	candidate := filepath.Join(s.root, filepath.FromSlash(storagePath))
	abs, err := filepath.Abs(candidate)
	if err != nil {
		return "", fmt.Errorf("failed to resolve storage path: %w", err)
	}
	rel, err := filepath.Rel(s.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("storage path %q escapes the uploads root", storagePath)
	}
	return abs, nil
}

// ReadAll loads stored bytes back into memory. Callers are expected to gate
// on the file's recorded size first.
func (s *Store) ReadAll(storagePath string) ([]byte, error) {
	abs, err := s.Resolve(storagePath)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Remove deletes stored bytes, tolerating already-missing files.
func (s *Store) Remove(storagePath string) {
	abs, err := s.Resolve(storagePath)
	if err != nil {
		log.Warn().Err(err).Str("path", storagePath).Msg("refusing to remove file outside uploads root")
		return
	}
	removeQuiet(abs)
}

func removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", path).Msg("failed to remove stored file")
	}
}

// SanitizeFileName reduces a client-supplied name to a filesystem-safe form.
func SanitizeFileName(name string) string {
	name = filepath.Base(filepath.ToSlash(name))
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")
	if name == "" {
		return "upload"
	}
	return name
}

// IsTextualMIME reports whether a preview should be extracted for the type.
func IsTextualMIME(mimeType string) bool {
	base := strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.Index(base, ";"); i >= 0 {
		base = strings.TrimSpace(base[:i])
	}
	if strings.HasPrefix(base, "text/") {
		return true
	}
	_, ok := textualMIMEs[base]
	return ok
}

// extractTextPreview reads up to previewLimit+1 bytes and truncates to the
// limit. Non-textual or unreadable files yield no preview.
func extractTextPreview(path, mimeType string) string {
	if !IsTextualMIME(mimeType) {
		return ""
	}
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	buf := make([]byte, previewLimit+1)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return ""
	}
	snippet := buf[:n]
	if len(snippet) > previewLimit {
		snippet = snippet[:previewLimit]
	}
	return strings.TrimSpace(string(snippet))
}
