package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxImageBytes caps an inspiration image upload.
const MaxImageBytes = 5 << 20

const presignExpiry = 24 * time.Hour

var (
	ErrNotImage      = errors.New("file must be an image")
	ErrImageTooLarge = errors.New("image must be under 5MB")
	ErrEmptyImage    = errors.New("image is empty")
)

// Upload is a stored image: Ref is persisted on the story, URL is a
// short-lived link for display.
type Upload struct {
	Ref string `json:"ref"`
	URL string `json:"url"`
}

type Images struct {
	store  ObjectStore
	logger *slog.Logger
}

func NewImages(store ObjectStore, logger *slog.Logger) *Images {
	return &Images{store: store, logger: logger}
}

// Save validates and stores an image under <owner>/<uuid>.<ext>. The
// declared type is the client's Content-Type for the file; it is trusted only
// for image formats content sniffing cannot name, such as SVG and HEIC.
func (s *Images) Save(ctx context.Context, owner, filename, declaredType string, r io.Reader) (*Upload, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return nil, ErrEmptyImage
	}
	if len(data) > MaxImageBytes {
		return nil, ErrImageTooLarge
	}

	contentType, err := imageType(data, declaredType)
	if err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s.%s", owner, uuid.NewString(), extension(filename, contentType))
	if err := s.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return nil, err
	}
	s.logger.Info("stored inspiration image", "key", key, "bytes", len(data), "content_type", contentType)

	url, err := s.store.PresignGet(ctx, key, presignExpiry)
	if err != nil {
		return nil, err
	}
	return &Upload{Ref: key, URL: url}, nil
}

// URL returns a display link for a stored ref, or "" when ref is empty.
func (s *Images) URL(ctx context.Context, ref string) (string, error) {
	if ref == "" {
		return "", nil
	}
	return s.store.PresignGet(ctx, ref, presignExpiry)
}

// Remove deletes a previously stored image.
func (s *Images) Remove(ctx context.Context, ref string) error {
	if ref == "" {
		return nil
	}
	return s.store.Delete(ctx, ref)
}

// sniffUnknown are the types DetectContentType reports for image formats it
// has no signature for.
var sniffUnknown = map[string]bool{
	"application/octet-stream":  true,
	"text/plain; charset=utf-8": true,
	"text/xml; charset=utf-8":   true,
}

func imageType(data []byte, declared string) (string, error) {
	detected := http.DetectContentType(data)
	if strings.HasPrefix(detected, "image/") {
		return detected, nil
	}
	if sniffUnknown[detected] {
		if mt, _, err := mime.ParseMediaType(declared); err == nil && strings.HasPrefix(mt, "image/") {
			return mt, nil
		}
	}
	return "", fmt.Errorf("%w: detected %s", ErrNotImage, detected)
}

func extension(filename, contentType string) string {
	if ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), "."); ext != "" && len(ext) <= 5 {
		return ext
	}
	if sub := strings.TrimPrefix(contentType, "image/"); sub != "" {
		if i := strings.IndexAny(sub, "+;"); i >= 0 {
			sub = sub[:i]
		}
		if sub == "jpeg" {
			return "jpg"
		}
		return sub
	}
	return "png"
}
