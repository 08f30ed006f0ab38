package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeStore struct {
	objects map[string][]byte
	types   map[string]string
	deleted []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, _ := io.ReadAll(r)
	if int64(len(data)) != size {
		return errors.New("size mismatch")
	}
	f.objects[key] = data
	f.types[key] = contentType
	return nil
}

func (f *fakeStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return "https://objects.example.com/" + key + "?sig=1", nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	f.deleted = append(f.deleted, key)
	delete(f.objects, key)
	return nil
}

// Minimal PNG header so content sniffing reports image/png.
var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

func TestSave_StoresUnderOwner(t *testing.T) {
	store := newFakeStore()
	imgs := NewImages(store, discardLogger())

	up, err := imgs.Save(context.Background(), "user-1", "mood.PNG", "image/png", bytes.NewReader(pngBytes))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(up.Ref, "user-1/") || !strings.HasSuffix(up.Ref, ".png") {
		t.Errorf("unexpected ref %q", up.Ref)
	}
	if store.types[up.Ref] != "image/png" {
		t.Errorf("expected image/png, got %q", store.types[up.Ref])
	}
	if !strings.Contains(up.URL, up.Ref) {
		t.Errorf("expected presigned url for ref, got %q", up.URL)
	}
}

func TestSave_Rejects(t *testing.T) {
	imgs := NewImages(newFakeStore(), discardLogger())
	ctx := context.Background()

	if _, err := imgs.Save(ctx, "u", "notes.txt", "text/plain", strings.NewReader("just some text, not an image")); !errors.Is(err, ErrNotImage) {
		t.Errorf("expected ErrNotImage, got %v", err)
	}
	if _, err := imgs.Save(ctx, "u", "a.png", "image/png", bytes.NewReader(nil)); !errors.Is(err, ErrEmptyImage) {
		t.Errorf("expected ErrEmptyImage, got %v", err)
	}
	big := append(append([]byte{}, pngBytes...), make([]byte, MaxImageBytes)...)
	if _, err := imgs.Save(ctx, "u", "a.png", "image/png", bytes.NewReader(big)); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("expected ErrImageTooLarge, got %v", err)
	}
}

func TestSave_TrustsDeclaredTypeForUnsniffableImages(t *testing.T) {
	store := newFakeStore()
	imgs := NewImages(store, discardLogger())
	ctx := context.Background()

	svg := `<svg xmlns="http://www.w3.org/2000/svg" width="4" height="4"><rect width="4" height="4"/></svg>`
	up, err := imgs.Save(ctx, "u", "sketch.svg", "image/svg+xml", strings.NewReader(svg))
	if err != nil {
		t.Fatalf("svg: unexpected error: %v", err)
	}
	if store.types[up.Ref] != "image/svg+xml" || !strings.HasSuffix(up.Ref, ".svg") {
		t.Errorf("expected svg stored as image/svg+xml, got %q %q", up.Ref, store.types[up.Ref])
	}

	heic := append([]byte("\x00\x00\x00\x18ftypheic"), bytes.Repeat([]byte{0}, 32)...)
	up, err = imgs.Save(ctx, "u", "IMG_0001.HEIC", "image/heic", bytes.NewReader(heic))
	if err != nil {
		t.Fatalf("heic: unexpected error: %v", err)
	}
	if store.types[up.Ref] != "image/heic" {
		t.Errorf("expected image/heic, got %q", store.types[up.Ref])
	}
}

func TestSave_DeclaredTypeCannotDisguiseOtherContent(t *testing.T) {
	imgs := NewImages(newFakeStore(), discardLogger())
	ctx := context.Background()

	html := "<!DOCTYPE html><html><body>hi</body></html>"
	if _, err := imgs.Save(ctx, "u", "x.png", "image/png", strings.NewReader(html)); !errors.Is(err, ErrNotImage) {
		t.Errorf("html: expected ErrNotImage, got %v", err)
	}
	pdf := "%PDF-1.7\n1 0 obj"
	if _, err := imgs.Save(ctx, "u", "x.png", "image/png", strings.NewReader(pdf)); !errors.Is(err, ErrNotImage) {
		t.Errorf("pdf: expected ErrNotImage, got %v", err)
	}
	if _, err := imgs.Save(ctx, "u", "notes", "", strings.NewReader("plain words")); !errors.Is(err, ErrNotImage) {
		t.Errorf("undeclared text: expected ErrNotImage, got %v", err)
	}
}

func TestExtension(t *testing.T) {
	cases := []struct{ filename, contentType, want string }{
		{"photo.JPG", "image/jpeg", "jpg"},
		{"", "image/jpeg", "jpg"},
		{"", "image/svg+xml", "svg"},
		{"noext", "image/webp", "webp"},
	}
	for _, c := range cases {
		if got := extension(c.filename, c.contentType); got != c.want {
			t.Errorf("extension(%q, %q): expected %s, got %s", c.filename, c.contentType, c.want, got)
		}
	}
}

func TestRemove(t *testing.T) {
	store := newFakeStore()
	imgs := NewImages(store, discardLogger())
	if err := imgs.Remove(context.Background(), ""); err != nil || len(store.deleted) != 0 {
		t.Error("empty ref should be a no-op")
	}
	if err := imgs.Remove(context.Background(), "u/x.png"); err != nil || len(store.deleted) != 1 {
		t.Errorf("expected delete, got %v %v", err, store.deleted)
	}
}
