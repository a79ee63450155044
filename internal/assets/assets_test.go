package assets

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heybooks/heybooks-sync/internal/domain"
	domainerrors "github.com/heybooks/heybooks-sync/internal/errors"
	"github.com/heybooks/heybooks-sync/internal/logger"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func setupStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), "http://localhost:8080/")
	require.NoError(t, err)
	return s
}

type brokenStore struct{ Store }

func (brokenStore) Put(context.Context, Path, []byte, string) (string, error) {
	return "", errors.New("bucket unavailable")
}

func (brokenStore) Delete(context.Context, Path) error {
	return errors.New("bucket unavailable")
}

var ada = domain.Identity{UserID: "u1"}

func TestPaths(t *testing.T) {
	assert.Equal(t, "u1/profilePicture/me.png", ProfilePicturePath(ada, "me.png").String())
	assert.Equal(t, "u1/bookPictures/dune.jpg", BookPicturePath(ada, "Dune.JPG").String())

	p, err := ParsePath("u1/bookPictures/dune.jpg")
	require.NoError(t, err)
	assert.Equal(t, Path{OwnerID: "u1", Category: CategoryBookPicture, FileName: "dune.jpg"}, p)

	for _, bad := range []string{"u1/covers/x.jpg", "u1/bookPictures", "../bookPictures/x.jpg", "u1/bookPictures/x/y.jpg"} {
		_, err := ParsePath(bad)
		assert.Error(t, err, bad)
	}
}

func TestSanitizeFileName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Dune Cover.JPG", "dune-cover.jpg"},
		{"../../etc/passwd", "passwd"},
		{`C:\Users\ada\Pictures\Café.png`, "cafe.png"},
		{"  spaced  .png", "spaced-.png"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeFileName(tt.in))
		})
	}

	generated := SanitizeFileName("日本")
	assert.Len(t, generated, 36, "non-ascii names fall back to a uuid")
}

func TestFileStore_PutGetDelete(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()
	p := BookPicturePath(ada, "dune.jpg")

	url, err := s.Put(ctx, p, []byte("img"), ContentTypeJPEG)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/assets/u1/bookPictures/dune.jpg", url)

	back, ok := s.PathOf(url)
	require.True(t, ok)
	assert.Equal(t, p, back)

	data, err := s.Get(p)
	require.NoError(t, err)
	assert.Equal(t, []byte("img"), data)

	assert.Len(t, ETag(data), 66)

	require.NoError(t, s.Delete(ctx, p))
	require.NoError(t, s.Delete(ctx, p), "deleting twice succeeds")
	_, err = s.Get(p)
	assert.ErrorIs(t, err, domainerrors.ErrNotFound)
}

func TestFileStore_PathOfForeignURL(t *testing.T) {
	s := setupStore(t)
	_, ok := s.PathOf("https://elsewhere.example/u1/bookPictures/x.jpg")
	assert.False(t, ok)
}

func TestNormalizer(t *testing.T) {
	n := NewNormalizer(64, 80)

	out, err := n.Normalize(pngBytes(t, 200, 100))
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 64, cfg.Width)
	assert.Equal(t, 32, cfg.Height)

	var small bytes.Buffer
	require.NoError(t, jpeg.Encode(&small, image.NewRGBA(image.Rect(0, 0, 10, 10)), nil))
	same, err := n.Normalize(small.Bytes())
	require.NoError(t, err)
	assert.Equal(t, small.Bytes(), same, "small jpegs pass through")

	_, err = n.Normalize([]byte("not an image"))
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestFit(t *testing.T) {
	w, h := fit(100, 400, 50)
	assert.Equal(t, 12, w)
	assert.Equal(t, 50, h)

	w, h = fit(10, 10, 50)
	assert.Equal(t, 10, w)
	assert.Equal(t, 10, h)
}

func TestRelocator_Upload(t *testing.T) {
	s := setupStore(t)
	r := NewRelocator(s, NewNormalizer(64, 85), logger.Discard())

	url, err := r.Upload(context.Background(), bytes.NewReader(pngBytes(t, 20, 20)), BookPicturePath(ada, "cover.png"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(url, "/u1/bookPictures/cover.jpg"))

	p, ok := r.Owned(url, "u1")
	require.True(t, ok)
	_, err = s.Get(p)
	assert.NoError(t, err)

	_, ok = r.Owned(url, "u2")
	assert.False(t, ok)
	_, ok = r.Owned("", "u1")
	assert.False(t, ok)
}

func TestRelocator_Failures(t *testing.T) {
	r := NewRelocator(brokenStore{}, nil, logger.Discard())
	ctx := context.Background()

	_, err := r.Upload(ctx, strings.NewReader("bytes"), ProfilePicturePath(ada, "me.jpg"))
	assert.ErrorIs(t, err, domainerrors.ErrUploadFailed)

	err = r.Delete(ctx, ProfilePicturePath(ada, "me.jpg"))
	assert.ErrorIs(t, err, domainerrors.ErrDeleteFailed)

	_, err = r.Upload(ctx, strings.NewReader(""), ProfilePicturePath(ada, "me.jpg"))
	assert.ErrorIs(t, err, domainerrors.ErrValidation)

	_, err = r.Upload(ctx, strings.NewReader("x"), Path{OwnerID: "u1", Category: "covers", FileName: "x"})
	assert.ErrorIs(t, err, domainerrors.ErrValidation)
}

func TestPlaceholder(t *testing.T) {
	small, err := Placeholder(pngBytes(t, 20, 30))
	require.NoError(t, err)
	assert.NotEmpty(t, small)

	// Large images are shrunk first and hash to the same length.
	large, err := Placeholder(pngBytes(t, 600, 900))
	require.NoError(t, err)
	assert.Len(t, large, len(small))

	_, err = Placeholder([]byte("not an image"))
	assert.Error(t, err)
}
