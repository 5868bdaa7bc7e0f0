package storage

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalService(t *testing.T) *Service {
	t.Helper()
	backend, err := NewLocalBackend(t.TempDir())
	require.NoError(t, err)
	return NewServiceWithBackend(backend, time.Hour)
}

func TestLocalPutOpenDelete(t *testing.T) {
	ctx := context.Background()
	svc := newLocalService(t)
	key := "u1/audio/abc_song.mp3"

	require.NoError(t, svc.Put(ctx, key, strings.NewReader("hello"), "audio/mpeg"))

	ok, err := svc.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	rc, err := svc.Open(ctx, key)
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	require.NoError(t, svc.Delete(ctx, key))
	ok, err = svc.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalSignURL(t *testing.T) {
	ctx := context.Background()
	svc := newLocalService(t)

	_, err := svc.SignURL(ctx, "missing/file.mp3", 0)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.Put(ctx, "u1/video/clip.mp4", strings.NewReader("x"), "video/mp4"))
	url, err := svc.SignURL(ctx, "u1/video/clip.mp4", time.Minute)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(url, "file://"))
	assert.Contains(t, url, "expires=")
}

func TestOpenMissing(t *testing.T) {
	svc := newLocalService(t)
	_, err := svc.Open(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestInvalidKeys(t *testing.T) {
	svc := newLocalService(t)

	for _, key := range []string{"", "/etc/passwd", "u1/../../escape"} {
		t.Run(key, func(t *testing.T) {
			err := svc.Put(context.Background(), key, strings.NewReader("x"), "audio/mpeg")
			assert.Error(t, err)
		})
	}
}
