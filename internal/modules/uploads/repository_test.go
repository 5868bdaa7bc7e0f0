package uploads

import (
	"context"
	"testing"

	"github.com/scribe/backend/internal/modules/media"
	"github.com/scribe/backend/internal/shared/docstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMediaType(t *testing.T) {
	mt, err := ParseMediaType("video")
	require.NoError(t, err)
	assert.Equal(t, media.MediaVideo, mt)

	for _, bad := range []string{"", "image", "Audio", "audio_files"} {
		_, err := ParseMediaType(bad)
		assert.ErrorIs(t, err, ErrInvalidMediaType, bad)
	}
}

func TestFilePath(t *testing.T) {
	assert.Equal(t, "uploads/u1/video_files/f1", FilePath("u1", media.MediaVideo, "f1"))
	assert.Equal(t, "uploads/u1/audio_files", FilesParent("u1", media.MediaAudio))
}

func TestRepositoryUpdateMissing(t *testing.T) {
	repo := NewRepository(docstore.NewMemoryStore())

	err := repo.Update(context.Background(), "u1", media.MediaAudio, "missing", map[string]any{"text_id": "t"})
	assert.ErrorIs(t, err, ErrFileNotFound)
}

func TestRepositoryCreateAssignsID(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(docstore.NewMemoryStore())

	rec := &FileRecord{UserID: "u1", MediaType: media.MediaAudio, Filename: "x_a.mp3"}
	require.NoError(t, repo.Create(ctx, rec))
	require.NotEmpty(t, rec.ID)

	require.NoError(t, repo.Update(ctx, "u1", media.MediaAudio, rec.ID, map[string]any{"text_id": "text_1"}))

	got, err := repo.Get(ctx, "u1", media.MediaAudio, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, "text_1", got.TextID)
	assert.Equal(t, "x_a.mp3", got.Filename)
}
