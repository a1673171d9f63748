package services

import (
	"bytes"
	"context"
	"image/png"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slotter-org/ollama-chat-backend/internal/logger"
	"github.com/slotter-org/ollama-chat-backend/internal/types"
)

func TestProjectInitials(t *testing.T) {
	cases := map[string]string{
		"research notes":   "RN",
		"  go   lang  web ": "GL",
		"solo":             "S",
		"#1 priority":      "1P",
		"":                 "?",
		"!!! ???":          "?",
		"élan vital":       "ÉV",
	}
	for in, want := range cases {
		assert.Equal(t, want, projectInitials(in), "input %q", in)
	}
}

func TestAvatarColorIsStable(t *testing.T) {
	id := uuid.NewString()
	assert.Equal(t, avatarColor(id), avatarColor(id))
	assert.Contains(t, avatarColors, avatarColor(id))
}

func TestGenerateProjectAvatar(t *testing.T) {
	svc, err := NewAvatarService(logger.NewNop(), noopBucketService{})
	require.NoError(t, err)
	project := &types.Project{ID: uuid.New(), Name: "Weather Bot"}

	for _, size := range []int{0, 48, 512, 9000} {
		out, err := svc.GenerateProjectAvatar(project, size)
		require.NoError(t, err)
		img, err := png.Decode(bytes.NewReader(out))
		require.NoError(t, err)

		want := size
		if size <= 0 || size > avatarCanvasSize {
			want = AvatarDefaultSize
		}
		assert.Equal(t, want, img.Bounds().Dx())
		assert.Equal(t, want, img.Bounds().Dy())
	}
}

func TestCreateAndUploadSkipsDisabledBucket(t *testing.T) {
	svc, err := NewAvatarService(logger.NewNop(), noopBucketService{})
	require.NoError(t, err)
	project := &types.Project{ID: uuid.New(), Name: "x"}

	require.NoError(t, svc.CreateAndUploadProjectAvatar(context.Background(), project))
	assert.Empty(t, project.AvatarBucketKey)
}
