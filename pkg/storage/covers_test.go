package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoverKey(t *testing.T) {
	key, err := CoverKey(12, "image/PNG")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "covers/12/"))
	assert.True(t, strings.HasSuffix(key, ".png"))

	_, err = CoverKey(12, "application/pdf")
	assert.ErrorIs(t, err, ErrUnsupportedCover)
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("http://covers.local/")

	require.NoError(t, s.Put(ctx, "covers/1/a.jpg", strings.NewReader("jpeg-bytes"), 10, "image/jpeg"))
	assert.True(t, s.Has("covers/1/a.jpg"))

	u, err := s.PresignGet(ctx, "covers/1/a.jpg", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "http://covers.local/covers/1/a.jpg", u)

	require.NoError(t, s.Delete(ctx, "covers/1/a.jpg"))
	_, err = s.PresignGet(ctx, "covers/1/a.jpg", time.Minute)
	assert.Error(t, err)
}
