package blob

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datalineage/internal/common"
)

const testKey = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func TestFSStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("put get delete", func(t *testing.T) {
		t.Parallel()
		fs := memfs.New()
		s := NewFSStore(fs, CompressionZstd)

		loc, created, err := s.Put(ctx, testKey, []byte("a,b\n1,2\n"))
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, "fs://e3/b0/"+testKey, loc)
		assert.Equal(t, SchemeFS, Scheme(loc))

		_, err = fs.Stat("e3/b0/" + testKey)
		assert.NoError(t, err)

		got, err := s.Get(ctx, loc)
		require.NoError(t, err)
		assert.Equal(t, "a,b\n1,2\n", string(got))

		require.NoError(t, s.Delete(ctx, loc))
		_, err = s.Get(ctx, loc)
		assert.ErrorIs(t, err, common.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, loc), common.ErrNotFound)
	})

	t.Run("put never overwrites", func(t *testing.T) {
		t.Parallel()
		s := NewFSStore(memfs.New(), CompressionNone)
		loc1, created, err := s.Put(ctx, testKey, []byte("first"))
		require.NoError(t, err)
		require.True(t, created)

		loc2, created, err := s.Put(ctx, testKey, []byte("second"))
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, loc1, loc2)

		got, err := s.Get(ctx, loc1)
		require.NoError(t, err)
		assert.Equal(t, "first", string(got))
	})

	t.Run("rejects foreign locations", func(t *testing.T) {
		t.Parallel()
		s := NewFSStore(memfs.New(), CompressionNone)
		_, err := s.Get(ctx, "gs://bucket/e3/b0/"+testKey)
		assert.ErrorIs(t, err, common.ErrValidation)
		_, err = s.Get(ctx, "no-scheme")
		assert.ErrorIs(t, err, common.ErrValidation)
		_, _, err = s.Put(ctx, "", []byte("x"))
		assert.ErrorIs(t, err, common.ErrValidation)
	})

	t.Run("on disk", func(t *testing.T) {
		t.Parallel()
		s, err := OpenFSStore(t.TempDir(), CompressionLZ4)
		require.NoError(t, err)
		loc, _, err := s.Put(ctx, testKey, []byte("hello hello hello hello hello"))
		require.NoError(t, err)
		got, err := s.Get(ctx, loc)
		require.NoError(t, err)
		assert.Equal(t, "hello hello hello hello hello", string(got))
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, _, err := NewFSStore(memfs.New(), CompressionNone).Put(cctx, testKey, []byte("x"))
		assert.ErrorIs(t, err, context.Canceled)
	})
}
