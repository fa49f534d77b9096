package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FileStore {
	dir, err := os.MkdirTemp("", "corvusforge-artifacts-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	addr, err := s.Put(ctx, []byte("hello world"), "text/plain")
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("hello world"))
	assert.Equal(t, hex.EncodeToString(sum[:]), addr)

	art, err := s.Get(ctx, addr)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), art.Bytes)
	assert.Equal(t, addr, art.ContentAddress)
	assert.Equal(t, "text/plain", art.MediaType)
}

func TestPutIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	addr1, err := s.Put(ctx, []byte("same bytes"), "application/octet-stream")
	require.NoError(t, err)
	addr2, err := s.Put(ctx, []byte("same bytes"), "application/octet-stream")
	require.NoError(t, err)

	assert.Equal(t, addr1, addr2)
}

func TestVerifyDetectsTamperedBytes(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	addr, err := s.Put(ctx, []byte("original"), "text/plain")
	require.NoError(t, err)

	ok, err := s.Verify(ctx, addr)
	require.NoError(t, err)
	assert.True(t, ok)

	path := s.shardPath(addr)
	require.NoError(t, os.WriteFile(path, []byte("tampered"), 0o644))

	ok, err = s.Verify(ctx, addr)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, addr)
	require.Error(t, err)
}

func TestVerifyFalseForMissingArtifact(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	ok, err := s.Verify(ctx, "0000000000000000000000000000000000000000000000000000000000000000"[:64])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetRejectsInvalidAddress(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Get(ctx, "not-hex")
	require.Error(t, err)
}
