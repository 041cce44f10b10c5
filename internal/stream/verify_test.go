package stream

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHLSReady(t *testing.T) {
	dir := t.TempDir()
	assert.False(t, hlsReady(dir), "empty dir")

	require.NoError(t, os.WriteFile(PlaylistPath(dir), []byte("#EXTM3U\n#EXT-X-VERSION:3\n"), 0o600))
	assert.False(t, hlsReady(dir), "playlist without segments")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment_00000.ts"), nil, 0o600))
	assert.True(t, hlsReady(dir))
}

func TestHLSReadyRejectsBadMagic(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(PlaylistPath(dir), []byte("not a playlist"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment_00000.ts"), nil, 0o600))
	assert.False(t, hlsReady(dir))
}

func TestVerifyHLSImmediate(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(PlaylistPath(dir), []byte("#EXTM3U\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "segment_00000.ts"), nil, 0o600))

	assert.NoError(t, VerifyHLS(context.Background(), dir, time.Second))
}

func TestVerifyHLSWaitsForLateWriter(t *testing.T) {
	dir := t.TempDir()

	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "segment_00000.ts"), nil, 0o600)
		_ = os.WriteFile(PlaylistPath(dir), []byte("#EXTM3U\n"), 0o600)
	}()

	start := time.Now()
	require.NoError(t, VerifyHLS(context.Background(), dir, 5*time.Second))
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestVerifyHLSTimeout(t *testing.T) {
	dir := t.TempDir()
	err := VerifyHLS(context.Background(), dir, 300*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not ready")
}

func TestVerifyHLSContextCancel(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, VerifyHLS(ctx, dir, time.Minute), context.Canceled)
}
