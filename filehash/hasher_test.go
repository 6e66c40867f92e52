package filehash

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mediafire/mediafire-go/mferrors"
	"github.com/mediafire/mediafire-go/mfhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, data []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestJobRunSmallFileSingleChunk(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog")
	path := writeTempFile(t, data)

	job, err := NewJob(path)
	require.NoError(t, err)
	assert.Len(t, job.Ranges(), 1)

	result, err := job.Run(context.Background(), mfhttp.DefaultExecutor)
	require.NoError(t, err)

	want := sha256.Sum256(data)
	assert.Equal(t, Digest(want), result.WholeFile)
	require.Len(t, result.Chunks, 1)
	assert.Equal(t, Digest(want), result.Chunks[0])
}

func TestJobRunMultiChunkBoundaries(t *testing.T) {
	chunkSize := baseChunkSize
	data := make([]byte, chunkSize+1234)
	for i := range data {
		data[i] = byte(i)
	}
	path := writeTempFile(t, data)

	job, err := NewJob(path)
	require.NoError(t, err)
	require.Len(t, job.Ranges(), 2)

	result, err := job.Run(context.Background(), mfhttp.DefaultExecutor)
	require.NoError(t, err)

	wantWhole := sha256.Sum256(data)
	assert.Equal(t, Digest(wantWhole), result.WholeFile)

	wantChunk0 := sha256.Sum256(data[:chunkSize])
	wantChunk1 := sha256.Sum256(data[chunkSize:])
	require.Len(t, result.Chunks, 2)
	assert.Equal(t, Digest(wantChunk0), result.Chunks[0])
	assert.Equal(t, Digest(wantChunk1), result.Chunks[1])
}

func TestJobRunDetectsModificationDuringHash(t *testing.T) {
	path := writeTempFile(t, []byte("original contents"))
	job, err := NewJob(path)
	require.NoError(t, err)

	// simulate a concurrent writer changing the file after the job was
	// created but before Run reread it.
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("a completely different, longer payload"), 0o644))

	_, err = job.Run(context.Background(), mfhttp.DefaultExecutor)
	require.Error(t, err)
	assert.Equal(t, mferrors.CodeFileModified, mferrors.CodeOf(err))
}
