package region

import (
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func randBytes(n int) []byte {
	b := make([]byte, n)
	rand.Read(b)
	return b
}

func TestWriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 0, 0)

	chunk1 := randBytes(1024)
	chunk2 := randBytes(1024)
	require.NoError(t, r.WriteChunk(0, 0, chunk1, 111, false))
	require.NoError(t, r.WriteChunk(20, 20, chunk2, 222, false))

	got1, err := r.ReadChunk(0, 0)
	require.NoError(t, err)
	require.Equal(t, chunk1, got1.Data)
	require.EqualValues(t, 111, got1.Timestamp)
	require.False(t, got1.External)

	got2, err := r.ReadChunk(20, 20)
	require.NoError(t, err)
	require.Equal(t, chunk2, got2.Data)
	require.EqualValues(t, 222, got2.Timestamp)
	require.False(t, got2.External)

	empty, err := r.ReadChunk(5, 5)
	require.NoError(t, err)
	require.Nil(t, empty)

	require.ElementsMatch(t, []ChunkPos{{X: 0, Z: 0}, {X: 20, Z: 20}}, r.Occupied())
}

func TestSaveOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.mca")

	r := New(dir, 0, 0)
	chunk := randBytes(2048)
	require.NoError(t, r.WriteChunk(3, 4, chunk, 99, false))
	require.NoError(t, r.Save(path))

	reopened, err := Open(path)
	require.NoError(t, err)
	require.Equal(t, 0, reopened.RegionX())
	require.Equal(t, 0, reopened.RegionZ())

	got, err := reopened.ReadChunk(3, 4)
	require.NoError(t, err)
	require.Equal(t, chunk, got.Data)
	require.EqualValues(t, 99, got.Timestamp)
}

func TestOverflowChunkWritesExternalFile(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, -1, -1)

	// Large enough after zlib that 255 sectors (~1MiB) won't hold it even
	// compressed: use incompressible random data.
	big := randBytes(8 * 1024 * 1024)
	require.NoError(t, r.WriteChunk(0, 0, big, 7, false))

	mccPath := filepath.Join(dir, "c.-32.-32.mcc")
	_, statErr := os.Stat(mccPath)
	require.NoError(t, statErr, "expected external chunk file to exist")

	got, err := r.ReadChunk(0, 0)
	require.NoError(t, err)
	require.Equal(t, big, got.Data)
	require.True(t, got.External)
}

func TestOverflowToInternalTransitionRemovesExternalFile(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, -1, -1)

	big := randBytes(8 * 1024 * 1024)
	require.NoError(t, r.WriteChunk(0, 0, big, 1, false))
	mccPath := filepath.Join(dir, "c.-32.-32.mcc")
	_, err := os.Stat(mccPath)
	require.NoError(t, err)

	written, err := r.ReadChunk(0, 0)
	require.NoError(t, err)
	require.True(t, written.External)

	small := randBytes(64)
	require.NoError(t, r.WriteChunk(0, 0, small, 2, written.External))
	_, err = os.Stat(mccPath)
	require.True(t, os.IsNotExist(err), "external chunk file should have been removed")

	got, err := r.ReadChunk(0, 0)
	require.NoError(t, err)
	require.Equal(t, small, got.Data)
	require.False(t, got.External)
}

func TestInvalidChunkLengthIsRejected(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, 0, 0)
	require.NoError(t, r.WriteChunk(0, 0, []byte("hello"), 1, false))

	// Corrupt the chunk's length field to a value that overruns the buffer:
	// 0x02000001 as a big-endian uint32.
	start := headerSectors * sectorSize
	r.buf[start] = 0x02
	r.buf[start+1] = 0x00
	r.buf[start+2] = 0x00
	r.buf[start+3] = 0x01

	_, err := r.ReadChunk(0, 0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid chunk length")
}

func TestOpenRejectsBadFilename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-a-region.mca")
	require.NoError(t, os.WriteFile(path, make([]byte, headerSectors*sectorSize), 0o644))

	_, err := Open(path)
	require.Error(t, err)
}

func TestOpenRejectsUndersizedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "r.0.0.mca")
	require.NoError(t, os.WriteFile(path, make([]byte, 10), 0o644))

	_, err := Open(path)
	require.Error(t, err)
}
