package assetstore

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	meta := filepath.Join(dir, "main.db")
	chunks := []string{
		filepath.Join(dir, "chunk0.db"),
		filepath.Join(dir, "chunk1.db"),
	}
	store, err := New(meta, chunks)
	require.NoError(t, err)
	return store
}

func TestStore_InsertAndReadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	data := []byte("hello world chunked data")

	meta, err := store.InsertBytes("asset.bin", "", 4, data)
	require.NoError(t, err)

	sum := sha256.Sum256(data)
	wantChecksum := hex.EncodeToString(sum[:])

	assert.Equal(t, int64(len(data)), meta.Size)
	require.NotNil(t, meta.Checksum)
	assert.Equal(t, wantChecksum, *meta.Checksum)
	assert.True(t, meta.Valid)
	assert.EqualValues(t, expectedChunkCount(meta.Size, meta.ChunkSize), len(meta.Chunks))

	combined, err := store.ReadBytes(meta.ID)
	require.NoError(t, err)
	assert.Equal(t, data, combined)
}

func TestStore_InsertFile_RecordsRawFilePath(t *testing.T) {
	store := newTestStore(t)
	dir := t.TempDir()
	filePath := filepath.Join(dir, "asset.bin")
	data := []byte("some file contents used for the chunked asset store test")
	require.NoError(t, os.WriteFile(filePath, data, 0o644))

	meta, err := store.InsertFile("asset.bin", "", 8, filePath)
	require.NoError(t, err)
	require.NotNil(t, meta.RawFilePath)
	assert.Equal(t, filePath, *meta.RawFilePath)

	fetched, err := store.GetMetadata(meta.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched.RawFilePath)
	assert.Equal(t, filePath, *fetched.RawFilePath)
}

func TestStore_MimeTypeDefaultsWhenUndetectable(t *testing.T) {
	store := newTestStore(t)
	data := []byte{0x00, 0x01, 0x02, 0x03}

	meta, err := store.InsertBytes("", "", 2, data)
	require.NoError(t, err)
	require.NotNil(t, meta.MimeType)
	assert.NotEmpty(t, *meta.MimeType)
}

func TestStore_ReadBytes_ChecksumMismatchIsRejected(t *testing.T) {
	store := newTestStore(t)
	data := []byte("checksum integrity check payload")

	meta, err := store.InsertBytes("", "", 4, data)
	require.NoError(t, err)

	metaDB, err := openMetadataDB(store.metaPath)
	require.NoError(t, err)
	_, err = metaDB.Exec(`UPDATE assets SET checksum = ? WHERE id = ?`, "0000000000000000000000000000000000000000000000000000000000000000", meta.ID)
	require.NoError(t, err)
	metaDB.Close()

	_, err = store.ReadBytes(meta.ID)
	assert.Error(t, err)
}

func TestStore_Delete_RemovesMetadataAndChunks(t *testing.T) {
	store := newTestStore(t)
	meta, err := store.InsertBytes("", "", 4, []byte("some bytes to delete later"))
	require.NoError(t, err)

	require.NoError(t, store.Delete(meta.ID))

	_, err = store.GetMetadata(meta.ID)
	assert.Error(t, err)
}
