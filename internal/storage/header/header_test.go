package header

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusdb/storecore/pkg/storecore"
)

func openTemp(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	require.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestWriteThenRead(t *testing.T) {
	f := openTemp(t)
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	written, err := Write(f, now)
	require.NoError(t, err)
	assert.Equal(t, Version, written.Version)
	assert.Equal(t, now.UnixMilli(), written.CreatedAt)

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(Size), info.Size())

	_, err = f.Seek(0, os.SEEK_SET)
	require.NoError(t, err)

	read, err := Read(f)
	require.NoError(t, err)
	assert.Equal(t, written, read)
}

func TestReadRejectsBadMagic(t *testing.T) {
	f := openTemp(t)
	buf := make([]byte, Size)
	copy(buf, "NOTAMAGIC")
	_, err := f.Write(buf)
	require.NoError(t, err)
	_, err = f.Seek(0, os.SEEK_SET)
	require.NoError(t, err)

	_, err = Read(f)
	require.Error(t, err)
	var je *storecore.JournalError
	require.ErrorAs(t, err, &je)
	assert.Equal(t, storecore.KindHeaderCorrupted, je.Kind)
}

func TestReadRejectsNewerVersion(t *testing.T) {
	f := openTemp(t)
	_, err := Write(f, time.Now())
	require.NoError(t, err)

	_, err = f.Seek(8, os.SEEK_SET)
	require.NoError(t, err)
	var newerVersion [2]byte
	newerVersion[0] = byte(Version + 1)
	_, err = f.Write(newerVersion[:])
	require.NoError(t, err)

	_, err = f.Seek(0, os.SEEK_SET)
	require.NoError(t, err)
	_, err = Read(f)
	require.Error(t, err)
	var je *storecore.JournalError
	require.ErrorAs(t, err, &je)
	assert.Equal(t, storecore.KindUpgradeFailureFileIsNewer, je.Kind)
}

func TestReadRejectsTruncatedHeader(t *testing.T) {
	f := openTemp(t)
	_, err := f.Write(make([]byte, 10))
	require.NoError(t, err)
	_, err = f.Seek(0, os.SEEK_SET)
	require.NoError(t, err)

	_, err = Read(f)
	require.Error(t, err)
	var je *storecore.JournalError
	require.ErrorAs(t, err, &je)
	assert.Equal(t, storecore.KindHeaderCorrupted, je.Kind)
}
