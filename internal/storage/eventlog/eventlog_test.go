package eventlog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusdb/storecore/internal/storage/header"
	"github.com/nimbusdb/storecore/internal/storage/journal"
	"github.com/nimbusdb/storecore/pkg/storecore"
)

const (
	tagPut uint64 = 1
	tagDel uint64 = 2
)

func dispatchOverMap(state map[string]string) Dispatch {
	return Dispatch{
		tagPut: func(s interface{}, payload []byte) (bool, error) {
			m := s.(map[string]string)
			_, existed := m[string(payload)]
			m[string(payload)] = string(payload)
			return existed, nil
		},
		tagDel: func(s interface{}, payload []byte) (bool, error) {
			m := s.(map[string]string)
			delete(m, string(payload))
			return true, nil
		},
	}
}

func TestCommitAndApplyRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j")
	state := make(map[string]string)
	j, _, err := journal.Open(path, true, Apply(state, dispatchOverMap(state)), time.Now())
	require.NoError(t, err)

	_, err = Commit(j, tagPut, []byte("a"))
	require.NoError(t, err)
	_, err = Commit(j, tagPut, []byte("b"))
	require.NoError(t, err)
	_, err = Commit(j, tagDel, []byte("a"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	replayed := make(map[string]string)
	j2, _, err := journal.Open(path, true, Apply(replayed, dispatchOverMap(replayed)), time.Now())
	require.NoError(t, err)
	defer j2.Close()

	assert.Equal(t, map[string]string{"b": "b"}, replayed)
	stats := j2.Stats()
	assert.Equal(t, uint64(3), stats.ServerEventCount)
	assert.Equal(t, uint64(1), stats.RedundantRecordCount)
}

func TestApplyRejectsUnknownTag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j")
	state := make(map[string]string)
	j, _, err := journal.Open(path, true, Apply(state, dispatchOverMap(state)), time.Now())
	require.NoError(t, err)

	_, err = Commit(j, 99, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	replayed := make(map[string]string)
	_, _, err = journal.Open(path, true, Apply(replayed, dispatchOverMap(replayed)), time.Now())
	require.Error(t, err)
	assert.True(t, storecore.IsRecoverable(err))
}

func TestApplyDetectsPayloadCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j")
	state := make(map[string]string)
	j, _, err := journal.Open(path, true, Apply(state, dispatchOverMap(state)), time.Now())
	require.NoError(t, err)

	_, err = Commit(j, tagPut, []byte("a"))
	require.NoError(t, err)
	require.NoError(t, j.Close())

	// Flip the payload's first byte: 16-byte event header, then 8-byte
	// record checksum, then 8-byte payload_len, then the payload itself.
	payloadOffset := int64(header.Size) + 16 + 8 + 8
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	_, err = f.Seek(payloadOffset, os.SEEK_SET)
	require.NoError(t, err)
	var b [1]byte
	_, err = f.Read(b[:])
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.Seek(payloadOffset, os.SEEK_SET)
	require.NoError(t, err)
	_, err = f.Write(b[:])
	require.NoError(t, err)
	f.Close()

	replayed := make(map[string]string)
	_, _, err = journal.Open(path, true, Apply(replayed, dispatchOverMap(replayed)), time.Now())
	require.Error(t, err)
	assert.True(t, storecore.IsRecoverable(err))
}

func TestRewriteProducesMinimalLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j")
	state := make(map[string]string)
	j, _, err := journal.Open(path, true, Apply(state, dispatchOverMap(state)), time.Now())
	require.NoError(t, err)

	for _, k := range []string{"a", "b", "c"} {
		_, err := Commit(j, tagPut, []byte(k))
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	// Rewrite walks in-memory state, which is only populated by a replay,
	// so reopen before exercising it.
	reopenState := make(map[string]string)
	jReopen, _, err := journal.Open(path, true, Apply(reopenState, dispatchOverMap(reopenState)), time.Now())
	require.NoError(t, err)

	var emitted [][]byte
	err = Rewrite(jReopen, func(emit func(tag uint64, payload []byte) error) error {
		for k := range reopenState {
			emitted = append(emitted, []byte(k))
			if err := emit(tagPut, []byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, emitted, 3)
	require.NoError(t, jReopen.Close())
}
