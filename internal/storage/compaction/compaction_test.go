package compaction

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusdb/storecore/internal/storage/eventlog"
	"github.com/nimbusdb/storecore/internal/storage/journal"
)

const tagPut uint64 = 1

func dispatchOverMap(state map[string]string) eventlog.Dispatch {
	return eventlog.Dispatch{
		tagPut: func(s interface{}, payload []byte) (bool, error) {
			m := s.(map[string]string)
			_, existed := m[string(payload)]
			m[string(payload)] = string(payload)
			return existed, nil
		},
	}
}

func TestCompactRewritesToMinimalLog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j")
	state := make(map[string]string)
	j, _, err := journal.Open(path, true, eventlog.Apply(state, dispatchOverMap(state)), time.Now())
	require.NoError(t, err)

	for _, k := range []string{"a", "b", "a", "c"} {
		_, err := eventlog.Commit(j, tagPut, []byte(k))
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	// Compaction always runs against a journal that was Open()ed against
	// its on-disk contents, so state is rebuilt from the replay before
	// rewrite walks it.
	reopenState := make(map[string]string)
	jReopen, _, err := journal.Open(path, true, eventlog.Apply(reopenState, dispatchOverMap(reopenState)), time.Now())
	require.NoError(t, err)

	now := time.Now()
	rebuilt := make(map[string]string)
	compacted, _, err := Compact(path, true, jReopen, now, func(sibling *journal.Journal) error {
		return eventlog.Rewrite(sibling, func(emit func(tag uint64, payload []byte) error) error {
			for k := range reopenState {
				if err := emit(tagPut, []byte(k)); err != nil {
					return err
				}
			}
			return nil
		})
	}, eventlog.Apply(rebuilt, dispatchOverMap(rebuilt)))
	require.NoError(t, err)

	stats := compacted.Stats()
	assert.Equal(t, uint64(3), stats.ServerEventCount)
	assert.Equal(t, uint64(0), stats.RedundantRecordCount, "a fresh canonical rewrite has no redundant records")
	require.NoError(t, compacted.Close())

	replayed := make(map[string]string)
	j2, _, err := journal.Open(path, true, eventlog.Apply(replayed, dispatchOverMap(replayed)), time.Now())
	require.NoError(t, err)
	defer j2.Close()
	assert.Equal(t, map[string]string{"a": "a", "b": "b", "c": "c"}, replayed)
}
