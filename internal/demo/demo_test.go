package demo

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusdb/storecore/internal/storage/journal"
	"github.com/nimbusdb/storecore/pkg/storecore"
)

func journalOpen(t *testing.T, path string, rt *RowTable) (*journal.Journal, storecore.ReaderState, error) {
	t.Helper()
	return journal.Open(path, true, HandleRows(rt), time.Now())
}

func openList(t *testing.T, path string, gs *GlobalState) (*journal.Journal, storecore.ReaderState, error) {
	t.Helper()
	return journal.Open(path, true, Handle(gs), time.Now())
}

func TestRowBatchRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j")
	rt := NewRowTable()
	j, _, err := journalOpen(t, path, rt)
	require.NoError(t, err)

	_, err = CommitRows(j, []RowOp{
		{Kind: RowInsert, Key: "a", Value: "1"},
		{Kind: RowInsert, Key: "b", Value: "2"},
		{Kind: RowUpdate, Key: "a", Value: "3"},
		{Kind: RowDelete, Key: "b"},
	})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	replayed := NewRowTable()
	j2, _, err := journalOpen(t, path, replayed)
	require.NoError(t, err)
	defer j2.Close()

	assert.Equal(t, map[string]string{"a": "3"}, replayed.Snapshot())
	stats := j2.Stats()
	assert.Equal(t, uint64(4), stats.ServerEventCount)
	assert.Equal(t, uint64(2), stats.RedundantRecordCount, "the update and the delete are redundant records")
}

func TestSnapshotReplacesTableAndResetsRedundancy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j")
	rt := NewRowTable()
	j, _, err := journalOpen(t, path, rt)
	require.NoError(t, err)

	_, err = CommitRows(j, []RowOp{
		{Kind: RowInsert, Key: "a", Value: "1"},
		{Kind: RowUpdate, Key: "a", Value: "2"},
		{Kind: RowInsert, Key: "stale", Value: "x"},
	})
	require.NoError(t, err)

	_, err = CommitSnapshot(j, map[string]string{"a": "2", "c": "9"})
	require.NoError(t, err)

	_, err = CommitRows(j, []RowOp{{Kind: RowInsert, Key: "d", Value: "4"}})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	replayed := NewRowTable()
	j2, _, err := journalOpen(t, path, replayed)
	require.NoError(t, err)
	defer j2.Close()

	assert.Equal(t, map[string]string{"a": "2", "c": "9", "d": "4"}, replayed.Snapshot(),
		"the snapshot replaces everything logged before it, including rows it omits")
	stats := j2.Stats()
	assert.Equal(t, uint64(0), stats.RedundantRecordCount,
		"pre-snapshot updates no longer count toward the redundancy trigger")
}

func TestPushPopReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j")
	gs := &GlobalState{}
	j, _, err := openList(t, path, gs)
	require.NoError(t, err)

	for _, item := range []string{"x", "y", "z"} {
		_, err := Push(j, item)
		require.NoError(t, err)
	}
	_, err = Pop(j)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	replayed := &GlobalState{}
	j2, _, err := openList(t, path, replayed)
	require.NoError(t, err)
	defer j2.Close()

	assert.Equal(t, []string{"x", "y"}, replayed.Snapshot())
}
