package admin

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusdb/storecore/internal/demo"
	"github.com/nimbusdb/storecore/internal/storage/journal"
)

func TestDiscoverJournalsSkipsDirsAndCompactionLeftovers(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "global.journal"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model-a.journal"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model-a.journal-compacted"), nil, 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))

	paths, err := DiscoverJournals(dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(dir, "global.journal"),
		filepath.Join(dir, "model-a.journal"),
	}, paths)
}

func buildListJournal(t *testing.T, dir, name string, items int, truncateBy int64) string {
	t.Helper()
	path := filepath.Join(dir, name)
	gs := &demo.GlobalState{}
	j, _, err := journal.Open(path, true, demo.Handle(gs), time.Now())
	require.NoError(t, err)
	for i := 0; i < items; i++ {
		_, err := demo.Push(j, name)
		require.NoError(t, err)
	}
	require.NoError(t, j.Close())

	if truncateBy > 0 {
		info, err := os.Stat(path)
		require.NoError(t, err)
		require.NoError(t, os.Truncate(path, info.Size()-truncateBy))
	}
	return path
}

func TestSweepRepairReportsPerFileOutcomes(t *testing.T) {
	dir := t.TempDir()
	healthy := buildListJournal(t, dir, "healthy", 3, 0)
	damaged := buildListJournal(t, dir, "damaged", 3, 1)

	gs := &demo.GlobalState{}
	results := SweepRepair([]string{healthy, damaged}, 2, demo.Handle(gs))
	require.Len(t, results, 2)

	byPath := map[string]RepairResult{}
	for _, r := range results {
		byPath[r.Path] = r
	}

	require.NoError(t, byPath[healthy].Err)
	assert.True(t, byPath[healthy].Outcome.NoErrors)

	require.NoError(t, byPath[damaged].Err)
	assert.False(t, byPath[damaged].Outcome.NoErrors)
	assert.Equal(t, uint64(journal.DriverEventSize-1), byPath[damaged].Outcome.LostBytes)

	// Both files must reopen cleanly after the sweep.
	for _, p := range []string{healthy, damaged} {
		replay := &demo.GlobalState{}
		j, _, err := journal.Open(p, true, demo.Handle(replay), time.Now())
		require.NoError(t, err)
		require.NoError(t, j.Close())
		assert.Equal(t, 3, replay.Len())
	}
}

func TestSweepCompactForceRewritesEveryJournal(t *testing.T) {
	dir := t.TempDir()
	path := buildListJournal(t, dir, "j", 5, 0)

	gs := &demo.GlobalState{}
	results := SweepCompact(
		[]string{path}, 1, true, true, 1<<20,
		demo.Handle(gs), demo.Rewrite(gs), time.Now(),
	)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.True(t, results[0].Compacted)

	replay := &demo.GlobalState{}
	j, _, err := journal.Open(path, true, demo.Handle(replay), time.Now())
	require.NoError(t, err)
	defer j.Close()
	assert.Equal(t, 5, replay.Len())
}

func TestSweepCompactSkipsHealthySmallJournalWithoutForce(t *testing.T) {
	dir := t.TempDir()
	path := buildListJournal(t, dir, "j", 2, 0)

	gs := &demo.GlobalState{}
	results := SweepCompact(
		[]string{path}, 1, false, true, 1<<20,
		demo.Handle(gs), demo.Rewrite(gs), time.Now(),
	)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)
	assert.False(t, results[0].Compacted, "a small healthy journal is below every trigger")
}
