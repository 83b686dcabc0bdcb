// ============================================================================
// Administrative Sweeps
// ============================================================================
//
// Package: internal/admin
// File: sweep.go
// Purpose: Drive repair and compaction across every journal in a data
// directory, concurrently via Pool. This is what backs the journalctl
// repair and compact commands.
//
// ============================================================================

package admin

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/nimbusdb/storecore/internal/storage/compaction"
	"github.com/nimbusdb/storecore/internal/storage/journal"
	"github.com/nimbusdb/storecore/internal/storage/repair"
	"github.com/nimbusdb/storecore/pkg/storecore"
)

// RepairResult is one journal's repair outcome.
type RepairResult struct {
	Path    string
	Outcome storecore.RepairOutcome
	Err     error
}

// CompactResult is one journal's compaction outcome.
type CompactResult struct {
	Path      string
	Compacted bool // false if the file was skipped (recommendation was NoActionNeeded) unless force
	Stats     storecore.Stats
	Err       error
}

// DiscoverJournals lists every regular file directly inside dir, which
// is treated as the data directory's set of journals. It does not
// recurse and skips the compaction sibling suffix so an interrupted
// compaction's leftovers aren't mistaken for a live journal.
func DiscoverJournals(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(name, "-compacted") {
			continue
		}
		paths = append(paths, filepath.Join(dir, name))
	}
	return paths, nil
}

// SweepRepair runs repair.Repair against every path in paths, at most
// concurrency at a time, using handle to replay whatever is salvageable.
func SweepRepair(paths []string, concurrency int, handle journal.EventHandler) []RepairResult {
	results := make([]RepairResult, len(paths))
	jobs := make([]func() error, len(paths))
	for i, p := range paths {
		i, p := i, p
		jobs[i] = func() error {
			outcome, err := repair.Repair(p, storecore.RepairSimple, handle)
			results[i] = RepairResult{Path: p, Outcome: outcome, Err: err}
			return err
		}
	}
	NewPool(concurrency).Run(jobs)
	return results
}

// SweepCompact opens every path in paths, and compacts it if force is
// true or its recommendation is not NoActionNeeded, at most concurrency
// at a time.
func SweepCompact(
	paths []string,
	concurrency int,
	force bool,
	autoSync bool,
	minFileSize uint64,
	handle journal.EventHandler,
	rewrite func(sibling *journal.Journal) error,
	now time.Time,
) []CompactResult {
	results := make([]CompactResult, len(paths))
	jobs := make([]func() error, len(paths))
	for i, p := range paths {
		i, p := i, p
		jobs[i] = func() error {
			j, _, err := journal.Open(p, autoSync, handle, now)
			if err != nil {
				results[i] = CompactResult{Path: p, Err: err}
				return err
			}
			stats := j.Stats()
			recommendation := stats.Recommend(minFileSize)
			if !force && recommendation == storecore.NoActionNeeded {
				j.Close()
				results[i] = CompactResult{Path: p, Compacted: false, Stats: stats}
				return nil
			}

			compacted, _, err := compaction.Compact(p, autoSync, j, now, rewrite, handle)
			if err != nil {
				results[i] = CompactResult{Path: p, Err: err}
				return err
			}
			newStats := compacted.Stats()
			compacted.Close()
			results[i] = CompactResult{Path: p, Compacted: true, Stats: newStats}
			return nil
		}
	}
	NewPool(concurrency).Run(jobs)
	return results
}
