// ============================================================================
// Compaction Engine
// ============================================================================
//
// Package: internal/storage/compaction
// Purpose: Rewrite a journal down to its minimal equivalent event
// stream. Adapter-agnostic: it only knows how to open a sibling journal,
// hand it to a caller-supplied rewrite function, and swap it into place;
// the caller (event-log Rewrite or batch Consolidate) supplies the
// adapter-specific part.
//
// ============================================================================

package compaction

import (
	"os"
	"time"

	"github.com/nimbusdb/storecore/internal/storage/journal"
	"github.com/nimbusdb/storecore/pkg/storecore"
)

// Compact rewrites the journal at path:
//
//  1. old is closed (a Closed driver event is appended and the file is
//     released); the caller must not use old again after this returns.
//  2. a sibling journal is created at path + "-compacted".
//  3. rewrite is invoked with the sibling's *journal.Journal so the
//     adapter can emit its minimal equivalent event sequence into it.
//  4. the sibling is closed.
//  5. the sibling is renamed over path (atomic on POSIX filesystems;
//     nothing here supports platforms without atomic rename).
//  6. the renamed file is reopened fresh, replaying it through handle to
//     rebuild in-memory state from exactly what compaction wrote.
//
// On success the returned *journal.Journal is open against the compacted
// path. A failure before the rename leaves the original file in place
// (already closed by step 1, so it ends with the appended Closed event)
// and is cleaned up by removing the half-written sibling.
func Compact(
	path string,
	autoSync bool,
	old *journal.Journal,
	now time.Time,
	rewrite func(sibling *journal.Journal) error,
	handle journal.EventHandler,
) (*journal.Journal, storecore.ReaderState, error) {
	if err := old.Close(); err != nil {
		return nil, storecore.ReaderState{}, err
	}

	siblingPath := path + "-compacted"
	// A sibling left behind by an interrupted compaction never made it
	// through the rename, so the original is still authoritative; discard
	// the leftover rather than scanning it.
	if err := os.Remove(siblingPath); err != nil && !os.IsNotExist(err) {
		return nil, storecore.ReaderState{}, err
	}
	sibling, _, err := journal.Open(siblingPath, autoSync, nil, now)
	if err != nil {
		return nil, storecore.ReaderState{}, err
	}

	if err := rewrite(sibling); err != nil {
		sibling.Close()
		os.Remove(siblingPath)
		return nil, storecore.ReaderState{}, err
	}

	if err := sibling.Close(); err != nil {
		os.Remove(siblingPath)
		return nil, storecore.ReaderState{}, err
	}

	if err := os.Rename(siblingPath, path); err != nil {
		os.Remove(siblingPath)
		return nil, storecore.ReaderState{}, err
	}

	// After compaction the first server event ID in the file is 0: the
	// sibling was a brand-new journal, so rewrite's commits already
	// started numbering from 0.
	return journal.Open(path, autoSync, handle, now)
}
