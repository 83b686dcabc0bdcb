// ============================================================================
// Recovery / Repair Engine
// ============================================================================
//
// Package: internal/storage/repair
// Purpose: Scan-classify-truncate-reclose recovery for a journal whose
// tail was damaged by an unclean shutdown: scan forward until a record
// fails integrity, truncate there, and close the file back out with a
// synthetic driver event where the protocol requires one. Only Simple
// mode exists; salvaging the leading events of a partially-written batch
// is deliberately not attempted.
//
// ============================================================================

package repair

import (
	"io"
	"os"

	"github.com/nimbusdb/storecore/internal/storage/header"
	"github.com/nimbusdb/storecore/internal/storage/journal"
	"github.com/nimbusdb/storecore/internal/storage/tracked"
	"github.com/nimbusdb/storecore/pkg/storecore"
)

// Repair scans the journal at path using handle to replay whatever
// events are salvageable, truncates recoverable trailing damage, and
// restores the close/reopen protocol so the file reopens cleanly. Only
// storecore.RepairSimple exists; mode keeps the signature honest about
// richer strategies being a separate decision.
func Repair(path string, mode storecore.RepairMode, handle journal.EventHandler) (storecore.RepairOutcome, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return storecore.RepairOutcome{}, err
	}
	defer f.Close()

	if _, err := header.Read(f); err != nil {
		return storecore.RepairOutcome{}, err
	}

	var stats storecore.Stats
	state, scanErr := journal.Scan(f, header.Size, &stats, handle)
	if scanErr == nil {
		return storecore.RepairOutcome{NoErrors: true}, nil
	}
	if !storecore.IsRecoverable(scanErr) {
		return storecore.RepairOutcome{}, scanErr
	}

	je, _ := scanErr.(*storecore.JournalError)
	failOffset := je.Offset

	info, err := f.Stat()
	if err != nil {
		return storecore.RepairOutcome{}, err
	}
	fileSize := uint64(info.Size())

	lastValidOffset := failOffset
	if lastValidOffset < header.Size {
		lastValidOffset = header.Size
	}
	lostBytes := fileSize - lastValidOffset

	if err := f.Truncate(int64(lastValidOffset)); err != nil {
		return storecore.RepairOutcome{}, err
	}
	if _, err := f.Seek(int64(lastValidOffset), io.SeekStart); err != nil {
		return storecore.RepairOutcome{}, err
	}

	switch state.Phase {
	case storecore.AwaitingEvent, storecore.AwaitingServerEvent, storecore.AwaitingClose:
		txnID := state.LastTxnID
		if lastValidOffset != header.Size {
			txnID = state.LastTxnID + 1
		}
		w := tracked.NewWriter(f, lastValidOffset, state.LastTxnChecksum)
		if err := journal.AppendSyntheticDriverEvent(w, txnID, storecore.DriverClosed,
			state.LastTxnChecksum, state.LastTxnOffset, state.LastTxnID); err != nil {
			return storecore.RepairOutcome{}, err
		}
		if err := w.FlushSync(); err != nil {
			return storecore.RepairOutcome{}, err
		}
	case storecore.AwaitingReopen:
		// The reverted log already ends cleanly at a Closed event.
	}

	return storecore.RepairOutcome{NoErrors: false, LostBytes: lostBytes}, nil
}
