// ============================================================================
// Raw Journal - Writer Lifecycle
// ============================================================================
//
// Package: internal/storage/journal
// File: journal.go
// Purpose: Create/Open/Commit/Rollback/Close for a single raw journal
// file. This is the layer every adapter (event-log, batch) and the repair
// engine build on; it knows nothing about what a server event's payload
// means, only how to frame and chain one.
//
// ============================================================================

package journal

import (
	"os"
	"sync"
	"time"

	"github.com/nimbusdb/storecore/internal/storage/header"
	"github.com/nimbusdb/storecore/internal/storage/tracked"
	"github.com/nimbusdb/storecore/pkg/storecore"
)

// Journal is a single open raw journal file: a tracked.Writer plus the
// writer-side chain state needed to frame the next event. All exported
// methods are safe for concurrent use; a journal has exactly one writer,
// so that safety only has to cover a writer racing its own
// Close/Rollback, not multiple independent writers.
type Journal struct {
	mu         sync.Mutex
	tw         *tracked.Writer
	headerSize uint64
	state      storecore.WriterState
	stats      storecore.Stats
	autoSync   bool
	closed     bool
	// committedEnd is the file offset just past the last committed event:
	// the point a rollback truncates back to.
	committedEnd uint64
}

// Open opens path for writing, creating it (with a fresh header and no
// events) if it does not already exist. If it does exist, its header is
// validated and every event in it is replayed through handle; if the
// stream ends at a Closed driver event, a Reopened driver event chaining
// off it is appended. A header-only file reopens with no Reopened
// appended, so the first caller commit still gets txn id 0, exactly like
// a freshly created journal. A file whose stream ends anywhere else was
// not closed cleanly: the scan fails with a recoverable error and the
// caller is expected to route it through repair.
//
// autoSync controls whether every Commit/CommitDriver call fsyncs before
// returning; adapters that batch many events per fsync should pass false
// and call FlushSync explicitly, accepting that durability then only
// extends to the last explicit flush.
//
// The returned storecore.ReaderState is the state produced by the replay
// pass, handed back so a caller (e.g. repair, or an adapter rebuilding
// in-memory indexes) doesn't need to re-derive it.
func Open(path string, autoSync bool, handle EventHandler, now time.Time) (*Journal, storecore.ReaderState, error) {
	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err != nil {
			return nil, storecore.ReaderState{}, err
		}
		if _, err := header.Write(f, now); err != nil {
			f.Close()
			return nil, storecore.ReaderState{}, err
		}
		j := &Journal{
			tw:         tracked.NewWriter(f, header.Size, 0),
			headerSize: header.Size,
			autoSync:   autoSync,
			state: storecore.WriterState{
				TxnIDNext:       0,
				KnownTxnID:      0,
				KnownTxnOffset:  header.Size,
				RunningChecksum: 0,
			},
			stats:        storecore.Stats{HeaderSize: header.Size, FileSize: header.Size},
			committedEnd: header.Size,
		}
		rs := storecore.ReaderState{
			TxnIDExpected: 0,
			LastTxnOffset: header.Size,
			Phase:         storecore.AwaitingEvent,
		}
		return j, rs, nil
	}
	if statErr != nil {
		return nil, storecore.ReaderState{}, statErr
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, storecore.ReaderState{}, err
	}
	if _, err := header.Read(f); err != nil {
		f.Close()
		return nil, storecore.ReaderState{}, err
	}

	var stats storecore.Stats
	rs, err := Scan(f, header.Size, &stats, handle)
	if err != nil {
		f.Close()
		return nil, rs, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, rs, err
	}

	j := &Journal{
		tw:         tracked.NewWriter(f, uint64(info.Size()), rs.LastTxnChecksum),
		headerSize: header.Size,
		autoSync:   autoSync,
		state: storecore.WriterState{
			TxnIDNext:       rs.TxnIDExpected,
			KnownTxnID:      rs.LastTxnID,
			KnownTxnOffset:  rs.LastTxnOffset,
			RunningChecksum: rs.LastTxnChecksum,
		},
		stats:        stats,
		committedEnd: uint64(info.Size()),
	}
	if rs.Phase == storecore.AwaitingReopen {
		if _, err := j.CommitDriver(storecore.DriverReopened); err != nil {
			f.Close()
			return nil, rs, err
		}
	}
	return j, rs, nil
}

// Commit writes a server event: a 16-byte header carrying tag and the
// current txn id, followed by whatever writePayload writes through w.
// On any error the journal is rolled back to the state as of the last
// successful commit before the error is returned.
func (j *Journal) Commit(tag uint64, writePayload func(w *tracked.Writer) error) (storecore.TxnID, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, storecore.ErrWriterClosed
	}

	txnID := j.state.TxnIDNext
	eventStart := j.tw.Cursor()

	hdr := encodeEventHeader(txnID, tag)
	if _, err := j.tw.Write(hdr[:]); err != nil {
		j.rollbackLocked()
		return 0, err
	}
	if err := writePayload(j.tw); err != nil {
		j.rollbackLocked()
		return 0, err
	}
	if j.autoSync {
		if err := j.tw.FlushSync(); err != nil {
			j.rollbackLocked()
			return 0, err
		}
	}

	j.state.KnownTxnID = txnID
	j.state.KnownTxnOffset = eventStart
	j.state.RunningChecksum = j.tw.Checksum()
	j.state.TxnIDNext = txnID + 1
	j.committedEnd = j.tw.Cursor()
	return txnID, nil
}

// CommitDriver appends a driver event of the given kind, chaining its
// prev_* fields off the writer's current known state. Driver events are
// always written through (never buffered) so they land on disk as a
// single contiguous write.
func (j *Journal) CommitDriver(kind storecore.DriverEventKind) (storecore.TxnID, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.commitDriverLocked(kind)
}

func (j *Journal) commitDriverLocked(kind storecore.DriverEventKind) (storecore.TxnID, error) {
	if j.closed {
		return 0, storecore.ErrWriterClosed
	}

	txnID := j.state.TxnIDNext
	eventStart := j.tw.Cursor()

	buf := encodeDriverEvent(DriverEvent{
		TxnID:        txnID,
		Kind:         kind,
		PrevChecksum: j.state.RunningChecksum,
		PrevOffset:   j.state.KnownTxnOffset,
		PrevTxnID:    j.state.KnownTxnID,
	})
	if _, err := j.tw.WriteThrough(buf[:]); err != nil {
		j.rollbackLocked()
		return 0, err
	}
	if j.autoSync {
		if err := j.tw.FlushSync(); err != nil {
			j.rollbackLocked()
			return 0, err
		}
	}

	j.state.KnownTxnID = txnID
	j.state.KnownTxnOffset = eventStart
	j.state.RunningChecksum = j.tw.Checksum()
	j.state.TxnIDNext = txnID + 1
	j.committedEnd = j.tw.Cursor()
	j.stats.DriverEventCount++
	return txnID, nil
}

// Rollback discards any bytes written since the last successful commit,
// restoring the file to exactly that point. It is idempotent: calling it
// again with nothing new written is a no-op truncate to the same offset.
func (j *Journal) Rollback() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.rollbackLocked()
}

func (j *Journal) rollbackLocked() error {
	if err := j.tw.Truncate(j.committedEnd); err != nil {
		return err
	}
	j.tw.DrainBuffer()
	j.tw.RestoreChecksum(j.state.RunningChecksum)
	return nil
}

// FlushSync flushes any buffered bytes and fsyncs the file. Adapters
// that disable per-commit auto-sync call this at their own natural
// durability boundary (e.g. the batch adapter, once per batch).
func (j *Journal) FlushSync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.tw.FlushSync()
}

// Close appends a Closed driver event, flushes and fsyncs, and closes
// the underlying file. Calling Close more than once is a no-op.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.mu.Unlock()

	if _, err := j.commitDriverClose(); err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.tw.FlushSync(); err != nil {
		return err
	}
	j.closed = true
	return j.tw.File().Close()
}

// commitDriverClose is CommitDriver(DriverClosed) as Close uses it: it
// takes the lock again after Close's own closed-flag check and applies
// the same closed-flag rejection as CommitDriver.
func (j *Journal) commitDriverClose() (storecore.TxnID, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.commitDriverLocked(storecore.DriverClosed)
}

// State returns a copy of the writer's current chain state, mostly
// useful for tests asserting on txn id progression.
func (j *Journal) State() storecore.WriterState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// HeaderSize reports the byte offset the event stream starts at.
func (j *Journal) HeaderSize() uint64 {
	return j.headerSize
}

// AppendSyntheticDriverEvent writes one driver event directly to w,
// chaining explicitly off the given prev_* values rather than off any
// Journal's own tracked state. The repair engine uses this to close out
// a file it has just truncated, where there is no live *Journal to drive
// the commit through.
func AppendSyntheticDriverEvent(w *tracked.Writer, txnID storecore.TxnID, kind storecore.DriverEventKind, prevChecksum uint64, prevOffset uint64, prevTxnID storecore.TxnID) error {
	buf := encodeDriverEvent(DriverEvent{
		TxnID:        txnID,
		Kind:         kind,
		PrevChecksum: prevChecksum,
		PrevOffset:   prevOffset,
		PrevTxnID:    prevTxnID,
	})
	_, err := w.WriteThrough(buf[:])
	return err
}

// Stats returns the statistics collected while this journal was opened
// (from the initial scan, if any) plus every driver event committed
// since. Adapters update ServerEventCount/RedundantRecordCount on the
// same block as events are applied during scan; this snapshot is what
// the compaction recommender (pkg/storecore Stats.Recommend) consumes.
func (j *Journal) Stats() storecore.Stats {
	j.mu.Lock()
	defer j.mu.Unlock()
	s := j.stats
	s.FileSize = j.tw.Cursor()
	return s
}
