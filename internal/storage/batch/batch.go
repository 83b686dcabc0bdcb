// ============================================================================
// Batch Adapter (per-model row data)
// ============================================================================
//
// Package: internal/storage/batch
// Purpose: The second of the two adapters over the raw journal: one
// journal event carries a whole batch of per-model row mutations, framed
// with a leading expected count, an optional early-exit marker, a
// trailing observed count, and a CRC scoped to just the batch body, so a
// torn or corrupted batch can be detected and discarded as a unit.
//
// The leading count alone cannot detect a torn write, and a trailing CRC
// alone cannot distinguish a torn write from a corrupted one; recording
// the count on both sides of the event stream plus the CRC disambiguates,
// letting the reader decide between "drop this batch" and "this batch
// never finished".
//
// ============================================================================

package batch

import (
	"encoding/binary"

	"github.com/nimbusdb/storecore/internal/storage/journal"
	"github.com/nimbusdb/storecore/internal/storage/tracked"
	"github.com/nimbusdb/storecore/pkg/storecore"
)

// EarlyExitMarker is the sentinel event-type byte a writer may emit in
// place of a real event to stop short of ExpectedCount. Ordinary event
// types are assigned by the caller starting at 1; 0 is reserved for this
// sentinel so it can never collide with a real event type.
const EarlyExitMarker uint8 = 0

// EventLogic distinguishes the framed, incremental decode path (General)
// from one where a batch tag opts out entirely and takes the tracked
// reader directly (Custom), used for non-incremental events such as a
// full-model snapshot.
type EventLogic int

const (
	General EventLogic = iota
	Custom
)

// Event is one row mutation inside a batch, as the writer produces it.
type Event struct {
	Type uint8
	Body []byte
}

// CommitRequest describes one batch to append. ExpectedCount is the
// producer's declared upper bound (ordinarily len(Events); a producer
// that doesn't know its final count upfront may reserve a larger
// ExpectedCount and set EarlyExit once it stops short of it).
type CommitRequest struct {
	ExpectedCount uint64
	Metadata      []byte
	Events        []Event
	EarlyExit     bool
}

// Commit appends one batch event: expected_size, metadata, framed
// events, an optional early-exit marker, actual_size, and a CRC-64
// scoped to everything from expected_size through actual_size inclusive.
func Commit(j *journal.Journal, batchTag uint64, req CommitRequest) (storecore.TxnID, error) {
	return j.Commit(batchTag, func(w *tracked.Writer) error {
		pw := w.Context()

		var expected [8]byte
		binary.LittleEndian.PutUint64(expected[:], req.ExpectedCount)
		if _, err := pw.Write(expected[:]); err != nil {
			return err
		}
		if _, err := pw.Write(req.Metadata); err != nil {
			return err
		}

		for _, ev := range req.Events {
			if _, err := pw.Write([]byte{ev.Type}); err != nil {
				return err
			}
			if _, err := pw.Write(ev.Body); err != nil {
				return err
			}
		}

		if req.EarlyExit {
			if _, err := pw.Write([]byte{EarlyExitMarker}); err != nil {
				return err
			}
		}

		var actual [8]byte
		binary.LittleEndian.PutUint64(actual[:], uint64(len(req.Events)))
		if _, err := pw.Write(actual[:]); err != nil {
			return err
		}

		crc := pw.Finish()
		var crcBuf [8]byte
		binary.LittleEndian.PutUint64(crcBuf[:], crc)
		_, err := w.Write(crcBuf[:])
		return err
	})
}

// Hooks is the adapter's per-model vtable: a set of closures rather than
// an interface, since each concrete model has its own metadata and
// scratch-state shapes and a closure bundle is the more natural fit than
// a type-parameterized interface.
type Hooks struct {
	// InitializeState returns fresh scratch state accumulated across one
	// batch.
	InitializeState func() interface{}
	// DecodeMetadata reads the adapter-defined metadata block immediately
	// following expected_size.
	DecodeMetadata func(r *tracked.PartialReader, batchTag uint64) (interface{}, error)
	// Logic reports whether batchTag uses the framed General decoder or
	// opts out entirely via Custom.
	Logic func(batchTag uint64) EventLogic
	// UpdateState folds one decoded event into scratch. It must not
	// mutate real application state directly, only scratch, so an
	// eventually-discarded batch leaves no trace.
	UpdateState func(scratch interface{}, meta interface{}, r *tracked.PartialReader, eventType uint8, stats *storecore.Stats) error
	// Finish applies scratch to real state once both size checks and the
	// CRC have passed. Only called on a fully valid batch.
	Finish func(scratch interface{}, meta interface{}, stats *storecore.Stats) error
	// CustomEvent handles a Custom-logic batch tag directly against the
	// full (non-windowed) reader, for non-incremental events such as a
	// whole-model snapshot.
	CustomEvent func(r *tracked.Reader, batchTag uint64, stats *storecore.Stats) error
}

// Apply returns a journal.EventHandler that decodes and applies one
// batch event using hooks.
func Apply(hooks Hooks) journal.EventHandler {
	return func(tag uint64, r *tracked.Reader, stats *storecore.Stats) error {
		if hooks.Logic(tag) == Custom {
			return hooks.CustomEvent(r, tag, stats)
		}

		pr := r.Context()

		expectedBuf, err := pr.ReadBlock(8)
		if err != nil {
			return err
		}
		expected := binary.LittleEndian.Uint64(expectedBuf)

		meta, err := hooks.DecodeMetadata(pr, tag)
		if err != nil {
			return err
		}

		scratch := hooks.InitializeState()

		var observed uint64
		for observed < expected {
			typeBuf, err := pr.ReadBlock(1)
			if err != nil {
				return err
			}
			eventType := typeBuf[0]
			if eventType == EarlyExitMarker {
				break
			}
			if err := hooks.UpdateState(scratch, meta, pr, eventType, stats); err != nil {
				return err
			}
			observed++
		}

		actualBuf, err := pr.ReadBlock(8)
		if err != nil {
			return err
		}
		actual := binary.LittleEndian.Uint64(actualBuf)

		crc, parent := pr.Finish()
		crcFieldBuf, err := parent.ReadBlock(8)
		if err != nil {
			return err
		}
		storedCRC := binary.LittleEndian.Uint64(crcFieldBuf)

		if actual != observed {
			return storecore.NewJournalError(storecore.KindBatchContentsMismatch, 0, nil)
		}
		if crc != storedCRC {
			return storecore.NewJournalError(storecore.KindBatchIntegrityFailure, 0, nil)
		}

		return hooks.Finish(scratch, meta, stats)
	}
}

// Consolidate runs the compaction hook: consolidate is supplied by the
// caller, who knows how to enumerate its own model's live rows into a
// single canonical replacement batch committed through j.
func Consolidate(j *journal.Journal, consolidate func(j *journal.Journal) error) error {
	return consolidate(j)
}
