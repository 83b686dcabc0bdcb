// ============================================================================
// Event-Log Adapter (global namespace)
// ============================================================================
//
// Package: internal/storage/eventlog
// Purpose: The simplest of the two adapters over the raw journal: one
// checksummed record per event, dispatched to a handler by an
// application-defined tag. Used for the global namespace (spaces, users,
// models) where events are small and infrequent enough that per-event
// framing overhead doesn't matter. A tag-indexed dispatch table rather
// than a type switch keeps the adapter reusable across different
// concrete state shapes.
//
// ============================================================================

package eventlog

import (
	"encoding/binary"
	"hash/crc64"

	"github.com/nimbusdb/storecore/internal/storage/journal"
	"github.com/nimbusdb/storecore/internal/storage/tracked"
	"github.com/nimbusdb/storecore/pkg/storecore"
)

var crcTable = crc64.MakeTable(crc64.ISO)

// Handler applies one decoded event's payload to state, reporting
// whether it was a "redundant" record (an update or delete against
// existing state) for the compaction recommender.
type Handler func(state interface{}, payload []byte) (redundant bool, err error)

// Dispatch is the adapter's fixed, exhaustive table indexed by
// event-tag discriminant. A tag with no entry is an unknown event type.
type Dispatch map[uint64]Handler

// Commit appends one event-log record: checksum, payload_len, payload.
// The checksum covers the length word as well as the payload, so a
// corrupted length can't send the reader off into the weeds.
func Commit(j *journal.Journal, tag uint64, payload []byte) (storecore.TxnID, error) {
	return j.Commit(tag, func(w *tracked.Writer) error {
		var lenBuf [8]byte
		binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(payload)))

		crc := crc64.Checksum(lenBuf[:], crcTable)
		crc = crc64.Update(crc, crcTable, payload)

		var crcBuf [8]byte
		binary.LittleEndian.PutUint64(crcBuf[:], crc)

		if _, err := w.Write(crcBuf[:]); err != nil {
			return err
		}
		if _, err := w.Write(lenBuf[:]); err != nil {
			return err
		}
		_, err := w.Write(payload)
		return err
	})
}

// Apply returns a journal.EventHandler that decodes an event-log record,
// verifies its checksum, and dispatches it through table against state.
func Apply(state interface{}, table Dispatch) journal.EventHandler {
	return func(tag uint64, r *tracked.Reader, stats *storecore.Stats) error {
		hdr, err := r.ReadBlock(16)
		if err != nil {
			return err
		}
		storedCRC := binary.LittleEndian.Uint64(hdr[0:8])
		payloadLen := binary.LittleEndian.Uint64(hdr[8:16])

		payload, err := r.ReadBlock(int(payloadLen))
		if err != nil {
			return err
		}

		crc := crc64.Checksum(hdr[8:16], crcTable)
		crc = crc64.Update(crc, crcTable, payload)
		if crc != storedCRC {
			return storecore.NewJournalError(storecore.KindEventCorruptedPayload, 0, nil)
		}

		fn, ok := table[tag]
		if !ok {
			return storecore.NewJournalError(storecore.KindInvalidEvent, 0, nil)
		}
		redundant, err := fn(state, payload)
		if err != nil {
			return err
		}

		stats.ServerEventCount++
		if redundant {
			stats.RedundantRecordCount++
		}
		return nil
	}
}

// Rewrite drives the full-sync compaction hook: one minimal canonical
// "create" event per live object, committed into the sibling journal j.
// walk is supplied by the caller, who knows how to enumerate its own
// state (spaces, then users, then models, or whatever the concrete
// namespace shape is); it calls emit once per object it wants preserved.
func Rewrite(j *journal.Journal, walk func(emit func(tag uint64, payload []byte) error) error) error {
	return walk(func(tag uint64, payload []byte) error {
		_, err := Commit(j, tag, payload)
		return err
	})
}
