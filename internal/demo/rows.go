// ============================================================================
// Demo Row State - batch-adapter model
// ============================================================================
//
// Package: internal/demo
// Purpose: A minimal in-memory per-model row table exercising the batch
// adapter (insert/update/delete grouped into one atomic batch per
// transaction). Row bodies use a trivial length-prefixed key/value
// encoding; this stands in for the real row codec exactly as far as
// exercising commit/replay/compaction/repair requires.
//
// ============================================================================

package demo

import (
	"encoding/binary"
	"sync"

	"github.com/nimbusdb/storecore/internal/storage/batch"
	"github.com/nimbusdb/storecore/internal/storage/journal"
	"github.com/nimbusdb/storecore/internal/storage/tracked"
	"github.com/nimbusdb/storecore/pkg/storecore"
)

// Row event types inside a batch. 0 is reserved by batch.EarlyExitMarker.
const (
	RowInsert uint8 = iota + 1
	RowUpdate
	RowDelete
)

// Batch tags. rowBatchTag carries incremental row mutations through the
// framed General decoder; snapshotBatchTag is a whole-table replacement
// that opts out of the framing entirely (batch.Custom) since it is not a
// sequence of per-row events but one non-incremental blob.
const (
	rowBatchTag      uint64 = 1
	snapshotBatchTag uint64 = 2
)

// RowTable is the demo's per-model state: a plain key/value map.
type RowTable struct {
	mu   sync.Mutex
	Rows map[string]string
}

// NewRowTable returns an empty table.
func NewRowTable() *RowTable {
	return &RowTable{Rows: make(map[string]string)}
}

func encodeRowEvent(typ uint8, key, value string) batch.Event {
	body := make([]byte, 0, 2+len(key)+2+len(value))
	var keyLen, valLen [2]byte
	binary.LittleEndian.PutUint16(keyLen[:], uint16(len(key)))
	binary.LittleEndian.PutUint16(valLen[:], uint16(len(value)))
	body = append(body, keyLen[:]...)
	body = append(body, key...)
	body = append(body, valLen[:]...)
	body = append(body, value...)
	return batch.Event{Type: typ, Body: body}
}

// CommitRows appends one batch containing the given row mutations.
func CommitRows(j *journal.Journal, ops []RowOp) (storecore.TxnID, error) {
	events := make([]batch.Event, 0, len(ops))
	for _, op := range ops {
		switch op.Kind {
		case RowInsert, RowUpdate:
			events = append(events, encodeRowEvent(op.Kind, op.Key, op.Value))
		case RowDelete:
			events = append(events, encodeRowEvent(op.Kind, op.Key, ""))
		}
	}
	return batch.Commit(j, rowBatchTag, batch.CommitRequest{
		ExpectedCount: uint64(len(events)),
		Events:        events,
	})
}

// CommitSnapshot appends a whole-table snapshot event: a row count, every
// live row, and a CRC-64 over the two. On replay it replaces the table
// wholesale and resets the redundancy counter, since every record logged
// before it is now unreachable.
func CommitSnapshot(j *journal.Journal, rows map[string]string) (storecore.TxnID, error) {
	return j.Commit(snapshotBatchTag, func(w *tracked.Writer) error {
		pw := w.Context()

		var count [8]byte
		binary.LittleEndian.PutUint64(count[:], uint64(len(rows)))
		if _, err := pw.Write(count[:]); err != nil {
			return err
		}
		for k, v := range rows {
			ev := encodeRowEvent(RowInsert, k, v)
			if _, err := pw.Write(ev.Body); err != nil {
				return err
			}
		}

		crc := pw.Finish()
		var crcBuf [8]byte
		binary.LittleEndian.PutUint64(crcBuf[:], crc)
		_, err := w.Write(crcBuf[:])
		return err
	})
}

// RowOp is one row mutation in a batch, as a caller builds it.
type RowOp struct {
	Kind  uint8
	Key   string
	Value string
}

type rowScratch struct {
	ops []RowOp
}

func decodeRowBody(r *tracked.PartialReader) (key string, value string, err error) {
	keyLenBuf, err := r.ReadBlock(2)
	if err != nil {
		return "", "", err
	}
	keyLen := binary.LittleEndian.Uint16(keyLenBuf)
	keyBuf, err := r.ReadBlock(int(keyLen))
	if err != nil {
		return "", "", err
	}
	valLenBuf, err := r.ReadBlock(2)
	if err != nil {
		return "", "", err
	}
	valLen := binary.LittleEndian.Uint16(valLenBuf)
	valBuf, err := r.ReadBlock(int(valLen))
	if err != nil {
		return "", "", err
	}
	return string(keyBuf), string(valBuf), nil
}

func rowHooks(rt *RowTable) batch.Hooks {
	return batch.Hooks{
		InitializeState: func() interface{} {
			return &rowScratch{}
		},
		DecodeMetadata: func(r *tracked.PartialReader, batchTag uint64) (interface{}, error) {
			return nil, nil
		},
		Logic: func(batchTag uint64) batch.EventLogic {
			if batchTag == snapshotBatchTag {
				return batch.Custom
			}
			return batch.General
		},
		CustomEvent: func(r *tracked.Reader, batchTag uint64, stats *storecore.Stats) error {
			if batchTag != snapshotBatchTag {
				return storecore.NewJournalError(storecore.KindInvalidEvent, 0, nil)
			}
			pr := r.Context()
			countBuf, err := pr.ReadBlock(8)
			if err != nil {
				return err
			}
			count := binary.LittleEndian.Uint64(countBuf)

			// Cap the allocation hint: count comes off disk and a corrupted
			// value must fail in decodeRowBody, not in make.
			hint := count
			if hint > 1<<16 {
				hint = 1 << 16
			}
			rows := make(map[string]string, hint)
			for i := uint64(0); i < count; i++ {
				key, value, err := decodeRowBody(pr)
				if err != nil {
					return err
				}
				rows[key] = value
			}

			crc, parent := pr.Finish()
			crcBuf, err := parent.ReadBlock(8)
			if err != nil {
				return err
			}
			if crc != binary.LittleEndian.Uint64(crcBuf) {
				return storecore.NewJournalError(storecore.KindEventCorruptedPayload, 0, nil)
			}

			rt.mu.Lock()
			rt.Rows = rows
			rt.mu.Unlock()

			stats.ServerEventCount += count
			// The snapshot supersedes everything logged before it; only
			// post-snapshot records count toward the redundancy trigger.
			stats.RedundantRecordCount = 0
			return nil
		},
		UpdateState: func(scratch interface{}, meta interface{}, r *tracked.PartialReader, eventType uint8, stats *storecore.Stats) error {
			s := scratch.(*rowScratch)
			key, value, err := decodeRowBody(r)
			if err != nil {
				return err
			}
			s.ops = append(s.ops, RowOp{Kind: eventType, Key: key, Value: value})
			stats.ServerEventCount++
			if eventType == RowUpdate || eventType == RowDelete {
				stats.RedundantRecordCount++
			}
			return nil
		},
		Finish: func(scratch interface{}, meta interface{}, stats *storecore.Stats) error {
			s := scratch.(*rowScratch)
			rt.mu.Lock()
			defer rt.mu.Unlock()
			for _, op := range s.ops {
				switch op.Kind {
				case RowInsert, RowUpdate:
					rt.Rows[op.Key] = op.Value
				case RowDelete:
					delete(rt.Rows, op.Key)
				}
			}
			return nil
		},
	}
}

// HandleRows returns the journal.EventHandler that replays batches into rt.
func HandleRows(rt *RowTable) journal.EventHandler {
	return batch.Apply(rowHooks(rt))
}

// Len reports the current row count.
func (rt *RowTable) Len() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.Rows)
}

// Get returns a row's value and whether it exists.
func (rt *RowTable) Get(key string) (string, bool) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	v, ok := rt.Rows[key]
	return v, ok
}

// Snapshot returns a copy of the live rows.
func (rt *RowTable) Snapshot() map[string]string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make(map[string]string, len(rt.Rows))
	for k, v := range rt.Rows {
		out[k] = v
	}
	return out
}

// RewriteRows drives the compaction consolidate hook: one canonical
// insert batch covering every surviving row.
func RewriteRows(rt *RowTable) func(sibling *journal.Journal) error {
	return func(sibling *journal.Journal) error {
		return batch.Consolidate(sibling, func(j *journal.Journal) error {
			rows := rt.Snapshot()
			ops := make([]RowOp, 0, len(rows))
			for k, v := range rows {
				ops = append(ops, RowOp{Kind: RowInsert, Key: k, Value: v})
			}
			_, err := CommitRows(j, ops)
			return err
		})
	}
}
