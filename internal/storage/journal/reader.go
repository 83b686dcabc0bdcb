// ============================================================================
// Raw Journal - Scan / Replay
// ============================================================================
//
// Package: internal/storage/journal
// File: reader.go
// Purpose: Forward scan used both for normal replay-on-reopen and for
// repair's damage-classifying pass: decode events one at a time, hand
// server events to a caller-supplied handler, verify every driver
// event's chain linkage, stop on the first error.
//
// ============================================================================

package journal

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/nimbusdb/storecore/internal/storage/tracked"
	"github.com/nimbusdb/storecore/pkg/storecore"
)

// EventHandler is invoked for every server event encountered during a
// scan. tag is the adapter-defined discriminant (meta's low 63 bits); r
// is positioned immediately after the 16-byte event header and the
// handler must consume exactly its own payload from it, no more, no
// less. stats is the same counter block Scan itself is filling in with
// driver-event/file-size figures; the handler increments ServerEventCount
// and RedundantRecordCount itself since only the adapter knows what
// "redundant" means. Returning io.ErrUnexpectedEOF classifies as
// KindIOUnexpectedEOF and any other plain error as
// KindInternalDecodeStructureCorrupted; return a *storecore.JournalError
// directly for a more specific kind.
type EventHandler func(tag uint64, r *tracked.Reader, stats *storecore.Stats) error

// withOffset fills in the detection offset on a bare error, wrapping it
// as a *storecore.JournalError if it isn't one already.
func withOffset(err error, offset uint64) error {
	if err == nil {
		return nil
	}
	if je, ok := err.(*storecore.JournalError); ok {
		if je.Offset == 0 {
			je.Offset = offset
		}
		return je
	}
	if err == io.ErrUnexpectedEOF {
		return storecore.NewJournalError(storecore.KindIOUnexpectedEOF, offset, err)
	}
	return storecore.NewJournalError(storecore.KindInternalDecodeStructureCorrupted, offset, err)
}

// Scan replays every event in file from headerSize to EOF, calling handle
// for each server event and verifying driver events itself. It returns
// the reader state as of the last successfully processed event (or the
// initial/genesis state if the file has no events yet) together with a
// nil error on a clean scan, or the state as of just before the failing
// event plus a classified *storecore.JournalError. A scan is only clean
// if the event stream is empty or its last event is a Closed driver
// event; EOF anywhere else classifies as a recoverable unexpected-EOF.
// stats is populated as scanning proceeds (HeaderSize immediately,
// DriverEventCount as driver events are seen, FileSize once the scan
// reaches EOF); pass a freshly zeroed *storecore.Stats.
func Scan(file *os.File, headerSize uint64, stats *storecore.Stats, handle EventHandler) (storecore.ReaderState, error) {
	r, err := tracked.NewReader(file, headerSize)
	if err != nil {
		return storecore.ReaderState{}, err
	}
	stats.HeaderSize = headerSize

	state := storecore.ReaderState{
		TxnIDExpected:   0,
		LastTxnID:       0,
		LastTxnOffset:   headerSize,
		LastTxnChecksum: 0,
		Phase:           storecore.AwaitingEvent,
	}
	awaitingReopen := false // true immediately after a Closed event

	for {
		if r.IsEOF() {
			// EOF is only a valid place to stop on an empty event stream or
			// immediately after a Closed driver event. A file that just stops
			// after a server event or a Reopened was not closed cleanly; the
			// tail is treated as torn so repair can close it out.
			if state.Phase == storecore.AwaitingServerEvent || state.Phase == storecore.AwaitingClose {
				return state, storecore.NewJournalError(storecore.KindIOUnexpectedEOF, r.Cursor(), io.ErrUnexpectedEOF)
			}
			if info, err := file.Stat(); err == nil {
				stats.FileSize = uint64(info.Size())
			}
			return state, nil
		}

		eventStart := r.Cursor()
		prefix, err := r.ReadBlock(EventHeaderSize)
		if err != nil {
			return state, withOffset(err, eventStart)
		}

		txnID := storecore.TxnID(binary.LittleEndian.Uint64(prefix[0:8]))
		meta := binary.LittleEndian.Uint64(prefix[8:16])

		if txnID != state.TxnIDExpected {
			return state, storecore.NewJournalError(storecore.KindEventCorruptedMetadata, eventStart, nil)
		}

		if meta&msbMask != 0 {
			// Server event.
			if awaitingReopen {
				return state, storecore.NewJournalError(storecore.KindInvalidEvent, eventStart, nil)
			}
			tag := meta &^ msbMask
			if err := handle(tag, r, stats); err != nil {
				return state, withOffset(err, eventStart)
			}
			state.LastTxnID = txnID
			state.LastTxnOffset = eventStart
			state.LastTxnChecksum = r.Checksum()
			state.TxnIDExpected = txnID + 1
			state.Phase = storecore.AwaitingServerEvent
			continue
		}

		// Driver event: the 16 bytes already read are its txn_id (u128
		// low/high words); read the remaining 48 bytes.
		var p16 [EventHeaderSize]byte
		copy(p16[:], prefix)
		restSlice, err := r.ReadBlock(driverRestSize)
		if err != nil {
			return state, withOffset(err, eventStart)
		}
		var rest [driverRestSize]byte
		copy(rest[:], restSlice)

		de, derr := decodeDriverEvent(p16, rest)
		if derr != nil {
			return state, withOffset(derr, eventStart)
		}

		switch de.Kind {
		case storecore.DriverClosed:
			if awaitingReopen {
				return state, storecore.NewJournalError(storecore.KindInvalidEvent, eventStart, nil)
			}
		case storecore.DriverReopened:
			if !awaitingReopen {
				return state, storecore.NewJournalError(storecore.KindInvalidEvent, eventStart, nil)
			}
		default:
			return state, storecore.NewJournalError(storecore.KindInvalidEvent, eventStart, nil)
		}

		if de.PrevChecksum != state.LastTxnChecksum ||
			de.PrevOffset != state.LastTxnOffset ||
			de.PrevTxnID != state.LastTxnID {
			return state, storecore.NewJournalError(storecore.KindEventCorruptedMetadata, eventStart, nil)
		}

		state.LastTxnID = txnID
		state.LastTxnOffset = eventStart
		state.LastTxnChecksum = r.Checksum()
		state.TxnIDExpected = txnID + 1
		stats.DriverEventCount++

		if de.Kind == storecore.DriverClosed {
			awaitingReopen = true
			state.Phase = storecore.AwaitingReopen
		} else {
			awaitingReopen = false
			state.Phase = storecore.AwaitingClose
		}
	}
}
