// ============================================================================
// Raw Journal - Event Framing
// ============================================================================
//
// Package: internal/storage/journal
// File: event.go
// Purpose: Bit-exact encode/decode of the two event shapes every journal
// is built from: the 16-byte server-event header (txn_id +
// meta-with-MSB) and the fixed 64-byte driver event. The MSB of the meta
// word is the server/driver discriminator, which keeps driver events a
// clean 64 bytes with no extra type byte.
//
// ============================================================================

package journal

import (
	"encoding/binary"
	"hash/crc64"

	"github.com/nimbusdb/storecore/pkg/storecore"
)

var crcTable = crc64.MakeTable(crc64.ISO)

// msbMask isolates the discriminator bit of the 64-bit meta word: set
// for server events, clear for driver events. Adapter tags live in the
// low 63 bits and must never use it.
const msbMask = uint64(1) << 63

// EventHeaderSize is the size of the 16-byte prefix common to every
// event, server or driver (txn_id + meta/upper-txn-id-word).
const EventHeaderSize = 16

// DriverEventSize is the fixed size of a driver event.
const DriverEventSize = 64

// driverRestSize is DriverEventSize - EventHeaderSize: the bytes read
// once a 16-byte prefix has turned out not to be a server event.
const driverRestSize = DriverEventSize - EventHeaderSize

// encodeEventHeader packs the common 16-byte prefix for a server event:
// txn_id followed by meta with the MSB forced to 1 and tag folded into
// the low 63 bits.
func encodeEventHeader(txnID storecore.TxnID, tag uint64) [EventHeaderSize]byte {
	var buf [EventHeaderSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(txnID))
	binary.LittleEndian.PutUint64(buf[8:16], (tag&^msbMask)|msbMask)
	return buf
}

// DriverEvent is the decoded form of a 64-byte driver event.
type DriverEvent struct {
	TxnID        storecore.TxnID
	Kind         storecore.DriverEventKind
	Checksum     uint64
	PrevChecksum uint64
	PrevOffset   uint64
	PrevTxnID    storecore.TxnID
}

// encodeDriverEvent packs a DriverEvent into its 64-byte wire form. The
// txn_id field is 16 bytes on the wire; its upper word is always zero,
// which is what guarantees the byte range co-located with a server
// event's meta word reads with its MSB clear.
func encodeDriverEvent(e DriverEvent) [DriverEventSize]byte {
	var buf [DriverEventSize]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(e.TxnID))
	binary.LittleEndian.PutUint64(buf[8:16], 0) // txn_id high word
	binary.LittleEndian.PutUint64(buf[16:24], uint64(e.Kind))
	// buf[24:32] (checksum) filled in below, after computing it.
	binary.LittleEndian.PutUint64(buf[32:40], 3) // payload_len: 3 trailing u64 fields
	binary.LittleEndian.PutUint64(buf[40:48], e.PrevChecksum)
	binary.LittleEndian.PutUint64(buf[48:56], e.PrevOffset)
	binary.LittleEndian.PutUint64(buf[56:64], uint64(e.PrevTxnID))

	checksum := driverEventChecksum(buf)
	binary.LittleEndian.PutUint64(buf[24:32], checksum)
	return buf
}

// driverEventChecksum computes the CRC-64 over the last 40 bytes of a
// driver event: every field except txn_id and the checksum field itself,
// concatenated in wire order (event_kind, payload_len, prev_checksum,
// prev_offset, prev_txn_id). buf's checksum slot [24:32] is ignored
// regardless of its contents.
func driverEventChecksum(buf [DriverEventSize]byte) uint64 {
	var data [40]byte
	copy(data[0:8], buf[16:24])  // event_kind
	copy(data[8:40], buf[32:64]) // payload_len, prev_checksum, prev_offset, prev_txn_id
	return crc64.Checksum(data[:], crcTable)
}

// decodeDriverEvent decodes a server-event-ruled-out 16-byte prefix
// (prefix) plus the following 48 bytes (rest) into a DriverEvent,
// verifying its internal checksum.
func decodeDriverEvent(prefix [EventHeaderSize]byte, rest [driverRestSize]byte) (DriverEvent, error) {
	var buf [DriverEventSize]byte
	copy(buf[0:16], prefix[:])
	copy(buf[16:64], rest[:])

	storedChecksum := binary.LittleEndian.Uint64(buf[24:32])
	if driverEventChecksum(buf) != storedChecksum {
		return DriverEvent{}, storecore.NewJournalError(storecore.KindEventCorruptedMetadata, 0, nil)
	}

	return DriverEvent{
		TxnID:        storecore.TxnID(binary.LittleEndian.Uint64(buf[0:8])),
		Kind:         storecore.DriverEventKind(binary.LittleEndian.Uint64(buf[16:24])),
		Checksum:     storedChecksum,
		PrevChecksum: binary.LittleEndian.Uint64(buf[40:48]),
		PrevOffset:   binary.LittleEndian.Uint64(buf[48:56]),
		PrevTxnID:    storecore.TxnID(binary.LittleEndian.Uint64(buf[56:64])),
	}, nil
}
