// ============================================================================
// Journal File Header
// ============================================================================
//
// Package: internal/storage/header
// Purpose: The fixed-size, versioned header every journal file begins
// with. The rest of the storage core treats the header's contents as
// opaque and only needs a known, fixed start offset for the event
// stream; this package supplies a minimal magic+version+timestamp block
// at that size. Encoded with encoding/binary since this is the one
// record in the journal that must be trivially readable without decoding
// anything adapter-specific.
//
// ============================================================================

package header

import (
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/nimbusdb/storecore/pkg/storecore"
)

// Magic identifies a valid storecore journal file.
var Magic = [8]byte{'S', 'D', 'S', 'S', 'J', 'R', 'N', 'L'}

// Version is the current header format version this binary writes and
// the newest version it can read.
const Version uint16 = 1

// Size is the fixed on-disk size of the header, in bytes.
const Size = 64

// Header is the decoded form of the fixed-size journal header.
type Header struct {
	Version   uint16
	CreatedAt int64 // Unix milliseconds; wall-clock only, never correctness-critical
}

// Write encodes a fresh header for a newly created journal and writes it
// to file at its current offset (expected to be 0).
func Write(file *os.File, now time.Time) (Header, error) {
	h := Header{Version: Version, CreatedAt: now.UnixMilli()}
	buf := make([]byte, Size)
	copy(buf[0:8], Magic[:])
	binary.LittleEndian.PutUint16(buf[8:10], h.Version)
	binary.LittleEndian.PutUint64(buf[10:18], uint64(h.CreatedAt))
	if _, err := file.Write(buf); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Read validates and decodes the header at the start of file, leaving the
// file's offset positioned at Size (the start of the event stream) on
// success.
func Read(file *os.File) (Header, error) {
	buf := make([]byte, Size)
	if _, err := io.ReadFull(file, buf); err != nil {
		return Header{}, storecore.NewJournalError(storecore.KindHeaderCorrupted, 0, err)
	}
	var magic [8]byte
	copy(magic[:], buf[0:8])
	if magic != Magic {
		return Header{}, storecore.NewJournalError(storecore.KindHeaderCorrupted, 0, nil)
	}
	version := binary.LittleEndian.Uint16(buf[8:10])
	if version > Version {
		return Header{}, storecore.NewJournalError(storecore.KindUpgradeFailureFileIsNewer, 0, nil)
	}
	if version != Version {
		return Header{}, storecore.NewJournalError(storecore.KindHeaderVersionMismatch, 0, nil)
	}
	createdAt := int64(binary.LittleEndian.Uint64(buf[10:18]))
	return Header{Version: version, CreatedAt: createdAt}, nil
}
