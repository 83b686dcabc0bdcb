package storecore

// ============================================================================
// Error Taxonomy
// Purpose: Classify every error the storage core can raise by whether a
// repair pass can recover from it. A Kind enum rather than a flat block
// of sentinel vars, so recoverability can live as a method instead of a
// type switch repeated at each call site.
// ============================================================================

import (
	"errors"
	"fmt"
)

// Kind enumerates the storage core's error taxonomy.
type Kind int

const (
	// KindIOUnexpectedEOF: file truncated mid-event.
	KindIOUnexpectedEOF Kind = iota
	// KindEventCorruptedMetadata: txn_id or meta mismatch while decoding
	// the 16-byte event header.
	KindEventCorruptedMetadata
	// KindEventCorruptedPayload: checksum failure on a server event.
	KindEventCorruptedPayload
	// KindInvalidEvent: saw Reopened where Closed was expected, or an
	// unknown event discriminant.
	KindInvalidEvent
	// KindBatchContentsMismatch: expected_size != actual_size.
	KindBatchContentsMismatch
	// KindBatchIntegrityFailure: batch-wide CRC mismatch.
	KindBatchIntegrityFailure
	// KindInternalDecodeStructureCorrupted: adapter-defined payload was
	// ill-formed.
	KindInternalDecodeStructureCorrupted
	// KindUpgradeFailureFileIsNewer: header version newer than this binary.
	KindUpgradeFailureFileIsNewer
	// KindHeaderCorrupted: header unreadable or magic mismatch.
	KindHeaderCorrupted
	// KindHeaderVersionMismatch: header version this binary can't read.
	KindHeaderVersionMismatch
	// KindOther: any other OS-level error (permission, disk full, ...).
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindIOUnexpectedEOF:
		return "IoError(UnexpectedEof)"
	case KindEventCorruptedMetadata:
		return "RawJournalDecodeEventCorruptedMetadata"
	case KindEventCorruptedPayload:
		return "RawJournalDecodeEventCorruptedPayload"
	case KindInvalidEvent:
		return "RawJournalDecodeInvalidEvent"
	case KindBatchContentsMismatch:
		return "RawJournalDecodeBatchContentsMismatch"
	case KindBatchIntegrityFailure:
		return "RawJournalDecodeBatchIntegrityFailure"
	case KindInternalDecodeStructureCorrupted:
		return "InternalDecodeStructureCorrupted"
	case KindUpgradeFailureFileIsNewer:
		return "RuntimeUpgradeFailureFileIsNewer"
	case KindHeaderCorrupted:
		return "FileDecodeHeaderCorrupted"
	case KindHeaderVersionMismatch:
		return "HeaderVersionMismatch"
	default:
		return "Other"
	}
}

// Recoverable reports whether a repair pass can act on this error kind.
func (k Kind) Recoverable() bool {
	switch k {
	case KindIOUnexpectedEOF,
		KindEventCorruptedMetadata,
		KindEventCorruptedPayload,
		KindInvalidEvent,
		KindBatchContentsMismatch,
		KindBatchIntegrityFailure,
		KindInternalDecodeStructureCorrupted:
		return true
	default:
		return false
	}
}

// JournalError is the concrete error type raised throughout the storage
// core. It always carries the byte offset at which the problem was
// detected, so both diagnostics and repair know where the damage starts.
type JournalError struct {
	Kind   Kind
	Offset uint64
	Cause  error
}

func (e *JournalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s at offset %d: %v", e.Kind, e.Offset, e.Cause)
	}
	return fmt.Sprintf("%s at offset %d", e.Kind, e.Offset)
}

func (e *JournalError) Unwrap() error {
	return e.Cause
}

// NewJournalError constructs a *JournalError, wrapping cause (which may be
// nil) with kind and the offset it was detected at.
func NewJournalError(kind Kind, offset uint64, cause error) *JournalError {
	return &JournalError{Kind: kind, Offset: offset, Cause: cause}
}

// IsRecoverable unwraps err looking for a *JournalError and reports its
// recoverability; non-JournalError errors (bare OS errors not already
// classified) are treated as fatal.
func IsRecoverable(err error) bool {
	var je *JournalError
	if errors.As(err, &je) {
		return je.Kind.Recoverable()
	}
	return false
}

// ErrWriterClosed is returned by any writer operation attempted after
// Close or during an in-progress compaction/rotation.
var ErrWriterClosed = errors.New("storecore: writer is closed")
