// ============================================================================
// storecore Core Type Definitions
// ============================================================================
//
// Package: pkg/storecore
// Purpose: Core domain models shared by the raw journal, its adapters, and
// the compaction/repair engines built on top of it.
//
// Design Principles:
//   1. The journal never touches a concrete global-state type directly;
//      it only calls the EventHandler callback an adapter hands it
//      (internal/storage/journal). This package defines no interfaces.
//   2. Every multi-byte on-disk integer is little-endian (see
//      DriverEventKind, TxnID); this package only defines the in-memory shapes, the wire
//      encoding lives in internal/storage/journal.
//
// ============================================================================

// Package storecore defines the entities the storage core and its
// adapters exchange: transaction IDs, event kinds, journal statistics,
// and the compaction recommendation enum.
package storecore

import "fmt"

// TxnID is a monotonically increasing transaction identifier. Every event
// (server or driver) consumes exactly one ID; there are no gaps.
type TxnID uint64

// DriverEventKind distinguishes the two fixed 64-byte driver events the
// raw journal itself emits at open/close boundaries.
type DriverEventKind uint64

const (
	// DriverReopened marks the first event of a journal reopened after a
	// clean close.
	DriverReopened DriverEventKind = 0
	// DriverClosed marks the last event written before a clean close.
	DriverClosed DriverEventKind = 1
)

func (k DriverEventKind) String() string {
	switch k {
	case DriverReopened:
		return "Reopened"
	case DriverClosed:
		return "Closed"
	default:
		return fmt.Sprintf("DriverEventKind(%d)", uint64(k))
	}
}

// ScanPhase describes where a reader/repair scan currently stands relative
// to the open/close driver-event protocol. Repair uses this to decide
// whether a synthetic Closed event is required after truncation.
type ScanPhase int

const (
	// AwaitingEvent: no commit has yet been observed; the very first
	// bytes of the journal (after the header) are still unread.
	AwaitingEvent ScanPhase = iota
	// AwaitingServerEvent: the journal is mid-stream; the next record may
	// be either a server event or a driver event.
	AwaitingServerEvent
	// AwaitingClose: a Reopened driver event was just read and a matching
	// Closed event (possibly preceded by server events) is still owed.
	AwaitingClose
	// AwaitingReopen: a Closed driver event was just read; the scan is
	// only valid if followed by EOF or a Reopened event.
	AwaitingReopen
)

func (p ScanPhase) String() string {
	switch p {
	case AwaitingEvent:
		return "AwaitingEvent"
	case AwaitingServerEvent:
		return "AwaitingServerEvent"
	case AwaitingClose:
		return "AwaitingClose"
	case AwaitingReopen:
		return "AwaitingReopen"
	default:
		return fmt.Sprintf("ScanPhase(%d)", int(p))
	}
}

// WriterState is the writer's view of the journal immediately after the
// last successful commit. It is the rollback target on commit failure.
type WriterState struct {
	TxnIDNext       TxnID  // next transaction ID to assign
	KnownTxnID      TxnID  // last committed transaction ID
	KnownTxnOffset  uint64 // file offset the last committed event started at
	RunningChecksum uint64 // tracked-I/O CRC-64 state just after the last committed event
}

// ReaderState is the scanner's view while replaying or repairing a
// journal. Every driver event's prev_* fields are checked against it.
type ReaderState struct {
	TxnIDExpected   TxnID
	LastTxnID       TxnID
	LastTxnOffset   uint64
	LastTxnChecksum uint64
	Phase           ScanPhase
}

// Stats summarizes a journal's contents, driving the compaction
// recommendation.
type Stats struct {
	HeaderSize           uint64
	DriverEventCount     uint64
	ServerEventCount     uint64
	RedundantRecordCount uint64
	FileSize             uint64
}

// Recommendation is the compaction-trigger verdict computed from Stats.
type Recommendation int

const (
	NoActionNeeded Recommendation = iota
	CompactDrvHighRatio
	CompactRedHighRatio
)

func (r Recommendation) String() string {
	switch r {
	case NoActionNeeded:
		return "NoActionNeeded"
	case CompactDrvHighRatio:
		return "CompactDrvHighRatio"
	case CompactRedHighRatio:
		return "CompactRedHighRatio"
	default:
		return fmt.Sprintf("Recommendation(%d)", int(r))
	}
}

// Recommend implements the compaction trigger table.
//
//   - NoActionNeeded if the file is small.
//   - CompactDrvHighRatio if driver events are at least as many as server events.
//   - CompactRedHighRatio if redundant records are >= 10% of server events.
//
// minFileSize lets callers (and tests) lower the "small file" threshold
// below the production 4 MiB default.
func (s Stats) Recommend(minFileSize uint64) Recommendation {
	if s.FileSize < minFileSize {
		return NoActionNeeded
	}
	if s.DriverEventCount >= s.ServerEventCount {
		return CompactDrvHighRatio
	}
	if s.ServerEventCount > 0 && s.RedundantRecordCount*10 >= s.ServerEventCount {
		return CompactRedHighRatio
	}
	return NoActionNeeded
}

// DefaultMinCompactionFileSize is the production "small file" threshold
// (4 MiB). Tests use a much smaller override.
const DefaultMinCompactionFileSize = 4 * 1024 * 1024

// RepairMode selects the strategy the repair engine uses to reconcile a
// damaged journal. Only Simple exists today; a richer mode that recovers
// the beginning of a torn batch is a deliberate non-feature for now.
type RepairMode int

const (
	// RepairSimple truncates to the last known-good event and, if
	// necessary, synthesizes a closing driver event.
	RepairSimple RepairMode = iota
)

// RepairOutcome reports what repair did to a journal.
type RepairOutcome struct {
	// NoErrors is true when the journal scanned cleanly and no repair
	// action was necessary.
	NoErrors bool
	// LostBytes is the number of trailing bytes discarded. Zero when
	// NoErrors is true.
	LostBytes uint64
}
