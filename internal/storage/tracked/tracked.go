// ============================================================================
// Tracked I/O Layer
// ============================================================================
//
// Package: internal/storage/tracked
// Purpose: Wrap a plain *os.File with a running CRC-64 checksum, a write
// buffer, and cursor tracking, so that every byte written to (or read
// from) a journal file while it is open contributes to one running
// checksum. Driver events embed that running value, which is how a later
// scan proves the bytes between two driver events are the bytes that
// were written.
//
// The buffered-writer-then-Sync split keeps "data is queued" distinct
// from "data is durable": Write and WriteThrough queue and account,
// FlushSync is the only durability point.
//
// ============================================================================

package tracked

import (
	"bufio"
	"hash/crc64"
	"io"
	"os"
)

// table is the CRC-64 polynomial table used throughout the storage core.
// Nothing external ever needs to recompute these checksums, so the
// polynomial only has to be stable, not interoperable; crc64.ISO is the
// one hash/crc64 ships first.
var table = crc64.MakeTable(crc64.ISO)

// Writer wraps an *os.File with a buffered writer and a running CRC-64.
// It is not safe for concurrent use; the raw journal serializes all
// access to it behind its own mutex, since a journal has exactly one
// writer at a time.
type Writer struct {
	file   *os.File
	bw     *bufio.Writer
	crc    uint64
	cursor uint64
}

// NewWriter wraps file, whose current OS-level offset must equal cursor
// (the caller is responsible for having seeked or opened in append mode
// appropriately; NewWriter never seeks).
func NewWriter(file *os.File, cursor uint64, initialChecksum uint64) *Writer {
	return &Writer{
		file:   file,
		bw:     bufio.NewWriter(file),
		crc:    initialChecksum,
		cursor: cursor,
	}
}

// Write appends p to the internal buffer and folds it into the running
// checksum. It does not flush to the OS.
func (w *Writer) Write(p []byte) (int, error) {
	n, err := w.bw.Write(p)
	w.crc = crc64.Update(w.crc, table, p[:n])
	w.cursor += uint64(n)
	return n, err
}

// WriteThrough first flushes any buffered bytes, then writes p directly
// to the file (bypassing the buffer) so it reaches the OS in one syscall,
// and folds it into the running checksum. The raw journal uses this for
// driver events, which must land on disk as a single contiguous write.
func (w *Writer) WriteThrough(p []byte) (int, error) {
	if err := w.bw.Flush(); err != nil {
		return 0, err
	}
	n, err := w.file.Write(p)
	w.crc = crc64.Update(w.crc, table, p[:n])
	w.cursor += uint64(n)
	return n, err
}

// FlushSync flushes the write buffer to the file and fsyncs it. Flushing
// alone never changes checksum state; the checksum already accounts for
// buffered-but-not-yet-durable bytes.
func (w *Writer) FlushSync() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// DrainBuffer discards any bytes still sitting in the write buffer
// without touching the running checksum.
//
// Unsafe contract: only call this immediately after truncating the
// underlying file back to a point that removed exactly those buffered
// bytes (or a superset of them) from disk, otherwise the checksum will
// silently disagree with what's actually on disk. Callers that need the
// checksum corrected too (e.g. a full rollback to an earlier commit) must
// also call RestoreChecksum with the target WriterState's checksum.
func (w *Writer) DrainBuffer() {
	w.bw = bufio.NewWriter(w.file)
}

// RestoreChecksum forcibly overwrites the running checksum. Unsafe:
// intended only for the raw journal's rollback path, which knows the
// exact checksum recorded in WriterState as of the last successful
// commit and needs to rewind to it after DrainBuffer discards any bytes
// written since.
func (w *Writer) RestoreChecksum(crc uint64) {
	w.crc = crc
}

// Context starts a nested partial-checksum scope: a PartialWriter that
// writes through this Writer (advancing its cursor and whole-file
// checksum exactly as a direct Write would) while additionally
// accumulating its own independent CRC-64 over only the bytes it
// personally writes. The batch adapter uses this to compute a batch's
// trailing CRC, which covers only the batch body, not the whole file,
// mirroring Reader.Context on the read side so both sides land on the
// same value.
func (w *Writer) Context() *PartialWriter {
	return &PartialWriter{parent: w}
}

// PartialWriter accumulates a CRC-64 scoped to the bytes written through
// it, in lockstep with its parent Writer's whole-file running checksum.
type PartialWriter struct {
	parent  *Writer
	partial uint64
}

// Write writes through the parent Writer, updating both the parent's
// whole-file checksum/cursor and this scope's partial checksum.
func (p *PartialWriter) Write(data []byte) (int, error) {
	n, err := p.parent.Write(data)
	p.partial = crc64.Update(p.partial, table, data[:n])
	return n, err
}

// Finish ends the partial-checksum scope, returning the CRC-64 computed
// over exactly the bytes written through this PartialWriter.
func (p *PartialWriter) Finish() uint64 {
	return p.partial
}

// Checksum returns the current running CRC-64.
func (w *Writer) Checksum() uint64 {
	return w.crc
}

// Cursor returns the current logical write position.
func (w *Writer) Cursor() uint64 {
	return w.cursor
}

// VerifyCursor cross-checks the logical cursor against the file's actual
// size on disk, flushing first so buffered-but-unwritten bytes don't
// cause a false mismatch.
func (w *Writer) VerifyCursor() error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	if uint64(info.Size()) != w.cursor {
		return io.ErrUnexpectedEOF
	}
	return nil
}

// Truncate flushes, truncates the underlying file to offset, and repositions
// the OS file cursor there. Used by rollback and repair.
func (w *Writer) Truncate(offset uint64) error {
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if err := w.file.Truncate(int64(offset)); err != nil {
		return err
	}
	if _, err := w.file.Seek(int64(offset), io.SeekStart); err != nil {
		return err
	}
	w.cursor = offset
	return nil
}

// File exposes the underlying *os.File for operations tracked.Writer does
// not itself model (Close, fd-level Sync already covered by FlushSync).
func (w *Writer) File() *os.File {
	return w.file
}
