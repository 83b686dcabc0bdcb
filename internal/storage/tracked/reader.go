package tracked

import (
	"bufio"
	"hash/crc64"
	"io"
	"os"
)

// Reader wraps an *os.File with a running CRC-64 mirroring the one a
// Writer would have computed over the same bytes, plus cursor tracking.
// A fresh scan (reader or repair) recomputes this from zero at the start
// of the file (after the header) and must land on the exact same values
// the writer recorded at each driver event.
type Reader struct {
	br     *bufio.Reader
	size   uint64
	crc    uint64
	cursor uint64
}

// NewReader opens a Reader over file starting at cursor, whose current OS
// offset must already equal cursor.
func NewReader(file *os.File, cursor uint64) (*Reader, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return &Reader{
		br:     bufio.NewReader(file),
		size:   uint64(info.Size()),
		cursor: cursor,
	}, nil
}

// Read fills p entirely (short reads at EOF are reported as
// io.ErrUnexpectedEOF) and folds the bytes read into the running
// checksum.
func (r *Reader) Read(p []byte) (int, error) {
	n, err := io.ReadFull(r.br, p)
	r.crc = crc64.Update(r.crc, table, p[:n])
	r.cursor += uint64(n)
	if err == io.ErrUnexpectedEOF || err == io.EOF {
		return n, io.ErrUnexpectedEOF
	}
	return n, err
}

// ReadBlock reads exactly n bytes and returns them as a fresh slice.
func (r *Reader) ReadBlock(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := r.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Peek returns the next n bytes without advancing the cursor or touching
// the checksum.
func (r *Reader) Peek(n int) ([]byte, error) {
	return r.br.Peek(n)
}

// Remaining reports how many bytes are left before EOF.
func (r *Reader) Remaining() uint64 {
	if r.cursor >= r.size {
		return 0
	}
	return r.size - r.cursor
}

// IsEOF reports whether the cursor has reached the end of the file.
// It peeks one byte rather than trusting the cached size, so it stays
// correct even if the file grew after NewReader was called.
func (r *Reader) IsEOF() bool {
	_, err := r.br.Peek(1)
	return err != nil
}

// Checksum returns the running CRC-64 computed so far.
func (r *Reader) Checksum() uint64 {
	return r.crc
}

// Cursor returns the current logical read position.
func (r *Reader) Cursor() uint64 {
	return r.cursor
}

// Context starts a nested partial-checksum scope: a PartialReader that
// reads through this Reader (advancing its cursor and outer checksum
// exactly as a direct Read would) while additionally accumulating its own
// independent CRC-64 over only the bytes it personally reads. The batch
// adapter uses this to verify a batch's trailing CRC, which covers only
// the batch body, not the whole file.
func (r *Reader) Context() *PartialReader {
	return &PartialReader{parent: r}
}

// PartialReader accumulates a CRC-64 scoped to the bytes read through it,
// in lockstep with its parent Reader's whole-file running checksum.
type PartialReader struct {
	parent  *Reader
	partial uint64
}

// Read reads through the parent Reader, updating both the parent's
// whole-file checksum/cursor and this scope's partial checksum.
func (p *PartialReader) Read(buf []byte) (int, error) {
	n, err := p.parent.Read(buf)
	p.partial = crc64.Update(p.partial, table, buf[:n])
	return n, err
}

// ReadBlock is the PartialReader equivalent of Reader.ReadBlock.
func (p *PartialReader) ReadBlock(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := p.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Finish ends the partial-checksum scope, returning the CRC-64 computed
// over exactly the bytes read through this PartialReader and the parent
// Reader to resume reading with.
func (p *PartialReader) Finish() (uint64, *Reader) {
	return p.partial, p.parent
}
