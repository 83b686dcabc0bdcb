package batch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nimbusdb/storecore/internal/storage/journal"
	"github.com/nimbusdb/storecore/internal/storage/tracked"
	"github.com/nimbusdb/storecore/pkg/storecore"
)

const testBatchTag uint64 = 5

const (
	opInsert uint8 = iota + 1
	opDelete
)

type listScratch struct {
	inserts []string
	deletes []string
}

func hooksOverList(list *[]string) Hooks {
	return Hooks{
		InitializeState: func() interface{} {
			return &listScratch{}
		},
		DecodeMetadata: func(r *tracked.PartialReader, batchTag uint64) (interface{}, error) {
			return nil, nil
		},
		Logic: func(batchTag uint64) EventLogic {
			return General
		},
		UpdateState: func(scratch interface{}, meta interface{}, r *tracked.PartialReader, eventType uint8, stats *storecore.Stats) error {
			s := scratch.(*listScratch)
			lenBuf, err := r.ReadBlock(1)
			if err != nil {
				return err
			}
			body, err := r.ReadBlock(int(lenBuf[0]))
			if err != nil {
				return err
			}
			switch eventType {
			case opInsert:
				s.inserts = append(s.inserts, string(body))
				stats.ServerEventCount++
			case opDelete:
				s.deletes = append(s.deletes, string(body))
				stats.ServerEventCount++
				stats.RedundantRecordCount++
			}
			return nil
		},
		Finish: func(scratch interface{}, meta interface{}, stats *storecore.Stats) error {
			s := scratch.(*listScratch)
			for _, v := range s.inserts {
				*list = append(*list, v)
			}
			for _, d := range s.deletes {
				for i, v := range *list {
					if v == d {
						*list = append((*list)[:i], (*list)[i+1:]...)
						break
					}
				}
			}
			return nil
		},
	}
}

func event(typ uint8, value string) Event {
	return Event{Type: typ, Body: append([]byte{byte(len(value))}, value...)}
}

func TestCommitAndApplyAtomicBatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j")
	var list []string
	j, _, err := journal.Open(path, true, Apply(hooksOverList(&list)), time.Now())
	require.NoError(t, err)

	req := CommitRequest{
		ExpectedCount: 3,
		Events: []Event{
			event(opInsert, "a"),
			event(opInsert, "b"),
			event(opInsert, "c"),
		},
	}
	_, err = Commit(j, testBatchTag, req)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	var replayed []string
	j2, _, err := journal.Open(path, true, Apply(hooksOverList(&replayed)), time.Now())
	require.NoError(t, err)
	defer j2.Close()

	assert.Equal(t, []string{"a", "b", "c"}, replayed)
	stats := j2.Stats()
	assert.Equal(t, uint64(3), stats.ServerEventCount)
}

func TestEarlyExitStopsShortOfExpectedCount(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j")
	var list []string
	j, _, err := journal.Open(path, true, Apply(hooksOverList(&list)), time.Now())
	require.NoError(t, err)

	req := CommitRequest{
		ExpectedCount: 10,
		Events: []Event{
			event(opInsert, "a"),
			event(opInsert, "b"),
		},
		EarlyExit: true,
	}
	_, err = Commit(j, testBatchTag, req)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	var replayed []string
	j2, _, err := journal.Open(path, true, Apply(hooksOverList(&replayed)), time.Now())
	require.NoError(t, err)
	defer j2.Close()

	assert.Equal(t, []string{"a", "b"}, replayed)
}

func TestDeleteRetiresEarlierInsert(t *testing.T) {
	path := filepath.Join(t.TempDir(), "j")
	var list []string
	j, _, err := journal.Open(path, true, Apply(hooksOverList(&list)), time.Now())
	require.NoError(t, err)

	_, err = Commit(j, testBatchTag, CommitRequest{
		ExpectedCount: 2,
		Events:        []Event{event(opInsert, "a"), event(opInsert, "b")},
	})
	require.NoError(t, err)
	_, err = Commit(j, testBatchTag, CommitRequest{
		ExpectedCount: 1,
		Events:        []Event{event(opDelete, "a")},
	})
	require.NoError(t, err)
	require.NoError(t, j.Close())

	var replayed []string
	j2, _, err := journal.Open(path, true, Apply(hooksOverList(&replayed)), time.Now())
	require.NoError(t, err)
	defer j2.Close()

	assert.Equal(t, []string{"b"}, replayed)
	stats := j2.Stats()
	assert.Equal(t, uint64(1), stats.RedundantRecordCount)
}

// flipByteAt XORs one byte of the file at offset, in place.
func flipByteAt(t *testing.T, path string, offset int64) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()
	var b [1]byte
	_, err = f.ReadAt(b[:], offset)
	require.NoError(t, err)
	b[0] ^= 0xFF
	_, err = f.WriteAt(b[:], offset)
	require.NoError(t, err)
}

func buildOneBatchJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "j")
	var list []string
	j, _, err := journal.Open(path, true, Apply(hooksOverList(&list)), time.Now())
	require.NoError(t, err)
	_, err = Commit(j, testBatchTag, CommitRequest{
		ExpectedCount: 2,
		Events:        []Event{event(opInsert, "a"), event(opInsert, "b")},
	})
	require.NoError(t, err)
	require.NoError(t, j.Close())
	return path
}

func TestCorruptedActualSizeIsContentsMismatch(t *testing.T) {
	path := buildOneBatchJournal(t)

	info, err := os.Stat(path)
	require.NoError(t, err)
	// actual_size sits just before the trailing batch CRC, which in turn
	// precedes the 64-byte Closed driver event.
	actualSizeOffset := info.Size() - journal.DriverEventSize - 8 - 8
	flipByteAt(t, path, actualSizeOffset)

	var replayed []string
	_, _, openErr := journal.Open(path, true, Apply(hooksOverList(&replayed)), time.Now())
	require.Error(t, openErr)
	var je *storecore.JournalError
	require.ErrorAs(t, openErr, &je)
	assert.Equal(t, storecore.KindBatchContentsMismatch, je.Kind)
	assert.True(t, storecore.IsRecoverable(openErr))
	assert.Empty(t, replayed, "no event from the torn batch is applied")
}

func TestCorruptedEventBodyIsIntegrityFailure(t *testing.T) {
	path := buildOneBatchJournal(t)

	// First body byte: header, 16-byte event prefix, 8-byte expected_size,
	// then the first event's type and length bytes.
	bodyOffset := int64(64 + 16 + 8 + 1 + 1)
	flipByteAt(t, path, bodyOffset)

	var replayed []string
	_, _, openErr := journal.Open(path, true, Apply(hooksOverList(&replayed)), time.Now())
	require.Error(t, openErr)
	var je *storecore.JournalError
	require.ErrorAs(t, openErr, &je)
	assert.Equal(t, storecore.KindBatchIntegrityFailure, je.Kind)
	assert.True(t, storecore.IsRecoverable(openErr))
	assert.Empty(t, replayed, "a batch failing its CRC leaves state untouched")
}
