// ============================================================================
// Demo Global State - list-of-strings event-log model
// ============================================================================
//
// Package: internal/demo
// Purpose: A minimal in-memory state exercising the event-log adapter
// (push/pop over a list of strings), used by the journaldemo command and
// by storage-layer tests. The real in-memory namespace/model data lives
// outside this repository; this stands in for it exactly as far as
// exercising commit/replay/compaction requires.
//
// ============================================================================

package demo

import (
	"sync"

	"github.com/nimbusdb/storecore/internal/storage/eventlog"
	"github.com/nimbusdb/storecore/internal/storage/journal"
	"github.com/nimbusdb/storecore/pkg/storecore"
)

// Event tags for the demo's event-log dispatch table.
const (
	TagPush uint64 = iota
	TagPop
)

// GlobalState is the demo's whole in-memory model: an ordered list of
// strings.
type GlobalState struct {
	mu    sync.Mutex
	Items []string
}

// Len reports the current item count.
func (gs *GlobalState) Len() int {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return len(gs.Items)
}

// Last returns the final item, or "" if empty.
func (gs *GlobalState) Last() string {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	if len(gs.Items) == 0 {
		return ""
	}
	return gs.Items[len(gs.Items)-1]
}

// Snapshot returns a copy of the current items.
func (gs *GlobalState) Snapshot() []string {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	out := make([]string, len(gs.Items))
	copy(out, gs.Items)
	return out
}

func dispatch() eventlog.Dispatch {
	return eventlog.Dispatch{
		TagPush: func(state interface{}, payload []byte) (bool, error) {
			gs := state.(*GlobalState)
			gs.mu.Lock()
			defer gs.mu.Unlock()
			gs.Items = append(gs.Items, string(payload))
			return false, nil
		},
		TagPop: func(state interface{}, payload []byte) (bool, error) {
			gs := state.(*GlobalState)
			gs.mu.Lock()
			defer gs.mu.Unlock()
			if len(gs.Items) > 0 {
				gs.Items = gs.Items[:len(gs.Items)-1]
			}
			// A pop retires a prior push: it's a redundant record from
			// compaction's point of view.
			return true, nil
		},
	}
}

// Handle returns the journal.EventHandler that replays events into gs.
func Handle(gs *GlobalState) journal.EventHandler {
	return eventlog.Apply(gs, dispatch())
}

// Push commits a push event.
func Push(j *journal.Journal, item string) (storecore.TxnID, error) {
	return eventlog.Commit(j, TagPush, []byte(item))
}

// Pop commits a pop event.
func Pop(j *journal.Journal) (storecore.TxnID, error) {
	return eventlog.Commit(j, TagPop, nil)
}

// Rewrite drives the compaction full-sync hook: one canonical push per
// surviving item, in order.
func Rewrite(gs *GlobalState) func(sibling *journal.Journal) error {
	return func(sibling *journal.Journal) error {
		return eventlog.Rewrite(sibling, func(emit func(tag uint64, payload []byte) error) error {
			for _, item := range gs.Snapshot() {
				if err := emit(TagPush, []byte(item)); err != nil {
					return err
				}
			}
			return nil
		})
	}
}
