// ============================================================================
// journaldemo - commit/replay/compact walkthrough
// ============================================================================
//
// File: cmd/journaldemo/main.go
// Purpose: A small standalone program exercising the whole storage core
// against a single journal file: commit a run of push/pop events, close
// and reopen the file to prove replay reconstructs the same state, then
// compact it and show the size before/after.
//
// Usage:
//   go run ./cmd/journaldemo <path-to-journal>
//
// ============================================================================

package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nimbusdb/storecore/internal/demo"
	"github.com/nimbusdb/storecore/internal/storage/compaction"
	"github.com/nimbusdb/storecore/internal/storage/journal"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: journaldemo <path-to-journal>")
		os.Exit(1)
	}
	path := os.Args[1]
	now := time.Now()

	gs := &demo.GlobalState{}
	j, _, err := journal.Open(path, true, demo.Handle(gs), now)
	if err != nil {
		log.Fatalf("open failed: %v", err)
	}

	fmt.Printf("opened %s with %d item(s) replayed\n", path, gs.Len())

	for i := 0; i < 20; i++ {
		if _, err := demo.Push(j, fmt.Sprintf("item-%03d", i)); err != nil {
			log.Fatalf("push failed: %v", err)
		}
	}
	for i := 0; i < 5; i++ {
		if _, err := demo.Pop(j); err != nil {
			log.Fatalf("pop failed: %v", err)
		}
	}
	fmt.Printf("committed 20 pushes and 5 pops; live state has %d item(s), last=%q\n", gs.Len(), gs.Last())

	if err := j.Close(); err != nil {
		log.Fatalf("close failed: %v", err)
	}

	replayed := &demo.GlobalState{}
	j2, _, err := journal.Open(path, true, demo.Handle(replayed), time.Now())
	if err != nil {
		log.Fatalf("reopen failed: %v", err)
	}
	fmt.Printf("reopened %s and replayed %d item(s), last=%q\n", path, replayed.Len(), replayed.Last())

	before := j2.Stats()
	fmt.Printf("before compaction: %d bytes, %d driver events, %d server events\n",
		before.FileSize, before.DriverEventCount, before.ServerEventCount)

	postCompaction := &demo.GlobalState{}
	compacted, _, err := compaction.Compact(path, true, j2, time.Now(), demo.Rewrite(replayed), demo.Handle(postCompaction))
	if err != nil {
		log.Fatalf("compact failed: %v", err)
	}
	after := compacted.Stats()
	fmt.Printf("after compaction: %d bytes, %d driver events, %d server events, %d item(s) replayed\n",
		after.FileSize, after.DriverEventCount, after.ServerEventCount, postCompaction.Len())

	if err := compacted.Close(); err != nil {
		log.Fatalf("final close failed: %v", err)
	}
}
