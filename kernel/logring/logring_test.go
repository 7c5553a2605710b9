package logring

import (
	"sync"
	"testing"
)

func TestPrintfSingleChunkRoundTrips(t *testing.T) {
	r := New(8)
	r.Printf(LevelInfo, "hi")

	if r.Len() != 1 {
		t.Fatalf("expected 1 chunk queued, got %d", r.Len())
	}

	c, ok := r.buf.Pop()
	if !ok {
		t.Fatal("expected a chunk")
	}
	if !c.valid() {
		t.Fatal("expected chunk to pass CRC/magic validation")
	}
	if !c.IsMaster() {
		t.Fatal("expected single-chunk message to be a master chunk")
	}
	if c.Level() != LevelInfo {
		t.Fatalf("expected level Info, got %v", c.Level())
	}
	if got := string(c.Data()[:2]); got != "hi" {
		t.Fatalf("expected payload %q, got %q", "hi", got)
	}
}

func TestPrintfSplitsAcrossSlaveChunks(t *testing.T) {
	r := New(8)

	// DataSize bytes per chunk; force at least 3 chunks.
	msg := make([]byte, DataSize*2+5)
	for i := range msg {
		msg[i] = 'a' + byte(i%26)
	}
	r.Printf(LevelDebug, "%s", string(msg))

	if r.Len() != 3 {
		t.Fatalf("expected 3 chunks, got %d", r.Len())
	}

	var reassembled []byte
	masterID := uint64(0)
	for i := 0; i < 3; i++ {
		c, ok := r.buf.Pop()
		if !ok {
			t.Fatalf("expected chunk %d", i)
		}
		if !c.valid() {
			t.Fatalf("chunk %d: failed validation", i)
		}
		if i == 0 {
			if !c.IsMaster() {
				t.Fatal("expected first chunk to be master")
			}
			if c.Level() != LevelDebug {
				t.Fatalf("expected level Debug, got %v", c.Level())
			}
			masterID = c.ID()
		} else {
			if c.IsMaster() {
				t.Fatalf("expected chunk %d to be a slave", i)
			}
			if c.ID() != masterID {
				t.Fatalf("chunk %d: id %d does not match master id %d", i, c.ID(), masterID)
			}
		}
		n := DataSize
		if i == 2 {
			n = 5
		}
		reassembled = append(reassembled, c.Data()[:n]...)
	}

	if string(reassembled) != string(msg) {
		t.Fatal("reassembled payload does not match original message")
	}
}

func TestCorruptChunkFailsValidation(t *testing.T) {
	r := New(4)
	r.Printf(LevelWarning, "oops")
	c, _ := r.buf.Pop()
	c.Data()[0] ^= 0xff
	if c.valid() {
		t.Fatal("expected corrupted chunk to fail validation")
	}
}

func TestReaderReassemblesMultiChunkMessage(t *testing.T) {
	r := New(8)
	msg := make([]byte, DataSize+10)
	for i := range msg {
		msg[i] = 'x'
	}
	r.Printf(LevelError, "%s", string(msg))

	reader := NewReader(r)
	entries := reader.Poll()
	if len(entries) != 1 {
		t.Fatalf("expected 1 reassembled entry, got %d", len(entries))
	}
	if entries[0].Message != string(msg) {
		t.Fatal("reassembled message does not match original")
	}
	if entries[0].Level != LevelError {
		t.Fatalf("expected level Error, got %v", entries[0].Level)
	}
}

// TestReaderReplaysOrphanSlaves exercises spec.md §8's interleaved-message
// scenario: a slave chunk for id B arrives, is buffered as an orphan because
// its master hasn't appeared yet, and is correctly replayed once B's master
// does appear — without corrupting the message for id A that completed in
// between.
func TestReaderReplaysOrphanSlaves(t *testing.T) {
	r := New(16)
	reader := NewReader(r)

	longMsg := make([]byte, DataSize*2+10)
	for i := range longMsg {
		longMsg[i] = 'b'
	}

	var masterB, slaveB1, slaveB2 Chunk
	{
		cw := &chunkWriter{ring: r, level: LevelDebug, id: 100, total: uint64(len(longMsg))}
		cw.Write(longMsg)
		cw.flush()
	}
	// Pop the three chunks for id 100 straight off the ring so we can
	// reorder them by hand (master last).
	c1, _ := r.buf.Pop()
	c2, _ := r.buf.Pop()
	c3, _ := r.buf.Pop()
	masterB, slaveB1, slaveB2 = c1, c2, c3

	r.Printf(LevelInfo, "short-a")

	// Feed the id-100 slaves before its master to force the orphan path.
	r.buf.Push(slaveB1)
	r.buf.Push(slaveB2)
	r.buf.Push(masterB)

	entries := reader.Poll()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (short-a and the reassembled long message), got %d", len(entries))
	}
	if entries[0].Message != "short-a" {
		t.Fatalf("expected first entry to be short-a, got %q", entries[0].Message)
	}
	if entries[1].Message != string(longMsg) {
		t.Fatal("expected second entry to be the fully reassembled orphan-replayed message")
	}
}

// TestReaderInterleavedMastersBothComplete exercises spec.md §8 scenario 6:
// a second master interleaves between an in-progress master's own master
// chunk and its slaves. The reader must keep reassembling both logical
// streams independently rather than losing the interrupted one.
func TestReaderInterleavedMastersBothComplete(t *testing.T) {
	r := New(16)
	reader := NewReader(r)

	infoMsg := make([]byte, 2*DataSize+10)
	for i := range infoMsg {
		infoMsg[i] = 'a'
	}

	var infoMaster, infoSlave1, infoSlave2 Chunk
	{
		cw := &chunkWriter{ring: r, level: LevelInfo, id: 1, total: uint64(len(infoMsg))}
		cw.Write(infoMsg)
		cw.flush()
	}
	infoMaster, _ = r.buf.Pop()
	infoSlave1, _ = r.buf.Pop()
	infoSlave2, _ = r.buf.Pop()

	// A single-chunk Debug master, pushed after Info's master but before
	// Info's slaves, simulating another core interleaving a log call.
	r.Printf(LevelDebug, "debug-b")
	debugMaster, _ := r.buf.Pop()

	r.buf.Push(infoMaster)
	r.buf.Push(debugMaster)
	r.buf.Push(infoSlave1)
	r.buf.Push(infoSlave2)

	entries := reader.Poll()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries (debug-b and the reassembled info message), got %d", len(entries))
	}
	if entries[0].Message != "debug-b" {
		t.Fatalf("expected first completed entry to be debug-b, got %q", entries[0].Message)
	}
	if entries[1].Message != string(infoMsg) {
		t.Fatal("expected second completed entry to be the fully reassembled info message")
	}
}

func TestConcurrentPrintfAssignsDistinctIDs(t *testing.T) {
	r := New(64)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Printf(LevelTrace, "n=%d", i)
		}(i)
	}
	wg.Wait()
	seen := map[uint64]bool{}
	for i := 0; i < 10; i++ {
		c, ok := r.buf.Pop()
		if !ok {
			t.Fatalf("expected chunk %d", i)
		}
		if !c.IsMaster() {
			t.Fatalf("expected chunk %d to be a master", i)
		}
		if seen[c.ID()] {
			t.Fatalf("duplicate master id %d", c.ID())
		}
		seen[c.ID()] = true
	}
}
