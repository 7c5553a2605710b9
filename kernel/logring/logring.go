// Package logring implements vortex's structured log ring: the chunked
// master/slave framing of spec.md §3/§4.7, backed by the lock-free MPSC
// ring in kernel/mpsc. It is the kernel's "real" logging facility once the
// frame and virtual allocators exist; kernel/kfmt/early covers everything
// written before that point (SPEC_FULL.md §S1.2).
//
// Grounded on original_source/src/kernel/src/logger.rs (level set, message
// framing intent) and .../logger/static_log.rs (two-pass write, CRC-64
// chunk validation, orphan-slave replay).
package logring

import (
	"encoding/binary"
	"fmt"
	"hash/crc64"
	"sync/atomic"

	"github.com/vortexkernel/vortex/kernel/mpsc"
)

// ChunkSize is the fixed size of every log-ring entry (spec.md §3: "a fixed
// 128-byte chunk").
const ChunkSize = 128

// HeaderSize is the size of a chunk's fixed header: magic, length, level,
// id, crc64 (spec.md §3: "a 32-byte header").
const HeaderSize = 32

// DataSize is the number of payload bytes carried by each chunk.
const DataSize = ChunkSize - HeaderSize

const (
	offMagic  = 0
	offLength = 8
	offLevel  = 12
	offID     = 16
	offCRC    = 24
)

// magicValue tags a valid chunk header; any chunk whose first 8 bytes don't
// match this is corrupt and is dropped by the reader.
const magicValue = uint64('L') | uint64('o')<<8 | uint64('g')<<16 | uint64('R')<<24 |
	uint64('i')<<32 | uint64('n')<<40 | uint64('g')<<48 | uint64('!')<<56

var crcTable = crc64.MakeTable(crc64.ECMA)

// Level classifies a log entry's severity.
type Level uint32

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarning
	LevelError
	LevelCritical
)

// String names a Level for display.
func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarning:
		return "WARNING"
	case LevelError:
		return "ERROR"
	case LevelCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Chunk is one fixed-size log-ring entry: HeaderSize bytes of header
// followed by DataSize bytes of payload, all addressed by byte offset so it
// can be pushed through kernel/mpsc.Ring by value with no further copying.
type Chunk [ChunkSize]byte

func (c *Chunk) magic() uint64      { return binary.LittleEndian.Uint64(c[offMagic:]) }
func (c *Chunk) setMagic(v uint64)  { binary.LittleEndian.PutUint64(c[offMagic:], v) }
func (c *Chunk) length() uint32     { return binary.LittleEndian.Uint32(c[offLength:]) }
func (c *Chunk) setLength(v uint32) { binary.LittleEndian.PutUint32(c[offLength:], v) }

// Level returns the chunk's log level. Only meaningful on a master chunk.
func (c *Chunk) Level() Level { return Level(binary.LittleEndian.Uint32(c[offLevel:])) }
func (c *Chunk) setLevel(l Level) {
	binary.LittleEndian.PutUint32(c[offLevel:], uint32(l))
}

// ID returns the chunk's master id: its own id if it is a master, or the id
// of the master it continues if it is a slave.
func (c *Chunk) ID() uint64     { return binary.LittleEndian.Uint64(c[offID:]) }
func (c *Chunk) setID(v uint64) { binary.LittleEndian.PutUint64(c[offID:], v) }

func (c *Chunk) crc() uint64     { return binary.LittleEndian.Uint64(c[offCRC:]) }
func (c *Chunk) setCRC(v uint64) { binary.LittleEndian.PutUint64(c[offCRC:], v) }

// Data returns the chunk's payload bytes.
func (c *Chunk) Data() []byte { return c[HeaderSize:] }

// IsMaster reports whether this chunk begins a log (length != 0) rather
// than continuing one (length == 0), per spec.md §3.
func (c *Chunk) IsMaster() bool { return c.length() != 0 }

// computeCRC returns the CRC-64 of the entire chunk with the CRC field
// zeroed, matching what the writer computed it over.
func (c Chunk) computeCRC() uint64 {
	c.setCRC(0)
	return crc64.Checksum(c[:], crcTable)
}

func (c *Chunk) valid() bool {
	return c.magic() == magicValue && c.crc() == c.computeCRC()
}

// Ring is the writer side of the log ring: it chunks a formatted message
// into master+slave frames and pushes them to a shared mpsc.Ring.
type Ring struct {
	buf    *mpsc.Ring[Chunk]
	nextID uint64
}

// New builds a log ring backed by an MPSC queue of capacity chunks.
func New(capacity int) *Ring {
	return &Ring{buf: mpsc.New[Chunk](capacity)}
}

// countingWriter implements pass 1 of the two-pass write described in
// spec.md §4.7: it only counts the bytes the formatted message would
// occupy, mirroring original_source's ArgumentCounter.
type countingWriter struct{ n int }

func (w *countingWriter) Write(p []byte) (int, error) {
	w.n += len(p)
	return len(p), nil
}

// chunkWriter implements pass 2: it receives the same formatted bytes a
// second time and slices them into DataSize-byte chunks, emitting each full
// buffer as a master (the first) or slave (every subsequent one) chunk.
// Mirrors original_source's BufferFiller.
type chunkWriter struct {
	ring        *Ring
	level       Level
	id          uint64
	total       uint64
	buf         [DataSize]byte
	pos         int
	wroteMaster bool
}

func (w *chunkWriter) Write(p []byte) (int, error) {
	total := len(p)
	for len(p) > 0 {
		n := copy(w.buf[w.pos:], p)
		w.pos += n
		p = p[n:]
		if w.pos == DataSize {
			w.flush()
		}
	}
	return total, nil
}

func (w *chunkWriter) flush() {
	if w.pos == 0 && w.wroteMaster {
		return
	}

	var c Chunk
	c.setMagic(magicValue)
	if !w.wroteMaster {
		c.setLength(uint32(w.total))
		c.setLevel(w.level)
		w.wroteMaster = true
	} else {
		c.setLength(0)
	}
	c.setID(w.id)
	copy(c.Data(), w.buf[:w.pos])
	c.setCRC(c.computeCRC())
	w.ring.buf.Push(c)

	w.pos = 0
	for i := range w.buf {
		w.buf[i] = 0
	}
}

// Printf formats msg the way fmt.Sprintf would and writes it to the ring at
// the given level, splitting it across master+slave chunks as needed.
func (r *Ring) Printf(level Level, format string, args ...interface{}) {
	var counter countingWriter
	fmt.Fprintf(&counter, format, args...)

	id := atomic.AddUint64(&r.nextID, 1) - 1
	cw := &chunkWriter{ring: r, level: level, id: id, total: uint64(counter.n)}
	fmt.Fprintf(cw, format, args...)
	cw.flush()
}

// Len reports the number of chunks currently queued, for diagnostics.
func (r *Ring) Len() uint64 { return r.buf.Len() }

// Entry is one fully reassembled log message.
type Entry struct {
	Level   Level
	ID      uint64
	Message string
}

// partialMessage accumulates payload for one master id whose reassembly is
// still in progress. Several can be live at once: spec.md §8 scenario 6
// requires a master interleaved between another master's own master and
// slave chunks to reassemble correctly, so the reader cannot track only a
// single in-progress master.
type partialMessage struct {
	level  Level
	length int
	buf    []byte
}

// Reader drains a Ring and reassembles masters with their slaves, per
// spec.md §4.7: a master chunk starts a message, slaves with the same id
// carry the rest of it, and a slave that arrives before its master is
// buffered in an orphan queue and replayed when that master shows up.
type Reader struct {
	ring *Ring

	// partials holds one in-progress reassembly per master id currently
	// being accumulated, so interleaved logical streams (spec.md §8
	// scenario 6) complete independently instead of clobbering each other.
	partials map[uint64]*partialMessage

	// orphans holds slave chunks seen before their master, in arrival
	// order, keyed by master id.
	orphans map[uint64][]Chunk

	// LostBytes counts payload bytes dropped to corrupt chunks (spec.md
	// §7 CorruptedLogChunk).
	LostBytes uint64
}

// NewReader builds a Reader draining ring.
func NewReader(ring *Ring) *Reader {
	return &Reader{
		ring:     ring,
		partials: make(map[uint64]*partialMessage),
		orphans:  make(map[uint64][]Chunk),
	}
}

// Poll drains whatever chunks are currently queued and returns every
// message that became fully reassembled as a result. It never blocks.
func (r *Reader) Poll() []Entry {
	var out []Entry
	for {
		c, ok := r.ring.buf.Pop()
		if !ok {
			break
		}
		if !c.valid() {
			r.LostBytes += DataSize
			continue
		}
		if e, done := r.consume(c); done {
			out = append(out, e)
		}
	}
	return out
}

// consume feeds one validated chunk into the reassembly state machine.
func (r *Reader) consume(c Chunk) (Entry, bool) {
	if c.IsMaster() {
		length := int(c.length())
		n := length
		if n > DataSize {
			n = DataSize
		}
		r.partials[c.ID()] = &partialMessage{
			level:  c.Level(),
			length: length,
			buf:    append([]byte(nil), c.Data()[:n]...),
		}

		if replayed, ok := r.orphans[c.ID()]; ok {
			delete(r.orphans, c.ID())
			for _, slave := range replayed {
				if e, done := r.appendSlave(c.ID(), slave); done {
					return e, true
				}
			}
		}
		return r.maybeComplete(c.ID())
	}

	if _, ok := r.partials[c.ID()]; ok {
		return r.appendSlave(c.ID(), c)
	}

	// Orphan slave: its master hasn't arrived yet (or has already
	// completed). Buffer it for replay.
	r.orphans[c.ID()] = append(r.orphans[c.ID()], c)
	return Entry{}, false
}

func (r *Reader) appendSlave(id uint64, c Chunk) (Entry, bool) {
	p, ok := r.partials[id]
	if !ok {
		return Entry{}, false
	}
	remaining := p.length - len(p.buf)
	n := remaining
	if n > DataSize {
		n = DataSize
	}
	if n > 0 {
		p.buf = append(p.buf, c.Data()[:n]...)
	}
	return r.maybeComplete(id)
}

func (r *Reader) maybeComplete(id uint64) (Entry, bool) {
	p, ok := r.partials[id]
	if !ok || len(p.buf) < p.length {
		return Entry{}, false
	}
	e := Entry{Level: p.level, ID: id, Message: string(p.buf)}
	delete(r.partials, id)
	return e, true
}
