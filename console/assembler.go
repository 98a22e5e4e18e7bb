// Package console reassembles a printer's serial console byte stream into
// lines.
package console

import (
	"log"
	"sync/atomic"
)

// DefaultMaxLine matches the firmware's 256-byte line buffer less the NUL.
const DefaultMaxLine = 255

// Assembler buffers bytes until a line terminator and hands each complete
// line to a callback. Chunk boundaries carry no meaning; state persists
// across Write calls. Write is not safe for concurrent use.
type Assembler struct {
	buf       []byte
	max       int
	emit      func(line string)
	overflows atomic.Uint64
}

// NewAssembler creates an assembler that calls emit for each non-empty
// line. Lines longer than max bytes are split.
func NewAssembler(max int, emit func(line string)) *Assembler {
	if max <= 0 {
		max = DefaultMaxLine
	}
	return &Assembler{
		buf:  make([]byte, 0, max),
		max:  max,
		emit: emit,
	}
}

// Write consumes p and emits every line it completes. It never fails.
func (a *Assembler) Write(p []byte) (int, error) {
	for _, c := range p {
		if c == '\n' || c == '\r' {
			a.flush()
			continue
		}
		a.buf = append(a.buf, c)
		if len(a.buf) >= a.max {
			a.overflows.Add(1)
			log.Printf("console: no line terminator within %d bytes, flushing partial line", a.max)
			a.flush()
		}
	}
	return len(p), nil
}

// Reset discards any buffered partial line.
func (a *Assembler) Reset() {
	a.buf = a.buf[:0]
}

// Overflows reports how many lines were force-flushed for length.
func (a *Assembler) Overflows() uint64 {
	return a.overflows.Load()
}

func (a *Assembler) flush() {
	if len(a.buf) == 0 {
		return
	}
	line := string(a.buf)
	a.buf = a.buf[:0]
	a.emit(line)
}
