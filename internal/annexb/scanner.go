// Package annexb parses an H.264 Annex-B byte stream into discrete NAL
// units in real time. Input arrives as arbitrary-length chunks read off a
// pipe; the scanner accumulates bytes between start codes and emits each
// completed unit re-framed with the canonical 4-byte start code.
package annexb

// MaxNALSize bounds a single accumulated NAL unit. Units that grow past
// this are truncated; the next start code re-synchronizes the scanner.
const MaxNALSize = 128 * 1024

// startCode is the canonical 4-byte Annex-B start code every emitted unit
// begins with, regardless of whether the stream used the 3- or 4-byte form.
var startCode = [4]byte{0x00, 0x00, 0x00, 0x01}

// Unit is one completed NAL unit handed to the emit callback. Data is a
// view into the scanner's accumulator and is only valid for the duration
// of the callback; copy it to retain it.
type Unit struct {
	Data      []byte
	Type      uint32
	IsStart   bool
	IsEnd     bool
	Timestamp uint32 // monotonic milliseconds at the moment the unit closed
}

// EmitFunc receives completed NAL units from the scanner.
type EmitFunc func(u Unit)

// Scanner is a stateful Annex-B parser. It is not safe for concurrent use;
// the capture worker is its only caller.
//
// Start-code detection is chunk-local: a start code is only recognized when
// it and the NAL header byte after it lie in the same Feed call. A start
// code straddling two Feed calls, or ending a chunk, is not detected, and
// the bytes fold into the in-progress unit. The
// encoder writes in large bursts so the window is small, and a corrupted
// unit is recovered from at the next in-chunk start code.
type Scanner struct {
	buf   [MaxNALSize]byte
	n     int
	inNAL bool
	emit  EmitFunc
	now   func() uint32
}

// NewScanner creates a scanner delivering completed units to emit. now
// supplies the monotonic millisecond timestamps stamped on each unit.
func NewScanner(emit EmitFunc, now func() uint32) *Scanner {
	return &Scanner{emit: emit, now: now}
}

// Feed consumes one chunk of stream bytes, emitting every NAL unit that
// completes within it.
func (s *Scanner) Feed(chunk []byte) {
	for i := 0; i < len(chunk); i++ {
		if i+3 < len(chunk) && chunk[i] == 0x00 && chunk[i+1] == 0x00 {
			scLen := 0
			if chunk[i+2] == 0x01 {
				scLen = 3
			} else if i+4 < len(chunk) && chunk[i+2] == 0x00 && chunk[i+3] == 0x01 {
				scLen = 4
			}

			if scLen > 0 {
				s.closeUnit()

				// Begin the next unit with the canonical start code.
				copy(s.buf[:], startCode[:])
				s.n = len(startCode)
				s.inNAL = true

				i += scLen - 1
				continue
			}
		}

		if s.inNAL && s.n < MaxNALSize {
			s.buf[s.n] = chunk[i]
			s.n++
		}
		// Bytes past MaxNALSize are dropped; the unit is truncated.
	}
}

// Flush emits the in-progress unit, if any. Called at pipe EOF or when the
// capture worker exits.
func (s *Scanner) Flush() {
	s.closeUnit()
	s.inNAL = false
	s.n = 0
}

// Reset discards all scanner state, including any in-progress unit.
func (s *Scanner) Reset() {
	s.inNAL = false
	s.n = 0
}

// closeUnit emits the accumulator as a completed unit when it holds at
// least one byte past the start code. The NAL header byte directly follows
// the 4-byte start code.
func (s *Scanner) closeUnit() {
	if !s.inNAL || s.n <= len(startCode) {
		return
	}

	nalType := NALType(s.buf[4])
	isSlice := IsSlice(nalType)

	s.emit(Unit{
		Data:      s.buf[:s.n],
		Type:      nalType,
		IsStart:   isSlice,
		IsEnd:     isSlice,
		Timestamp: s.now(),
	})
}
