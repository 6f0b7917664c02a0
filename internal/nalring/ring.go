// Package nalring provides the fixed-capacity NAL unit queue between the
// capture worker and the downstream link consumer. The ring is
// single-producer single-consumer and drops the oldest record when full:
// for a live video link, newer frames supersede older ones, and unbounded
// growth during a consumer stall would defeat the latency goal.
package nalring

import (
	"sync"

	"github.com/openvtx/vehiclecam/internal/annexb"
)

// Capacity is the number of NAL slots in the ring.
const Capacity = 8

// Record is one buffered NAL unit. Data always begins with the canonical
// 4-byte start code.
type Record struct {
	data      []byte // backing storage, annexb.MaxNALSize bytes
	size      int
	Type      uint32
	IsStart   bool
	IsEnd     bool
	Timestamp uint32
	Valid     bool
}

// Bytes returns the populated portion of the record.
func (r *Record) Bytes() []byte {
	return r.data[:r.size]
}

// Size returns the record's length in bytes.
func (r *Record) Size() int {
	return r.size
}

// Ring is the mutex-guarded drop-oldest queue. Slot storage is allocated
// once and reused for the ring's lifetime; a record returned by Read stays
// readable until the consumer's next Read call, after which the writer may
// recycle the slot.
type Ring struct {
	mu         sync.Mutex
	slots      [Capacity]Record
	writeIndex int
	readIndex  int
	count      int
}

// New creates a ring with all slot storage preallocated.
func New() *Ring {
	r := &Ring{}
	for i := range r.slots {
		r.slots[i].data = make([]byte, annexb.MaxNALSize)
	}
	return r
}

// Write copies one NAL unit into the ring. When the ring is full the
// oldest record is evicted first. Returns false for empty or oversize
// payloads, which are never stored.
func (r *Ring) Write(data []byte, nalType uint32, isStart, isEnd bool, timestamp uint32) bool {
	if len(data) <= 0 || len(data) > annexb.MaxNALSize {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count >= Capacity {
		r.readIndex = (r.readIndex + 1) % Capacity
		r.count--
	}

	slot := &r.slots[r.writeIndex]
	copy(slot.data, data)
	slot.size = len(data)
	slot.Type = nalType
	slot.IsStart = isStart
	slot.IsEnd = isEnd
	slot.Timestamp = timestamp
	slot.Valid = true

	r.writeIndex = (r.writeIndex + 1) % Capacity
	r.count++
	return true
}

// Read removes and returns the oldest record, or nil when the ring is
// empty. The returned record is a borrowed view into slot storage, valid
// until the caller's next Read.
func (r *Ring) Read() *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count <= 0 {
		return nil
	}

	slot := &r.slots[r.readIndex]
	r.readIndex = (r.readIndex + 1) % Capacity
	r.count--
	return slot
}

// Clear resets the ring to empty and invalidates every slot.
func (r *Ring) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.writeIndex = 0
	r.readIndex = 0
	r.count = 0
	for i := range r.slots {
		r.slots[i].Valid = false
	}
}

// Len returns the current occupancy.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
