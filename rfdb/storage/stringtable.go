package storage

import (
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// StringTable interns variable-length strings into one append-only buffer
// addressed by byte offset. Entries are never mutated once written; the whole
// table is rewritten only by compaction. Deduplication is opportunistic - a
// correctness-neutral optimization.
//
// On-disk layout (little-endian, embedded in segments or standalone):
//
//	[data_len u64][data ...][offsets_count u64][offsets u32 x count]
type StringTable struct {
	data    []byte
	offsets []uint32
	// dedup map and O(1) resolve: start offset -> end offset
	index map[string]uint32
	ends  map[uint32]uint32
}

func NewStringTable() *StringTable {
	return &StringTable{
		index: make(map[string]uint32),
		ends:  make(map[uint32]uint32),
	}
}

// EmptyStringOffset is the reserved offset returned for the empty string.
// A zero-length entry would share its start offset with the next appended
// string, making offset-only resolution ambiguous, so "" never enters the
// data blob. Segment columns store offset+1; this constant wraps to the
// 0 "absent" sentinel, which reads back as "" anyway.
const EmptyStringOffset = ^uint32(0)

// Intern appends s (unless already present) and returns its byte offset.
// The returned offset stays valid until the table is rewritten.
func (st *StringTable) Intern(s string) uint32 {
	if s == "" {
		return EmptyStringOffset
	}
	if off, ok := st.index[s]; ok {
		return off
	}
	off := uint32(len(st.data))
	st.data = append(st.data, s...)
	st.offsets = append(st.offsets, off)
	st.index[s] = off
	st.ends[off] = uint32(len(st.data))
	return off
}

// Resolve returns the string starting at off. O(1), no side effects.
func (st *StringTable) Resolve(off uint32) (string, bool) {
	if off == EmptyStringOffset {
		return "", true
	}
	end, ok := st.ends[off]
	if !ok {
		return "", false
	}
	return string(st.data[off:end]), true
}

// Len is the number of interned entries.
func (st *StringTable) Len() int { return len(st.offsets) }

// DataSize is the size of the string blob in bytes.
func (st *StringTable) DataSize() int { return len(st.data) }

// WriteTo serializes the table in its on-disk layout.
func (st *StringTable) WriteTo(w io.Writer) (int64, error) {
	var written int64
	var scratch [8]byte

	binary.LittleEndian.PutUint64(scratch[:], uint64(len(st.data)))
	n, err := w.Write(scratch[:])
	written += int64(n)
	if err != nil {
		return written, err
	}
	n, err = w.Write(st.data)
	written += int64(n)
	if err != nil {
		return written, err
	}
	binary.LittleEndian.PutUint64(scratch[:], uint64(len(st.offsets)))
	n, err = w.Write(scratch[:])
	written += int64(n)
	if err != nil {
		return written, err
	}
	for _, off := range st.offsets {
		binary.LittleEndian.PutUint32(scratch[:4], off)
		n, err = w.Write(scratch[:4])
		written += int64(n)
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

// ReadStringTable parses a table serialized by WriteTo from b (typically a
// sub-slice of a mapped segment).
func ReadStringTable(b []byte) (*StringTable, error) {
	if len(b) < 8 {
		return nil, fmt.Errorf("string table: truncated length prefix (%d bytes)", len(b))
	}
	dataLen := binary.LittleEndian.Uint64(b[:8])
	pos := uint64(8)
	if pos+dataLen > uint64(len(b)) {
		return nil, fmt.Errorf("string table: data length %d exceeds buffer", dataLen)
	}
	data := make([]byte, dataLen)
	copy(data, b[pos:pos+dataLen])
	pos += dataLen

	if pos+8 > uint64(len(b)) {
		return nil, fmt.Errorf("string table: truncated offsets count")
	}
	count := binary.LittleEndian.Uint64(b[pos : pos+8])
	pos += 8
	if pos+count*4 > uint64(len(b)) {
		return nil, fmt.Errorf("string table: offsets count %d exceeds buffer", count)
	}

	st := NewStringTable()
	st.data = data
	st.offsets = make([]uint32, count)
	for i := uint64(0); i < count; i++ {
		st.offsets[i] = binary.LittleEndian.Uint32(b[pos : pos+4])
		pos += 4
	}
	for i, off := range st.offsets {
		end := uint32(len(data))
		if i+1 < len(st.offsets) {
			end = st.offsets[i+1]
		}
		if off > end || end > uint32(len(data)) {
			return nil, fmt.Errorf("string table: offset %d out of order", off)
		}
		st.ends[off] = end
		s := string(data[off:end])
		if utf8.ValidString(s) {
			st.index[s] = off
		}
	}
	return st, nil
}
