package storage

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Segment file format, little-endian throughout.
//
//	[header 32B][columns ...][string table]
//
// Header:
//
//	magic       [4]byte  "RFDB"
//	version     u16      format version, rejected on mismatch
//	entity      u16      EntityNodes or EntityEdges
//	count       u64      number of rows N
//	checksum    u32      CRC-32C over everything after the header
//	stOffset    u64      absolute file offset of the string table
//	reserved    u32
//
// All columns have exactly N entries; string columns hold offset+1 into the
// embedded string table, with 0 meaning "absent".
const (
	FormatVersion uint16 = 1
	headerSize           = 32

	EntityNodes uint16 = 1
	EntityEdges uint16 = 2
)

var (
	segmentMagic = [4]byte{'R', 'F', 'D', 'B'}
	castagnoli   = crc32.MakeTable(crc32.Castagnoli)
)

// SegmentHeader is the fixed-width descriptor at the start of every segment.
type SegmentHeader struct {
	Version           uint16
	Entity            uint16
	Count             uint64
	Checksum          uint32
	StringTableOffset uint64
}

func (h *SegmentHeader) marshal(buf []byte) {
	copy(buf[0:4], segmentMagic[:])
	binary.LittleEndian.PutUint16(buf[4:6], h.Version)
	binary.LittleEndian.PutUint16(buf[6:8], h.Entity)
	binary.LittleEndian.PutUint64(buf[8:16], h.Count)
	binary.LittleEndian.PutUint32(buf[16:20], h.Checksum)
	binary.LittleEndian.PutUint64(buf[20:28], h.StringTableOffset)
	binary.LittleEndian.PutUint32(buf[28:32], 0)
}

func parseHeader(path string, b []byte, wantEntity uint16) (SegmentHeader, error) {
	var h SegmentHeader
	if len(b) < headerSize {
		return h, &CorruptSegmentError{Path: path, Reason: fmt.Sprintf("file too small (%d bytes)", len(b))}
	}
	if [4]byte(b[0:4]) != segmentMagic {
		return h, &CorruptSegmentError{Path: path, Reason: fmt.Sprintf("bad magic %q", b[0:4])}
	}
	h.Version = binary.LittleEndian.Uint16(b[4:6])
	h.Entity = binary.LittleEndian.Uint16(b[6:8])
	h.Count = binary.LittleEndian.Uint64(b[8:16])
	h.Checksum = binary.LittleEndian.Uint32(b[16:20])
	h.StringTableOffset = binary.LittleEndian.Uint64(b[20:28])
	if h.Version != FormatVersion {
		return h, &CorruptSegmentError{Path: path, Reason: fmt.Sprintf("unsupported format version %d", h.Version)}
	}
	if h.Entity != wantEntity {
		return h, &CorruptSegmentError{Path: path, Reason: fmt.Sprintf("entity kind %d, want %d", h.Entity, wantEntity)}
	}
	if got := crc32.Checksum(b[headerSize:], castagnoli); got != h.Checksum {
		return h, &CorruptSegmentError{Path: path, Reason: fmt.Sprintf("checksum mismatch: header %08x, payload %08x", h.Checksum, got)}
	}
	return h, nil
}

// column is a typed view over a slice of the mapped arena.
type column struct {
	start int
	width int
}

func (c column) at(i int) int { return c.start + i*c.width }

// NodesSegment is the immutable, memory-mapped node segment of one
// generation. All accessors read directly from the mapped arena; nothing is
// copied until a string or record is materialized.
type NodesSegment struct {
	path  string
	mm    mmap.MMap
	hdr   SegmentHeader
	count int

	ids      column // NodeID, 16B
	kinds    column // string ref u32
	fileIDs  column // u32
	names    column // string ref u32
	versions column // string ref u32
	replaces column // NodeID, 16B
	exported column // u8
	deleted  column // u8
	metas    column // string ref u32

	strings *StringTable
}

// OpenNodesSegment maps path read-only and validates header, checksum and
// column arity.
func OpenNodesSegment(path string) (*NodesSegment, error) {
	mm, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	hdr, err := parseHeader(path, mm, EntityNodes)
	if err != nil {
		mm.Unmap()
		return nil, err
	}
	n := int(hdr.Count)
	s := &NodesSegment{path: path, mm: mm, hdr: hdr, count: n}

	off := headerSize
	off = layout(&s.ids, off, 16, n)
	off = layout(&s.kinds, off, 4, n)
	off = layout(&s.fileIDs, off, 4, n)
	off = layout(&s.names, off, 4, n)
	off = layout(&s.versions, off, 4, n)
	off = layout(&s.replaces, off, 16, n)
	off = layout(&s.exported, off, 1, n)
	off = layout(&s.deleted, off, 1, n)
	off = layout(&s.metas, off, 4, n)

	if uint64(off) != hdr.StringTableOffset || hdr.StringTableOffset > uint64(len(mm)) {
		mm.Unmap()
		return nil, &CorruptSegmentError{Path: path, Reason: fmt.Sprintf(
			"column arity mismatch: columns end at %d, string table at %d", off, hdr.StringTableOffset)}
	}
	st, err := ReadStringTable(mm[hdr.StringTableOffset:])
	if err != nil {
		mm.Unmap()
		return nil, &CorruptSegmentError{Path: path, Reason: err.Error()}
	}
	s.strings = st
	return s, nil
}

func (s *NodesSegment) Count() int { return s.count }

// Close unmaps the segment. Accessors must not be used afterwards.
func (s *NodesSegment) Close() error {
	if s.mm == nil {
		return nil
	}
	err := s.mm.Unmap()
	s.mm = nil
	return err
}

func (s *NodesSegment) ID(i int) NodeID {
	var id NodeID
	copy(id[:], s.mm[s.ids.at(i):])
	return id
}

func (s *NodesSegment) Kind(i int) string {
	return s.stringRef(s.kinds, i)
}

func (s *NodesSegment) FileID(i int) uint32 {
	return binary.LittleEndian.Uint32(s.mm[s.fileIDs.at(i):])
}

func (s *NodesSegment) Name(i int) string {
	return s.stringRef(s.names, i)
}

// File resolves the file path column via the embedded string table.
// FileID doubles as the string reference (offset+1).
func (s *NodesSegment) File(i int) string {
	ref := s.FileID(i)
	if ref == 0 {
		return ""
	}
	str, _ := s.strings.Resolve(ref - 1)
	return str
}

func (s *NodesSegment) Version(i int) string {
	if v := s.stringRef(s.versions, i); v != "" {
		return v
	}
	return Mainline
}

func (s *NodesSegment) Replaces(i int) NodeID {
	var id NodeID
	copy(id[:], s.mm[s.replaces.at(i):])
	return id
}

func (s *NodesSegment) Exported(i int) bool {
	return s.mm[s.exported.at(i)] != 0
}

func (s *NodesSegment) Deleted(i int) bool {
	return s.mm[s.deleted.at(i)] != 0
}

func (s *NodesSegment) Metadata(i int) string {
	return s.stringRef(s.metas, i)
}

// Record materializes row i into a NodeRecord.
func (s *NodesSegment) Record(i int) NodeRecord {
	return NodeRecord{
		ID:       s.ID(i),
		Kind:     s.Kind(i),
		FileID:   s.FileID(i),
		Name:     s.Name(i),
		File:     s.File(i),
		Version:  s.Version(i),
		Exported: s.Exported(i),
		Replaces: s.Replaces(i),
		Deleted:  s.Deleted(i),
		Metadata: s.Metadata(i),
	}
}

// Scan returns a restartable row iterator over rows matching pred.
// A nil pred matches every row. The predicate runs against the mapped arena
// without materializing records.
func (s *NodesSegment) Scan(pred func(i int) bool) *RowIter {
	return &RowIter{count: s.count, pred: pred}
}

func (s *NodesSegment) stringRef(c column, i int) string {
	ref := binary.LittleEndian.Uint32(s.mm[c.at(i):])
	if ref == 0 {
		return ""
	}
	str, _ := s.strings.Resolve(ref - 1)
	return str
}

// EdgesSegment is the immutable, memory-mapped edge segment of one
// generation.
type EdgesSegment struct {
	path  string
	mm    mmap.MMap
	hdr   SegmentHeader
	count int

	srcs     column // NodeID, 16B
	dsts     column // NodeID, 16B
	types    column // string ref u32
	versions column // string ref u32
	metas    column // string ref u32
	deleted  column // u8

	strings *StringTable
}

func OpenEdgesSegment(path string) (*EdgesSegment, error) {
	mm, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	hdr, err := parseHeader(path, mm, EntityEdges)
	if err != nil {
		mm.Unmap()
		return nil, err
	}
	n := int(hdr.Count)
	s := &EdgesSegment{path: path, mm: mm, hdr: hdr, count: n}

	off := headerSize
	off = layout(&s.srcs, off, 16, n)
	off = layout(&s.dsts, off, 16, n)
	off = layout(&s.types, off, 4, n)
	off = layout(&s.versions, off, 4, n)
	off = layout(&s.metas, off, 4, n)
	off = layout(&s.deleted, off, 1, n)

	if uint64(off) != hdr.StringTableOffset || hdr.StringTableOffset > uint64(len(mm)) {
		mm.Unmap()
		return nil, &CorruptSegmentError{Path: path, Reason: fmt.Sprintf(
			"column arity mismatch: columns end at %d, string table at %d", off, hdr.StringTableOffset)}
	}
	st, err := ReadStringTable(mm[hdr.StringTableOffset:])
	if err != nil {
		mm.Unmap()
		return nil, &CorruptSegmentError{Path: path, Reason: err.Error()}
	}
	s.strings = st
	return s, nil
}

func (s *EdgesSegment) Count() int { return s.count }

func (s *EdgesSegment) Close() error {
	if s.mm == nil {
		return nil
	}
	err := s.mm.Unmap()
	s.mm = nil
	return err
}

func (s *EdgesSegment) Src(i int) NodeID {
	var id NodeID
	copy(id[:], s.mm[s.srcs.at(i):])
	return id
}

func (s *EdgesSegment) Dst(i int) NodeID {
	var id NodeID
	copy(id[:], s.mm[s.dsts.at(i):])
	return id
}

func (s *EdgesSegment) Type(i int) string {
	return s.stringRef(s.types, i)
}

func (s *EdgesSegment) Version(i int) string {
	if v := s.stringRef(s.versions, i); v != "" {
		return v
	}
	return Mainline
}

func (s *EdgesSegment) Metadata(i int) string {
	return s.stringRef(s.metas, i)
}

func (s *EdgesSegment) Deleted(i int) bool {
	return s.mm[s.deleted.at(i)] != 0
}

func (s *EdgesSegment) Record(i int) EdgeRecord {
	return EdgeRecord{
		Src:      s.Src(i),
		Dst:      s.Dst(i),
		Type:     s.Type(i),
		Version:  s.Version(i),
		Metadata: s.Metadata(i),
		Deleted:  s.Deleted(i),
	}
}

func (s *EdgesSegment) Scan(pred func(i int) bool) *RowIter {
	return &RowIter{count: s.count, pred: pred}
}

func (s *EdgesSegment) stringRef(c column, i int) string {
	ref := binary.LittleEndian.Uint32(s.mm[c.at(i):])
	if ref == 0 {
		return ""
	}
	str, _ := s.strings.Resolve(ref - 1)
	return str
}

// RowIter walks segment rows lazily, evaluating its predicate per row.
// Reset makes the iterator restartable.
type RowIter struct {
	count int
	pred  func(i int) bool
	next  int
}

// Next returns the next matching row index, or (-1, false) when exhausted.
func (it *RowIter) Next() (int, bool) {
	for it.next < it.count {
		i := it.next
		it.next++
		if it.pred == nil || it.pred(i) {
			return i, true
		}
	}
	return -1, false
}

func (it *RowIter) Reset() { it.next = 0 }

func layout(c *column, off, width, n int) int {
	c.start = off
	c.width = width
	return off + width*n
}

func mapFile(path string) (mmap.MMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open segment %s: %w", path, err)
	}
	defer f.Close()
	mm, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("mmap segment %s: %w", path, err)
	}
	return mm, nil
}
