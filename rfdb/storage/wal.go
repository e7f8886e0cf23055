package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
)

// WALFile is the write-ahead log name within a store directory.
const WALFile = "delta.log"

// WAL persists delta entries between compactions. Each entry is framed as
//
//	[payload_len u32][crc32c u32][payload]
//
// so replay can detect a torn tail: decoding stops at the first frame that is
// truncated or fails its checksum, keeping every entry before it. That makes
// a crash mid-append lose at most the entry being written.
type WAL struct {
	path string
	f    *os.File
}

// OpenWAL opens (or creates) the log at path for appending.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wal %s: %w", path, err)
	}
	return &WAL{path: path, f: f}, nil
}

func (w *WAL) Path() string { return w.path }

// Append frames and writes entries, then fsyncs. Entries are not visible to
// replay until Append returns.
func (w *WAL) Append(entries ...DeltaEntry) error {
	var buf bytes.Buffer
	for i := range entries {
		payload := encodeDeltaEntry(&entries[i])
		var frame [8]byte
		binary.LittleEndian.PutUint32(frame[0:4], uint32(len(payload)))
		binary.LittleEndian.PutUint32(frame[4:8], crc32.Checksum(payload, castagnoli))
		buf.Write(frame[:])
		buf.Write(payload)
	}
	if _, err := w.f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("append wal %s: %w", w.path, err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("sync wal %s: %w", w.path, err)
	}
	return nil
}

// Reset truncates the log to empty. Called after the entries it covers have
// been folded into a durable generation.
func (w *WAL) Reset() error {
	if err := w.f.Truncate(0); err != nil {
		return fmt.Errorf("truncate wal %s: %w", w.path, err)
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	return w.f.Sync()
}

func (w *WAL) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// ReplayWAL decodes every intact frame from path in order. A missing file
// replays to nothing. Truncated or corrupt tails are tolerated; entries
// before the damage are returned along with truncated=true.
func ReplayWAL(path string) (entries []DeltaEntry, truncated bool, err error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read wal %s: %w", path, err)
	}

	pos := 0
	for pos < len(b) {
		if pos+8 > len(b) {
			return entries, true, nil
		}
		plen := int(binary.LittleEndian.Uint32(b[pos : pos+4]))
		want := binary.LittleEndian.Uint32(b[pos+4 : pos+8])
		pos += 8
		if pos+plen > len(b) {
			return entries, true, nil
		}
		payload := b[pos : pos+plen]
		if crc32.Checksum(payload, castagnoli) != want {
			return entries, true, nil
		}
		e, derr := decodeDeltaEntry(payload)
		if derr != nil {
			return entries, true, nil
		}
		entries = append(entries, e)
		pos += plen
	}
	return entries, false, nil
}

func encodeDeltaEntry(e *DeltaEntry) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(e.Op))
	switch e.Op {
	case OpAddNode:
		encodeNode(&buf, &e.Node)
	case OpDeleteNode:
		buf.Write(e.Node.ID[:])
		putString(&buf, e.Node.Version)
	case OpAddEdge:
		encodeEdge(&buf, &e.Edge)
	case OpDeleteEdge:
		buf.Write(e.Edge.Src[:])
		buf.Write(e.Edge.Dst[:])
		putString(&buf, e.Edge.Type)
		putString(&buf, e.Edge.Version)
	case OpUpdateNodeVersion:
		buf.Write(e.Node.ID[:])
		putString(&buf, e.NewVersion)
	case OpDeleteVersion:
		putString(&buf, e.NewVersion)
	}
	return buf.Bytes()
}

func decodeDeltaEntry(b []byte) (DeltaEntry, error) {
	var e DeltaEntry
	r := &byteReader{b: b}
	op, err := r.byte()
	if err != nil {
		return e, err
	}
	e.Op = DeltaOp(op)
	switch e.Op {
	case OpAddNode:
		err = decodeNode(r, &e.Node)
	case OpDeleteNode:
		err = r.id(&e.Node.ID)
		if err == nil {
			e.Node.Version, err = r.str()
		}
	case OpAddEdge:
		err = decodeEdge(r, &e.Edge)
	case OpDeleteEdge:
		if err = r.id(&e.Edge.Src); err == nil {
			err = r.id(&e.Edge.Dst)
		}
		if err == nil {
			e.Edge.Type, err = r.str()
		}
		if err == nil {
			e.Edge.Version, err = r.str()
		}
	case OpUpdateNodeVersion:
		err = r.id(&e.Node.ID)
		if err == nil {
			e.NewVersion, err = r.str()
		}
	case OpDeleteVersion:
		e.NewVersion, err = r.str()
	default:
		return e, fmt.Errorf("unknown delta op %d", op)
	}
	return e, err
}

func encodeNode(buf *bytes.Buffer, n *NodeRecord) {
	buf.Write(n.ID[:])
	putString(buf, n.Kind)
	putString(buf, n.Name)
	putString(buf, n.File)
	putString(buf, n.Version)
	buf.Write(n.Replaces[:])
	buf.WriteByte(boolByte(n.Exported))
	buf.WriteByte(boolByte(n.Deleted))
	putString(buf, n.Metadata)
}

func decodeNode(r *byteReader, n *NodeRecord) error {
	if err := r.id(&n.ID); err != nil {
		return err
	}
	var err error
	if n.Kind, err = r.str(); err != nil {
		return err
	}
	if n.Name, err = r.str(); err != nil {
		return err
	}
	if n.File, err = r.str(); err != nil {
		return err
	}
	if n.Version, err = r.str(); err != nil {
		return err
	}
	if err = r.id(&n.Replaces); err != nil {
		return err
	}
	exp, err := r.byte()
	if err != nil {
		return err
	}
	del, err := r.byte()
	if err != nil {
		return err
	}
	n.Exported = exp != 0
	n.Deleted = del != 0
	n.Metadata, err = r.str()
	return err
}

func encodeEdge(buf *bytes.Buffer, e *EdgeRecord) {
	buf.Write(e.Src[:])
	buf.Write(e.Dst[:])
	putString(buf, e.Type)
	putString(buf, e.Version)
	putString(buf, e.Metadata)
	buf.WriteByte(boolByte(e.Deleted))
}

func decodeEdge(r *byteReader, e *EdgeRecord) error {
	if err := r.id(&e.Src); err != nil {
		return err
	}
	if err := r.id(&e.Dst); err != nil {
		return err
	}
	var err error
	if e.Type, err = r.str(); err != nil {
		return err
	}
	if e.Version, err = r.str(); err != nil {
		return err
	}
	if e.Metadata, err = r.str(); err != nil {
		return err
	}
	del, err := r.byte()
	e.Deleted = del != 0
	return err
}

func putString(buf *bytes.Buffer, s string) {
	var scratch [4]byte
	binary.LittleEndian.PutUint32(scratch[:], uint32(len(s)))
	buf.Write(scratch[:])
	buf.WriteString(s)
}

var errShortPayload = errors.New("short payload")

type byteReader struct {
	b   []byte
	pos int
}

func (r *byteReader) byte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, errShortPayload
	}
	v := r.b[r.pos]
	r.pos++
	return v, nil
}

func (r *byteReader) id(dst *NodeID) error {
	if r.pos+16 > len(r.b) {
		return errShortPayload
	}
	copy(dst[:], r.b[r.pos:])
	r.pos += 16
	return nil
}

func (r *byteReader) str() (string, error) {
	if r.pos+4 > len(r.b) {
		return "", errShortPayload
	}
	n := int(binary.LittleEndian.Uint32(r.b[r.pos:]))
	r.pos += 4
	if r.pos+n > len(r.b) {
		return "", errShortPayload
	}
	s := string(r.b[r.pos : r.pos+n])
	r.pos += n
	return s, nil
}
