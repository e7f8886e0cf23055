package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"time"
)

// Segment file names within a generation directory.
const (
	NodesSegmentFile = "nodes.bin"
	EdgesSegmentFile = "edges.bin"
	MetadataFile     = "metadata.json"
)

// WriteNodesSegment serializes records into a node segment at path. Strings
// are interned into the embedded table as they are encountered; optional
// columns store offset+1 with 0 meaning absent. The file is fsynced before
// returning.
func WriteNodesSegment(path string, records []NodeRecord) error {
	st := NewStringTable()
	n := len(records)
	var payload bytes.Buffer
	payload.Grow(n * 54)

	for _, r := range records {
		payload.Write(r.ID[:])
	}
	writeStringColumn(&payload, st, n, func(i int) string { return records[i].Kind })
	writeStringColumn(&payload, st, n, func(i int) string { return records[i].File })
	writeStringColumn(&payload, st, n, func(i int) string { return records[i].Name })
	writeStringColumn(&payload, st, n, func(i int) string {
		if records[i].Version == Mainline {
			return ""
		}
		return records[i].Version
	})
	for _, r := range records {
		payload.Write(r.Replaces[:])
	}
	for _, r := range records {
		payload.WriteByte(boolByte(r.Exported))
	}
	for _, r := range records {
		payload.WriteByte(boolByte(r.Deleted))
	}
	writeStringColumn(&payload, st, n, func(i int) string { return records[i].Metadata })

	return writeSegmentFile(path, EntityNodes, uint64(n), &payload, st)
}

// WriteEdgesSegment serializes records into an edge segment at path.
func WriteEdgesSegment(path string, records []EdgeRecord) error {
	st := NewStringTable()
	n := len(records)
	var payload bytes.Buffer
	payload.Grow(n * 45)

	for _, r := range records {
		payload.Write(r.Src[:])
	}
	for _, r := range records {
		payload.Write(r.Dst[:])
	}
	writeStringColumn(&payload, st, n, func(i int) string { return records[i].Type })
	writeStringColumn(&payload, st, n, func(i int) string {
		if records[i].Version == Mainline {
			return ""
		}
		return records[i].Version
	})
	writeStringColumn(&payload, st, n, func(i int) string { return records[i].Metadata })
	for _, r := range records {
		payload.WriteByte(boolByte(r.Deleted))
	}

	return writeSegmentFile(path, EntityEdges, uint64(n), &payload, st)
}

// writeStringColumn appends one u32 column of string refs, interning each
// non-empty value. Empty strings become the 0 sentinel.
func writeStringColumn(buf *bytes.Buffer, st *StringTable, n int, get func(i int) string) {
	var scratch [4]byte
	for i := 0; i < n; i++ {
		var ref uint32
		if s := get(i); s != "" {
			ref = st.Intern(s) + 1
		}
		binary.LittleEndian.PutUint32(scratch[:], ref)
		buf.Write(scratch[:])
	}
}

func writeSegmentFile(path string, entity uint16, count uint64, payload *bytes.Buffer, st *StringTable) error {
	stOffset := uint64(headerSize + payload.Len())
	if _, err := st.WriteTo(payload); err != nil {
		return fmt.Errorf("write segment %s: %w", path, err)
	}

	hdr := SegmentHeader{
		Version:           FormatVersion,
		Entity:            entity,
		Count:             count,
		Checksum:          crc32.Checksum(payload.Bytes(), castagnoli),
		StringTableOffset: stOffset,
	}
	var hb [headerSize]byte
	hdr.marshal(hb[:])

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create segment %s: %w", path, err)
	}
	if _, err := f.Write(hb[:]); err != nil {
		f.Close()
		return fmt.Errorf("write segment %s: %w", path, err)
	}
	if _, err := f.Write(payload.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("write segment %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync segment %s: %w", path, err)
	}
	return f.Close()
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// GraphMetadata is the human-readable sidecar written next to the segments of
// each generation.
type GraphMetadata struct {
	FormatVersion uint16    `json:"format_version"`
	Generation    string    `json:"generation"`
	NodeCount     uint64    `json:"node_count"`
	EdgeCount     uint64    `json:"edge_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// WriteMetadata writes metadata.json into dir.
func WriteMetadata(dir string, meta GraphMetadata) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(dir, MetadataFile)
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write metadata %s: %w", path, err)
	}
	return nil
}

// ReadMetadata loads metadata.json from dir.
func ReadMetadata(dir string) (GraphMetadata, error) {
	var meta GraphMetadata
	path := filepath.Join(dir, MetadataFile)
	b, err := os.ReadFile(path)
	if err != nil {
		return meta, fmt.Errorf("read metadata %s: %w", path, err)
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return meta, fmt.Errorf("parse metadata %s: %w", path, err)
	}
	return meta, nil
}
