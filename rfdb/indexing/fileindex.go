package indexing

import (
	"fmt"
	"log/slog"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/Disentinel/rfdb/rfdb/storage"
)

// FileIndex is the persistent file-to-nodes index, backed by an embedded
// badger store next to the graph directory. Each key is a file path; the
// value is the concatenation of the 16-byte node IDs declared in that file,
// in insertion order.
//
// Like the attribute bitmaps it is an over-approximation: stale IDs are
// filtered by the caller against the resolved records, and Rebuild drops
// them for good during compaction.
type FileIndex struct {
	db  *badger.DB
	log *slog.Logger
}

// OpenFileIndex opens (or creates) the index at dir.
func OpenFileIndex(dir string, log *slog.Logger) (*FileIndex, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(badgerLogger{log}).
		WithCompactL0OnClose(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open file index %s: %w", dir, err)
	}
	return &FileIndex{db: db, log: log}, nil
}

// AddMapping appends id to the node list of path.
func (fi *FileIndex) AddMapping(path string, id storage.NodeID) error {
	return fi.db.Update(func(txn *badger.Txn) error {
		key := []byte(path)
		var val []byte
		item, err := txn.Get(key)
		switch {
		case err == nil:
			val, err = item.ValueCopy(nil)
			if err != nil {
				return err
			}
		case err == badger.ErrKeyNotFound:
		default:
			return err
		}
		val = append(val, id[:]...)
		return txn.Set(key, val)
	})
}

// Nodes returns the IDs recorded for path, in insertion order. A missing
// path yields an empty slice.
func (fi *FileIndex) Nodes(path string) ([]storage.NodeID, error) {
	var out []storage.NodeID
	err := fi.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(path))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val)%16 != 0 {
				return fmt.Errorf("file index entry for %q: malformed value length %d", path, len(val))
			}
			out = make([]storage.NodeID, 0, len(val)/16)
			for i := 0; i+16 <= len(val); i += 16 {
				var id storage.NodeID
				copy(id[:], val[i:])
				out = append(out, id)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Rebuild replaces the whole index with the given mapping in one pass.
func (fi *FileIndex) Rebuild(byFile map[string][]storage.NodeID) error {
	if err := fi.db.DropAll(); err != nil {
		return fmt.Errorf("file index rebuild: %w", err)
	}
	wb := fi.db.NewWriteBatch()
	defer wb.Cancel()
	for path, ids := range byFile {
		val := make([]byte, 0, len(ids)*16)
		for _, id := range ids {
			val = append(val, id[:]...)
		}
		if err := wb.Set([]byte(path), val); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (fi *FileIndex) Close() error {
	return fi.db.Close()
}

// badgerLogger bridges badger's logging interface onto slog.
type badgerLogger struct {
	log *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), "component", "badger")
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.log.Debug(fmt.Sprintf(format, args...), "component", "badger")
}
