package storage

import (
	"errors"
	"fmt"
)

// CorruptSegmentError reports a segment file that failed header, checksum or
// arity validation. It is fatal for that segment only; other segments of the
// store remain loadable.
type CorruptSegmentError struct {
	Path   string
	Reason string
}

func (e *CorruptSegmentError) Error() string {
	return fmt.Sprintf("corrupt segment %s: %s", e.Path, e.Reason)
}

// IsCorruptSegment reports whether err is (or wraps) a CorruptSegmentError.
func IsCorruptSegment(err error) bool {
	var ce *CorruptSegmentError
	return errors.As(err, &ce)
}

// InvalidRecordError rejects a malformed record before it enters the delta
// log. Index is the position within the submitted batch.
type InvalidRecordError struct {
	Index  int
	Reason string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid record at index %d: %s", e.Index, e.Reason)
}

// VersionConflictError rejects an overlay write whose Replaces reference does
// not resolve to an existing mainline record.
type VersionConflictError struct {
	Version  string
	Replaces NodeID
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("version %q replaces unknown mainline record %s", e.Version, e.Replaces)
}
