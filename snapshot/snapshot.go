// Package snapshot implements the log gleaner (component C7), composer
// (C9) and snapshot writer/file set (C10): the map-reduce pipeline that
// turns a run of write-ahead log records into a new generation of
// snapshot pages, grounded on foedus::snapshot::LogGleaner,
// foedus::storage::Composer and their SnapshotWriter/SnapshotFileSet
// collaborators.
package snapshot

import "github.com/foedus-go/foedus/epoch"

// Snapshot identifies one completed snapshotting round: every log record
// up to and including ValidUntilEpoch is reflected in its pages.
type Snapshot struct {
	ID              uint32
	ValidUntilEpoch epoch.Epoch
}

// PagePointer addresses one page within a snapshot file: which snapshot
// it belongs to, and its byte offset within that snapshot's file.
type PagePointer struct {
	SnapshotID uint32
	Offset     int64
}

// IsNull reports whether p is the zero/unset pointer.
func (p PagePointer) IsNull() bool { return p == PagePointer{} }
