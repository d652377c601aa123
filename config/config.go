// Package config holds the engine's runtime options (component C14):
// EngineOptions and SnapshotOptions, consumed by the transaction manager
// (C5) through the snapshot pipeline (C7-C10). These are plain structs
// with xml struct tags mirroring foedus::snapshot::SnapshotOptions's
// field names, documenting the external options-file contract an
// operator would persist - but this module does not implement that
// loader (an XML config engine is out of scope); only the shape and
// programmatic defaults are provided.
package config

import "fmt"

// EngineOptions is the engine's top-level configuration.
type EngineOptions struct {
	NumaNodeCount  int             `xml:"numa_node_count_"`
	ThreadsPerNode int             `xml:"thread_count_per_group_"`
	Snapshot       SnapshotOptions `xml:"SnapshotOptions"`
	Log            LogOptions      `xml:"LogOptions"`
}

// SnapshotOptions mirrors foedus::snapshot::SnapshotOptions field-for-field.
type SnapshotOptions struct {
	// FolderPathPattern is the path of the per-NUMA-node snapshot folder.
	// "$NODE$" is replaced with the node number - see ConvertFolderPathPattern.
	FolderPathPattern string `xml:"folder_path_pattern_"`
	// SnapshotTriggerPagePoolPercent: start snapshotting early (before the
	// interval elapses) once free volatile pages drop below this percent.
	SnapshotTriggerPagePoolPercent int `xml:"snapshot_trigger_page_pool_percent_"`
	// SnapshotIntervalMilliseconds is the normal periodic snapshot trigger.
	SnapshotIntervalMilliseconds int `xml:"snapshot_interval_milliseconds_"`
	// LogMapperBucketKB is the per-partition mapper output buffer size.
	LogMapperBucketKB int `xml:"log_mapper_bucket_kb_"`
	// LogMapperIOBufferKB is the mapper's log-file read buffer size.
	LogMapperIOBufferKB int `xml:"log_mapper_io_buffer_kb_"`
	// LogReducerBufferMB is the per-partition reducer buffer size.
	LogReducerBufferMB int `xml:"log_reducer_buffer_mb_"`
}

// ConvertFolderPathPattern substitutes "$NODE$" in FolderPathPattern with
// node, e.g. "snapshots/node_$NODE$" becomes "snapshots/node_1" on node 1.
func (s SnapshotOptions) ConvertFolderPathPattern(node int) string {
	out := make([]byte, 0, len(s.FolderPathPattern))
	pattern := s.FolderPathPattern
	const placeholder = "$NODE$"
	for {
		i := indexOf(pattern, placeholder)
		if i < 0 {
			out = append(out, pattern...)
			break
		}
		out = append(out, pattern[:i]...)
		out = append(out, []byte(fmt.Sprintf("%d", node))...)
		pattern = pattern[i+len(placeholder):]
	}
	return string(out)
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

// LogOptions tunes the write-ahead log / epoch advancer (component C6).
// It has no equivalent in the original source's externalized options; it
// is added here because this rewrite needs somewhere to carry those
// knobs too.
type LogOptions struct {
	BufferInitialSizeKB              int `xml:"buffer_initial_size_kb_"`
	EpochAdvanceIntervalMilliseconds int `xml:"epoch_advance_interval_milliseconds_"`
}

const (
	defaultSnapshotTriggerPagePoolPercent = 20
	defaultSnapshotIntervalMilliseconds   = 20000
	defaultLogMapperBucketKB              = 1024
	defaultLogMapperIOBufferKB            = 1024
	defaultLogReducerBufferMB             = 128
)

// DefaultSnapshotOptions returns the defaults SnapshotOptions::SnapshotOptions
// sets in the original source.
func DefaultSnapshotOptions() SnapshotOptions {
	return SnapshotOptions{
		FolderPathPattern:              "snapshots/node_$NODE$",
		SnapshotTriggerPagePoolPercent: defaultSnapshotTriggerPagePoolPercent,
		SnapshotIntervalMilliseconds:   defaultSnapshotIntervalMilliseconds,
		LogMapperBucketKB:              defaultLogMapperBucketKB,
		LogMapperIOBufferKB:            defaultLogMapperIOBufferKB,
		LogReducerBufferMB:             defaultLogReducerBufferMB,
	}
}

// DefaultEngineOptions returns the engine's default configuration.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		NumaNodeCount:  1,
		ThreadsPerNode: 4,
		Snapshot:       DefaultSnapshotOptions(),
		Log: LogOptions{
			BufferInitialSizeKB:              1024,
			EpochAdvanceIntervalMilliseconds: 20,
		},
	}
}
