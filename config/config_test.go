package config

import "testing"

func TestDefaultEngineOptionsHasSaneKnobs(t *testing.T) {
	d := DefaultEngineOptions()
	if d.NumaNodeCount < 1 {
		t.Fatal("default NumaNodeCount must be at least 1")
	}
	if d.Snapshot.SnapshotIntervalMilliseconds <= 0 {
		t.Fatal("default snapshot interval must be positive")
	}
	if d.Snapshot != DefaultSnapshotOptions() {
		t.Fatal("EngineOptions.Snapshot should equal DefaultSnapshotOptions()")
	}
}

func TestConvertFolderPathPatternSubstitutesNode(t *testing.T) {
	s := SnapshotOptions{FolderPathPattern: "/data/node_$NODE$/snapshots"}
	got := s.ConvertFolderPathPattern(3)
	want := "/data/node_3/snapshots"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestConvertFolderPathPatternNoPlaceholder(t *testing.T) {
	s := SnapshotOptions{FolderPathPattern: "/data/fixed"}
	if got := s.ConvertFolderPathPattern(3); got != "/data/fixed" {
		t.Fatalf("got %q, want unchanged path", got)
	}
}
