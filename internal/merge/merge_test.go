package merge

import (
	"testing"
	"time"

	"github.com/dogcats/dcat/internal/record"
)

func encLine(t *testing.T, r record.Record) []byte {
	t.Helper()
	b, err := record.Encode(r)
	if err != nil {
		t.Fatal(err)
	}
	return append(b, '\n')
}

func issueAt(id string, updated time.Time, status record.Status) record.Issue {
	return record.Issue{
		ID: id, Title: id, Status: status, IssueType: record.TypeTask, Priority: 1,
		CreatedAt: updated, UpdatedAt: updated,
	}
}

func TestMergeIssuesNonOverlappingConverge(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := Input{Lines: [][]byte{encLine(t, issueAt("1", t0, record.StatusOpen))}}
	ours := Input{Lines: [][]byte{encLine(t, issueAt("1", t0.Add(time.Hour), record.StatusInProgress))}}
	theirs := Input{Lines: [][]byte{encLine(t, issueAt("1", t0, record.StatusOpen))}}

	result, err := Merge3Way(base, ours, theirs)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Issues) != 1 || result.Issues[0].Status != record.StatusInProgress {
		t.Fatalf("got %+v", result.Issues)
	}
}

func TestMergeIssuesConflictPrefersGreaterUpdatedAt(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	base := Input{Lines: [][]byte{encLine(t, issueAt("1", t0, record.StatusOpen))}}
	ours := Input{Lines: [][]byte{encLine(t, issueAt("1", t0.Add(2*time.Hour), record.StatusInProgress))}}
	theirs := Input{Lines: [][]byte{encLine(t, issueAt("1", t0.Add(time.Hour), record.StatusBlocked))}}

	result, err := Merge3Way(base, ours, theirs)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Issues) != 1 || result.Issues[0].Status != record.StatusInProgress {
		t.Fatalf("got %+v", result.Issues)
	}
}

func TestMergeDependencyExplicitPresence(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dep := record.Dependency{IssueID: "a", DependsOnID: "b", Type: record.DepBlocks, CreatedAt: t0}

	base := Input{Lines: [][]byte{encLine(t, dep)}}
	ours := Input{} // silently dropped the dependency
	theirs := Input{Lines: [][]byte{encLine(t, dep)}}

	result, err := Merge3Way(base, ours, theirs)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Dependencies) != 0 {
		t.Fatalf("expected dependency dropped by one side to be removed, got %+v", result.Dependencies)
	}
}

func TestMergeDependencyKeptWhenBothSidesRetain(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dep := record.Dependency{IssueID: "a", DependsOnID: "b", Type: record.DepBlocks, CreatedAt: t0}

	base := Input{Lines: [][]byte{encLine(t, dep)}}
	ours := Input{Lines: [][]byte{encLine(t, dep)}}
	theirs := Input{Lines: [][]byte{encLine(t, dep)}}

	result, err := Merge3Way(base, ours, theirs)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Dependencies) != 1 {
		t.Fatalf("got %+v", result.Dependencies)
	}
}

func TestMergeDependencyExplicitRemoveWins(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dep := record.Dependency{IssueID: "a", DependsOnID: "b", Type: record.DepBlocks, CreatedAt: t0}
	removed := dep
	removed.Op = record.OpRemove

	base := Input{Lines: [][]byte{encLine(t, dep)}}
	ours := Input{Lines: [][]byte{encLine(t, dep), encLine(t, removed)}}
	theirs := Input{Lines: [][]byte{encLine(t, dep)}}

	result, err := Merge3Way(base, ours, theirs)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Dependencies) != 0 {
		t.Fatalf("expected explicit removal to win, got %+v", result.Dependencies)
	}
}

func TestMergeDependencyNewOnOneSideKept(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dep := record.Dependency{IssueID: "a", DependsOnID: "b", Type: record.DepBlocks, CreatedAt: t0}

	base := Input{}
	ours := Input{Lines: [][]byte{encLine(t, dep)}}
	theirs := Input{}

	result, err := Merge3Way(base, ours, theirs)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Dependencies) != 1 {
		t.Fatalf("got %+v", result.Dependencies)
	}
}

func TestMergeEventsDedup(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ev := record.Event{EventType: record.EventCreated, IssueID: "a", Timestamp: ts, By: "x"}

	base := Input{}
	ours := Input{Lines: [][]byte{encLine(t, ev)}}
	theirs := Input{Lines: [][]byte{encLine(t, ev)}}

	result, err := Merge3Way(base, ours, theirs)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Events) != 1 {
		t.Fatalf("expected identical events to dedup, got %d", len(result.Events))
	}
}

func TestMergeToleratesConflictMarkerLines(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lines := [][]byte{
		[]byte("<<<<<<< ours"),
		encLine(t, issueAt("1", t0, record.StatusOpen)),
		[]byte("======="),
		[]byte(">>>>>>> theirs"),
	}
	base := Input{}
	ours := Input{Lines: lines}
	theirs := Input{}

	result, err := Merge3Way(base, ours, theirs)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Issues) != 1 {
		t.Fatalf("got %+v", result.Issues)
	}
}

func TestMergeUnknownDedupsExactDuplicates(t *testing.T) {
	u := record.Unknown{Raw: map[string]any{"record_type": "future_kind", "x": 1.0}}
	base := Input{Lines: [][]byte{encLine(t, u)}}
	ours := Input{Lines: [][]byte{encLine(t, u)}}
	theirs := Input{Lines: [][]byte{encLine(t, u)}}

	result, err := Merge3Way(base, ours, theirs)
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Unknown) != 1 {
		t.Fatalf("got %d unknown records", len(result.Unknown))
	}
}
