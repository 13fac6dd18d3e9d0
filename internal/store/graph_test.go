package store

import (
	"errors"
	"testing"

	"github.com/dogcats/dcat/internal/record"
)

func TestAddDependencyRejectsCycle(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)
	x, _ := s.Create(CreateInput{Namespace: "dc", ID: "x", Title: "x"})
	y, _ := s.Create(CreateInput{Namespace: "dc", ID: "y", Title: "y"})
	z, _ := s.Create(CreateInput{Namespace: "dc", ID: "z", Title: "z"})

	if _, err := s.AddDependency(x.FullID(), y.FullID(), record.DepBlocks, "t"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddDependency(y.FullID(), z.FullID(), record.DepBlocks, "t"); err != nil {
		t.Fatal(err)
	}

	_, err := s.AddDependency(z.FullID(), x.FullID(), record.DepBlocks, "t")
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("got %v, want ErrCycleDetected", err)
	}
	if len(s.deps) != 2 {
		t.Errorf("state mutated despite rejected cycle: %d deps", len(s.deps))
	}
}

func TestAddDependencyIdempotent(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)
	a, _ := s.Create(CreateInput{Namespace: "dc", ID: "1", Title: "a"})
	b, _ := s.Create(CreateInput{Namespace: "dc", ID: "2", Title: "b"})

	first, err := s.AddDependency(a.FullID(), b.FullID(), record.DepBlocks, "t")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.AddDependency(a.FullID(), b.FullID(), record.DepBlocks, "t")
	if err != nil {
		t.Fatal(err)
	}
	if first.CreatedAt != second.CreatedAt {
		t.Error("expected the existing dependency to be returned unchanged")
	}
	if len(s.deps) != 1 {
		t.Errorf("got %d deps, want 1", len(s.deps))
	}
}

func TestRemoveDependencyAppendsMarkerAndCompacts(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)
	a, _ := s.Create(CreateInput{Namespace: "dc", ID: "1", Title: "a"})
	b, _ := s.Create(CreateInput{Namespace: "dc", ID: "2", Title: "b"})
	if _, err := s.AddDependency(a.FullID(), b.FullID(), record.DepBlocks, "t"); err != nil {
		t.Fatal(err)
	}
	if err := s.RemoveDependency(a.FullID(), b.FullID(), "t"); err != nil {
		t.Fatal(err)
	}
	if len(s.deps) != 0 {
		t.Errorf("got %d deps after removal, want 0", len(s.deps))
	}
}

func TestGetReadyWorkExcludesBlockedIssues(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)
	blocker, _ := s.Create(CreateInput{Namespace: "dc", ID: "1", Title: "blocker"})
	blocked, _ := s.Create(CreateInput{Namespace: "dc", ID: "2", Title: "blocked"})
	free, _ := s.Create(CreateInput{Namespace: "dc", ID: "3", Title: "free"})
	if _, err := s.AddDependency(blocked.FullID(), blocker.FullID(), record.DepBlocks, "t"); err != nil {
		t.Fatal(err)
	}

	ready := s.GetReadyWork()
	ids := map[string]bool{}
	for _, r := range ready {
		ids[r.FullID()] = true
	}
	if !ids[blocker.FullID()] || !ids[free.FullID()] {
		t.Errorf("expected blocker and free issues ready, got %v", ids)
	}
	if ids[blocked.FullID()] {
		t.Errorf("blocked issue should not be ready")
	}
}

func TestGetReadyWorkUnblocksAfterBlockerCloses(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)
	blocker, _ := s.Create(CreateInput{Namespace: "dc", ID: "1", Title: "blocker"})
	blocked, _ := s.Create(CreateInput{Namespace: "dc", ID: "2", Title: "blocked"})
	if _, err := s.AddDependency(blocked.FullID(), blocker.FullID(), record.DepBlocks, "t"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Close(blocker.FullID(), "done", "t"); err != nil {
		t.Fatal(err)
	}

	ready := s.GetReadyWork()
	found := false
	for _, r := range ready {
		if r.FullID() == blocked.FullID() {
			found = true
		}
	}
	if !found {
		t.Error("expected previously-blocked issue to become ready once blocker closed")
	}
}

func TestGetBlockedIssues(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)
	blocker, _ := s.Create(CreateInput{Namespace: "dc", ID: "1", Title: "blocker"})
	blocked, _ := s.Create(CreateInput{Namespace: "dc", ID: "2", Title: "blocked"})
	if _, err := s.AddDependency(blocked.FullID(), blocker.FullID(), record.DepBlocks, "t"); err != nil {
		t.Fatal(err)
	}

	list := s.GetBlockedIssues()
	if len(list) != 1 || list[0].Issue.FullID() != blocked.FullID() {
		t.Fatalf("got %+v", list)
	}
	if len(list[0].Blockers) != 1 || list[0].Blockers[0].FullID() != blocker.FullID() {
		t.Errorf("blockers = %+v", list[0].Blockers)
	}
}

func TestGetDependencyChainBreadthFirst(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)
	a, _ := s.Create(CreateInput{Namespace: "dc", ID: "a", Title: "a"})
	b, _ := s.Create(CreateInput{Namespace: "dc", ID: "b", Title: "b"})
	c, _ := s.Create(CreateInput{Namespace: "dc", ID: "c", Title: "c"})
	if _, err := s.AddDependency(a.FullID(), b.FullID(), record.DepBlocks, "t"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddDependency(b.FullID(), c.FullID(), record.DepBlocks, "t"); err != nil {
		t.Fatal(err)
	}

	chain := s.GetDependencyChain(a.FullID())
	if len(chain) != 2 || chain[0] != b.FullID() || chain[1] != c.FullID() {
		t.Errorf("chain = %v", chain)
	}
}

func TestGetChildren(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)
	parent, _ := s.Create(CreateInput{Namespace: "dc", ID: "1", Title: "parent"})
	parentRef := &parent
	child, _ := s.Create(CreateInput{Namespace: "dc", ID: "2", Title: "child", Parent: parentRef.FullID()})

	children := s.GetChildren(parent.FullID())
	if len(children) != 1 || children[0].FullID() != child.FullID() {
		t.Errorf("got %+v", children)
	}
}
