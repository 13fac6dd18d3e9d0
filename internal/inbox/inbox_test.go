package inbox

import (
	"testing"
	"time"

	"github.com/dogcats/dcat/internal/record"
)

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func mustOpen(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir, WithClock(fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s
}

func TestCreateMintsIDWhenOmitted(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)

	p, err := s.Create(CreateInput{Namespace: "dc", Title: "candidate issue"})
	if err != nil {
		t.Fatal(err)
	}
	if p.ID == "" {
		t.Fatal("expected a minted id")
	}
	if p.Status != record.ProposalOpen {
		t.Errorf("status = %q, want open", p.Status)
	}
	if _, ok := s.Get(p.FullID()); !ok {
		t.Error("expected created proposal to be retrievable")
	}
}

func TestCreateHonorsExplicitID(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)

	p, err := s.Create(CreateInput{Namespace: "dc", ID: "p1", Title: "a"})
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != "p1" {
		t.Errorf("id = %q, want p1", p.ID)
	}
	_, err = s.Create(CreateInput{Namespace: "dc", ID: "p1", Title: "b"})
	if err == nil {
		t.Error("expected duplicate explicit id to be rejected")
	}
}

func TestCloseRecordsResolution(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)
	p, err := s.Create(CreateInput{Namespace: "dc", ID: "p1", Title: "a"})
	if err != nil {
		t.Fatal(err)
	}

	closed, err := s.Close(p.FullID(), "looks good", "reviewer", "dc-42")
	if err != nil {
		t.Fatal(err)
	}
	if closed.Status != record.ProposalClosed {
		t.Errorf("status = %q, want closed", closed.Status)
	}
	if closed.ResolvedIssue != "dc-42" {
		t.Errorf("resolved_issue = %q", closed.ResolvedIssue)
	}
}

func TestDeleteTombstones(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)
	p, _ := s.Create(CreateInput{Namespace: "dc", ID: "p1", Title: "a"})

	deleted, err := s.Delete(p.FullID(), "spam")
	if err != nil {
		t.Fatal(err)
	}
	if deleted.Status != record.ProposalTombstone {
		t.Errorf("status = %q, want tombstone", deleted.Status)
	}
	list := s.List(false)
	if len(list) != 0 {
		t.Errorf("expected tombstone excluded by default, got %+v", list)
	}
	list = s.List(true)
	if len(list) != 1 {
		t.Errorf("expected tombstone included when requested, got %+v", list)
	}
}

func TestPruneTombstonesCompacts(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)
	p, _ := s.Create(CreateInput{Namespace: "dc", ID: "p1", Title: "a"})
	if _, err := s.Delete(p.FullID(), "spam"); err != nil {
		t.Fatal(err)
	}

	removed, err := s.PruneTombstones()
	if err != nil {
		t.Fatal(err)
	}
	if len(removed) != 1 {
		t.Fatalf("got %v", removed)
	}
	if _, ok := s.Get(p.FullID()); ok {
		t.Error("expected pruned proposal to be gone")
	}
}

func TestResolveIDAmbiguous(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)
	s.Create(CreateInput{Namespace: "dc", ID: "100", Title: "a"})
	s.Create(CreateInput{Namespace: "ops", ID: "100", Title: "b"})

	_, err := s.ResolveID("100")
	if err == nil {
		t.Fatal("expected ambiguous match error")
	}
}

func TestReopenAfterReloadRetainsMintedID(t *testing.T) {
	dir := t.TempDir()
	s := mustOpen(t, dir)
	p, err := s.Create(CreateInput{Namespace: "dc", Title: "candidate"})
	if err != nil {
		t.Fatal(err)
	}
	closed, err := s.Close(p.FullID(), "resolved", "reviewer", "dc-1")
	if err != nil {
		t.Fatal(err)
	}

	reopened := mustOpen(t, dir)
	got, ok := reopened.Get(closed.FullID())
	if !ok {
		t.Fatal("expected proposal to survive reopen")
	}
	if got.Status != record.ProposalClosed || got.ResolvedIssue != "dc-1" {
		t.Errorf("got %+v", got)
	}
}
