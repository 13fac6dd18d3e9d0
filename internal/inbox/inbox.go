// Package inbox implements the inbox store: proposals awaiting triage,
// kept in a separate inbox.jsonl file under the same project directory
// and sharing the log store's lock file and append/compaction discipline
// via internal/logio.
package inbox

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dogcats/dcat/internal/event"
	"github.com/dogcats/dcat/internal/lockfile"
	"github.com/dogcats/dcat/internal/logio"
	"github.com/dogcats/dcat/internal/record"
)

// Filename is the inbox file's name within a project's database directory.
const Filename = "inbox.jsonl"

// LockFilename matches the log store's lock file name: both stores guard
// the same directory with the same advisory lock.
const LockFilename = ".issues.lock"

// Warner receives non-fatal reload diagnostics.
type Warner interface {
	Warnf(format string, args ...any)
}

// Store is the in-memory reconstruction of a project's inbox.
type Store struct {
	mu sync.Mutex

	dir  string
	path string
	lock *lockfile.Lock

	clock  func() time.Time
	warner Warner

	proposals map[string]record.Proposal

	needsCompaction bool
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithClock overrides the store's source of "now", for deterministic tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithWarner routes reload warnings to w instead of discarding them.
func WithWarner(w Warner) Option {
	return func(s *Store) { s.warner = w }
}

// Open constructs a Store over dir/inbox.jsonl, reloading existing
// content if present.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("inbox: mkdir %s: %w", dir, err)
	}
	s := &Store{
		dir:   dir,
		path:  filepath.Join(dir, Filename),
		lock:  lockfile.New(filepath.Join(dir, LockFilename)),
		clock: time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) warnf(format string, args ...any) {
	if s.warner != nil {
		s.warner.Warnf(format, args...)
	}
}

func (s *Store) reload() error {
	lines, err := logio.ReadLines(s.path)
	if err != nil {
		return err
	}

	lastNonEmpty := -1
	for i, l := range lines {
		if len(bytes.TrimSpace(l)) > 0 {
			lastNonEmpty = i
		}
	}

	proposals := map[string]record.Proposal{}
	needsCompaction := false
	for i, l := range lines {
		if len(bytes.TrimSpace(l)) == 0 {
			continue
		}
		rec, heuristic, decErr := record.DecodeWithMeta(l)
		if decErr != nil {
			if i == lastNonEmpty {
				s.warnf("inbox.jsonl:%d: tolerating malformed tail line: %v", i+1, decErr)
				needsCompaction = true
				continue
			}
			return fmt.Errorf("inbox: inbox.jsonl:%d: %w", i+1, decErr)
		}
		if heuristic {
			needsCompaction = true
		}
		switch v := rec.(type) {
		case record.Proposal:
			proposals[v.FullID()] = v
		case record.Event:
			// Derived; never replayed.
		default:
			// An issue/dependency/link line has no business in the
			// inbox file; tolerate it as a reparable anomaly.
			needsCompaction = true
		}
	}

	s.proposals = proposals
	s.needsCompaction = needsCompaction
	return nil
}

func (s *Store) now(prior time.Time) time.Time {
	n := s.clock()
	if !n.After(prior) {
		n = prior.Add(time.Microsecond)
	}
	return n
}

func (s *Store) appendMutation(recs []record.Record) error {
	if s.needsCompaction {
		if err := s.compactLocked(); err != nil {
			return err
		}
		s.needsCompaction = false
	}
	var buf bytes.Buffer
	for _, r := range recs {
		enc, err := record.Encode(r)
		if err != nil {
			return fmt.Errorf("inbox: encode: %w", err)
		}
		buf.Write(enc)
		buf.WriteByte('\n')
	}
	return logio.Append(s.path, s.lock, buf.Bytes())
}

func (s *Store) compactLocked() error {
	return logio.Compact(s.path, s.lock, func(f *os.File) error {
		ids := make([]string, 0, len(s.proposals))
		for id := range s.proposals {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			enc, err := record.Encode(s.proposals[id])
			if err != nil {
				return err
			}
			if _, err := f.Write(enc); err != nil {
				return err
			}
			if _, err := f.Write([]byte("\n")); err != nil {
				return err
			}
		}

		existing, err := logio.ReadLines(s.path)
		if err != nil {
			return err
		}
		for _, line := range existing {
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}
			rec, _, decErr := record.DecodeWithMeta(line)
			if decErr != nil {
				continue
			}
			if ev, ok := rec.(record.Event); ok {
				enc, err := record.Encode(ev)
				if err != nil {
					return err
				}
				if _, err := f.Write(enc); err != nil {
					return err
				}
				if _, err := f.Write([]byte("\n")); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *Store) compactNow() error {
	if err := s.compactLocked(); err != nil {
		return err
	}
	s.needsCompaction = false
	return nil
}

func (s *Store) emitEvent(eventType record.EventType, prior *record.Proposal, next record.Proposal, by string, at time.Time) {
	changes := event.DiffProposal(prior, next)
	if len(changes) == 0 {
		return
	}
	ev := record.Event{
		EventType: eventType,
		IssueID:   next.FullID(),
		Timestamp: at,
		By:        by,
		Title:     next.Title,
		Changes:   changes,
	}
	if err := s.appendMutation([]record.Record{ev}); err != nil {
		s.warnf("failed to append inbox event for %s: %v", next.FullID(), err)
	}
}

// mintID produces a short, URL-safe proposal id from a fresh UUID, since
// unlike issues nothing upstream mints one for a proposal arriving
// without an externally supplied id.
func mintID() string {
	u := uuid.New()
	return strings.ToLower(u.String()[:8])
}

// CreateInput is the caller-supplied shape for a new proposal. ID is
// optional: when empty, one is minted.
type CreateInput struct {
	Namespace   string
	ID          string
	Title       string
	Description string
	ProposedBy  string
	SourceRepo  string
}

// Create adds a new proposal, minting an id if none was supplied, then
// appends it and emits a "created" event.
func (s *Store) Create(in CreateInput) (record.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Title == "" {
		return record.Proposal{}, fmt.Errorf("%w: title is required", ErrInvalidField)
	}

	id := in.ID
	full := ""
	for {
		candidate := id
		if candidate == "" {
			candidate = mintID()
		}
		full = record.Proposal{Namespace: in.Namespace, ID: candidate}.FullID()
		if _, exists := s.proposals[full]; !exists {
			id = candidate
			break
		}
		if in.ID != "" {
			return record.Proposal{}, fmt.Errorf("%w: %s", ErrDuplicateID, full)
		}
		// Collision on a minted id: vanishingly unlikely, retry.
	}

	now := s.clock()
	proposal := record.Proposal{
		Namespace:   in.Namespace,
		ID:          id,
		Title:       in.Title,
		Status:      record.ProposalOpen,
		Description: in.Description,
		ProposedBy:  in.ProposedBy,
		SourceRepo:  in.SourceRepo,
		CreatedAt:   now,
	}

	s.proposals[full] = proposal
	if err := s.appendMutation([]record.Record{proposal}); err != nil {
		delete(s.proposals, full)
		return record.Proposal{}, err
	}
	s.emitEvent(record.EventCreated, nil, proposal, in.ProposedBy, proposal.CreatedAt)
	return proposal, nil
}

// Get returns the proposal with the given full id.
func (s *Store) Get(fullID string) (record.Proposal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[fullID]
	return p, ok
}

// List returns proposals sorted by full id, optionally including
// tombstones.
func (s *Store) List(includeTombstones bool) []record.Proposal {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]record.Proposal, 0, len(s.proposals))
	for _, p := range s.proposals {
		if !includeTombstones && p.Status == record.ProposalTombstone {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullID() < out[j].FullID() })
	return out
}

// ResolveID implements resolve_id for proposals: exact match, else unique
// suffix match, else an ambiguous-match error naming up to five
// candidates.
func (s *Store) ResolveID(partial string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.proposals[partial]; ok {
		return partial, nil
	}
	var candidates []string
	suffix := "-" + partial
	for id := range s.proposals {
		if strings.HasSuffix(id, suffix) {
			candidates = append(candidates, id)
		}
	}
	sort.Strings(candidates)
	switch len(candidates) {
	case 0:
		return "", nil
	case 1:
		return candidates[0], nil
	default:
		shown := candidates
		if len(shown) > 5 {
			shown = shown[:5]
		}
		return "", &AmbiguousIDError{Partial: partial, Candidates: shown}
	}
}

// Close transitions a proposal to closed, optionally recording a reason
// and the issue id it resolved to.
func (s *Store) Close(fullID, reason, closedBy, resolvedIssue string) (record.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, ok := s.proposals[fullID]
	if !ok {
		return record.Proposal{}, fmt.Errorf("%w: %s", ErrNotFound, fullID)
	}
	prior := proposal

	now := s.now(proposal.CreatedAt)
	proposal.Status = record.ProposalClosed
	proposal.ClosedAt = &now
	if reason != "" {
		proposal.CloseReason = reason
	}
	if closedBy != "" {
		proposal.ClosedBy = closedBy
	}
	if resolvedIssue != "" {
		proposal.ResolvedIssue = resolvedIssue
	}

	s.proposals[fullID] = proposal
	if err := s.appendMutation([]record.Record{proposal}); err != nil {
		s.proposals[fullID] = prior
		return record.Proposal{}, err
	}
	s.emitEvent(record.EventClosed, &prior, proposal, closedBy, *proposal.ClosedAt)
	return proposal, nil
}

// Delete tombstones a proposal.
func (s *Store) Delete(fullID, deletedBy string) (record.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	proposal, ok := s.proposals[fullID]
	if !ok {
		return record.Proposal{}, fmt.Errorf("%w: %s", ErrNotFound, fullID)
	}
	prior := proposal

	now := s.now(proposal.CreatedAt)
	proposal.Status = record.ProposalTombstone
	proposal.DeletedAt = &now
	proposal.DeletedBy = deletedBy

	s.proposals[fullID] = proposal
	if err := s.appendMutation([]record.Record{proposal}); err != nil {
		s.proposals[fullID] = prior
		return record.Proposal{}, err
	}
	s.emitEvent(record.EventDeleted, &prior, proposal, deletedBy, *proposal.DeletedAt)
	return proposal, nil
}

// PruneTombstones permanently removes tombstoned proposals and compacts
// immediately, returning the ids removed.
func (s *Store) PruneTombstones() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []string
	for id, p := range s.proposals {
		if p.Status == record.ProposalTombstone {
			removed = append(removed, id)
			delete(s.proposals, id)
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	sort.Strings(removed)
	if err := s.compactNow(); err != nil {
		return removed, err
	}
	return removed, nil
}
