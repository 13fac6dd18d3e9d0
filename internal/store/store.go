// Package store implements the log store: reload, append, compaction,
// partial-id resolution, and the mutation API over a single issues.jsonl
// file guarded by an advisory lock.
package store

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dogcats/dcat/internal/event"
	"github.com/dogcats/dcat/internal/gitutil"
	"github.com/dogcats/dcat/internal/lockfile"
	"github.com/dogcats/dcat/internal/logio"
	"github.com/dogcats/dcat/internal/record"
)

// LogFilename is the name of the main log file within a project's
// database directory.
const LogFilename = "issues.jsonl"

// LockFilename is the name of the advisory lock file shared by the log
// store and the inbox store.
const LockFilename = ".issues.lock"

// minCompactionBase bounds the size heuristic so tiny databases never
// thrash on every mutation.
const minCompactionBase = 20

// estimatedRecordBytes is a rough per-record size used only to decide
// whether the on-disk file has accumulated enough stale history to be
// worth an opportunistic compaction. It is not a correctness parameter.
const estimatedRecordBytes = 220

// Warner receives non-fatal diagnostics produced during reload and
// mutation (tolerated torn writes, event-emission failures). A nil
// Warner silently discards them.
type Warner interface {
	Warnf(format string, args ...any)
}

// Store is the in-memory reconstruction of a project's issue log, plus
// the machinery to keep the on-disk file consistent with it.
type Store struct {
	mu sync.Mutex

	dir  string
	path string
	lock *lockfile.Lock

	clock  func() time.Time
	warner Warner

	issues map[string]record.Issue
	deps   []record.Dependency
	links  []record.Link

	depsByIssue     map[string][]int
	depsByDependsOn map[string][]int
	linksByFrom     map[string][]int
	linksByTo       map[string][]int

	needsCompaction bool
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithClock overrides the store's source of "now", for deterministic
// tests.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) { s.clock = clock }
}

// WithWarner routes reload/mutation warnings to w instead of discarding
// them.
func WithWarner(w Warner) Option {
	return func(s *Store) { s.warner = w }
}

// Open constructs a Store over dir/issues.jsonl, reloading existing
// content if present. dir is created if it does not already exist.
func Open(dir string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: mkdir %s: %w", dir, err)
	}
	s := &Store{
		dir:   dir,
		path:  filepath.Join(dir, LogFilename),
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

// reload implements §4.2's reload protocol: last-write-wins for issues,
// ordered add/remove replay for dependencies and links, events ignored,
// with a single tolerated torn final line and fatal mid-file corruption.
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

	issues := map[string]record.Issue{}
	var deps []record.Dependency
	var links []record.Link
	needsCompaction := false

	for i, l := range lines {
		if len(bytes.TrimSpace(l)) == 0 {
			continue
		}
		rec, heuristic, decErr := record.DecodeWithMeta(l)
		if decErr != nil {
			if i == lastNonEmpty {
				s.warnf("issues.jsonl:%d: tolerating malformed tail line: %v", i+1, decErr)
				needsCompaction = true
				continue
			}
			return &MalformedRecordError{Line: i + 1, Err: decErr}
		}
		if heuristic {
			needsCompaction = true
		}
		switch v := rec.(type) {
		case record.Issue:
			issues[v.FullID()] = v
		case record.Dependency:
			if v.IsRemoval() {
				deps = removeDep(deps, v)
			} else {
				deps = upsertDep(deps, v)
			}
		case record.Link:
			if v.IsRemoval() {
				links = removeLink(links, v)
			} else {
				links = upsertLink(links, v)
			}
		case record.Event:
			// Derived; never replayed into state.
		case record.Proposal:
			// Proposals belong in inbox.jsonl; tolerate a stray line
			// rather than fail the whole reload over it.
			needsCompaction = true
		case record.Unknown:
			// Already reflected in heuristic above.
		}
	}

	s.issues = issues
	s.deps = deps
	s.links = links
	s.needsCompaction = needsCompaction
	s.rebuildIndexes()
	return nil
}

func upsertDep(deps []record.Dependency, d record.Dependency) []record.Dependency {
	key := d.Key()
	for i, existing := range deps {
		if existing.Key() == key {
			deps[i] = d
			return deps
		}
	}
	return append(deps, d)
}

func removeDep(deps []record.Dependency, d record.Dependency) []record.Dependency {
	key := d.Key()
	out := make([]record.Dependency, 0, len(deps))
	for _, existing := range deps {
		if existing.Key() == key {
			continue
		}
		out = append(out, existing)
	}
	return out
}

func upsertLink(links []record.Link, l record.Link) []record.Link {
	key := l.Key()
	for i, existing := range links {
		if existing.Key() == key {
			links[i] = l
			return links
		}
	}
	return append(links, l)
}

func removeLink(links []record.Link, l record.Link) []record.Link {
	key := l.Key()
	out := make([]record.Link, 0, len(links))
	for _, existing := range links {
		if existing.Key() == key {
			continue
		}
		out = append(out, existing)
	}
	return out
}

func (s *Store) rebuildIndexes() {
	s.depsByIssue = map[string][]int{}
	s.depsByDependsOn = map[string][]int{}
	for i, d := range s.deps {
		s.depsByIssue[d.IssueID] = append(s.depsByIssue[d.IssueID], i)
		s.depsByDependsOn[d.DependsOnID] = append(s.depsByDependsOn[d.DependsOnID], i)
	}
	s.linksByFrom = map[string][]int{}
	s.linksByTo = map[string][]int{}
	for i, l := range s.links {
		s.linksByFrom[l.FromID] = append(s.linksByFrom[l.FromID], i)
		s.linksByTo[l.ToID] = append(s.linksByTo[l.ToID], i)
	}
}

// now returns a clock reading bumped to stay strictly after prior if
// necessary, preserving invariant 7 (updated_at monotonicity) without
// relying on wall-clock resolution.
func (s *Store) now(prior time.Time) time.Time {
	n := s.clock()
	if !n.After(prior) {
		n = prior.Add(time.Microsecond)
	}
	return n
}

// appendMutation runs a deferred compaction first if reload (or a prior
// heuristic trigger) flagged one as needed, then appends recs to the log
// per the append protocol.
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
			return fmt.Errorf("store: encode: %w", err)
		}
		buf.Write(enc)
		buf.WriteByte('\n')
	}
	if err := logio.Append(s.path, s.lock, buf.Bytes()); err != nil {
		return err
	}
	s.maybeFlagSizeHeuristic()
	return nil
}

// maybeFlagSizeHeuristic implements trigger (c): an adaptive, branch-aware
// heuristic that defers compaction to the next mutation rather than
// running it inline.
func (s *Store) maybeFlagSizeHeuristic() {
	count := len(s.issues) + len(s.deps) + len(s.links)
	if count < minCompactionBase {
		return
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return
	}
	estimate := int64(count) * estimatedRecordBytes
	if info.Size() <= estimate*2 {
		return
	}
	if !gitutil.OnDefaultBranch(s.dir) {
		return
	}
	s.needsCompaction = true
}

// compactNow runs compaction unconditionally, used by the explicit
// triggers (delete, remove_dependency, remove_link, prune_tombstones)
// which are never suppressed by branch detection: the caller explicitly
// asked to shrink the file.
func (s *Store) compactNow() error {
	if err := s.compactLocked(); err != nil {
		return err
	}
	s.needsCompaction = false
	return nil
}

func (s *Store) compactLocked() error {
	return logio.Compact(s.path, s.lock, func(f *os.File) error {
		ids := make([]string, 0, len(s.issues))
		for id := range s.issues {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if err := writeRecord(f, s.issues[id]); err != nil {
				return err
			}
		}
		for _, d := range s.deps {
			if err := writeRecord(f, d); err != nil {
				return err
			}
		}
		for _, l := range s.links {
			if err := writeRecord(f, l); err != nil {
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
				if err := writeRecord(f, ev); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func writeRecord(f *os.File, r record.Record) error {
	enc, err := record.Encode(r)
	if err != nil {
		return err
	}
	if _, err := f.Write(enc); err != nil {
		return err
	}
	_, err = f.Write([]byte("\n"))
	return err
}

func (s *Store) emitEvent(eventType record.EventType, prior *record.Issue, next record.Issue, by string) {
	changes := event.DiffIssue(prior, next)
	if len(changes) == 0 && eventType != record.EventDeleted {
		return
	}
	ev := record.Event{
		EventType: eventType,
		IssueID:   next.FullID(),
		Timestamp: next.UpdatedAt,
		By:        by,
		Title:     next.Title,
		Changes:   changes,
	}
	if err := s.appendMutation([]record.Record{ev}); err != nil {
		s.warnf("failed to append event for %s: %v", next.FullID(), err)
	}
}

// Get returns the issue with the given full id.
func (s *Store) Get(fullID string) (record.Issue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.issues[fullID]
	return i, ok
}

// List returns every issue, sorted by full id for deterministic output.
func (s *Store) List() []record.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]record.Issue, 0, len(s.issues))
	for _, i := range s.issues {
		out = append(out, i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].FullID() < out[b].FullID() })
	return out
}

// IssueIDs returns every full id currently known to the store.
func (s *Store) IssueIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.issues))
	for id := range s.issues {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ResolveID implements resolve_id: exact match, else unique suffix match,
// else AmbiguousIDError naming up to five candidates. Zero matches return
// ("", nil).
func (s *Store) ResolveID(partial string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.issues[partial]; ok {
		return partial, nil
	}

	var candidates []string
	suffix := "-" + partial
	for id := range s.issues {
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

// CreateInput is the caller-supplied shape for a new issue. Identifier
// minting is out of scope for the store: Namespace and ID must already
// be set by the caller. Priority uses a pointer so an explicit 0 is
// distinguishable from "use the default."
type CreateInput struct {
	Namespace   string
	ID          string
	Title       string
	Status      record.Status
	Priority    *int
	IssueType   record.IssueType
	Description string
	Owner       string
	Parent      string
	Labels      []string
	ExternalRef string
	Design      string
	Acceptance  string
	Notes       string
	Plan        string
	Metadata    map[string]any
	CreatedBy   string
}

const defaultPriority = 2

// Create adds a new issue, applying field defaults and validating enum
// fields, then appends it and emits a "created" event.
func (s *Store) Create(in CreateInput) (record.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if in.Title == "" {
		return record.Issue{}, fmt.Errorf("%w: title is required", ErrInvalidField)
	}
	full := record.FullID(in.Namespace, in.ID)
	if full == "" {
		return record.Issue{}, fmt.Errorf("%w: id is required", ErrInvalidField)
	}
	if _, exists := s.issues[full]; exists {
		return record.Issue{}, fmt.Errorf("%w: %s", ErrDuplicateID, full)
	}

	status := in.Status
	if status == "" {
		status = record.StatusOpen
	}
	if !record.ValidStatus(status) {
		return record.Issue{}, fmt.Errorf("%w: status %q", ErrInvalidField, status)
	}

	priority := defaultPriority
	if in.Priority != nil {
		priority = *in.Priority
	}
	if priority < 0 || priority > 4 {
		return record.Issue{}, fmt.Errorf("%w: priority %d out of range 0..4", ErrInvalidField, priority)
	}

	issueType := in.IssueType
	if issueType == "" {
		issueType = record.TypeTask
	}
	if !record.ValidIssueType(issueType) {
		return record.Issue{}, fmt.Errorf("%w: issue_type %q", ErrInvalidField, issueType)
	}

	now := s.clock()
	issue := record.Issue{
		Namespace:   in.Namespace,
		ID:          in.ID,
		Title:       in.Title,
		Status:      status,
		Priority:    priority,
		IssueType:   issueType,
		Description: in.Description,
		Owner:       in.Owner,
		Parent:      in.Parent,
		Labels:      in.Labels,
		ExternalRef: in.ExternalRef,
		Design:      in.Design,
		Acceptance:  in.Acceptance,
		Notes:       in.Notes,
		Plan:        in.Plan,
		Metadata:    in.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   in.CreatedBy,
		UpdatedBy:   in.CreatedBy,
	}

	s.issues[full] = issue
	if err := s.appendMutation([]record.Record{issue}); err != nil {
		delete(s.issues, full)
		return record.Issue{}, err
	}
	s.emitEvent(record.EventCreated, nil, issue, in.CreatedBy)
	return issue, nil
}

// Patch is the whitelisted set of fields Update may change. A nil pointer
// (or nil Metadata) leaves the corresponding field untouched.
type Patch struct {
	Title        *string
	Description  *string
	Status       *record.Status
	Priority     *int
	IssueType    *record.IssueType
	Owner        *string
	Parent       *string
	Labels       *[]string
	ExternalRef  *string
	Design       *string
	Acceptance   *string
	Notes        *string
	Plan         *string
	CloseReason  *string
	DeleteReason *string
	DuplicateOf  *string
	Metadata     map[string]any
	UpdatedBy    string
}

// Update applies patch to the issue identified by fullID, bumping
// updated_at and emitting an event classified by the resulting status
// transition (closed/reopened/updated).
func (s *Store) Update(fullID string, patch Patch) (record.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue, ok := s.issues[fullID]
	if !ok {
		return record.Issue{}, fmt.Errorf("%w: %s", ErrNotFound, fullID)
	}
	prior := issue

	if patch.Title != nil {
		if *patch.Title == "" {
			return record.Issue{}, fmt.Errorf("%w: title cannot be empty", ErrInvalidField)
		}
		issue.Title = *patch.Title
	}
	if patch.Description != nil {
		issue.Description = *patch.Description
	}
	if patch.Status != nil {
		if !record.ValidStatus(*patch.Status) {
			return record.Issue{}, fmt.Errorf("%w: status %q", ErrInvalidField, *patch.Status)
		}
		issue.Status = *patch.Status
	}
	if patch.Priority != nil {
		if *patch.Priority < 0 || *patch.Priority > 4 {
			return record.Issue{}, fmt.Errorf("%w: priority %d out of range 0..4", ErrInvalidField, *patch.Priority)
		}
		issue.Priority = *patch.Priority
	}
	if patch.IssueType != nil {
		if !record.ValidIssueType(*patch.IssueType) {
			return record.Issue{}, fmt.Errorf("%w: issue_type %q", ErrInvalidField, *patch.IssueType)
		}
		issue.IssueType = *patch.IssueType
	}
	if patch.Owner != nil {
		issue.Owner = *patch.Owner
	}
	if patch.Parent != nil {
		issue.Parent = *patch.Parent
	}
	if patch.Labels != nil {
		issue.Labels = *patch.Labels
	}
	if patch.ExternalRef != nil {
		issue.ExternalRef = *patch.ExternalRef
	}
	if patch.Design != nil {
		issue.Design = *patch.Design
	}
	if patch.Acceptance != nil {
		issue.Acceptance = *patch.Acceptance
	}
	if patch.Notes != nil {
		issue.Notes = *patch.Notes
	}
	if patch.Plan != nil {
		issue.Plan = *patch.Plan
	}
	if patch.CloseReason != nil {
		issue.CloseReason = *patch.CloseReason
	}
	if patch.DeleteReason != nil {
		issue.DeleteReason = *patch.DeleteReason
	}
	if patch.DuplicateOf != nil {
		issue.DuplicateOf = *patch.DuplicateOf
	}
	if patch.Metadata != nil {
		issue.Metadata = patch.Metadata
	}

	eventType := decideEventType(prior, issue)
	if eventType == record.EventClosed && issue.ClosedAt == nil {
		now := s.now(prior.UpdatedAt)
		issue.ClosedAt = &now
		issue.ClosedBy = patch.UpdatedBy
	}
	if eventType == record.EventReopened {
		issue.ClosedAt = nil
		issue.ClosedBy = ""
		issue.CloseReason = ""
	}

	issue.UpdatedAt = s.now(prior.UpdatedAt)
	issue.UpdatedBy = patch.UpdatedBy

	s.issues[fullID] = issue
	if err := s.appendMutation([]record.Record{issue}); err != nil {
		s.issues[fullID] = prior
		return record.Issue{}, err
	}
	s.emitEvent(eventType, &prior, issue, patch.UpdatedBy)
	return issue, nil
}

// decideEventType classifies a status transition into the corresponding
// event type; a non-status-affecting update is simply "updated".
func decideEventType(prior, next record.Issue) record.EventType {
	switch {
	case prior.Status != record.StatusClosed && next.Status == record.StatusClosed:
		return record.EventClosed
	case prior.Status == record.StatusClosed && next.Status != record.StatusClosed && next.Status != record.StatusTombstone:
		return record.EventReopened
	default:
		return record.EventUpdated
	}
}

// Close is sugar over Update that transitions an issue to closed with a
// reason, matching the lifecycle's "closed" event type exactly.
func (s *Store) Close(fullID, reason, closedBy string) (record.Issue, error) {
	closed := record.StatusClosed
	return s.Update(fullID, Patch{
		Status:      &closed,
		CloseReason: &reason,
		UpdatedBy:   closedBy,
	})
}

// Delete tombstones an issue: status becomes tombstone, original_type
// preserves the prior issue_type, and every dependency/link touching the
// issue is removed with an explicit op:remove marker so the removal
// survives a three-way merge. Delete always compacts immediately (trigger b).
func (s *Store) Delete(fullID, reason, deletedBy string) (record.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	issue, ok := s.issues[fullID]
	if !ok {
		return record.Issue{}, fmt.Errorf("%w: %s", ErrNotFound, fullID)
	}
	prior := issue

	now := s.now(prior.UpdatedAt)
	issue.OriginalType = string(issue.IssueType)
	issue.Status = record.StatusTombstone
	issue.DeletedAt = &now
	issue.DeletedBy = deletedBy
	issue.DeleteReason = reason
	issue.UpdatedAt = now
	issue.UpdatedBy = deletedBy

	var recs []record.Record
	recs = append(recs, issue)

	for _, idx := range s.depsByIssue[fullID] {
		recs = append(recs, removalMarkerDep(s.deps[idx], deletedBy))
	}
	for _, idx := range s.depsByDependsOn[fullID] {
		recs = append(recs, removalMarkerDep(s.deps[idx], deletedBy))
	}
	for _, idx := range s.linksByFrom[fullID] {
		recs = append(recs, removalMarkerLink(s.links[idx], deletedBy))
	}
	for _, idx := range s.linksByTo[fullID] {
		recs = append(recs, removalMarkerLink(s.links[idx], deletedBy))
	}

	s.issues[fullID] = issue
	s.deps = purgeDepsTouching(s.deps, fullID)
	s.links = purgeLinksTouching(s.links, fullID)
	s.rebuildIndexes()

	if err := s.appendMutation(recs); err != nil {
		s.issues[fullID] = prior
		return record.Issue{}, err
	}
	s.emitEvent(record.EventDeleted, &prior, issue, deletedBy)

	if err := s.compactNow(); err != nil {
		s.warnf("post-delete compaction failed: %v", err)
	}
	return issue, nil
}

func removalMarkerDep(d record.Dependency, by string) record.Dependency {
	d.Op = record.OpRemove
	d.CreatedBy = by
	return d
}

func removalMarkerLink(l record.Link, by string) record.Link {
	l.Op = record.OpRemove
	l.CreatedBy = by
	return l
}

func purgeDepsTouching(deps []record.Dependency, fullID string) []record.Dependency {
	out := make([]record.Dependency, 0, len(deps))
	for _, d := range deps {
		if d.IssueID == fullID || d.DependsOnID == fullID {
			continue
		}
		out = append(out, d)
	}
	return out
}

func purgeLinksTouching(links []record.Link, fullID string) []record.Link {
	out := make([]record.Link, 0, len(links))
	for _, l := range links {
		if l.FromID == fullID || l.ToID == fullID {
			continue
		}
		out = append(out, l)
	}
	return out
}

// PruneTombstones permanently removes tombstoned issues from memory and
// triggers an immediate compaction (trigger b), returning the count
// removed.
func (s *Store) PruneTombstones() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, issue := range s.issues {
		if issue.Status == record.StatusTombstone {
			delete(s.issues, id)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.compactNow(); err != nil {
		return removed, err
	}
	return removed, nil
}
