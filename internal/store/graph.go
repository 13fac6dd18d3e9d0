package store

import (
	"fmt"
	"sort"

	"github.com/dogcats/dcat/internal/record"
)

// AddDependency records that a depends on b with the given relation type.
// An existing (a, b, type) entry is returned unchanged rather than
// duplicated. Adding a blocks edge that would close a cycle is rejected.
func (s *Store) AddDependency(a, b string, depType record.DependencyType, by string) (record.Dependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !record.ValidDependencyType(depType) {
		return record.Dependency{}, fmt.Errorf("%w: dependency type %q", ErrInvalidField, depType)
	}
	if _, ok := s.issues[a]; !ok {
		return record.Dependency{}, fmt.Errorf("%w: %s", ErrNotFound, a)
	}
	if _, ok := s.issues[b]; !ok {
		return record.Dependency{}, fmt.Errorf("%w: %s", ErrNotFound, b)
	}

	key := [3]string{a, b, string(depType)}
	for _, d := range s.deps {
		if d.Key() == key {
			return d, nil
		}
	}

	if depType == record.DepBlocks && s.wouldCycle(a, b) {
		return record.Dependency{}, fmt.Errorf("%w: %s blocks %s would close a cycle", ErrCycleDetected, a, b)
	}

	dep := record.Dependency{
		IssueID:     a,
		DependsOnID: b,
		Type:        depType,
		CreatedAt:   s.clock(),
		CreatedBy:   by,
	}
	s.deps = append(s.deps, dep)
	s.rebuildIndexes()
	if err := s.appendMutation([]record.Record{dep}); err != nil {
		s.deps = removeDep(s.deps, dep)
		s.rebuildIndexes()
		return record.Dependency{}, err
	}
	return dep, nil
}

// wouldCycle reports whether a blocks-edge a->b would close a cycle: a
// depth-first search from b through existing blocks edges that reaches a
// (a self-edge, a == b, counts as an immediate cycle).
func (s *Store) wouldCycle(a, b string) bool {
	if a == b {
		return true
	}
	visited := map[string]bool{}
	var dfs func(node string) bool
	dfs = func(node string) bool {
		if node == a {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		for _, idx := range s.depsByIssue[node] {
			d := s.deps[idx]
			if d.Type != record.DepBlocks {
				continue
			}
			if dfs(d.DependsOnID) {
				return true
			}
		}
		return false
	}
	return dfs(b)
}

// RemoveDependency removes every (a, b) entry regardless of type,
// appending an op:remove marker per removed entry, then compacts
// immediately (trigger b).
func (s *Store) RemoveDependency(a, b string, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []record.Dependency
	var kept []record.Dependency
	for _, d := range s.deps {
		if d.IssueID == a && d.DependsOnID == b {
			removed = append(removed, d)
			continue
		}
		kept = append(kept, d)
	}
	if len(removed) == 0 {
		return nil
	}

	s.deps = kept
	s.rebuildIndexes()

	recs := make([]record.Record, 0, len(removed))
	for _, d := range removed {
		recs = append(recs, removalMarkerDep(d, by))
	}
	if err := s.appendMutation(recs); err != nil {
		return err
	}
	return s.compactNow()
}

// AddLink records an undirected-in-spirit relation between two issues.
// LinkType defaults to record.DefaultLinkType when empty.
func (s *Store) AddLink(from, to, linkType, by string) (record.Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.issues[from]; !ok {
		return record.Link{}, fmt.Errorf("%w: %s", ErrNotFound, from)
	}
	if _, ok := s.issues[to]; !ok {
		return record.Link{}, fmt.Errorf("%w: %s", ErrNotFound, to)
	}
	effective := linkType
	if effective == "" {
		effective = record.DefaultLinkType
	}
	key := [3]string{from, to, effective}
	for _, l := range s.links {
		if l.Key() == key {
			return l, nil
		}
	}

	link := record.Link{
		FromID:    from,
		ToID:      to,
		LinkType:  linkType,
		CreatedAt: s.clock(),
		CreatedBy: by,
	}
	s.links = append(s.links, link)
	s.rebuildIndexes()
	if err := s.appendMutation([]record.Record{link}); err != nil {
		s.links = removeLink(s.links, link)
		s.rebuildIndexes()
		return record.Link{}, err
	}
	return link, nil
}

// RemoveLink removes every (from, to) link regardless of type, appending
// an op:remove marker per removed entry, then compacts immediately.
func (s *Store) RemoveLink(from, to string, by string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []record.Link
	var kept []record.Link
	for _, l := range s.links {
		if l.FromID == from && l.ToID == to {
			removed = append(removed, l)
			continue
		}
		kept = append(kept, l)
	}
	if len(removed) == 0 {
		return nil
	}

	s.links = kept
	s.rebuildIndexes()

	recs := make([]record.Record, 0, len(removed))
	for _, l := range removed {
		recs = append(recs, removalMarkerLink(l, by))
	}
	if err := s.appendMutation(recs); err != nil {
		return err
	}
	return s.compactNow()
}

// GetChildren returns every issue whose parent field names parentID.
func (s *Store) GetChildren(parentID string) []record.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []record.Issue
	for _, issue := range s.issues {
		if issue.Parent == parentID {
			out = append(out, issue)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullID() < out[j].FullID() })
	return out
}

func isClosedLike(status record.Status) bool {
	return status == record.StatusClosed || status == record.StatusTombstone
}

// unsatisfiedBlockers returns the blocking dependencies of id whose
// target issue is neither closed nor tombstoned.
func (s *Store) unsatisfiedBlockers(id string) []record.Issue {
	var blockers []record.Issue
	for _, idx := range s.depsByIssue[id] {
		d := s.deps[idx]
		if d.Type != record.DepBlocks {
			continue
		}
		target, ok := s.issues[d.DependsOnID]
		if !ok || isClosedLike(target.Status) {
			continue
		}
		blockers = append(blockers, target)
	}
	return blockers
}

// GetReadyWork returns open/in_progress issues with every blocker
// satisfied, sorted by (priority ascending, id ascending).
func (s *Store) GetReadyWork() []record.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []record.Issue
	for _, issue := range s.issues {
		if issue.Status != record.StatusOpen && issue.Status != record.StatusInProgress {
			continue
		}
		if len(s.unsatisfiedBlockers(issue.FullID())) > 0 {
			continue
		}
		out = append(out, issue)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].FullID() < out[j].FullID()
	})
	return out
}

// BlockedIssue pairs a non-closed issue with the non-closed blockers
// currently preventing its progress.
type BlockedIssue struct {
	Issue    record.Issue
	Blockers []record.Issue
}

// GetBlockedIssues returns every non-closed issue that has at least one
// unsatisfied blocker, together with those blockers.
func (s *Store) GetBlockedIssues() []BlockedIssue {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []BlockedIssue
	for _, issue := range s.issues {
		if isClosedLike(issue.Status) {
			continue
		}
		blockers := s.unsatisfiedBlockers(issue.FullID())
		if len(blockers) == 0 {
			continue
		}
		sort.Slice(blockers, func(i, j int) bool { return blockers[i].FullID() < blockers[j].FullID() })
		out = append(out, BlockedIssue{Issue: issue, Blockers: blockers})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Issue.FullID() < out[j].Issue.FullID() })
	return out
}

// GetDependencyChain performs a breadth-first traversal from id through
// blocks edges, returning visited issue ids in traversal order (id itself
// excluded).
func (s *Store) GetDependencyChain(id string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	visited := map[string]bool{id: true}
	queue := []string{id}
	var order []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		idxs := append([]int{}, s.depsByIssue[node]...)
		sort.Slice(idxs, func(i, j int) bool { return s.deps[idxs[i]].DependsOnID < s.deps[idxs[j]].DependsOnID })
		for _, idx := range idxs {
			d := s.deps[idx]
			if d.Type != record.DepBlocks || visited[d.DependsOnID] {
				continue
			}
			visited[d.DependsOnID] = true
			order = append(order, d.DependsOnID)
			queue = append(queue, d.DependsOnID)
		}
	}
	return order
}
