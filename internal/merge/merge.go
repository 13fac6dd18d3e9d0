// Package merge implements the three-way JSONL merge engine used as a
// git merge driver over the canonical log file: base, ours, and theirs
// are each decoded independently and combined into one merged stream
// per the per-kind resolution rules.
package merge

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/dogcats/dcat/internal/event"
	"github.com/dogcats/dcat/internal/record"
)

// Input is one side of the three-way merge: raw log lines, parsed
// independently of the other two sides.
type Input struct {
	Lines [][]byte
}

// Result is the merged record stream, grouped by kind for deterministic
// output: issues, then dependencies, links, events, proposals.
type Result struct {
	Issues       []record.Issue
	Dependencies []record.Dependency
	Links        []record.Link
	Events       []record.Event
	Proposals    []record.Proposal
	Unknown      []record.Unknown
}

// Merge3Way combines base, ours, and theirs per the resolution rules for
// each record kind. It never returns a conflict marker: every rule is a
// deterministic total function, so the git merge driver either succeeds
// (exit 0) or the caller's parse step failed outright (exit 1).
func Merge3Way(base, ours, theirs Input) (Result, error) {
	baseParsed, err := parse(base.Lines)
	if err != nil {
		return Result{}, fmt.Errorf("merge: parsing base: %w", err)
	}
	oursParsed, err := parse(ours.Lines)
	if err != nil {
		return Result{}, fmt.Errorf("merge: parsing ours: %w", err)
	}
	theirsParsed, err := parse(theirs.Lines)
	if err != nil {
		return Result{}, fmt.Errorf("merge: parsing theirs: %w", err)
	}

	var result Result
	result.Issues = mergeIssues(baseParsed.issues, oursParsed.issues, theirsParsed.issues)
	result.Dependencies = mergeDeps(baseParsed.deps, oursParsed.deps, theirsParsed.deps)
	result.Links = mergeLinks(baseParsed.links, oursParsed.links, theirsParsed.links)
	result.Events = mergeEvents(baseParsed.events, oursParsed.events, theirsParsed.events)
	result.Proposals = mergeProposals(baseParsed.proposals, oursParsed.proposals, theirsParsed.proposals)
	result.Unknown = mergeUnknown(baseParsed.unknown, oursParsed.unknown, theirsParsed.unknown)
	return result, nil
}

type parsed struct {
	issues    map[string]record.Issue
	deps      []record.Dependency
	links     []record.Link
	events    []record.Event
	proposals map[string]record.Proposal
	unknown   []record.Unknown
}

// parse decodes every line independently. A line that isn't valid JSON —
// notably a stray git conflict-marker line left by a user who ran the
// driver manually on an already-conflicted file — is skipped rather than
// treated as a fatal error: the driver's contract is to parse JSON
// objects line by line, nothing more.
func parse(lines [][]byte) (parsed, error) {
	p := parsed{
		issues:    map[string]record.Issue{},
		proposals: map[string]record.Proposal{},
	}
	for _, line := range lines {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			continue
		}
		if isConflictMarker(trimmed) {
			continue
		}
		rec, _, err := record.DecodeWithMeta(trimmed)
		if err != nil {
			continue
		}
		switch v := rec.(type) {
		case record.Issue:
			p.issues[v.FullID()] = v
		case record.Dependency:
			p.deps = append(p.deps, v)
		case record.Link:
			p.links = append(p.links, v)
		case record.Event:
			p.events = append(p.events, v)
		case record.Proposal:
			p.proposals[v.FullID()] = v
		case record.Unknown:
			p.unknown = append(p.unknown, v)
		}
	}
	return p, nil
}

func isConflictMarker(line []byte) bool {
	switch {
	case bytes.HasPrefix(line, []byte("<<<<<<<")):
		return true
	case bytes.HasPrefix(line, []byte("=======")):
		return true
	case bytes.HasPrefix(line, []byte(">>>>>>>")):
		return true
	}
	return false
}

func mergeIssues(base, ours, theirs map[string]record.Issue) []record.Issue {
	ids := unionKeys3(base, ours, theirs)
	out := make([]record.Issue, 0, len(ids))
	for _, id := range ids {
		o, hasOurs := ours[id]
		t, hasTheirs := theirs[id]

		switch {
		case hasOurs && hasTheirs:
			out = append(out, resolveIssueConflict(o, t))
		case hasOurs:
			out = append(out, o)
		case hasTheirs:
			out = append(out, t)
		default:
			// Present in base only: both sides deleted it outright
			// (rather than tombstoning it), so it is dropped.
		}
	}
	return out
}

// resolveIssueConflict keeps the record with the greater updated_at;
// ties break by terminal-status preference (tombstone > closed > others)
// then by lexicographic id.
func resolveIssueConflict(ours, theirs record.Issue) record.Issue {
	if ours.UpdatedAt.After(theirs.UpdatedAt) {
		return ours
	}
	if theirs.UpdatedAt.After(ours.UpdatedAt) {
		return theirs
	}
	if ours.Status.TerminalRank() != theirs.Status.TerminalRank() {
		if ours.Status.TerminalRank() > theirs.Status.TerminalRank() {
			return ours
		}
		return theirs
	}
	if ours.FullID() <= theirs.FullID() {
		return ours
	}
	return theirs
}

func mergeProposals(base, ours, theirs map[string]record.Proposal) []record.Proposal {
	ids := unionKeys3(base, ours, theirs)
	out := make([]record.Proposal, 0, len(ids))
	for _, id := range ids {
		o, hasOurs := ours[id]
		t, hasTheirs := theirs[id]
		switch {
		case hasOurs && hasTheirs:
			out = append(out, resolveProposalConflict(o, t))
		case hasOurs:
			out = append(out, o)
		case hasTheirs:
			out = append(out, t)
		}
	}
	return out
}

// resolveProposalConflict: tombstone beats closed beats open; within the
// same status, greater created_at wins.
func resolveProposalConflict(ours, theirs record.Proposal) record.Proposal {
	if ours.Status.TerminalRank() != theirs.Status.TerminalRank() {
		if ours.Status.TerminalRank() > theirs.Status.TerminalRank() {
			return ours
		}
		return theirs
	}
	if ours.CreatedAt.After(theirs.CreatedAt) {
		return ours
	}
	if theirs.CreatedAt.After(ours.CreatedAt) {
		return theirs
	}
	if ours.FullID() <= theirs.FullID() {
		return ours
	}
	return theirs
}

func mergeEvents(base, ours, theirs []record.Event) []record.Event {
	all := make([]record.Event, 0, len(base)+len(ours)+len(theirs))
	all = append(all, base...)
	all = append(all, ours...)
	all = append(all, theirs...)
	return event.Dedup(all)
}

// mergeDeps applies explicit-presence set semantics keyed on (issue_id,
// depends_on_id, type): an entry present in base survives only if both
// sides still add it, so a side that omits it deletes it even when the
// other side keeps it; an entry absent from base is kept if added by
// either side. Explicit op:remove entries always win over a same-key add.
func mergeDeps(base, ours, theirs []record.Dependency) []record.Dependency {
	baseSet := depSet(base)
	ourAdds, ourRemoves := depSides(ours)
	theirAdds, theirRemoves := depSides(theirs)
	return resolveSet(baseSet, ourAdds, ourRemoves, theirAdds, theirRemoves)
}

func depSet(deps []record.Dependency) map[[3]string]record.Dependency {
	m := map[[3]string]record.Dependency{}
	for _, d := range deps {
		if !d.IsRemoval() {
			m[d.Key()] = d
		}
	}
	return m
}

func depSides(deps []record.Dependency) (adds, removes map[[3]string]record.Dependency) {
	adds = map[[3]string]record.Dependency{}
	removes = map[[3]string]record.Dependency{}
	for _, d := range deps {
		if d.IsRemoval() {
			removes[d.Key()] = d
		} else {
			adds[d.Key()] = d
		}
	}
	return adds, removes
}

func resolveSet[T any](base, ourAdds, ourRemoves, theirAdds, theirRemoves map[[3]string]T) []T {
	keys := map[[3]string]T{}
	var order [][3]string
	remember := func(k [3]string, v T) {
		if _, ok := keys[k]; !ok {
			order = append(order, k)
		}
		keys[k] = v
	}
	for k, v := range ourAdds {
		remember(k, v)
	}
	for k, v := range theirAdds {
		remember(k, v)
	}
	for k, v := range base {
		remember(k, v)
	}

	out := make([]T, 0, len(order))
	for _, k := range order {
		if _, removed := ourRemoves[k]; removed {
			continue
		}
		if _, removed := theirRemoves[k]; removed {
			continue
		}
		_, inBase := base[k]
		_, inOurs := ourAdds[k]
		_, inTheirs := theirAdds[k]
		if inBase && !(inOurs && inTheirs) {
			// Present in base: surviving requires both sides to still
			// carry it as a live add. Any asymmetry — one side omitted
			// it or explicitly removed it — is a delete, per the
			// explicit-presence rule.
			continue
		}
		out = append(out, keys[k])
	}
	return out
}

func mergeLinks(base, ours, theirs []record.Link) []record.Link {
	baseSet := linkSet(base)
	ourAdds, ourRemoves := linkSides(ours)
	theirAdds, theirRemoves := linkSides(theirs)
	return resolveSet(baseSet, ourAdds, ourRemoves, theirAdds, theirRemoves)
}

func linkSet(links []record.Link) map[[3]string]record.Link {
	m := map[[3]string]record.Link{}
	for _, l := range links {
		if !l.IsRemoval() {
			m[l.Key()] = l
		}
	}
	return m
}

func linkSides(links []record.Link) (adds, removes map[[3]string]record.Link) {
	adds = map[[3]string]record.Link{}
	removes = map[[3]string]record.Link{}
	for _, l := range links {
		if l.IsRemoval() {
			removes[l.Key()] = l
		} else {
			adds[l.Key()] = l
		}
	}
	return adds, removes
}

// mergeUnknown passes records through untouched, de-duplicating lines
// that serialize to exactly the same JSON.
func mergeUnknown(base, ours, theirs []record.Unknown) []record.Unknown {
	all := make([]record.Unknown, 0, len(base)+len(ours)+len(theirs))
	all = append(all, base...)
	all = append(all, ours...)
	all = append(all, theirs...)

	seen := map[string]bool{}
	out := make([]record.Unknown, 0, len(all))
	for _, u := range all {
		b, err := json.Marshal(u.Raw)
		if err != nil {
			continue
		}
		if seen[string(b)] {
			continue
		}
		seen[string(b)] = true
		out = append(out, u)
	}
	return out
}

func unionKeys3[T any](a, b, c map[string]T) []string {
	seen := map[string]bool{}
	var keys []string
	for _, m := range []map[string]T{a, b, c} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	return keys
}

// Encode renders a Result to the canonical merged JSONL byte stream,
// grouped issues-then-deps-then-links-then-events-then-proposals.
func Encode(r Result) ([]byte, error) {
	var buf bytes.Buffer
	write := func(rec record.Record) error {
		enc, err := record.Encode(rec)
		if err != nil {
			return err
		}
		buf.Write(enc)
		buf.WriteByte('\n')
		return nil
	}
	for _, i := range r.Issues {
		if err := write(i); err != nil {
			return nil, err
		}
	}
	for _, d := range r.Dependencies {
		if err := write(d); err != nil {
			return nil, err
		}
	}
	for _, l := range r.Links {
		if err := write(l); err != nil {
			return nil, err
		}
	}
	for _, e := range r.Events {
		if err := write(e); err != nil {
			return nil, err
		}
	}
	for _, p := range r.Proposals {
		if err := write(p); err != nil {
			return nil, err
		}
	}
	for _, u := range r.Unknown {
		if err := write(u); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
