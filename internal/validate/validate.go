// Package validate implements the integrity validator: a pure function
// over a parsed record list that reports structural, referential, and
// cycle problems, plus an advisory post-merge concurrent-edit check.
package validate

import (
	"fmt"
	"sort"

	"github.com/dogcats/dcat/internal/event"
	"github.com/dogcats/dcat/internal/gitutil"
	"github.com/dogcats/dcat/internal/record"
)

// Level is the severity of a Finding.
type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

// Finding is one integrity problem located at a specific log line.
type Finding struct {
	Level   Level  `json:"level"`
	Line    int    `json:"line"`
	Message string `json:"message"`
	IssueID string `json:"issue_id,omitempty"`
}

// Snapshot is the parsed state the validator checks: the set of issues
// plus the dependency/link edges, each tagged with the 1-indexed line it
// was read from so findings can point back at the source.
type Snapshot struct {
	Issues    map[string]record.Issue
	IssueLine map[string]int
	Deps      []record.Dependency
	DepLine   []int
	Links     []record.Link
	LinkLine  []int
	Events    []record.Event
	EventLine []int
}

// Validate runs every structural, referential, and cycle check over snap,
// returning findings sorted by line number.
func Validate(snap Snapshot) []Finding {
	var findings []Finding
	findings = append(findings, checkStructural(snap)...)
	findings = append(findings, checkReferential(snap)...)
	findings = append(findings, checkCycles(snap)...)

	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Line < findings[j].Line })
	return findings
}

func checkStructural(snap Snapshot) []Finding {
	var findings []Finding
	for id, issue := range snap.Issues {
		line := snap.IssueLine[id]
		if issue.Title == "" {
			findings = append(findings, Finding{Level: LevelError, Line: line, Message: "issue missing title", IssueID: id})
		}
		if !record.ValidStatus(issue.Status) {
			findings = append(findings, Finding{Level: LevelError, Line: line, Message: fmt.Sprintf("invalid status %q", issue.Status), IssueID: id})
		}
		if !record.ValidIssueType(issue.IssueType) {
			findings = append(findings, Finding{Level: LevelError, Line: line, Message: fmt.Sprintf("invalid issue_type %q", issue.IssueType), IssueID: id})
		}
		if issue.Priority < 0 || issue.Priority > 4 {
			findings = append(findings, Finding{Level: LevelError, Line: line, Message: fmt.Sprintf("priority %d out of range 0..4", issue.Priority), IssueID: id})
		}
		if issue.CreatedAt.IsZero() {
			findings = append(findings, Finding{Level: LevelError, Line: line, Message: "created_at is unset or unparseable", IssueID: id})
		}
		if issue.UpdatedAt.IsZero() {
			findings = append(findings, Finding{Level: LevelError, Line: line, Message: "updated_at is unset or unparseable", IssueID: id})
		}
	}
	return findings
}

func checkReferential(snap Snapshot) []Finding {
	var findings []Finding

	for id, issue := range snap.Issues {
		if issue.Parent == "" {
			continue
		}
		if _, ok := snap.Issues[issue.Parent]; !ok {
			findings = append(findings, Finding{
				Level:   LevelError,
				Line:    snap.IssueLine[id],
				Message: fmt.Sprintf("parent %q does not exist", issue.Parent),
				IssueID: id,
			})
		}
	}

	for i, d := range snap.Deps {
		if d.IsRemoval() {
			continue
		}
		line := lineAt(snap.DepLine, i)
		if _, ok := snap.Issues[d.IssueID]; !ok {
			findings = append(findings, Finding{Level: LevelError, Line: line, Message: fmt.Sprintf("dependency endpoint %q does not exist", d.IssueID), IssueID: d.IssueID})
		}
		if _, ok := snap.Issues[d.DependsOnID]; !ok {
			findings = append(findings, Finding{Level: LevelError, Line: line, Message: fmt.Sprintf("dependency endpoint %q does not exist", d.DependsOnID), IssueID: d.DependsOnID})
		}
	}

	for i, l := range snap.Links {
		if l.IsRemoval() {
			continue
		}
		line := lineAt(snap.LinkLine, i)
		if _, ok := snap.Issues[l.FromID]; !ok {
			findings = append(findings, Finding{Level: LevelError, Line: line, Message: fmt.Sprintf("link endpoint %q does not exist", l.FromID), IssueID: l.FromID})
		}
		if _, ok := snap.Issues[l.ToID]; !ok {
			findings = append(findings, Finding{Level: LevelError, Line: line, Message: fmt.Sprintf("link endpoint %q does not exist", l.ToID), IssueID: l.ToID})
		}
	}

	for i, ev := range snap.Events {
		if _, ok := snap.Issues[ev.IssueID]; !ok {
			findings = append(findings, Finding{
				Level:   LevelWarning,
				Line:    lineAt(snap.EventLine, i),
				Message: fmt.Sprintf("event references unknown issue %q", ev.IssueID),
				IssueID: ev.IssueID,
			})
		}
	}

	return findings
}

func lineAt(lines []int, i int) int {
	if i < len(lines) {
		return lines[i]
	}
	return 0
}

// checkCycles walks the blocks-restricted dependency graph looking for
// any cycle. It reports one finding at the edge that closes a cycle and
// then stops the search from that starting node, so a cycle yields one
// finding rather than one per member.
func checkCycles(snap Snapshot) []Finding {
	adj := map[string][]string{}
	lineOf := map[string]int{}
	for i, d := range snap.Deps {
		if d.Type != record.DepBlocks || d.IsRemoval() {
			continue
		}
		adj[d.IssueID] = append(adj[d.IssueID], d.DependsOnID)
		lineOf[d.IssueID] = lineAt(snap.DepLine, i)
	}

	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}
	var findings []Finding

	var dfs func(node string) bool
	dfs = func(node string) bool {
		state[node] = visiting
		for _, next := range adj[node] {
			switch state[next] {
			case visiting:
				findings = append(findings, Finding{
					Level:   LevelError,
					Line:    lineOf[node],
					Message: fmt.Sprintf("blocks-dependency cycle through %q", next),
					IssueID: node,
				})
				return true
			case unvisited:
				if dfs(next) {
					return true
				}
			}
		}
		state[node] = done
		return false
	}

	ids := make([]string, 0, len(adj))
	for id := range adj {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if state[id] == unvisited {
			dfs(id)
		}
	}
	return findings
}

// ConcurrentEditFinding names an issue touched by both sides of a merge
// on the same tracked field.
type ConcurrentEditFinding struct {
	IssueID string
	Field   string
}

// CheckConcurrentEdits is advisory: given the issue sets at the two
// parents of a merge commit and at their merge base, it computes the
// tracked-field diff each side applied relative to base and flags issues
// where both sides touched the same field. An issue absent from base is
// diffed against nil on both sides.
//
// ours and theirs are the full issue sets as of each parent commit;
// base is the common ancestor's issue set.
func CheckConcurrentEdits(base, ours, theirs map[string]record.Issue) []ConcurrentEditFinding {
	var out []ConcurrentEditFinding
	ids := make([]string, 0, len(ours))
	for id := range ours {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		theirIssue, ok := theirs[id]
		if !ok {
			continue
		}
		var basePtr *record.Issue
		if b, ok := base[id]; ok {
			basePtr = &b
		}
		oursChanges := event.DiffIssue(basePtr, ours[id])
		theirsChanges := event.DiffIssue(basePtr, theirIssue)

		fields := make([]string, 0, len(oursChanges))
		for f := range oursChanges {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		for _, f := range fields {
			if _, ok := theirsChanges[f]; ok {
				out = append(out, ConcurrentEditFinding{IssueID: id, Field: f})
			}
		}
	}
	return out
}

// MergeCommitParents re-exports gitutil's lookup so callers of this
// package don't need a second import for the one function they need
// alongside CheckConcurrentEdits.
func MergeCommitParents(dir string) (ours, theirs string, ok bool) {
	return gitutil.MergeCommitParents(dir)
}
