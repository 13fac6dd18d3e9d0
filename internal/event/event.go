// Package event derives audit-trail Event records from issue and proposal
// mutations and provides the canonical dedup key the three-way merge uses
// to collapse identical events.
package event

import (
	"encoding/json"
	"sort"

	"github.com/dogcats/dcat/internal/record"
)

// TrackedIssueFields lists the issue fields whose changes are recorded in
// an Event's Changes map. Fields not in this list (e.g. updated_at,
// comments) never appear in a diff.
var TrackedIssueFields = []string{
	"title", "status", "priority", "issue_type", "owner", "parent",
	"labels", "external_ref", "description", "close_reason",
}

// TrackedProposalFields lists the analogous tracked fields for proposals.
var TrackedProposalFields = []string{
	"title", "status", "description", "close_reason", "resolved_issue",
}

func fieldValue(name string, i record.Issue) any {
	switch name {
	case "title":
		return i.Title
	case "status":
		return string(i.Status)
	case "priority":
		return i.Priority
	case "issue_type":
		return string(i.IssueType)
	case "owner":
		return i.Owner
	case "parent":
		return i.Parent
	case "labels":
		return i.Labels
	case "external_ref":
		return i.ExternalRef
	case "description":
		return i.Description
	case "close_reason":
		return i.CloseReason
	default:
		return nil
	}
}

func proposalFieldValue(name string, p record.Proposal) any {
	switch name {
	case "title":
		return p.Title
	case "status":
		return string(p.Status)
	case "description":
		return p.Description
	case "close_reason":
		return p.CloseReason
	case "resolved_issue":
		return p.ResolvedIssue
	default:
		return nil
	}
}

// DiffIssue computes the tracked-field diff between an issue's prior state
// and its new state. A nil prior (creation) treats every tracked field on
// the new issue whose JSON form is not null as a change from nil; empty
// strings and a zero priority are included, nil labels are not.
func DiffIssue(prior *record.Issue, next record.Issue) map[string]record.FieldChange {
	changes := map[string]record.FieldChange{}
	for _, f := range TrackedIssueFields {
		newVal := fieldValue(f, next)
		var oldVal any
		if prior != nil {
			oldVal = fieldValue(f, *prior)
		}
		if !deepEqual(oldVal, newVal) {
			changes[f] = record.FieldChange{Old: oldVal, New: newVal}
		}
	}
	return changes
}

// DiffProposal is DiffIssue's analogue for proposals.
func DiffProposal(prior *record.Proposal, next record.Proposal) map[string]record.FieldChange {
	changes := map[string]record.FieldChange{}
	for _, f := range TrackedProposalFields {
		newVal := proposalFieldValue(f, next)
		var oldVal any
		if prior != nil {
			oldVal = proposalFieldValue(f, *prior)
		}
		if !deepEqual(oldVal, newVal) {
			changes[f] = record.FieldChange{Old: oldVal, New: newVal}
		}
	}
	return changes
}

func deepEqual(a, b any) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}

// DedupKey returns the composite key used to collapse identical events on
// merge: (event_type, issue_id, timestamp, by, canonical(changes)). Two
// events with the same timestamp but different changes produce distinct
// keys and both survive.
func DedupKey(e record.Event) string {
	canon := canonicalChanges(e.Changes)
	key := struct {
		EventType string `json:"event_type"`
		IssueID   string `json:"issue_id"`
		Timestamp string `json:"timestamp"`
		By        string `json:"by"`
		Changes   string `json:"changes"`
	}{
		EventType: string(e.EventType),
		IssueID:   e.IssueID,
		Timestamp: e.Timestamp.UTC().Format("2006-01-02T15:04:05.999999999Z07:00"),
		By:        e.By,
		Changes:   canon,
	}
	b, _ := json.Marshal(key)
	return string(b)
}

// canonicalChanges renders a Changes map with deterministically sorted
// keys so that two maps built in different iteration orders produce
// identical dedup keys.
func canonicalChanges(changes map[string]record.FieldChange) string {
	if len(changes) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	type entry struct {
		Field string             `json:"field"`
		Value record.FieldChange `json:"value"`
	}
	entries := make([]entry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, entry{Field: k, Value: changes[k]})
	}
	b, _ := json.Marshal(entries)
	return string(b)
}

// Dedup collapses events with identical DedupKey values, keeping the
// first occurrence and preserving overall relative order.
func Dedup(events []record.Event) []record.Event {
	seen := make(map[string]bool, len(events))
	out := make([]record.Event, 0, len(events))
	for _, e := range events {
		k := DedupKey(e)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, e)
	}
	return out
}
