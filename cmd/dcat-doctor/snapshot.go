package main

import (
	"bytes"

	"github.com/dogcats/dcat/internal/record"
	"github.com/dogcats/dcat/internal/validate"
)

// buildSnapshot parses raw JSONL lines into a validate.Snapshot, recording
// the 1-indexed source line each record came from. Lines that fail to
// decode are skipped; the validator only ever sees the last-write-wins
// reconstruction, same as the store's own reload.
func buildSnapshot(lines [][]byte) validate.Snapshot {
	snap := validate.Snapshot{
		Issues:    map[string]record.Issue{},
		IssueLine: map[string]int{},
	}
	for i, raw := range lines {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 {
			continue
		}
		rec, _, err := record.DecodeWithMeta(trimmed)
		if err != nil {
			continue
		}
		line := i + 1
		switch v := rec.(type) {
		case record.Issue:
			snap.Issues[v.FullID()] = v
			snap.IssueLine[v.FullID()] = line
		case record.Dependency:
			snap.Deps = append(snap.Deps, v)
			snap.DepLine = append(snap.DepLine, line)
		case record.Link:
			snap.Links = append(snap.Links, v)
			snap.LinkLine = append(snap.LinkLine, line)
		case record.Event:
			snap.Events = append(snap.Events, v)
			snap.EventLine = append(snap.EventLine, line)
		}
	}
	return snap
}

// issueSetAt parses raw JSONL lines into a flat issue-by-id map, used for
// the concurrent-edit check's base/ours/theirs comparison where line
// numbers don't matter.
func issueSetAt(lines [][]byte) map[string]record.Issue {
	out := map[string]record.Issue{}
	for _, raw := range lines {
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 {
			continue
		}
		rec, _, err := record.DecodeWithMeta(trimmed)
		if err != nil {
			continue
		}
		if issue, ok := rec.(record.Issue); ok {
			out[issue.FullID()] = issue
		}
	}
	return out
}
