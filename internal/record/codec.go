package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// CodecVersion is the best-effort provenance tag written into every
// encoded record. It is never consulted on decode.
const CodecVersion = "1"

// legacyCloseReasonMarker is the trailing-notes marker a historical writer used
// to embed a close reason instead of a dedicated field.
const legacyCloseReasonMarker = "\n\nClosed: "

// envelopeFields are keys the codec manages itself (kind discriminator and
// provenance tag); they are never treated as unknown overflow data.
var envelopeFields = map[string]bool{
	"record_type": true,
	"dcat_version": true,
}

// issueKnownFields lists every JSON key the Issue struct understands, so
// that Decode can separate genuine unknown fields (preserved via Extra)
// from the struct's own fields.
var issueKnownFields = map[string]bool{
	"namespace": true, "id": true, "title": true, "status": true,
	"priority": true, "issue_type": true, "description": true, "owner": true,
	"parent": true, "labels": true, "external_ref": true, "design": true,
	"acceptance": true, "notes": true, "plan": true, "duplicate_of": true,
	"close_reason": true, "delete_reason": true, "original_type": true,
	"metadata": true, "created_at": true, "updated_at": true, "closed_at": true,
	"deleted_at": true, "created_by": true, "updated_by": true, "closed_by": true,
	"deleted_by": true, "comments": true,
}

// Classify determines the record kind of a decoded JSON object, preferring
// the explicit record_type discriminator and falling back to the
// structural heuristic when it is absent.
func Classify(m map[string]any) Kind {
	if rt, ok := m["record_type"].(string); ok {
		switch Kind(rt) {
		case KindIssue, KindDependency, KindLink, KindEvent, KindProposal:
			return Kind(rt)
		}
		return KindUnknown
	}
	_, hasFrom := m["from_id"]
	_, hasTo := m["to_id"]
	if hasFrom && hasTo {
		return KindLink
	}
	_, hasIssueID := m["issue_id"]
	_, hasDependsOn := m["depends_on_id"]
	if hasIssueID && hasDependsOn {
		return KindDependency
	}
	return KindIssue
}

// Decode parses a single log line into its concrete record variant. An
// empty (whitespace-only) line returns ErrEmptyLine and must be skipped by
// the caller, not treated as a decode failure.
func Decode(line []byte) (Record, error) {
	rec, _, err := DecodeWithMeta(line)
	return rec, err
}

// DecodeWithMeta is Decode but also reports whether classification had to
// fall back to the structural heuristic because the line carried no
// (recognized) record_type field. The log store uses this to flag
// needs_compaction on reload, per the reparable-anomaly rule in §4.2.
func DecodeWithMeta(line []byte) (rec Record, usedHeuristic bool, err error) {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil, false, ErrEmptyLine
	}

	var m map[string]any
	if err := json.Unmarshal(trimmed, &m); err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if rt, ok := m["record_type"].(string); !ok || !recognizedKind(rt) {
		usedHeuristic = true
	}

	switch Classify(m) {
	case KindLink:
		var l Link
		if err := json.Unmarshal(trimmed, &l); err != nil {
			return nil, false, fmt.Errorf("%w: link: %v", ErrMalformedRecord, err)
		}
		return l, usedHeuristic, nil
	case KindDependency:
		var d Dependency
		if err := json.Unmarshal(trimmed, &d); err != nil {
			return nil, false, fmt.Errorf("%w: dependency: %v", ErrMalformedRecord, err)
		}
		return d, usedHeuristic, nil
	case KindEvent:
		var e Event
		if err := json.Unmarshal(trimmed, &e); err != nil {
			return nil, false, fmt.Errorf("%w: event: %v", ErrMalformedRecord, err)
		}
		return e, usedHeuristic, nil
	case KindProposal:
		var p Proposal
		if err := json.Unmarshal(trimmed, &p); err != nil {
			return nil, false, fmt.Errorf("%w: proposal: %v", ErrMalformedRecord, err)
		}
		return p, usedHeuristic, nil
	case KindIssue:
		var i Issue
		if err := json.Unmarshal(trimmed, &i); err != nil {
			return nil, false, fmt.Errorf("%w: issue: %v", ErrMalformedRecord, err)
		}
		return i, usedHeuristic, nil
	default:
		// An explicit but unrecognized record_type reached here too; it
		// is itself a reparable anomaly worth compacting away.
		return Unknown{Raw: m}, true, nil
	}
}

func recognizedKind(rt string) bool {
	switch Kind(rt) {
	case KindIssue, KindDependency, KindLink, KindEvent, KindProposal:
		return true
	}
	return false
}

// Encode renders a record to its canonical single-line JSON form, without
// a trailing newline. Unknown records are written back verbatim.
func Encode(r Record) ([]byte, error) {
	if u, ok := r.(Unknown); ok {
		return json.Marshal(u.Raw)
	}

	raw, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m["record_type"] = string(r.Kind())
	m["dcat_version"] = CodecVersion
	return json.Marshal(m)
}

// issueAlias breaks the recursive MarshalJSON/UnmarshalJSON cycle: it has
// the same fields as Issue but none of its methods.
type issueAlias Issue

// UnmarshalJSON decodes an issue record with version-tolerant handling of
// the combined "ns-hash" id form, legacy issue_type spellings, the legacy
// notes-embedded close reason, and unknown-field preservation.
func (i *Issue) UnmarshalJSON(data []byte) error {
	var a issueAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*i = Issue(a)

	if i.Namespace == "" && i.ID != "" {
		if idx := strings.LastIndex(i.ID, "-"); idx > 0 {
			i.Namespace = i.ID[:idx]
			i.ID = i.ID[idx+1:]
		}
	}

	if i.CloseReason == "" {
		if reason, stripped, ok := extractLegacyCloseReason(i.Notes); ok {
			i.CloseReason = reason
			i.Notes = stripped
		}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var extra map[string]any
	for k, v := range raw {
		if issueKnownFields[k] || envelopeFields[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		if extra == nil {
			extra = map[string]any{}
		}
		extra[k] = val
	}
	i.Extra = extra
	return nil
}

// MarshalJSON encodes the issue's known fields and merges back any
// unknown fields captured in Extra, so a round trip through the store
// never drops data a newer writer produced.
func (i Issue) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(issueAlias(i))
	if err != nil {
		return nil, err
	}
	if len(i.Extra) == 0 {
		return base, nil
	}
	var m map[string]any
	if err := json.Unmarshal(base, &m); err != nil {
		return nil, err
	}
	for k, v := range i.Extra {
		if _, exists := m[k]; !exists {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// UnmarshalJSON maps retired issue_type spellings onto their modern
// equivalent: "sub-task" -> subtask, "rfc" -> draft.
func (t *IssueType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if mapped, ok := legacyIssueTypes[s]; ok {
		*t = mapped
		return nil
	}
	*t = IssueType(s)
	return nil
}

// extractLegacyCloseReason splits a historical notes field of the shape
// "<notes>\n\nClosed: <reason>" into its parts. It returns ok=false when
// the marker isn't present.
func extractLegacyCloseReason(notes string) (reason, stripped string, ok bool) {
	idx := strings.LastIndex(notes, legacyCloseReasonMarker)
	if idx == -1 {
		return "", notes, false
	}
	reason = notes[idx+len(legacyCloseReasonMarker):]
	stripped = notes[:idx]
	return reason, stripped, true
}
