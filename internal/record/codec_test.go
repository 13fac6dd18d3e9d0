package record

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestClassifyHeuristic(t *testing.T) {
	cases := []struct {
		name string
		m    map[string]any
		want Kind
	}{
		{"link by from/to", map[string]any{"from_id": "a", "to_id": "b"}, KindLink},
		{"dependency by issue/depends_on", map[string]any{"issue_id": "a", "depends_on_id": "b"}, KindDependency},
		{"default issue", map[string]any{"title": "x"}, KindIssue},
		{"explicit event", map[string]any{"record_type": "event"}, KindEvent},
		{"explicit proposal", map[string]any{"record_type": "proposal"}, KindProposal},
		{"unrecognized explicit tag", map[string]any{"record_type": "wat"}, KindUnknown},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := Classify(c.m); got != c.want {
				t.Errorf("Classify(%v) = %v, want %v", c.m, got, c.want)
			}
		})
	}
}

func TestDecodeIssueCombinedID(t *testing.T) {
	line := []byte(`{"record_type":"issue","id":"proj-abc123","title":"t","status":"open","priority":2,"issue_type":"task","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}`)
	rec, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	issue, ok := rec.(Issue)
	if !ok {
		t.Fatalf("expected Issue, got %T", rec)
	}
	if issue.Namespace != "proj" || issue.ID != "abc123" {
		t.Errorf("split id = (%q, %q), want (proj, abc123)", issue.Namespace, issue.ID)
	}
}

func TestDecodeLegacyIssueType(t *testing.T) {
	for legacy, want := range map[string]IssueType{"sub-task": TypeSubtask, "rfc": TypeDraft} {
		line := []byte(`{"record_type":"issue","namespace":"ns","id":"1","title":"t","status":"open","priority":2,"issue_type":"` + legacy + `","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}`)
		rec, err := Decode(line)
		if err != nil {
			t.Fatalf("Decode(%s): %v", legacy, err)
		}
		issue := rec.(Issue)
		if issue.IssueType != want {
			t.Errorf("legacy %q decoded to %q, want %q", legacy, issue.IssueType, want)
		}
	}
}

func TestDecodeLegacyCloseReason(t *testing.T) {
	line := []byte(`{"record_type":"issue","namespace":"ns","id":"1","title":"t","status":"closed","priority":2,"issue_type":"task","notes":"some notes\n\nClosed: wontfix","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}`)
	rec, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	issue := rec.(Issue)
	if issue.CloseReason != "wontfix" {
		t.Errorf("close_reason = %q, want wontfix", issue.CloseReason)
	}
	if issue.Notes != "some notes" {
		t.Errorf("notes = %q, want %q", issue.Notes, "some notes")
	}
}

func TestDecodeLegacyCloseReasonDoesNotOverrideExisting(t *testing.T) {
	line := []byte(`{"record_type":"issue","namespace":"ns","id":"1","title":"t","status":"closed","priority":2,"issue_type":"task","close_reason":"duplicate","notes":"some notes\n\nClosed: wontfix","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z"}`)
	rec, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	issue := rec.(Issue)
	if issue.CloseReason != "duplicate" {
		t.Errorf("close_reason = %q, want duplicate (existing field must win)", issue.CloseReason)
	}
	if !strings.Contains(issue.Notes, "Closed: wontfix") {
		t.Errorf("notes should be left untouched when close_reason already present, got %q", issue.Notes)
	}
}

func TestIssueRoundTripPreservesUnknownFields(t *testing.T) {
	line := []byte(`{"record_type":"issue","namespace":"ns","id":"1","title":"t","status":"open","priority":2,"issue_type":"task","created_at":"2026-01-01T00:00:00Z","updated_at":"2026-01-01T00:00:00Z","future_field":"keep me"}`)
	rec, err := Decode(line)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	encoded, err := Encode(rec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(encoded, &m); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if m["future_field"] != "keep me" {
		t.Errorf("unknown field not preserved on round trip: %v", m)
	}
	if m["record_type"] != "issue" {
		t.Errorf("record_type not written: %v", m)
	}
}

func TestDecodeEmptyLine(t *testing.T) {
	_, err := Decode([]byte("   \n"))
	if !errors.Is(err, ErrEmptyLine) {
		t.Errorf("expected ErrEmptyLine, got %v", err)
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"id":"abc`))
	if !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestEncodeUnknownPassesThroughVerbatim(t *testing.T) {
	u := Unknown{Raw: map[string]any{"record_type": "something_new", "x": 1.0}}
	out, err := Encode(u)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(out, &m); err != nil {
		t.Fatalf("re-unmarshal: %v", err)
	}
	if m["record_type"] != "something_new" || m["x"] != 1.0 {
		t.Errorf("unknown record not passed through verbatim: %v", m)
	}
}

func TestDependencyAndLinkKeys(t *testing.T) {
	d := Dependency{IssueID: "a", DependsOnID: "b", Type: DepBlocks}
	if d.Key() != [3]string{"a", "b", "blocks"} {
		t.Errorf("unexpected dependency key: %v", d.Key())
	}
	l := Link{FromID: "a", ToID: "b"}
	if l.Key() != [3]string{"a", "b", DefaultLinkType} {
		t.Errorf("unexpected link key: %v", l.Key())
	}
}
