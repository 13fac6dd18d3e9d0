// Package record defines the sum-type record model written to and read
// from the dcat JSONL log: issues, comments, dependencies, links, events
// and inbox proposals.
package record

import "time"

// Kind discriminates the record variants stored one-per-line in a log.
type Kind string

const (
	KindIssue      Kind = "issue"
	KindDependency Kind = "dependency"
	KindLink       Kind = "link"
	KindEvent      Kind = "event"
	KindProposal   Kind = "proposal"
	KindUnknown    Kind = "unknown"
)

// Record is implemented by every concrete variant.
type Record interface {
	Kind() Kind
}

// Status is the lifecycle state of an Issue.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusInReview   Status = "in_review"
	StatusBlocked    Status = "blocked"
	StatusDeferred   Status = "deferred"
	StatusClosed     Status = "closed"
	StatusTombstone  Status = "tombstone"
)

// ValidStatus reports whether s is a recognized issue status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusInReview, StatusBlocked, StatusDeferred, StatusClosed, StatusTombstone:
		return true
	}
	return false
}

// terminalRank orders statuses for merge tie-breaking: tombstone beats
// closed beats everything else.
func (s Status) terminalRank() int {
	switch s {
	case StatusTombstone:
		return 2
	case StatusClosed:
		return 1
	default:
		return 0
	}
}

// TerminalRank exposes terminalRank to the merge package.
func (s Status) TerminalRank() int { return s.terminalRank() }

// IssueType is the classification of an issue.
type IssueType string

const (
	TypeTask     IssueType = "task"
	TypeBug      IssueType = "bug"
	TypeFeature  IssueType = "feature"
	TypeStory    IssueType = "story"
	TypeChore    IssueType = "chore"
	TypeEpic     IssueType = "epic"
	TypeSubtask  IssueType = "subtask"
	TypeQuestion IssueType = "question"
	TypeDraft    IssueType = "draft"
)

// legacyIssueTypes maps retired spellings onto their modern equivalent.
var legacyIssueTypes = map[string]IssueType{
	"sub-task": TypeSubtask,
	"rfc":      TypeDraft,
}

// ValidIssueType reports whether t is a current (non-legacy) issue type.
func ValidIssueType(t IssueType) bool {
	switch t {
	case TypeTask, TypeBug, TypeFeature, TypeStory, TypeChore, TypeEpic, TypeSubtask, TypeQuestion, TypeDraft:
		return true
	}
	return false
}

// DependencyType is the relation a Dependency record expresses.
type DependencyType string

const (
	DepBlocks       DependencyType = "blocks"
	DepParentChild  DependencyType = "parent-child"
	DepRelated      DependencyType = "related"
)

func ValidDependencyType(t DependencyType) bool {
	switch t {
	case DepBlocks, DepParentChild, DepRelated:
		return true
	}
	return false
}

// DefaultLinkType is used when a Link record omits link_type.
const DefaultLinkType = "relates_to"

// OpRemove marks a Dependency or Link record as a removal rather than an
// addition when appended to the log.
const OpRemove = "remove"

// EventType classifies an Event record.
type EventType string

const (
	EventCreated  EventType = "created"
	EventUpdated  EventType = "updated"
	EventClosed   EventType = "closed"
	EventReopened EventType = "reopened"
	EventDeleted  EventType = "deleted"
)

// ProposalStatus is the lifecycle state of an inbox Proposal.
type ProposalStatus string

const (
	ProposalOpen      ProposalStatus = "open"
	ProposalClosed    ProposalStatus = "closed"
	ProposalTombstone ProposalStatus = "tombstone"
)

func (s ProposalStatus) terminalRank() int {
	switch s {
	case ProposalTombstone:
		return 2
	case ProposalClosed:
		return 1
	default:
		return 0
	}
}

// TerminalRank exposes terminalRank to the merge package.
func (s ProposalStatus) TerminalRank() int { return s.terminalRank() }

// Comment is embedded inside the Issue that owns it; it is never a
// top-level log line of its own.
type Comment struct {
	ID        string    `json:"id"`
	IssueID   string    `json:"issue_id,omitempty"`
	Author    string    `json:"author,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Issue is the primary record kind.
type Issue struct {
	Namespace string `json:"namespace,omitempty"`
	ID        string `json:"id"`

	Title       string    `json:"title"`
	Status      Status    `json:"status"`
	Priority    int       `json:"priority"`
	IssueType   IssueType `json:"issue_type"`
	Description string    `json:"description,omitempty"`
	Owner       string    `json:"owner,omitempty"`
	Parent      string    `json:"parent,omitempty"`
	Labels      []string  `json:"labels,omitempty"`
	ExternalRef string    `json:"external_ref,omitempty"`
	Design      string    `json:"design,omitempty"`
	Acceptance  string    `json:"acceptance,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	Plan        string    `json:"plan,omitempty"`

	DuplicateOf  string `json:"duplicate_of,omitempty"`
	CloseReason  string `json:"close_reason,omitempty"`
	DeleteReason string `json:"delete_reason,omitempty"`
	OriginalType string `json:"original_type,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`

	CreatedBy string `json:"created_by,omitempty"`
	UpdatedBy string `json:"updated_by,omitempty"`
	ClosedBy  string `json:"closed_by,omitempty"`
	DeletedBy string `json:"deleted_by,omitempty"`

	Comments []Comment `json:"comments,omitempty"`

	// Extra preserves fields this decoder doesn't know about so that
	// round-tripping through the store never silently drops data written
	// by a newer version of the codec.
	Extra map[string]any `json:"-"`
}

func (Issue) Kind() Kind { return KindIssue }

// FullID is the canonical namespace-id reference used by every other
// record kind to point at an issue.
func (i Issue) FullID() string { return FullID(i.Namespace, i.ID) }

// FullID joins a namespace and bare id into the canonical reference form.
func FullID(namespace, id string) string {
	if namespace == "" {
		return id
	}
	return namespace + "-" + id
}

// Dependency expresses that IssueID depends on DependsOnID.
type Dependency struct {
	IssueID     string         `json:"issue_id"`
	DependsOnID string         `json:"depends_on_id"`
	Type        DependencyType `json:"type"`
	CreatedAt   time.Time      `json:"created_at"`
	CreatedBy   string         `json:"created_by,omitempty"`
	Op          string         `json:"op,omitempty"`
}

func (Dependency) Kind() Kind { return KindDependency }

func (d Dependency) IsRemoval() bool { return d.Op == OpRemove }

// Key identifies a dependency for set semantics during merge and indexing,
// ignoring CreatedAt/CreatedBy/Op.
func (d Dependency) Key() [3]string { return [3]string{d.IssueID, d.DependsOnID, string(d.Type)} }

// Link expresses an undirected-in-spirit but directionally-recorded
// relation between two issues.
type Link struct {
	FromID    string    `json:"from_id"`
	ToID      string    `json:"to_id"`
	LinkType  string    `json:"link_type,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by,omitempty"`
	Op        string    `json:"op,omitempty"`
}

func (Link) Kind() Kind { return KindLink }

func (l Link) IsRemoval() bool { return l.Op == OpRemove }

// EffectiveLinkType returns LinkType, defaulting to DefaultLinkType.
func (l Link) EffectiveLinkType() string {
	if l.LinkType == "" {
		return DefaultLinkType
	}
	return l.LinkType
}

// Key identifies a link for set semantics during merge and indexing.
func (l Link) Key() [3]string { return [3]string{l.FromID, l.ToID, l.EffectiveLinkType()} }

// FieldChange is one entry in an Event's Changes map.
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Event is a derived, append-only audit record. Events are never the
// source of truth and are never overwritten or mutated in place.
type Event struct {
	EventType EventType              `json:"event_type"`
	IssueID   string                 `json:"issue_id"`
	Timestamp time.Time              `json:"timestamp"`
	By        string                 `json:"by,omitempty"`
	Title     string                 `json:"title,omitempty"`
	Changes   map[string]FieldChange `json:"changes,omitempty"`
}

func (Event) Kind() Kind { return KindEvent }

// Proposal is an inbox record: a candidate issue awaiting triage.
type Proposal struct {
	Namespace string `json:"namespace,omitempty"`
	ID        string `json:"id"`

	Title       string         `json:"title"`
	Status      ProposalStatus `json:"status"`
	Description string         `json:"description,omitempty"`
	ProposedBy  string         `json:"proposed_by,omitempty"`
	SourceRepo  string         `json:"source_repo,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`
	ClosedBy  string     `json:"closed_by,omitempty"`

	CloseReason   string `json:"close_reason,omitempty"`
	ResolvedIssue string `json:"resolved_issue,omitempty"`

	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	DeletedBy string     `json:"deleted_by,omitempty"`
}

func (Proposal) Kind() Kind { return KindProposal }

// FullID is the canonical namespace-inbox-id reference for a proposal.
func (p Proposal) FullID() string {
	if p.Namespace == "" {
		return p.ID
	}
	return p.Namespace + "-inbox-" + p.ID
}

// Unknown is the catch-all variant for log lines the codec doesn't
// recognize, so a forward-compatible writer round-trips cleanly.
type Unknown struct {
	Raw map[string]any
}

func (Unknown) Kind() Kind { return KindUnknown }
