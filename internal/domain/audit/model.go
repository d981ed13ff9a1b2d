package audit

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category classifies audit events for enablement and redaction policy.
type Category string

const (
	CategoryHTTPRequests   Category = "http_requests"
	CategoryDataChanges    Category = "data_changes"
	CategoryAuthentication Category = "authentication"
	CategoryAdministration Category = "administration"
	CategorySecurity       Category = "security"

	// CategorySystem is assigned to actions without a dot-namespaced prefix.
	// It has no per-org settings row and is never suppressed.
	CategorySystem Category = "system"
)

// Categories returns the five configurable audit categories.
func Categories() []Category {
	return []Category{
		CategoryHTTPRequests,
		CategoryDataChanges,
		CategoryAuthentication,
		CategoryAdministration,
		CategorySecurity,
	}
}

// KnownCategory reports whether c is one of the five configurable categories.
func KnownCategory(c Category) bool {
	switch c {
	case CategoryHTTPRequests, CategoryDataChanges, CategoryAuthentication,
		CategoryAdministration, CategorySecurity:
		return true
	}
	return false
}

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Well-known action codes emitted by this service itself.
const (
	ActionHTTPRequest     = "HTTP.REQUEST"
	ActionSettingsUpdated = "AUDIT.SETTINGS_UPDATED"
	ActionOrgIsolation    = "SECURITY.ORG_ISOLATION_VIOLATION"
)

// ResolveCategory maps an action code to its category. An explicit category
// wins. Otherwise the dot-namespaced prefix decides; actions without a prefix
// fall into the system category.
func ResolveCategory(action string, explicit Category) Category {
	if explicit != "" {
		return explicit
	}
	dot := strings.Index(action, ".")
	if dot < 0 {
		return CategorySystem
	}
	switch strings.ToUpper(action[:dot]) {
	case "AUTH":
		return CategoryAuthentication
	case "SECURITY":
		return CategorySecurity
	case "ORG", "ROLE", "USER", "AUDIT":
		return CategoryAdministration
	case "HTTP":
		return CategoryHTTPRequests
	default:
		return CategoryDataChanges
	}
}

// AuditEvent is one persisted audit row. Immutable once written.
type AuditEvent struct {
	ID           uuid.UUID              `db:"id" json:"id"`
	OrgID        string                 `db:"org_id" json:"org_id"`
	ActorUserID  *string                `db:"actor_user_id" json:"actor_user_id,omitempty"`
	Action       string                 `db:"action" json:"action"`
	TargetType   string                 `db:"target_type" json:"target_type"`
	TargetID     string                 `db:"target_id" json:"target_id"`
	TargetName   string                 `db:"target_name" json:"target_name"`
	Category     Category               `db:"category" json:"category"`
	Status       string                 `db:"status" json:"status"`
	ErrorMessage *string                `db:"error_message" json:"error_message,omitempty"`
	Metadata     map[string]interface{} `db:"metadata" json:"metadata,omitempty"`
	IPAddress    string                 `db:"ip_address" json:"ip_address"`
	UserAgent    string                 `db:"user_agent" json:"user_agent"`
	SessionID    string                 `db:"session_id" json:"session_id"`
	RequestID    string                 `db:"request_id" json:"request_id"`
	CreatedAt    time.Time              `db:"created_at" json:"created_at"`
}

// Entry is a request to record one audit event. Fields left empty fall back
// to request-context values when logged through a middleware Recorder.
type Entry struct {
	OrgID        string
	ActorUserID  string
	Action       string
	TargetType   string
	TargetID     string
	TargetName   string
	Category     Category
	Status       string
	ErrorMessage string
	Metadata     map[string]interface{}

	// Before/After feed the change diff; when either is set the computed
	// changes are attached to metadata.
	Before map[string]interface{}
	After  map[string]interface{}

	IPAddress string
	UserAgent string
	SessionID string
	RequestID string

	// Bypass forces the write regardless of the category's enabled toggle.
	// Used for self-referential and security-critical events so that
	// disabling a category cannot hide changes to the toggle itself.
	Bypass bool
}

// Outcome reports what the writer did with an entry. The write path never
// returns an error; the outcome makes the fail-open contract testable.
type Outcome int

const (
	OutcomeWritten Outcome = iota
	OutcomeSkipped
	OutcomeSuppressed
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeWritten:
		return "written"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeSuppressed:
		return "suppressed"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}
