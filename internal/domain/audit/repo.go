package audit

import (
	"context"
	"time"
)

// Filters narrows an event query. All fields are optional; zero values match
// everything.
type Filters struct {
	Status      string
	Action      string
	Category    string
	ActorUserID string
	TargetType  string
	Search      string
	From        *time.Time
	To          *time.Time
	Limit       int
	Offset      int
}

type EventRepository interface {
	Insert(ctx context.Context, e *AuditEvent) error
	Search(ctx context.Context, orgID string, f Filters) ([]*AuditEvent, int, error)
	DistinctOrgs(ctx context.Context) ([]string, error)
	DeleteOlderThan(ctx context.Context, orgID string, cat Category, cutoff time.Time) (int64, error)
}

type SettingsRepository interface {
	SettingsStore
	Upsert(ctx context.Context, row SettingsRow) error
}
