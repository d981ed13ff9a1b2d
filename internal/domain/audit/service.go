package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrOrgRequired     = errors.New("org id is required")
	ErrNoSettings      = errors.New("no settings provided")
	ErrUnknownCategory = errors.New("unknown audit category")
)

// Query limits. Interactive reads are hard-capped; CSV export gets a larger
// fixed window.
const (
	MaxQueryLimit = 200
	ExportLimit   = 5000
	DefaultLimit  = 50
)

// TxRunner executes fn inside one transaction whose handle travels in the
// context, so repository calls made by fn join it. Any error rolls back.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// Service orchestrates audit writes, settings administration, and queries.
type Service struct {
	events   EventRepository
	settings SettingsRepository
	cache    *SettingsCache
	runTx    TxRunner
	logger   zerolog.Logger
}

func NewService(events EventRepository, settings SettingsRepository, cache *SettingsCache, runTx TxRunner, logger zerolog.Logger) *Service {
	return &Service{
		events:   events,
		settings: settings,
		cache:    cache,
		runTx:    runTx,
		logger:   logger,
	}
}

// Log records one audit event. It never returns an error: a business
// operation must not fail because its audit trail could not be written.
//
// Entries missing org, action, or target type are dropped silently. A
// disabled category suppresses the write unless the entry carries the bypass
// flag. Persistence failures are logged and reported via the outcome only.
func (s *Service) Log(ctx context.Context, e Entry) Outcome {
	if e.OrgID == "" || e.Action == "" || e.TargetType == "" {
		return OutcomeSkipped
	}

	cat := ResolveCategory(e.Action, e.Category)

	settings, err := s.cache.Get(ctx, e.OrgID)
	if err != nil {
		// Fail open: an unreadable settings store must not stop the trail.
		s.logger.Warn().Err(err).
			Str("org_id", e.OrgID).
			Str("action", e.Action).
			Msg("audit settings unavailable, using defaults")
		settings = DefaultSettings()
	}

	if !e.Bypass && !settings.Enabled(cat) {
		return OutcomeSuppressed
	}

	status := e.Status
	if status == "" {
		status = StatusSuccess
	}

	event := &AuditEvent{
		OrgID:      e.OrgID,
		Action:     e.Action,
		TargetType: e.TargetType,
		TargetID:   e.TargetID,
		TargetName: e.TargetName,
		Category:   cat,
		Status:     status,
		Metadata:   buildMetadata(e, settings, cat),
		IPAddress:  e.IPAddress,
		UserAgent:  e.UserAgent,
		SessionID:  e.SessionID,
		RequestID:  e.RequestID,
	}
	if e.ActorUserID != "" {
		actor := e.ActorUserID
		event.ActorUserID = &actor
	}
	if e.ErrorMessage != "" {
		msg := e.ErrorMessage
		event.ErrorMessage = &msg
	}

	if err := s.events.Insert(ctx, event); err != nil {
		s.logger.Error().Err(err).
			Str("org_id", e.OrgID).
			Str("action", e.Action).
			Str("target_type", e.TargetType).
			Str("target_id", e.TargetID).
			Msg("audit event write failed")
		return OutcomeFailed
	}
	return OutcomeWritten
}

// buildMetadata assembles the stored metadata: caller metadata, the change
// diff when before/after payloads were supplied, and redacted copies of any
// captured HTTP bodies.
func buildMetadata(e Entry, settings Settings, cat Category) map[string]interface{} {
	meta := make(map[string]interface{}, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		meta[k] = v
	}

	if (e.Before != nil || e.After != nil) && settings.CaptureDiffs(cat) {
		if changes := ComputeChanges(e.Before, e.After); len(changes) > 0 {
			meta["changes"] = changes
		}
	}

	redact := settings.RedactFields(cat)
	if body, ok := meta["requestBody"]; ok {
		meta["requestBody"] = Sanitize(body, redact)
	}
	if body, ok := meta["responseBody"]; ok {
		meta["responseBody"] = Sanitize(body, redact)
	}

	if len(meta) == 0 {
		return nil
	}
	return meta
}

// GetSettings returns the org's effective settings. Unlike the cache, this
// administrative read treats a missing org as an input error.
func (s *Service) GetSettings(ctx context.Context, orgID string) (Settings, error) {
	if orgID == "" {
		return nil, ErrOrgRequired
	}
	return s.cache.Get(ctx, orgID)
}

// UpdateSettings applies partial per-category updates in one transaction,
// records an administration audit event on the same transaction, invalidates
// the cache, and returns the freshly merged settings. Unlike the best-effort
// write paths, failures here are the caller's problem and are returned.
func (s *Service) UpdateSettings(ctx context.Context, orgID string, updates SettingsUpdate, actorUserID string) (Settings, error) {
	if orgID == "" {
		return nil, ErrOrgRequired
	}
	if len(updates) == 0 {
		return nil, ErrNoSettings
	}
	for cat := range updates {
		if !KnownCategory(cat) {
			return nil, fmt.Errorf("%w %q", ErrUnknownCategory, cat)
		}
	}

	err := s.runTx(ctx, func(txCtx context.Context) error {
		for cat, u := range updates {
			row := resolveRow(orgID, cat, u, actorUserID)
			if err := s.settings.Upsert(txCtx, row); err != nil {
				return fmt.Errorf("upsert %s settings: %w", cat, err)
			}
		}

		out := s.Log(txCtx, Entry{
			OrgID:       orgID,
			ActorUserID: actorUserID,
			Action:      ActionSettingsUpdated,
			TargetType:  "AuditSettings",
			TargetID:    orgID,
			TargetName:  "Audit settings",
			Category:    CategoryAdministration,
			Metadata:    map[string]interface{}{"updates": updates},
			Bypass:      true,
		})
		if out != OutcomeWritten {
			return fmt.Errorf("record settings change: outcome %s", out)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(orgID)
	return s.cache.Get(ctx, orgID)
}

// EventPage is one page of query results with the unpaginated total.
type EventPage struct {
	Total  int           `json:"total"`
	Events []*AuditEvent `json:"events"`
}

// FetchEvents runs an org-scoped, filtered, paginated query. The limit is
// hard-capped at MaxQueryLimit regardless of what the caller asks for.
func (s *Service) FetchEvents(ctx context.Context, orgID string, f Filters) (*EventPage, error) {
	if orgID == "" {
		return nil, ErrOrgRequired
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxQueryLimit {
		f.Limit = MaxQueryLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	events, total, err := s.events.Search(ctx, orgID, f)
	if err != nil {
		return nil, fmt.Errorf("search audit events: %w", err)
	}
	if events == nil {
		events = []*AuditEvent{}
	}
	return &EventPage{Total: total, Events: events}, nil
}

// ExportEvents returns matching events for a CSV export, ignoring caller
// pagination in favor of the fixed export window. The query runs here so the
// handler can fail with a proper status before any response bytes go out.
func (s *Service) ExportEvents(ctx context.Context, orgID string, f Filters) ([]*AuditEvent, error) {
	if orgID == "" {
		return nil, ErrOrgRequired
	}
	f.Limit = ExportLimit
	f.Offset = 0

	events, _, err := s.events.Search(ctx, orgID, f)
	if err != nil {
		return nil, fmt.Errorf("search audit events for export: %w", err)
	}
	return events, nil
}

// SweepRetention deletes events older than each org-category's retention
// window. Returns the number of rows removed.
func (s *Service) SweepRetention(ctx context.Context) (int64, error) {
	orgs, err := s.events.DistinctOrgs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list orgs for retention sweep: %w", err)
	}

	now := time.Now().UTC()
	var removed int64
	for _, orgID := range orgs {
		settings, err := s.cache.Get(ctx, orgID)
		if err != nil {
			s.logger.Warn().Err(err).Str("org_id", orgID).Msg("retention sweep: settings unavailable, skipping org")
			continue
		}
		for _, cat := range Categories() {
			days := settings[cat].RetentionDays
			if days <= 0 {
				continue
			}
			cutoff := now.AddDate(0, 0, -days)
			n, err := s.events.DeleteOlderThan(ctx, orgID, cat, cutoff)
			if err != nil {
				return removed, fmt.Errorf("retention sweep %s/%s: %w", orgID, cat, err)
			}
			if n > 0 {
				s.logger.Info().
					Str("org_id", orgID).
					Str("category", string(cat)).
					Int64("removed", n).
					Time("cutoff", cutoff).
					Msg("retention sweep removed events")
			}
			removed += n
		}
	}
	return removed, nil
}
