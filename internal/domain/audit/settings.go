package audit

import (
	"strings"
	"time"
)

// CategorySettings is the effective policy for one category after merging an
// org's stored override onto the compiled-in defaults.
type CategorySettings struct {
	Enabled       bool     `json:"enabled"`
	RetentionDays int      `json:"retention_days"`
	RedactFields  []string `json:"redact_fields,omitempty"`
	CaptureDiffs  bool     `json:"capture_diffs,omitempty"`
}

// Settings holds the effective per-category policy for one org.
type Settings map[Category]CategorySettings

// DefaultSettings returns a fresh copy of the compiled-in defaults.
func DefaultSettings() Settings {
	return Settings{
		CategoryHTTPRequests: {
			Enabled:       true,
			RetentionDays: 30,
			RedactFields:  []string{"password", "token", "secret", "authorization", "apikey"},
		},
		CategoryDataChanges: {
			Enabled:       true,
			RetentionDays: 365,
			RedactFields:  []string{"password", "token", "secret", "ssn"},
			CaptureDiffs:  true,
		},
		CategoryAuthentication: {
			Enabled:       true,
			RetentionDays: 180,
			RedactFields:  []string{"password", "token", "secret"},
		},
		CategoryAdministration: {
			Enabled:       true,
			RetentionDays: 730,
		},
		CategorySecurity: {
			Enabled:       true,
			RetentionDays: 730,
		},
	}
}

// Clone returns a deep copy so callers can never mutate a cached value.
func (s Settings) Clone() Settings {
	out := make(Settings, len(s))
	for cat, cs := range s {
		if cs.RedactFields != nil {
			fields := make([]string, len(cs.RedactFields))
			copy(fields, cs.RedactFields)
			cs.RedactFields = fields
		}
		out[cat] = cs
	}
	return out
}

// Enabled reports whether a category should be written. A category with no
// settings (including system) is enabled unless explicitly switched off.
func (s Settings) Enabled(cat Category) bool {
	cs, ok := s[cat]
	if !ok {
		return true
	}
	return cs.Enabled
}

// RedactFields returns the category's redact list, lower-cased.
func (s Settings) RedactFields(cat Category) []string {
	cs, ok := s[cat]
	if !ok || len(cs.RedactFields) == 0 {
		return nil
	}
	out := make([]string, len(cs.RedactFields))
	for i, f := range cs.RedactFields {
		out[i] = strings.ToLower(f)
	}
	return out
}

// CaptureDiffs reports whether before/after diffs are attached for the
// category. Only data_changes carries the toggle; everything else captures.
func (s Settings) CaptureDiffs(cat Category) bool {
	if cat != CategoryDataChanges {
		return true
	}
	cs, ok := s[cat]
	if !ok {
		return true
	}
	return cs.CaptureDiffs
}

// CategoryConfig is the JSON config column of one stored settings row.
// Unknown stored keys are dropped at decode time and cannot leak into the
// effective settings.
type CategoryConfig struct {
	RetentionDays int      `json:"retention_days,omitempty"`
	RedactFields  []string `json:"redact_fields,omitempty"`
	CaptureDiffs  *bool    `json:"capture_diffs,omitempty"`
}

// SettingsRow is one persisted per-org, per-category override.
type SettingsRow struct {
	OrgID     string         `db:"org_id" json:"org_id"`
	Category  Category       `db:"category" json:"category"`
	Enabled   bool           `db:"enabled" json:"enabled"`
	Config    CategoryConfig `db:"config" json:"config"`
	UpdatedBy string         `db:"updated_by" json:"updated_by"`
	UpdatedAt time.Time      `db:"updated_at" json:"updated_at"`
}

// apply merges one stored row onto the effective settings. Row fields override
// matching defaults; unset config fields leave the default untouched.
func (s Settings) apply(row SettingsRow) {
	cs := s[row.Category]
	cs.Enabled = row.Enabled
	if row.Config.RetentionDays > 0 {
		cs.RetentionDays = row.Config.RetentionDays
	}
	if row.Config.RedactFields != nil {
		cs.RedactFields = row.Config.RedactFields
	}
	if row.Config.CaptureDiffs != nil {
		cs.CaptureDiffs = *row.Config.CaptureDiffs
	}
	s[row.Category] = cs
}

// CategoryUpdate is a caller-supplied partial update for one category.
type CategoryUpdate struct {
	Enabled       *bool    `json:"enabled,omitempty"`
	RetentionDays *int     `json:"retention_days,omitempty"`
	RedactFields  []string `json:"redact_fields,omitempty"`
	CaptureDiffs  *bool    `json:"capture_diffs,omitempty"`
}

// SettingsUpdate maps category keys to partial updates.
type SettingsUpdate map[Category]CategoryUpdate

// resolveRow merges the compiled-in defaults for the category with a partial
// update into a full row ready to upsert. Explicit enabled wins, else the
// default's enabled.
func resolveRow(orgID string, cat Category, u CategoryUpdate, updatedBy string) SettingsRow {
	d := DefaultSettings()[cat]

	enabled := d.Enabled
	if u.Enabled != nil {
		enabled = *u.Enabled
	}
	cfg := CategoryConfig{
		RetentionDays: d.RetentionDays,
		RedactFields:  d.RedactFields,
	}
	if u.RetentionDays != nil {
		cfg.RetentionDays = *u.RetentionDays
	}
	if u.RedactFields != nil {
		cfg.RedactFields = u.RedactFields
	}
	if u.CaptureDiffs != nil {
		cfg.CaptureDiffs = u.CaptureDiffs
	} else if cat == CategoryDataChanges {
		capture := d.CaptureDiffs
		cfg.CaptureDiffs = &capture
	}

	return SettingsRow{
		OrgID:     orgID,
		Category:  cat,
		Enabled:   enabled,
		Config:    cfg,
		UpdatedBy: updatedBy,
	}
}
