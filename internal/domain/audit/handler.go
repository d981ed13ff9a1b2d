package audit

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/audit/internal/platform/auth"
	"github.com/ehr/audit/pkg/pagination"
)

type Handler struct {
	svc    *Service
	logger zerolog.Logger
}

func NewHandler(svc *Service, logger zerolog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// RegisterRoutes mounts the audit API under the given (guarded) group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/orgs/:orgId/audit/events", h.ListEvents)
	g.GET("/orgs/:orgId/audit/settings", h.GetSettings)
	g.PUT("/orgs/:orgId/audit/settings", h.UpdateSettings)
}

// ListEvents handles GET /orgs/:orgId/audit/events. With format=csv the
// result set is streamed as a CSV attachment instead of JSON.
func (h *Handler) ListEvents(c echo.Context) error {
	orgID := c.Param("orgId")
	f := parseFilters(c)

	if c.QueryParam("format") == "csv" {
		// Query first; headers are only committed once there is data to send.
		events, err := h.svc.ExportEvents(c.Request().Context(), orgID, f)
		if err != nil {
			h.logger.Error().Err(err).Str("org_id", orgID).Msg("audit event export failed")
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to export audit events")
		}
		c.Response().Header().Set(echo.HeaderContentType, "text/csv")
		c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="audit-events.csv"`)
		c.Response().WriteHeader(http.StatusOK)
		return WriteCSV(c.Response(), events)
	}

	page, err := h.svc.FetchEvents(c.Request().Context(), orgID, f)
	if err != nil {
		h.logger.Error().Err(err).Str("org_id", orgID).Msg("audit event query failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to query audit events")
	}
	return c.JSON(http.StatusOK, page)
}

// GetSettings handles GET /orgs/:orgId/audit/settings.
func (h *Handler) GetSettings(c echo.Context) error {
	settings, err := h.svc.GetSettings(c.Request().Context(), c.Param("orgId"))
	if err != nil {
		h.logger.Error().Err(err).Str("org_id", c.Param("orgId")).Msg("audit settings read failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load audit settings")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"settings": settings})
}

// UpdateSettings handles PUT /orgs/:orgId/audit/settings. The body is either
// {"settings": {...}} or a raw category map.
func (h *Handler) UpdateSettings(c echo.Context) error {
	orgID := c.Param("orgId")

	updates, err := decodeSettingsBody(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "settings payload must be an object")
	}

	actor := ""
	if oc, ok := auth.OrgFromContext(c.Request().Context()); ok {
		actor = oc.UserID
	}

	settings, err := h.svc.UpdateSettings(c.Request().Context(), orgID, updates, actor)
	if err != nil {
		if errors.Is(err, ErrOrgRequired) || errors.Is(err, ErrNoSettings) || errors.Is(err, ErrUnknownCategory) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.logger.Error().Err(err).Str("org_id", orgID).Msg("audit settings update failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update audit settings")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"settings": settings})
}

func decodeSettingsBody(c echo.Context) (SettingsUpdate, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(c.Request().Body).Decode(&raw); err != nil {
		return nil, err
	}

	payload, ok := raw["settings"]
	if !ok {
		// Raw category map: re-encode the envelope we already parsed.
		buf, err := json.Marshal(raw)
		if err != nil {
			return nil, err
		}
		payload = buf
	}

	var updates SettingsUpdate
	if err := json.Unmarshal(payload, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}

func parseFilters(c echo.Context) Filters {
	pg := pagination.FromContext(c)
	f := Filters{
		Status:      c.QueryParam("status"),
		Action:      c.QueryParam("action"),
		Category:    c.QueryParam("category"),
		ActorUserID: c.QueryParam("actor_user_id"),
		TargetType:  c.QueryParam("target_type"),
		Search:      c.QueryParam("search"),
		Limit:       pg.Limit,
		Offset:      pg.Offset,
	}
	if f.ActorUserID == "" {
		f.ActorUserID = c.QueryParam("actorUserId")
	}
	if f.TargetType == "" {
		f.TargetType = c.QueryParam("targetType")
	}
	if t, ok := parseTime(c.QueryParam("from")); ok {
		f.From = &t
	}
	if t, ok := parseTime(c.QueryParam("to")); ok {
		f.To = &t
	}
	return f
}

// parseTime accepts RFC3339 timestamps or bare dates.
func parseTime(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, true
	}
	return time.Time{}, false
}
