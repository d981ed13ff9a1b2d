package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Violation describes a rejected cross-tenant access attempt.
type Violation struct {
	OrgID          string
	UserID         string
	RequestedOrgID string
	Path           string
	Method         string
	IPAddress      string
	UserAgent      string
	SessionID      string
	RequestID      string
}

// ViolationRecorder persists security-violation audit records. The guard never
// lets a recording failure alter the HTTP response; implementations are
// expected to swallow their own errors the same way.
type ViolationRecorder interface {
	RecordViolation(ctx context.Context, v Violation)
}

// ViolationRecorderFunc is a function adapter for ViolationRecorder.
type ViolationRecorderFunc func(ctx context.Context, v Violation)

func (f ViolationRecorderFunc) RecordViolation(ctx context.Context, v Violation) {
	f(ctx, v)
}

// RequireOrgContext returns Echo middleware enforcing tenant isolation.
//
// The caller's org and user identity must both be present (401 otherwise).
// When the request names an organization explicitly, via the :orgId path
// parameter or an org_id field in a JSON body, it must match the authenticated
// claim; a mismatch yields 403 and a best-effort security-violation record.
// On success the normalized OrgContext is attached to the request context.
func RequireOrgContext(logger zerolog.Logger, signingKey []byte, recorders ...ViolationRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			oc := ParseOrgContext(req, signingKey)

			if oc.OrgID == "" || oc.UserID == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{
					"error": "Missing authentication context",
				})
			}

			requested := requestedOrgID(c)
			if requested != "" && requested != oc.OrgID {
				v := Violation{
					OrgID:          oc.OrgID,
					UserID:         oc.UserID,
					RequestedOrgID: requested,
					Path:           req.URL.Path,
					Method:         req.Method,
					IPAddress:      c.RealIP(),
					UserAgent:      req.UserAgent(),
					SessionID:      req.Header.Get(HeaderSessionID),
					RequestID:      req.Header.Get(HeaderRequestID),
				}

				logger.Warn().
					Str("org_id", v.OrgID).
					Str("user_id", v.UserID).
					Str("requested_org_id", v.RequestedOrgID).
					Str("path", v.Path).
					Msg("org isolation violation")

				// The 403 is already decided; recording must not block it.
				if len(recorders) > 0 && recorders[0] != nil {
					go recorders[0].RecordViolation(context.WithoutCancel(req.Context()), v)
				}

				return c.JSON(http.StatusForbidden, map[string]string{
					"error": "Access denied",
					"code":  "ORG_ISOLATION_VIOLATION",
				})
			}

			ctx := WithOrgContext(req.Context(), oc)
			c.SetRequest(req.WithContext(ctx))
			c.Set("org_id", oc.OrgID)
			c.Set("user_id", oc.UserID)

			return next(c)
		}
	}
}

// requestedOrgID finds an explicitly named organization in the path parameter
// or, for JSON bodies on mutating methods, an org_id/orgId field. The body is
// restored so downstream handlers can still read it.
func requestedOrgID(c echo.Context) string {
	if id := c.Param("orgId"); id != "" {
		return id
	}

	req := c.Request()
	switch req.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return ""
	}
	if !strings.Contains(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return ""
	}
	if req.Body == nil {
		return ""
	}

	body, err := io.ReadAll(req.Body)
	req.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil || len(body) == 0 {
		return ""
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	if id, ok := payload["org_id"].(string); ok && id != "" {
		return id
	}
	if id, ok := payload["orgId"].(string); ok && id != "" {
		return id
	}
	return ""
}
