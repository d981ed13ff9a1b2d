package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/audit/internal/platform/auth"
)

const recorderKey = "audit_recorder"

// RequestContext carries the actor/tenant/provenance fields derived from one
// HTTP request.
type RequestContext struct {
	OrgID     string
	UserID    string
	SessionID string
	RequestID string
	IPAddress string
	UserAgent string
}

// Recorder is the ad-hoc logging handle the middleware attaches to each
// request for downstream handlers.
type Recorder struct {
	svc    *Service
	reqCtx RequestContext
}

// Log forwards to the writer, filling any context field the caller left empty
// from the request.
func (r *Recorder) Log(ctx context.Context, e Entry) Outcome {
	if e.OrgID == "" {
		e.OrgID = r.reqCtx.OrgID
	}
	if e.ActorUserID == "" {
		e.ActorUserID = r.reqCtx.UserID
	}
	if e.SessionID == "" {
		e.SessionID = r.reqCtx.SessionID
	}
	if e.RequestID == "" {
		e.RequestID = r.reqCtx.RequestID
	}
	if e.IPAddress == "" {
		e.IPAddress = r.reqCtx.IPAddress
	}
	if e.UserAgent == "" {
		e.UserAgent = r.reqCtx.UserAgent
	}
	return r.svc.Log(ctx, e)
}

// ComputeChanges exposes the diff engine to handlers needing diff semantics
// outside the write path.
func (r *Recorder) ComputeChanges(before, after map[string]interface{}) []ChangeRecord {
	return ComputeChanges(before, after)
}

// Settings returns the effective audit settings for the request's org.
func (r *Recorder) Settings(ctx context.Context) (Settings, error) {
	return r.svc.cache.Get(ctx, r.reqCtx.OrgID)
}

// RecorderFromContext retrieves the request's Recorder, or nil when the audit
// middleware did not run.
func RecorderFromContext(c echo.Context) *Recorder {
	rec, _ := c.Get(recorderKey).(*Recorder)
	return rec
}

// Middleware returns Echo middleware that captures request context, attaches
// a Recorder, and writes one HTTP.REQUEST event when the response completes.
//
// The write is fire-and-forget with the bypass flag set: request logging
// always records regardless of the http_requests toggle, and a slow or failed
// write never touches the response. Request bodies are captured only for
// state-mutating methods.
func Middleware(svc *Service, logger zerolog.Logger, skipPrefixes ...string) echo.MiddlewareFunc {
	if len(skipPrefixes) == 0 {
		skipPrefixes = []string{"/health"}
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			path := req.URL.Path
			for _, prefix := range skipPrefixes {
				if strings.HasPrefix(path, prefix) {
					return next(c)
				}
			}

			start := time.Now()
			rc := RequestContext{
				OrgID:     req.Header.Get(auth.HeaderOrgID),
				UserID:    req.Header.Get(auth.HeaderUserID),
				SessionID: req.Header.Get(auth.HeaderSessionID),
				RequestID: req.Header.Get(auth.HeaderRequestID),
				IPAddress: c.RealIP(),
				UserAgent: req.UserAgent(),
			}
			if rc.RequestID == "" {
				if rid, ok := c.Get("request_id").(string); ok {
					rc.RequestID = rid
				}
			}

			requestBody := captureBody(req)
			c.Set(recorderKey, &Recorder{svc: svc, reqCtx: rc})

			err := next(c)

			status := c.Response().Status
			errMsg := ""
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				} else {
					status = http.StatusInternalServerError
				}
				errMsg = err.Error()
			}

			entry := Entry{
				OrgID:        rc.OrgID,
				ActorUserID:  rc.UserID,
				Action:       ActionHTTPRequest,
				TargetType:   "HttpRequest",
				TargetID:     rc.RequestID,
				TargetName:   req.Method + " " + path,
				Category:     CategoryHTTPRequests,
				Status:       StatusSuccess,
				ErrorMessage: errMsg,
				Metadata: map[string]interface{}{
					"method":      req.Method,
					"path":        path,
					"status_code": status,
					"duration_ms": time.Since(start).Milliseconds(),
				},
				IPAddress: rc.IPAddress,
				UserAgent: rc.UserAgent,
				SessionID: rc.SessionID,
				RequestID: rc.RequestID,
				Bypass:    true,
			}
			if status >= 400 {
				entry.Status = StatusFailure
			}
			if requestBody != nil {
				entry.Metadata["requestBody"] = requestBody
			}

			// Fire-and-forget: the writer swallows its own failures.
			go svc.Log(context.WithoutCancel(req.Context()), entry)

			return err
		}
	}
}

// captureBody reads and restores the request body for state-mutating JSON
// requests. Anything unparseable is ignored.
func captureBody(req *http.Request) map[string]interface{} {
	switch req.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return nil
	}
	if req.Body == nil {
		return nil
	}
	if !strings.Contains(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		return nil
	}

	body, err := io.ReadAll(req.Body)
	req.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil || len(body) == 0 {
		return nil
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil
	}
	return payload
}
