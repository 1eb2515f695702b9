package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/aibot/internal/platform/auth"
)

// AccessEntry records who touched patient data through the API.
type AccessEntry struct {
	Subject    string
	Action     string // analyze, export, read, list
	AnalysisID string
	Path       string
	Method     string
	IPAddress  string
	UserAgent  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// AnalysisIDKey is the echo context key a handler sets to the analysis it
// produced, for requests whose path carries no id.
const AnalysisIDKey = "analysis_id"

// AccessRecorder persists access entries somewhere other than the log.
type AccessRecorder interface {
	RecordAccess(entry AccessEntry) error
}

// AccessRecorderFunc is a function adapter for AccessRecorder.
type AccessRecorderFunc func(entry AccessEntry) error

func (f AccessRecorderFunc) RecordAccess(entry AccessEntry) error {
	return f(entry)
}

// Audit logs one "access_audit" event per request that reaches patient data
// and hands it to recorder when one is given.
func Audit(logger zerolog.Logger, recorder AccessRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !isAuditablePath(req.URL.Path) {
				return next(c)
			}

			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			analysisID := c.Param("id")
			if analysisID == "" {
				analysisID, _ = c.Get(AnalysisIDKey).(string)
			}
			entry := AccessEntry{
				Subject:    auth.SubjectFromContext(req.Context()),
				Action:     accessAction(req.Method, req.URL.Path),
				AnalysisID: analysisID,
				Path:       req.URL.Path,
				Method:     req.Method,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				RequestID:  GetRequestID(c),
				StatusCode: status,
				Timestamp:  time.Now().UTC(),
			}

			if recorder != nil {
				if recErr := recorder.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record access entry")
				}
			}

			logger.Info().
				Str("type", "access_audit").
				Str("request_id", entry.RequestID).
				Str("subject", entry.Subject).
				Str("action", entry.Action).
				Str("analysis_id", entry.AnalysisID).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("patient data access")

			return err
		}
	}
}

func isAuditablePath(path string) bool {
	return strings.HasPrefix(path, "/api/v1/") || strings.HasPrefix(path, "/ai_bot/")
}

func accessAction(method, path string) string {
	switch {
	case strings.HasSuffix(strings.TrimSuffix(path, "/"), "/pdf"):
		return "export"
	case method == http.MethodPost:
		return "analyze"
	case strings.HasPrefix(path, "/api/v1/analyses/"):
		return "read"
	default:
		return "list"
	}
}
