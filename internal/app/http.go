package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"deskbridge/internal/auth"
	"deskbridge/internal/jobs"
	"deskbridge/internal/mapping"
	"deskbridge/internal/rbac"
	"deskbridge/internal/settings"
	"deskbridge/internal/store"
	"deskbridge/internal/tracker"
)

const syncTokenHeader = "X-Deskbridge-Sync-Token"

type jobStatusSource interface {
	Status() []jobs.JobStatus
}

type HTTPServer struct {
	service    *Service
	corsOrigin string
	scheduler  jobStatusSource
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

// WithScheduler exposes the scheduler's job status to administrators.
func (s *HTTPServer) WithScheduler(scheduler jobStatusSource) *HTTPServer {
	s.scheduler = scheduler
	return s
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

// forbid writes a 403 Forbidden response and logs the denial
func (s *HTTPServer) forbid(w http.ResponseWriter, r *http.Request, session Session, action rbac.Action) {
	s.service.logger.WithFields(logrus.Fields{
		"request_id": requestID(r.Context()),
		"user_id":    session.UserID,
		"role":       session.Role,
		"action":     action,
	}).Warn("Permission denied")
	writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{}
		for name, err := range s.service.Checks(ctx) {
			if err == nil {
				checks[name] = map[string]any{"status": "ok"}
				continue
			}
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{
				"status": "error",
				"error":  err.Error(),
			}
		}
		writeJSON(w, statusCode, map[string]any{
			"ok":     status == "ready",
			"status": status,
			"checks": checks,
		})
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/embed/issues" {
		s.handleEmbedIssues(w, r)
		return
	}

	parts := splitPath(r.URL.Path)

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "internal" {
		if !s.validSyncToken(r) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
			return
		}
		s.handleInternal(w, r, parts[2:])
		return
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "admin" {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		if !s.service.Can(session.Role, rbac.ActionManagePlugins) {
			s.forbid(w, r, session, rbac.ActionManagePlugins)
			return
		}
		s.handleAdmin(w, r, parts[2:])
		return
	}

	if len(parts) == 4 && parts[0] == "api" && parts[1] == "users" && r.Method == http.MethodGet {
		session, ok := s.requireSession(w, r)
		if !ok {
			return
		}
		userID, err := strconv.Atoi(parts[2])
		if err != nil || userID <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "user id must be a positive integer", nil)
			return
		}
		action := rbac.ActionViewIssues
		if session.UserID != userID {
			action = rbac.ActionViewOthers
		}
		if !s.service.Can(session.Role, action) {
			s.forbid(w, r, session, action)
			return
		}
		s.handleUser(w, r, userID, parts[3])
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleEmbedIssues(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	project := strings.TrimSpace(query.Get("project"))

	// The viewer only changes styling, so a bad token just means anonymous.
	viewerID := 0
	if token := bearerToken(r); token != "" {
		if session, err := s.service.SessionFromToken(token); err == nil {
			viewerID = session.UserID
		}
	}

	payload, err := s.service.RenderIssueTable(r.Context(), project, query.Get("status"), viewerID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeHTML(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleInternal(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) == 1 && parts[0] == "submissions" && r.Method == http.MethodPost {
		var body struct {
			Submitter   Submitter      `json:"submitter"`
			Fields      mapping.Fields `json:"fields"`
			FieldsByKey map[string]struct {
				Value any `json:"value"`
			} `json:"fieldsByKey"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		fields := body.Fields
		if fields == nil {
			fields = mapping.Fields{}
		}
		for key, field := range body.FieldsByKey {
			fields[key] = field.Value
		}
		result, err := s.service.LogIssue(r.Context(), body.Submitter, fields)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
		return
	}

	if len(parts) == 2 && parts[0] == "accounts" {
		id, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil || id <= 0 {
			writeError(w, http.StatusBadRequest, "INVALID_ID", "account id must be a positive integer", nil)
			return
		}
		switch r.Method {
		case http.MethodPut:
			var body struct {
				Login       string `json:"login"`
				DisplayName string `json:"displayName"`
				Email       string `json:"email"`
			}
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			account := store.Account{ID: id, Login: body.Login, DisplayName: body.DisplayName, Email: body.Email}
			if err := s.service.SyncAccount(r.Context(), account); err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "OK"})
		case http.MethodDelete:
			removed, err := s.service.RemoveAccount(r.Context(), id)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"status": "OK", "removed": removed})
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleAdmin(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch {
	case parts[0] == "settings" && r.Method == http.MethodGet:
		snapshot, err := s.service.Settings(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)

	case parts[0] == "settings" && r.Method == http.MethodPost:
		var body settings.Update
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateSettings(r.Context(), body); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "OK"})

	case parts[0] == "secrets" && r.Method == http.MethodPost:
		var body struct {
			Key string `json:"key"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if err := s.service.UpdateSecrets(r.Context(), body.Key); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "OK"})

	case parts[0] == "cache" && r.Method == http.MethodGet:
		entries, err := s.service.IssueCache(r.Context())
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		items := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			items = append(items, map[string]any{
				"project":   entry.Project,
				"status":    entry.Status,
				"bytes":     len(entry.Payload),
				"updatedAt": entry.UpdatedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case parts[0] == "jobs" && r.Method == http.MethodGet:
		if s.scheduler == nil {
			writeJSON(w, http.StatusOK, map[string]any{"enabled": false, "jobs": []jobs.JobStatus{}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"enabled": true, "jobs": s.scheduler.Status()})

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleUser(w http.ResponseWriter, r *http.Request, userID int, resource string) {
	switch resource {
	case "support-requests":
		payload, err := s.service.SupportRequests(r.Context(), userID)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeHTML(w, http.StatusOK, payload)
	case "history":
		entries, err := s.service.History(r.Context(), int64(userID))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		items := make([]map[string]any, 0, len(entries))
		for _, entry := range entries {
			items = append(items, map[string]any{
				"id":        entry.ID,
				"kind":      entry.Kind,
				"detail":    entry.Detail,
				"createdAt": entry.CreatedAt.UTC().Format(time.RFC3339),
			})
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) validSyncToken(r *http.Request) bool {
	token := strings.TrimSpace(r.Header.Get(syncTokenHeader))
	return token != "" && token == s.service.SyncToken()
}

func (s *HTTPServer) requireSession(w http.ResponseWriter, r *http.Request) (Session, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	session, err := s.service.SessionFromToken(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return Session{}, false
	}
	return session, true
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.service.logger.WithError(err).WithField("request_id", requestID(r.Context())).Error("Request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, id)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", id)

		next.ServeHTTP(writer, r)

		s.service.logger.WithFields(logrus.Fields{
			"request_id":  id,
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      writer.status,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, "+syncTokenHeader)
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeHTML(w http.ResponseWriter, status int, payload string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(payload))
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	var validation *settings.ValidationError
	if errors.As(err, &validation) {
		var fieldDetails any
		if validation.Field != "" {
			fieldDetails = map[string]any{"field": validation.Field}
		}
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", validation.Message, fieldDetails
	}
	var configErr *mapping.ConfigError
	if errors.As(err, &configErr) {
		return http.StatusUnprocessableEntity, "CONFIG_ERROR", configErr.Error(), map[string]any{"kind": configErr.Kind.String()}
	}
	switch {
	case errors.Is(err, settings.ErrNotConfigured):
		return http.StatusServiceUnavailable, "NOT_CONFIGURED", "Tracker connection is not configured", nil
	case errors.Is(err, tracker.ErrNotFound), errors.Is(err, sql.ErrNoRows):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, tracker.ErrExternal):
		return http.StatusBadGateway, "TRACKER_UNAVAILABLE", "Tracker request failed", nil
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
