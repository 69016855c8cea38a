package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"trsrevos/api/internal/auth"
	"trsrevos/api/internal/hubspot"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
	jwtSecret  []byte
}

func NewHTTPServer(service *Service, corsOrigin, jwtSecret string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin, jwtSecret: []byte(jwtSecret)}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
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
		checks := map[string]any{
			"database": map[string]any{"status": "ok"},
		}

		if err := s.service.Ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{
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

	if r.Method == http.MethodPost {
		switch r.URL.Path {
		case "/api/sync/hubspot":
			s.handleHubSpotSync(w, r)
			return
		case "/api/hooks/hubspot":
			s.handleHubSpotWebhook(w, r)
			return
		case "/api/sync/quickbooks":
			s.handleQuickBooksSync(w, r)
			return
		case "/api/sync/gmail":
			s.handleGmailSync(w, r)
			return
		case "/api/notify-agent":
			s.handleNotifyAgent(w, r)
			return
		case "/api/morning-brief":
			s.handleMorningBrief(w, r)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleHubSpotSync(w http.ResponseWriter, r *http.Request) {
	direction := r.URL.Query().Get("direction")
	stats, err := s.service.SyncHubSpot(r.Context(), direction)
	if err != nil {
		status, _, message, _ := mapError(err)
		if status >= http.StatusInternalServerError {
			s.service.RecordSyncFailure(r.Context(), err)
		}
		writeJSON(w, status, map[string]any{"success": false, "error": message})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Bi-directional sync completed successfully",
		"stats":   stats,
	})
}

func (s *HTTPServer) handleHubSpotWebhook(w http.ResponseWriter, r *http.Request) {
	var events []hubspot.Event
	if err := decodeBody(r, &events); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}

	processed, err := s.service.ProcessWebhookEvents(r.Context(), events)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "processed": processed})
}

func (s *HTTPServer) handleQuickBooksSync(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OrganizationID string `json:"organizationId"`
		MaxInvoices    int    `json:"maxInvoices"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	stats, err := s.service.SyncQuickBooks(r.Context(), body.OrganizationID, body.MaxInvoices)
	if err != nil {
		status, _, message, _ := mapError(err)
		writeJSON(w, status, map[string]any{"ok": false, "error": message})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"processed": stats.Processed,
		"invoices":  stats.Invoices,
	})
}

func (s *HTTPServer) handleGmailSync(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID      string `json:"userId"`
		MaxMessages int    `json:"maxMessages"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	stats, err := s.service.SyncGmail(r.Context(), body.UserID, body.MaxMessages)
	if err != nil {
		status, _, message, _ := mapError(err)
		writeJSON(w, status, map[string]any{"ok": false, "error": message})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"processed": stats.Processed,
		"inserted":  stats.Inserted,
	})
}

func (s *HTTPServer) handleNotifyAgent(w http.ResponseWriter, r *http.Request) {
	claims, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	var input NotifyAgentInput
	if err := decodeBody(r, &input); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	result, err := s.service.NotifyAgent(r.Context(), claims.UserID, input)
	if err != nil {
		status, _, message, _ := mapError(err)
		writeJSON(w, status, map[string]any{"ok": false, "error": message})
		return
	}

	status := http.StatusOK
	if result.DeliveryStatus == "failed" {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, result)
}

func (s *HTTPServer) handleMorningBrief(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authenticate(w, r); !ok {
		return
	}

	var body struct {
		UserID         string `json:"user_id"`
		OrganizationID string `json:"organization_id"`
		TimeHorizon    string `json:"time_horizon"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"ok": false, "error": err.Error()})
		return
	}

	result, err := s.service.MorningBrief(r.Context(), body.UserID, body.OrganizationID, body.TimeHorizon)
	if err != nil {
		status, _, message, _ := mapError(err)
		writeJSON(w, status, map[string]any{"ok": false, "error": message})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "data": result})
}

func (s *HTTPServer) authenticate(w http.ResponseWriter, r *http.Request) (auth.Claims, bool) {
	token := bearerToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "missing-token"})
		return auth.Claims{}, false
	}
	claims, err := auth.ParseToken(s.jwtSecret, token)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
		return auth.Claims{}, false
	}
	return claims, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
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
		// An empty body means "use defaults" on every sync route.
		if errors.Is(err, io.EOF) || errors.Is(err, http.ErrBodyReadAfterClose) {
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

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
