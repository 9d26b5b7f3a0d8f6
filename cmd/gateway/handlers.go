package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"skillswap/pkg/audit"
	"skillswap/pkg/httpx"
	"skillswap/pkg/models"
)

// checkRequest optionally overrides the extracted request context so
// other services can ask about traffic they terminate themselves.
type checkRequest struct {
	ClientID      string   `json:"client_id,omitempty"`
	UserID        string   `json:"user_id,omitempty"`
	Endpoint      string   `json:"endpoint,omitempty"`
	Method        string   `json:"method,omitempty"`
	IP            string   `json:"ip,omitempty"`
	UserAgent     string   `json:"user_agent,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	ContentLength int64    `json:"content_length,omitempty"`
}

func (c checkRequest) apply(rc *models.RequestContext) {
	if c.ClientID != "" {
		rc.ClientID = c.ClientID
	}
	if c.UserID != "" {
		rc.UserID = c.UserID
	}
	if c.Endpoint != "" {
		rc.Endpoint = c.Endpoint
	}
	if c.Method != "" {
		rc.Method = c.Method
	}
	if c.IP != "" {
		rc.IP = c.IP
	}
	if c.UserAgent != "" {
		rc.UserAgent = c.UserAgent
	}
	if len(c.Roles) > 0 {
		rc.Roles = c.Roles
	}
	if c.ContentLength > 0 {
		rc.ContentLength = c.ContentLength
	}
}

func (s *Server) handleCheck(w http.ResponseWriter, r *http.Request) {
	rc, ok := httpx.RequestContextFrom(r.Context())
	if !ok {
		rc = s.Extractor.FromRequest(r)
	}
	if r.ContentLength != 0 {
		body, ok := readRequestBody(w, r)
		if !ok {
			return
		}
		if len(body) > 0 {
			var override checkRequest
			if err := json.Unmarshal(body, &override); err != nil {
				httpx.Error(w, http.StatusBadRequest, "invalid json")
				return
			}
			override.apply(&rc)
		}
	}

	verdict := s.Guard.CheckAdmission(r.Context(), rc)
	for k, v := range verdict.Headers {
		w.Header().Set(k, v)
	}
	status := http.StatusOK
	if !verdict.Allowed {
		status = http.StatusTooManyRequests
		if verdict.Severity >= models.SeverityHigh {
			status = http.StatusForbidden
		}
	}
	httpx.WriteJSON(w, status, verdict)
}

func (s *Server) listRules(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.Rules.List())
}

func (s *Server) getRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := s.Rules.Get(chi.URLParam(r, "rule_id"))
	if !ok {
		httpx.Error(w, http.StatusNotFound, "rule not found")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, rule)
}

func (s *Server) upsertRule(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var rule models.Rule
	if err := json.Unmarshal(body, &rule); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := s.Rules.Register(rule); err != nil {
		if errors.Is(err, models.ErrRuleValidation) {
			httpx.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		httpx.Error(w, http.StatusInternalServerError, "rule registration failed")
		return
	}
	s.auditAdminChange(r, "rule_updated", fmt.Sprintf("rule %q registered", rule.ID), map[string]string{
		"rule_id": rule.ID,
		"limit":   strconv.Itoa(rule.Config.Limit),
	})
	httpx.WriteJSON(w, http.StatusOK, rule)
}

func (s *Server) deleteRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "rule_id")
	if _, ok := s.Rules.Get(ruleID); !ok {
		httpx.Error(w, http.StatusNotFound, "rule not found")
		return
	}
	s.Rules.Remove(ruleID)
	s.auditAdminChange(r, "rule_removed", fmt.Sprintf("rule %q removed", ruleID), map[string]string{"rule_id": ruleID})
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) clientStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.Guard.GetStatus(r.Context(), chi.URLParam(r, "client_id"))
	if err != nil {
		httpx.Error(w, http.StatusServiceUnavailable, "reputation store unavailable")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, status)
}

type listingRequest struct {
	DurationSec int64  `json:"duration_sec,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (s *Server) whitelistClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "client_id")
	req, ok := decodeListingRequest(w, r)
	if !ok {
		return
	}
	if err := s.Reputation.Whitelist(r.Context(), clientID, time.Duration(req.DurationSec)*time.Second); err != nil {
		httpx.Error(w, http.StatusServiceUnavailable, "reputation store unavailable")
		return
	}
	s.auditAdminChange(r, "client_whitelisted", fmt.Sprintf("client %s whitelisted", clientID), map[string]string{"client_id": clientID})
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "whitelisted"})
}

func (s *Server) unwhitelistClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "client_id")
	if err := s.Reputation.Unwhitelist(r.Context(), clientID); err != nil {
		httpx.Error(w, http.StatusServiceUnavailable, "reputation store unavailable")
		return
	}
	s.auditAdminChange(r, "client_unwhitelisted", fmt.Sprintf("client %s removed from whitelist", clientID), map[string]string{"client_id": clientID})
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func (s *Server) blacklistClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "client_id")
	req, ok := decodeListingRequest(w, r)
	if !ok {
		return
	}
	if err := s.Reputation.Blacklist(r.Context(), clientID, time.Duration(req.DurationSec)*time.Second, req.Reason); err != nil {
		httpx.Error(w, http.StatusServiceUnavailable, "reputation store unavailable")
		return
	}
	s.auditAdminChange(r, "client_blacklisted", fmt.Sprintf("client %s blacklisted", clientID), map[string]string{
		"client_id": clientID,
		"reason":    req.Reason,
	})
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "blacklisted"})
}

func (s *Server) unblacklistClient(w http.ResponseWriter, r *http.Request) {
	clientID := chi.URLParam(r, "client_id")
	if err := s.Reputation.Unblacklist(r.Context(), clientID); err != nil {
		httpx.Error(w, http.StatusServiceUnavailable, "reputation store unavailable")
		return
	}
	s.auditAdminChange(r, "client_unblacklisted", fmt.Sprintf("client %s removed from blacklist", clientID), map[string]string{"client_id": clientID})
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "removed"})
}

func decodeListingRequest(w http.ResponseWriter, r *http.Request) (listingRequest, bool) {
	var req listingRequest
	if r.ContentLength == 0 {
		return req, true
	}
	body, ok := readRequestBody(w, r)
	if !ok {
		return req, false
	}
	if len(body) == 0 {
		return req, true
	}
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return req, false
	}
	return req, true
}

func (s *Server) violationStats(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	stats, err := s.Violations.Stats(r.Context(), from, to)
	if err != nil {
		httpx.Error(w, http.StatusServiceUnavailable, "violation store unavailable")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

func (s *Server) queryAudit(w http.ResponseWriter, r *http.Request) {
	f, ok := parseAuditFilter(w, r)
	if !ok {
		return
	}
	events, err := s.Audit.Query(r.Context(), f)
	if err != nil {
		httpx.Error(w, http.StatusServiceUnavailable, "audit store unavailable")
		return
	}
	if events == nil {
		events = []models.AuditEvent{}
	}
	httpx.WriteJSON(w, http.StatusOK, events)
}

type securityEventRequest struct {
	Type        string            `json:"type"`
	Description string            `json:"description"`
	Severity    string            `json:"severity,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (s *Server) logSecurityEvent(w http.ResponseWriter, r *http.Request) {
	body, ok := readRequestBody(w, r)
	if !ok {
		return
	}
	var req securityEventRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		httpx.Error(w, http.StatusBadRequest, "type required")
		return
	}
	sev := models.SeverityInformation
	if req.Severity != "" {
		parsed, err := models.ParseSeverity(req.Severity)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, err.Error())
			return
		}
		sev = parsed
	}
	id, err := s.Guard.LogSecurityEvent(r.Context(), req.Type, req.Description, sev, req.Metadata)
	if err != nil {
		httpx.Error(w, http.StatusServiceUnavailable, "audit write failed")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) verifyAudit(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	start := time.Now()
	result, err := s.Guard.VerifyIntegrity(r.Context(), from, to)
	if err != nil {
		httpx.Error(w, http.StatusServiceUnavailable, "audit store unavailable")
		return
	}
	s.Metrics.ObserveVerifyLatency(time.Since(start))
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) exportAudit(w http.ResponseWriter, r *http.Request) {
	f, ok := parseAuditFilter(w, r)
	if !ok {
		return
	}
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		format = audit.FormatJSON
	}
	var contentType string
	switch format {
	case audit.FormatJSON:
		contentType = "application/json"
	case audit.FormatCSV:
		contentType = "text/csv"
	case audit.FormatXML:
		contentType = "application/xml"
	default:
		httpx.Error(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", format))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="audit-export.`+format+`"`)
	if err := s.Guard.Export(r.Context(), f, format, w); err != nil {
		// Headers are already out; all we can do is log and cut the stream.
		log.Printf("gateway: audit export failed: %v", err)
	}
}

func (s *Server) auditReport(w http.ResponseWriter, r *http.Request) {
	from, to, ok := parseWindow(w, r)
	if !ok {
		return
	}
	report, err := s.Audit.GenerateReport(r.Context(), from, to)
	if err != nil {
		httpx.Error(w, http.StatusServiceUnavailable, "audit store unavailable")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

func (s *Server) runMaintenanceNow(w http.ResponseWriter, r *http.Request) {
	if err := s.Loop.RunLimitingCycle(r.Context()); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "maintenance cycle failed")
		return
	}
	if r.URL.Query().Get("integrity") == "true" {
		if err := s.Loop.RunIntegrityCycle(r.Context()); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "integrity cycle failed")
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

// auditAdminChange records a configuration change made through the admin
// API, attributing it to the calling request.
func (s *Server) auditAdminChange(r *http.Request, eventType, description string, metadata map[string]string) {
	rc := s.Extractor.FromRequest(r)
	_, err := s.Audit.Log(r.Context(), models.AuditEvent{
		Type:        eventType,
		Description: description,
		Severity:    models.SeverityLow,
		Category:    models.CategoryConfigurationChange,
		Actor: models.Actor{
			UserID:    rc.ClientID,
			IP:        rc.IP,
			UserAgent: rc.UserAgent,
			RequestID: rc.RequestID,
		},
		Resource: models.Resource{Type: "admin", Action: r.Method, Result: "success"},
		Metadata: metadata,
	})
	if err != nil {
		log.Printf("gateway: admin audit write failed: %v", err)
	}
}

func parseWindow(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	from, err := parseTimeParam(r, "from")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid from timestamp")
		return time.Time{}, time.Time{}, false
	}
	to, err := parseTimeParam(r, "to")
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid to timestamp")
		return time.Time{}, time.Time{}, false
	}
	return from, to, true
}

func parseAuditFilter(w http.ResponseWriter, r *http.Request) (audit.Filter, bool) {
	from, to, ok := parseWindow(w, r)
	if !ok {
		return audit.Filter{}, false
	}
	q := r.URL.Query()
	f := audit.Filter{
		From:     from,
		To:       to,
		Category: models.Category(strings.ToUpper(strings.TrimSpace(q.Get("category")))),
		Type:     strings.TrimSpace(q.Get("type")),
		UserID:   strings.TrimSpace(q.Get("user_id")),
	}
	if raw := strings.TrimSpace(q.Get("severity")); raw != "" {
		sev, err := models.ParseSeverity(raw)
		if err != nil {
			httpx.Error(w, http.StatusBadRequest, err.Error())
			return audit.Filter{}, false
		}
		f.Severity = &sev
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			httpx.Error(w, http.StatusBadRequest, "invalid limit")
			return audit.Filter{}, false
		}
		f.Limit = limit
	}
	return f, true
}

func parseTimeParam(r *http.Request, name string) (time.Time, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}
