package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Severity orders security events from routine to incident-grade.
type Severity int

const (
	SeverityInformation Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = map[Severity]string{
	SeverityInformation: "INFORMATION",
	SeverityLow:         "LOW",
	SeverityMedium:      "MEDIUM",
	SeverityHigh:        "HIGH",
	SeverityCritical:    "CRITICAL",
}

func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return "INFORMATION"
}

func ParseSeverity(raw string) (Severity, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	for sev, name := range severityNames {
		if name == normalized {
			return sev, nil
		}
	}
	return SeverityInformation, fmt.Errorf("unknown severity %q", raw)
}

type Category string

const (
	CategoryAuthentication      Category = "AUTHENTICATION"
	CategoryAuthorization       Category = "AUTHORIZATION"
	CategoryDataAccess          Category = "DATA_ACCESS"
	CategoryDataModification    Category = "DATA_MODIFICATION"
	CategoryConfigurationChange Category = "CONFIGURATION_CHANGE"
	CategorySystemEvent         Category = "SYSTEM_EVENT"
	CategorySecurityIncident    Category = "SECURITY_INCIDENT"
	CategoryComplianceEvent     Category = "COMPLIANCE_EVENT"
	CategoryPerformanceEvent    Category = "PERFORMANCE_EVENT"
	CategoryGeneral             Category = "GENERAL"
)

// RequestContext is the identity and shape of one inbound request, as
// extracted by the HTTP entry layer.
type RequestContext struct {
	ClientID      string            `json:"client_id"`
	UserID        string            `json:"user_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	RequestID     string            `json:"request_id,omitempty"`
	Roles         []string          `json:"roles,omitempty"`
	Endpoint      string            `json:"endpoint"`
	RawPath       string            `json:"raw_path,omitempty"`
	Method        string            `json:"method"`
	IP            string            `json:"ip,omitempty"`
	UserAgent     string            `json:"user_agent,omitempty"`
	ContentLength int64             `json:"content_length,omitempty"`
	APIKey        string            `json:"api_key,omitempty"`
	Timestamp     time.Time         `json:"timestamp,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type Algorithm string

const (
	AlgorithmSlidingWindow Algorithm = "sliding_window"
	AlgorithmTokenBucket   Algorithm = "token_bucket"
	AlgorithmFixedWindow   Algorithm = "fixed_window"
)

// Configuration holds the numeric knobs of one rule.
type Configuration struct {
	Limit              int           `json:"limit"`
	Window             time.Duration `json:"window"`
	Algorithm          Algorithm     `json:"algorithm"`
	BurstCapacity      int           `json:"burst_capacity,omitempty"`
	RefillRate         float64       `json:"refill_rate,omitempty"`
	PenaltyFactor      float64       `json:"penalty_factor,omitempty"`
	MaxPenaltyDuration time.Duration `json:"max_penalty_duration,omitempty"`
}

// TimeWindow restricts a rule to a daily interval and optional weekdays.
// Start and End use "HH:MM"; an End before Start wraps past midnight.
type TimeWindow struct {
	Start string         `json:"start"`
	End   string         `json:"end"`
	Days  []time.Weekday `json:"days,omitempty"`
}

// Conditions are conjunctive; an empty list matches anything for that
// category. Pattern fields support glob wildcards (* and ?), otherwise
// case-insensitive equality. Evaluator names a registered custom check
// that runs last and may veto the match.
type Conditions struct {
	ClientIDs         []string    `json:"client_ids,omitempty"`
	Roles             []string    `json:"roles,omitempty"`
	EndpointPatterns  []string    `json:"endpoint_patterns,omitempty"`
	Methods           []string    `json:"methods,omitempty"`
	IPPatterns        []string    `json:"ip_patterns,omitempty"`
	UserAgentPatterns []string    `json:"user_agent_patterns,omitempty"`
	TimeWindow        *TimeWindow `json:"time_window,omitempty"`
	MinContentLength  int64       `json:"min_content_length,omitempty"`
	MaxContentLength  int64       `json:"max_content_length,omitempty"`
	Evaluator         string      `json:"evaluator,omitempty"`
}

type Actions struct {
	Block      bool              `json:"block"`
	Log        bool              `json:"log"`
	Notify     bool              `json:"notify,omitempty"`
	StatusCode int               `json:"status_code,omitempty"`
	Message    string            `json:"message,omitempty"`
	Delay      time.Duration     `json:"delay,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
}

// Rule is an immutable admission rule. The registry replaces rules
// wholesale; nothing mutates a rule after it has been matched.
type Rule struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Enabled    bool          `json:"enabled"`
	Priority   int           `json:"priority"`
	ExpiresAt  time.Time     `json:"expires_at,omitempty"`
	Config     Configuration `json:"config"`
	Conditions Conditions    `json:"conditions"`
	Actions    Actions       `json:"actions"`
}

var ErrRuleValidation = errors.New("rule validation failed")

func (r Rule) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return fmt.Errorf("%w: id required", ErrRuleValidation)
	}
	if r.Config.Limit <= 0 {
		return fmt.Errorf("%w: limit must be positive", ErrRuleValidation)
	}
	if r.Config.Window <= 0 {
		return fmt.Errorf("%w: window must be positive", ErrRuleValidation)
	}
	switch r.Config.Algorithm {
	case AlgorithmSlidingWindow, AlgorithmFixedWindow:
	case AlgorithmTokenBucket:
		if r.Config.BurstCapacity <= 0 {
			return fmt.Errorf("%w: token bucket requires burst capacity", ErrRuleValidation)
		}
		if r.Config.RefillRate <= 0 {
			return fmt.Errorf("%w: token bucket requires refill rate", ErrRuleValidation)
		}
	default:
		return fmt.Errorf("%w: unknown algorithm %q", ErrRuleValidation, r.Config.Algorithm)
	}
	if r.Config.PenaltyFactor < 0 {
		return fmt.Errorf("%w: penalty factor must not be negative", ErrRuleValidation)
	}
	if tw := r.Conditions.TimeWindow; tw != nil {
		if _, err := ParseClock(tw.Start); err != nil {
			return fmt.Errorf("%w: time window start: %v", ErrRuleValidation, err)
		}
		if _, err := ParseClock(tw.End); err != nil {
			return fmt.Errorf("%w: time window end: %v", ErrRuleValidation, err)
		}
	}
	return nil
}

// ParseClock parses "HH:MM" into minutes since midnight.
func ParseClock(raw string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock value %q", raw)
	}
	var h, m int
	if _, err := fmt.Sscanf(parts[0]+" "+parts[1], "%d %d", &h, &m); err != nil {
		return 0, fmt.Errorf("invalid clock value %q", raw)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value %q out of range", raw)
	}
	return h*60 + m, nil
}

// Verdict is the outcome of one admission check.
type Verdict struct {
	Allowed      bool              `json:"allowed"`
	RuleID       string            `json:"rule_id,omitempty"`
	RuleName     string            `json:"rule_name,omitempty"`
	CurrentCount int64             `json:"current_count"`
	Limit        int               `json:"limit,omitempty"`
	Remaining    int64             `json:"remaining"`
	ResetAt      time.Time         `json:"reset_at,omitempty"`
	RetryAfter   time.Duration     `json:"retry_after,omitempty"`
	Severity     Severity          `json:"severity"`
	Message      string            `json:"message,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// ReputationStatus reports the stored standing of one client.
type ReputationStatus struct {
	ClientID           string      `json:"client_id"`
	Whitelisted        bool        `json:"whitelisted"`
	WhitelistExpiresAt time.Time   `json:"whitelist_expires_at,omitempty"`
	Blacklisted        bool        `json:"blacklisted"`
	BlacklistExpiresAt time.Time   `json:"blacklist_expires_at,omitempty"`
	BlacklistReason    string      `json:"blacklist_reason,omitempty"`
	PenaltyLevel       float64     `json:"penalty_level"`
	PenaltyResetAt     time.Time   `json:"penalty_reset_at,omitempty"`
	RecentViolations   []time.Time `json:"recent_violations,omitempty"`
}

// Violation is one denied request in the global violation log.
type Violation struct {
	ClientID  string    `json:"client_id"`
	RuleID    string    `json:"rule_id"`
	RuleName  string    `json:"rule_name,omitempty"`
	Endpoint  string    `json:"endpoint"`
	Method    string    `json:"method,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type ClientViolations struct {
	ClientID string `json:"client_id"`
	Count    int64  `json:"count"`
}

type EndpointViolations struct {
	Endpoint string `json:"endpoint"`
	Count    int64  `json:"count"`
}

type ViolationStats struct {
	TotalViolations int64                `json:"total_violations"`
	TopClients      []ClientViolations   `json:"top_clients"`
	TopEndpoints    []EndpointViolations `json:"top_endpoints"`
	ByRule          map[string]int64     `json:"by_rule"`
}

// Actor identifies who triggered an audit event.
type Actor struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Resource references what an audit event acted on.
type Resource struct {
	Type   string `json:"type,omitempty"`
	ID     string `json:"id,omitempty"`
	Action string `json:"action,omitempty"`
	Result string `json:"result,omitempty"`
}

// AuditEvent is one record in the tamper-evident chain. The integrity
// fields are owned by the audit log; nothing mutates them after insert.
type AuditEvent struct {
	ID                string            `json:"id"`
	Type              string            `json:"type"`
	Description       string            `json:"description"`
	Severity          Severity          `json:"severity"`
	Category          Category          `json:"category"`
	Actor             Actor             `json:"actor"`
	Resource          Resource          `json:"resource"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	RiskScore         int               `json:"risk_score"`
	Tags              []string          `json:"tags,omitempty"`
	ComplianceFlags   []string          `json:"compliance_flags,omitempty"`
	RetentionDays     int               `json:"retention_days"`
	Timestamp         time.Time         `json:"timestamp"`
	PreviousEventHash string            `json:"previous_event_hash"`
	EventHash         string            `json:"event_hash"`
	Signature         string            `json:"signature"`
}
