package httpx

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"skillswap/pkg/models"
)

type ctxKey int

const requestContextKey ctxKey = 0

// Extractor builds the admission RequestContext from an inbound request.
// X-Forwarded-For is honored only when the direct peer is inside one of
// the trusted proxy ranges; otherwise the socket address wins.
type Extractor struct {
	TrustedProxies []*net.IPNet
	Now            func() time.Time
}

func NewExtractor(trustedCIDRs string) (*Extractor, error) {
	e := &Extractor{Now: time.Now}
	for _, part := range strings.Split(trustedCIDRs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		_, ipnet, err := net.ParseCIDR(part)
		if err != nil {
			return nil, err
		}
		e.TrustedProxies = append(e.TrustedProxies, ipnet)
	}
	return e, nil
}

// FromRequest extracts the request context. Client identity resolution
// order: X-Client-ID header, API key, source IP.
func (e *Extractor) FromRequest(r *http.Request) models.RequestContext {
	ip := e.clientIP(r)
	apiKey := strings.TrimSpace(r.Header.Get("X-API-Key"))
	clientID := strings.TrimSpace(r.Header.Get("X-Client-ID"))
	if clientID == "" {
		clientID = apiKey
	}
	if clientID == "" {
		clientID = ip
	}
	requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if requestID == "" {
		requestID = uuid.NewString()
	}
	var roles []string
	for _, role := range strings.Split(r.Header.Get("X-Roles"), ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}
	return models.RequestContext{
		ClientID:      clientID,
		UserID:        strings.TrimSpace(r.Header.Get("X-User-ID")),
		SessionID:     strings.TrimSpace(r.Header.Get("X-Session-ID")),
		RequestID:     requestID,
		Roles:         roles,
		Endpoint:      r.Method + " " + NormalizePath(r.URL.Path),
		RawPath:       r.URL.Path,
		Method:        r.Method,
		IP:            ip,
		UserAgent:     r.UserAgent(),
		ContentLength: r.ContentLength,
		APIKey:        apiKey,
		Timestamp:     e.now(),
	}
}

// Middleware stores the extracted context on the request for handlers
// further down the chain.
func (e *Extractor) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := e.FromRequest(r)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestContextKey, rc)))
	})
}

func RequestContextFrom(ctx context.Context) (models.RequestContext, bool) {
	rc, ok := ctx.Value(requestContextKey).(models.RequestContext)
	return rc, ok
}

func (e *Extractor) clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	peer := net.ParseIP(host)
	if peer == nil || !e.trusted(peer) {
		return host
	}
	forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For"))
	if forwarded == "" {
		return host
	}
	first := strings.TrimSpace(strings.Split(forwarded, ",")[0])
	if net.ParseIP(first) == nil {
		return host
	}
	return first
}

func (e *Extractor) trusted(ip net.IP) bool {
	for _, ipnet := range e.TrustedProxies {
		if ipnet.Contains(ip) {
			return true
		}
	}
	return false
}

func (e *Extractor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// NormalizePath collapses identifier segments so rules match endpoint
// shapes, not individual resources: /api/users/42 and /api/users/7 both
// normalize to /api/users/{id}.
func NormalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if isIdentifierSegment(seg) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func isIdentifierSegment(seg string) bool {
	if seg == "" {
		return false
	}
	if _, err := uuid.Parse(seg); err == nil {
		return true
	}
	digits := true
	for _, r := range seg {
		if r < '0' || r > '9' {
			digits = false
			break
		}
	}
	if digits {
		return true
	}
	if len(seg) >= 16 {
		hex := true
		for _, r := range seg {
			if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'f' || r >= 'A' && r <= 'F') {
				hex = false
				break
			}
		}
		return hex
	}
	return false
}
