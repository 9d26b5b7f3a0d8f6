// Package hardening gates startup configuration in production-like
// environments. A misconfigured deployment fails fast instead of
// serving traffic with weakened transport or missing secrets.
package hardening

import (
	"fmt"
	"strings"
)

// EnvRequirement names an environment secret that must be non-empty.
type EnvRequirement struct {
	Name  string
	Value string
}

// Options carries the raw environment values under inspection.
type Options struct {
	Service                string
	Environment            string
	StrictProdSecurity     string
	DatabaseRequireTLS     string
	RedisAddr              string
	RedisRequireTLS        string
	RedisTLSInsecure       string
	RedisAllowInsecureTLS  string
	CORSAllowedOrigins     string
	AuditSigningKey        string
	RequiredServiceSecrets []EnvRequirement
}

// ValidateProduction returns an error describing the first hardening
// violation. Non-production environments and STRICT_PROD_SECURITY=false
// skip every check.
func ValidateProduction(o Options) error {
	if !productionLike(o.Environment) || !boolEnv(o.StrictProdSecurity, true) {
		return nil
	}
	svc := strings.TrimSpace(o.Service)
	if svc == "" {
		svc = "service"
	}
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%s: strict production hardening %s", svc, fmt.Sprintf(format, args...))
	}

	if !boolEnv(o.DatabaseRequireTLS, false) {
		return fail("requires DATABASE_REQUIRE_TLS=true")
	}
	if strings.TrimSpace(o.RedisAddr) != "" {
		if !boolEnv(o.RedisRequireTLS, false) {
			return fail("requires REDIS_REQUIRE_TLS=true")
		}
		if boolEnv(o.RedisTLSInsecure, false) || boolEnv(o.RedisAllowInsecureTLS, false) {
			return fail("forbids REDIS_TLS_INSECURE/REDIS_ALLOW_INSECURE_TLS")
		}
	}
	if err := checkOrigins(o.CORSAllowedOrigins, fail); err != nil {
		return err
	}
	if strings.TrimSpace(o.AuditSigningKey) == "" {
		return fail("requires AUDIT_SIGNING_KEY")
	}
	for _, secret := range o.RequiredServiceSecrets {
		if strings.TrimSpace(secret.Name) == "" {
			continue
		}
		if strings.TrimSpace(secret.Value) == "" {
			return fail("requires %s", secret.Name)
		}
	}
	return nil
}

func checkOrigins(raw string, fail func(string, ...any) error) error {
	seen := 0
	for _, part := range strings.Split(raw, ",") {
		origin := strings.TrimSpace(part)
		if origin == "" {
			continue
		}
		seen++
		lower := strings.ToLower(origin)
		switch {
		case lower == "*":
			return fail("forbids CORS wildcard origin")
		case localOrigin(lower):
			return fail("forbids localhost CORS origin %q", origin)
		case !strings.HasPrefix(lower, "https://"):
			return fail("requires HTTPS CORS origin, got %q", origin)
		}
	}
	if seen == 0 {
		return fail("requires explicit CORS_ALLOWED_ORIGINS")
	}
	return nil
}

func localOrigin(lower string) bool {
	for _, prefix := range []string{"http://localhost", "https://localhost", "http://127.0.0.1", "https://127.0.0.1"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func boolEnv(raw string, def bool) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	return strings.EqualFold(raw, "true")
}

func productionLike(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "prod", "production", "staging", "stage":
		return true
	}
	return false
}
