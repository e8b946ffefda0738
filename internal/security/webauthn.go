package security

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/router-for-me/SchoolAuth/internal/config"
)

// NewWebAuthn builds the relying party from configuration.
// When no RP ID is configured it is derived from the first origin's host.
func NewWebAuthn(cfg config.WebAuthnConfig) (*webauthn.WebAuthn, error) {
	origins := make([]string, 0, len(cfg.Origins))
	for _, origin := range cfg.Origins {
		if trimmed := strings.TrimRight(strings.TrimSpace(origin), "/"); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return nil, fmt.Errorf("webauthn: no origins configured")
	}

	rpID := strings.TrimSpace(cfg.RPID)
	if rpID == "" {
		rpID = deriveRPIDFromOrigins(origins)
	}
	if rpID == "" {
		return nil, fmt.Errorf("webauthn: cannot derive rp id from origins %v", origins)
	}

	timeout := webauthn.TimeoutConfig{
		Enforce:    true,
		Timeout:    cfg.ChallengeTTL,
		TimeoutUVD: cfg.ChallengeTTL,
	}
	return webauthn.New(&webauthn.Config{
		RPID:          rpID,
		RPDisplayName: cfg.RPName,
		RPOrigins:     origins,
		Timeouts: webauthn.TimeoutsConfig{
			Login:        timeout,
			Registration: timeout,
		},
	})
}

// deriveRPIDFromOrigins extracts an RP ID from the configured origins.
func deriveRPIDFromOrigins(origins []string) string {
	for _, origin := range origins {
		if host := originHost(origin); host != "" {
			return host
		}
	}
	return ""
}

// originHost parses an origin string and returns its hostname.
func originHost(origin string) string {
	parsed, err := url.Parse(strings.TrimSpace(origin))
	if err != nil || parsed.Host == "" {
		return ""
	}
	return parsed.Hostname()
}
