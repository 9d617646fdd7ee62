package domain

import (
	"fmt"
	"strings"
	"time"
)

// Settings is the singleton tunable record read by the checkpoint and
// issuance logic and written only through the admin surface.
type Settings struct {
	KeyExpirationHours int
	PlacementIDs       [CheckpointCount]int64
	AdURLTemplate      string
	ReferrerAllowList  []string
	WebhookURL         string
	WebhookInterval    time.Duration
	WebhookEnabled     bool
	SystemMessage      string
	MaintenanceMode    bool
	FingerprintPolicy  FingerprintPolicy
	AllowExtension     bool
	RateLimitPerHour   int
	UpdatedAt          time.Time
}

// DefaultSettings mirrors the values seeded when no settings row exists yet.
func DefaultSettings() Settings {
	return Settings{
		KeyExpirationHours: 24,
		PlacementIDs:       [CheckpointCount]int64{572754, 572754, 572754},
		AdURLTemplate:      "https://link-to.net/%d/%d/dynamic?r=%s",
		ReferrerAllowList:  []string{"linkvertise.com", "link-to.net"},
		WebhookInterval:    time.Hour,
		SystemMessage:      "Complete all checkpoints to get your key!",
		FingerprintPolicy:  FingerprintInvalidate,
		RateLimitPerHour:   100,
	}
}

// KeyTTL converts the configured expiration hours into a duration.
func (s Settings) KeyTTL() time.Duration {
	return time.Duration(s.KeyExpirationHours) * time.Hour
}

// PlacementID returns the ad placement for a checkpoint stage (1-based).
func (s Settings) PlacementID(stage Stage) int64 {
	if stage < 1 || int(stage) > CheckpointCount {
		return 0
	}
	return s.PlacementIDs[stage-1]
}

// ReferrerAllowed performs the best-effort return-evidence check against the
// allow-list. Spoofable via forged headers; a deterrent, not a security
// boundary.
func (s Settings) ReferrerAllowed(referrer string) bool {
	if len(s.ReferrerAllowList) == 0 {
		return true
	}
	ref := strings.ToLower(strings.TrimSpace(referrer))
	if ref == "" {
		return false
	}
	for _, host := range s.ReferrerAllowList {
		if host != "" && strings.Contains(ref, strings.ToLower(host)) {
			return true
		}
	}
	return false
}

// Validate checks the settings once at load time instead of defaulting inline
// at every call site.
func (s Settings) Validate() error {
	if s.KeyExpirationHours < 1 || s.KeyExpirationHours > 168 {
		return fmt.Errorf("key expiration hours must be within [1, 168], got %d", s.KeyExpirationHours)
	}
	for i, id := range s.PlacementIDs {
		if id <= 0 {
			return fmt.Errorf("placement id for checkpoint %d must be positive", i+1)
		}
	}
	if s.WebhookEnabled && strings.TrimSpace(s.WebhookURL) == "" {
		return fmt.Errorf("webhook enabled but no webhook url configured")
	}
	if s.WebhookInterval < 5*time.Minute || s.WebhookInterval > 24*time.Hour {
		return fmt.Errorf("webhook interval must be within [5m, 24h], got %s", s.WebhookInterval)
	}
	if !s.FingerprintPolicy.Valid() {
		return fmt.Errorf("unknown fingerprint policy %q", s.FingerprintPolicy)
	}
	if s.RateLimitPerHour < 10 || s.RateLimitPerHour > 1000 {
		return fmt.Errorf("rate limit per hour must be within [10, 1000], got %d", s.RateLimitPerHour)
	}
	return nil
}
