package port

import (
	"context"

	"github.com/keygate-labs/keygate/internal/core/domain"
)

// SettingsRepository persists the singleton settings record.
type SettingsRepository interface {
	// Get returns the settings row, seeding defaults when absent.
	Get(ctx context.Context) (*domain.Settings, error)
	Update(ctx context.Context, settings domain.Settings) error
}
