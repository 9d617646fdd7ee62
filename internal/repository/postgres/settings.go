package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/core/port"
)

const settingsTable = "keygate.settings"

// settingsRowID pins the singleton row.
const settingsRowID = 1

var settingsColumns = []string{
	"key_expiration_hours",
	"placement_ids",
	"ad_url_template",
	"referrer_allow_list",
	"webhook_url",
	"webhook_interval_seconds",
	"webhook_enabled",
	"system_message",
	"maintenance_mode",
	"fingerprint_policy",
	"allow_extension",
	"rate_limit_per_hour",
	"updated_at",
}

// SettingsRepository implements port.SettingsRepository for PostgreSQL.
type SettingsRepository struct {
	exec    pgExecutor
	builder squirrel.StatementBuilderType
	now     func() time.Time
}

// NewSettingsRepository constructs a repository backed by the provided executor.
func NewSettingsRepository(exec pgExecutor) *SettingsRepository {
	return &SettingsRepository{
		exec:    exec,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Get returns the singleton settings record, seeding the defaults on first
// access so callers never observe an absent row.
func (r *SettingsRepository) Get(ctx context.Context) (*domain.Settings, error) {
	settings, err := r.fetch(ctx)
	if err == nil {
		return settings, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	defaults := domain.DefaultSettings()
	defaults.UpdatedAt = r.now()
	if err := r.insert(ctx, defaults); err != nil {
		return nil, err
	}

	// A concurrent seed may have won; the stored row is authoritative.
	settings, err = r.fetch(ctx)
	if err != nil {
		return nil, err
	}
	return settings, nil
}

// Update replaces the singleton record. The caller validates before writing.
func (r *SettingsRepository) Update(ctx context.Context, settings domain.Settings) error {
	sql, args, err := r.builder.Update(settingsTable).
		Set("key_expiration_hours", settings.KeyExpirationHours).
		Set("placement_ids", settings.PlacementIDs[:]).
		Set("ad_url_template", settings.AdURLTemplate).
		Set("referrer_allow_list", settings.ReferrerAllowList).
		Set("webhook_url", settings.WebhookURL).
		Set("webhook_interval_seconds", int64(settings.WebhookInterval/time.Second)).
		Set("webhook_enabled", settings.WebhookEnabled).
		Set("system_message", settings.SystemMessage).
		Set("maintenance_mode", settings.MaintenanceMode).
		Set("fingerprint_policy", string(settings.FingerprintPolicy)).
		Set("allow_extension", settings.AllowExtension).
		Set("rate_limit_per_hour", settings.RateLimitPerHour).
		Set("updated_at", r.now()).
		Where(squirrel.Eq{"id": settingsRowID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update settings sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	return nil
}

func (r *SettingsRepository) fetch(ctx context.Context) (*domain.Settings, error) {
	sql, args, err := r.builder.
		Select(settingsColumns...).
		From(settingsTable).
		Where(squirrel.Eq{"id": settingsRowID}).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select settings sql: %w", err)
	}

	var (
		settings        domain.Settings
		placements      []int64
		intervalSeconds int64
		policy          string
	)
	if err := r.exec.QueryRow(ctx, sql, args...).Scan(
		&settings.KeyExpirationHours,
		&placements,
		&settings.AdURLTemplate,
		&settings.ReferrerAllowList,
		&settings.WebhookURL,
		&intervalSeconds,
		&settings.WebhookEnabled,
		&settings.SystemMessage,
		&settings.MaintenanceMode,
		&policy,
		&settings.AllowExtension,
		&settings.RateLimitPerHour,
		&settings.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan settings: %w", err)
	}

	copy(settings.PlacementIDs[:], placements)
	settings.WebhookInterval = time.Duration(intervalSeconds) * time.Second
	settings.FingerprintPolicy = domain.FingerprintPolicy(policy)

	return &settings, nil
}

func (r *SettingsRepository) insert(ctx context.Context, settings domain.Settings) error {
	sql, args, err := r.builder.Insert(settingsTable).
		Columns(append([]string{"id"}, settingsColumns...)...).
		Values(
			settingsRowID,
			settings.KeyExpirationHours,
			settings.PlacementIDs[:],
			settings.AdURLTemplate,
			settings.ReferrerAllowList,
			settings.WebhookURL,
			int64(settings.WebhookInterval/time.Second),
			settings.WebhookEnabled,
			settings.SystemMessage,
			settings.MaintenanceMode,
			string(settings.FingerprintPolicy),
			settings.AllowExtension,
			settings.RateLimitPerHour,
			settings.UpdatedAt,
		).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert settings sql: %w", err)
	}

	if _, err := r.exec.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert settings: %w", err)
	}
	return nil
}

var _ port.SettingsRepository = (*SettingsRepository)(nil)
