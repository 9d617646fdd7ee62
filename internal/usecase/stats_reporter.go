package usecase

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/keygate-labs/keygate/internal/core/port"
)

// StatsReporter periodically pushes aggregate token counts to the configured
// notification sink. The interval and the enabled flag come from settings so
// operators can tune them without a restart.
type StatsReporter struct {
	tokens   port.TokenRepository
	settings port.SettingsRepository
	notifier port.StatsNotifier
	logger   *zap.Logger
	now      func() time.Time
}

// NewStatsReporter constructs a StatsReporter instance.
func NewStatsReporter(
	tokens port.TokenRepository,
	settings port.SettingsRepository,
	notifier port.StatsNotifier,
	logger *zap.Logger,
) *StatsReporter {
	if logger == nil {
		logger = zap.NewNop()
	}

	reporter := &StatsReporter{
		tokens:   tokens,
		settings: settings,
		notifier: notifier,
		logger:   logger,
	}
	reporter.now = func() time.Time { return time.Now().UTC() }
	return reporter
}

// Report performs a single stats push when notifications are enabled.
func (r *StatsReporter) Report(ctx context.Context) error {
	cfg, err := r.settings.Get(ctx)
	if err != nil {
		return err
	}
	if !cfg.WebhookEnabled {
		return nil
	}

	stats, err := r.tokens.CountStats(ctx, r.now())
	if err != nil {
		return err
	}

	return r.notifier.NotifyStats(ctx, stats)
}

// Run pushes stats on the configured interval until the context is
// cancelled. The interval is re-read every cycle so settings changes take
// effect on the next tick.
func (r *StatsReporter) Run(ctx context.Context) {
	for {
		interval := time.Hour
		if cfg, err := r.settings.Get(ctx); err == nil && cfg.WebhookInterval > 0 {
			interval = cfg.WebhookInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
			if err := r.Report(ctx); err != nil {
				r.logger.Warn("stats report failed", zap.Error(err))
			}
		}
	}
}
