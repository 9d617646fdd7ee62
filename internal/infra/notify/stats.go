package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/keygate-labs/keygate/internal/core/domain"
	"github.com/keygate-labs/keygate/internal/core/port"
)

// LoggingStatsNotifier records stats pushes in the service log. Outbound
// delivery stays behind port.StatsNotifier so a real transport can replace
// this without touching the reporter.
type LoggingStatsNotifier struct {
	logger *zap.Logger
}

// NewLoggingStatsNotifier constructs a log-backed notifier.
func NewLoggingStatsNotifier(logger *zap.Logger) *LoggingStatsNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggingStatsNotifier{logger: logger}
}

// NotifyStats logs the aggregate counts.
func (n *LoggingStatsNotifier) NotifyStats(_ context.Context, stats domain.TokenStats) error {
	n.logger.Info("token stats",
		zap.Int64("total", stats.Total),
		zap.Int64("active", stats.Active),
		zap.Int64("completed", stats.Completed),
		zap.Int64("expired", stats.Expired),
	)
	return nil
}

var _ port.StatsNotifier = (*LoggingStatsNotifier)(nil)
