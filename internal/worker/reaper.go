package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/PauFou/form-builder-sub001/internal/repository"
	"github.com/PauFou/form-builder-sub001/pkg/logger"
)

type ReaperConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

// Reaper purges terminal deliveries past retention to bound table growth.
// Pending and retrying rows are never touched.
type Reaper struct {
	deliveries repository.DeliveryRepository
	config     ReaperConfig
	logger     *logger.Logger
}

func NewReaper(deliveries repository.DeliveryRepository, config ReaperConfig, log *logger.Logger) *Reaper {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Retention <= 0 {
		config.Retention = 72 * time.Hour
	}
	return &Reaper{deliveries: deliveries, config: config, logger: log}
}

func (w *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	w.logger.Info("starting delivery reaper",
		"interval", w.config.Interval.String(),
		"retention", w.config.Retention.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("shutting down delivery reaper")
			return
		case <-ticker.C:
			if err := w.purge(ctx); err != nil {
				w.logger.Error(err, "delivery purge failed")
			}
		}
	}
}

func (w *Reaper) purge(ctx context.Context) error {
	cutoff := time.Now().Add(-w.config.Retention)

	rows, err := w.deliveries.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge terminal deliveries: %w", err)
	}
	if rows > 0 {
		w.logger.Info("purged terminal deliveries", "count", rows)
	}
	return nil
}
