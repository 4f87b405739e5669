package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/fairyhunter13/pixtools/internal/domain"
)

// Pruner removes jobs past the retention window on a fixed interval.
type Pruner struct {
	Repo           domain.JobRepository
	RetentionHours int
}

// NewPruner creates a retention pruner.
func NewPruner(repo domain.JobRepository, retentionHours int) *Pruner {
	if retentionHours <= 0 {
		retentionHours = 24
	}
	return &Pruner{Repo: repo, RetentionHours: retentionHours}
}

// PruneOnce deletes jobs older than the retention window.
func (p *Pruner) PruneOnce(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-time.Duration(p.RetentionHours) * time.Hour)
	deleted, err := p.Repo.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		slog.Info("job retention prune completed",
			slog.Int64("deleted_jobs", deleted),
			slog.Time("cutoff", cutoff))
	}
	return nil
}

// RunPeriodic prunes on the given interval until the context is cancelled.
func (p *Pruner) RunPeriodic(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := p.PruneOnce(ctx); err != nil {
		slog.Error("initial prune failed", slog.Any("error", err))
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("pruner stopping")
			return
		case <-ticker.C:
			if err := p.PruneOnce(ctx); err != nil {
				slog.Error("periodic prune failed", slog.Any("error", err))
			}
		}
	}
}
