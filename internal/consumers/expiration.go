package consumers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"tourbook/internal/logger"
)

type holdExpirer interface {
	ExpireStaleHolds(ctx context.Context, olderThan time.Duration) (int, error)
}

// ExpirationJob periodically cancels pending bookings whose hold outlived the TTL
type ExpirationJob struct {
	expirer   holdExpirer
	interval  time.Duration
	olderThan time.Duration
	scheduler gocron.Scheduler
}

func NewExpirationJob(expirer holdExpirer, interval, olderThan time.Duration) *ExpirationJob {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirationJob{
		expirer:   expirer,
		interval:  interval,
		olderThan: olderThan,
	}
}

// Start schedules the sweep; the first run happens immediately
func (j *ExpirationJob) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	job, err := scheduler.NewJob(
		gocron.DurationJob(j.interval),
		gocron.NewTask(j.run, ctx),
		gocron.WithName("expire-stale-holds"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return fmt.Errorf("failed to schedule expiration job: %w", err)
	}

	j.scheduler = scheduler
	scheduler.Start()

	slog.Info("Starting hold expiration job",
		"job_id", job.ID().String(),
		"check_interval", j.interval.String(),
		"hold_ttl", j.olderThan.String())
	return nil
}

// Stop waits for a running sweep to finish
func (j *ExpirationJob) Stop() error {
	if j.scheduler == nil {
		return nil
	}
	if err := j.scheduler.Shutdown(); err != nil {
		return fmt.Errorf("failed to stop scheduler: %w", err)
	}
	slog.Info("Hold expiration job stopped")
	return nil
}

func (j *ExpirationJob) run(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	log := logger.WithFields("job", "expire-stale-holds")
	start := time.Now()
	expired, err := j.expirer.ExpireStaleHolds(ctx, j.olderThan)
	if err != nil {
		log.Error("Hold expiration sweep failed", "error", err, "expired", expired)
		return
	}

	if expired == 0 {
		log.Debug("No expired holds found")
		return
	}
	log.Info("Expired stale holds", "count", expired, "elapsed", time.Since(start).String())
}
