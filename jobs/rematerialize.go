package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-iam/internal/jobs"
	"github.com/odyssey-erp/odyssey-iam/internal/rbac"
	"github.com/odyssey-erp/odyssey-iam/internal/shared"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Rematerializer is the user service surface the job needs.
type Rematerializer interface {
	RematerializeUser(ctx context.Context, id int64) (rbac.Diff, error)
	RematerializeAll(ctx context.Context, batchSize int) (int, error)
}

// RematerializeJob restores the invariant that every user holds the permissions
// granted by their roles.
type RematerializeJob struct {
	Users   Rematerializer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewRematerializeJob wires dependencies for the rematerialize handler.
func NewRematerializeJob(users Rematerializer, logger *slog.Logger, metrics *jobmetrics.Metrics) *RematerializeJob {
	return &RematerializeJob{Users: users, Logger: logger, Metrics: metrics}
}

// Handle processes TaskRematerialize tasks.
func (j *RematerializeJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Users == nil {
		return errors.New("rematerialize: handler not configured")
	}
	var payload RematerializePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskRematerialize)
	start := time.Now()
	logger := j.logger()

	if payload.UserID > 0 {
		logger = logger.With(slog.Int64("user_id", payload.UserID))
		diff, err := j.Users.RematerializeUser(ctx, payload.UserID)
		if errors.Is(err, shared.ErrNotFound) {
			logger.Info("user removed before rematerialize")
			return tracker.End(nil)
		}
		if err != nil {
			logger.Error("rematerialize user", slog.Any("error", err))
			return tracker.End(err)
		}
		if !diff.Empty() {
			j.metrics().AddRematerialized(TaskRematerialize, 1)
		}
		logger.Info("rematerialized user", slog.Int("permissions_inserted", len(diff.PermissionsInserted)))
		return tracker.End(nil)
	}

	changed, err := j.Users.RematerializeAll(ctx, payload.BatchSize)
	j.metrics().AddRematerialized(TaskRematerialize, changed)
	if err != nil {
		logger.Error("rematerialize all", slog.Int("changed", changed), slog.Any("error", err))
		return tracker.End(err)
	}
	logger.Info("rematerialized users", slog.Int("changed", changed), slog.Duration("duration", time.Since(start)))
	return tracker.End(nil)
}

func (j *RematerializeJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskRematerialize))
	}
	return slog.Default().With(slog.String("job", TaskRematerialize))
}

func (j *RematerializeJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
