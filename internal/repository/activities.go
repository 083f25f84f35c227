package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tourbook/internal/cache"
	"tourbook/internal/models"
)

type activitySource interface {
	GetActivity(ctx context.Context, id string) (*models.Activity, error)
}

type activityCache interface {
	GetActivity(ctx context.Context, id string) (*models.Activity, error)
	SetActivity(ctx context.Context, activity *models.Activity) error
}

// ActivityElasticsearchRepository reads activity snapshots from the content index,
// fronted by the Valkey cache when one is configured.
type ActivityElasticsearchRepository struct {
	source activitySource
	cache  activityCache
}

func NewActivityElasticsearchRepository(source activitySource, c activityCache) *ActivityElasticsearchRepository {
	return &ActivityElasticsearchRepository{source: source, cache: c}
}

func (r *ActivityElasticsearchRepository) GetByID(ctx context.Context, id string) (*models.Activity, error) {
	if r.cache != nil {
		activity, err := r.cache.GetActivity(ctx, id)
		if err == nil {
			return activity, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			slog.Warn("Activity cache lookup failed", "activity_id", id, "error", err)
		}
	}

	activity, err := r.source.GetActivity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load activity %s: %w", id, err)
	}
	if activity == nil {
		return nil, nil
	}

	if r.cache != nil {
		if err := r.cache.SetActivity(ctx, activity); err != nil {
			slog.Warn("Failed to cache activity", "activity_id", id, "error", err)
		}
	}
	return activity, nil
}
