package cache

import (
	"context"
	"time"

	"vendify/internal/domain"
)

// StatsCache holds computed dashboard aggregates per branch scope.
type StatsCache interface {
	Get(ctx context.Context, key string) (*domain.DashboardStats, bool, error)
	Set(ctx context.Context, key string, value *domain.DashboardStats, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

type NoopStatsCache struct{}

func (NoopStatsCache) Get(_ context.Context, _ string) (*domain.DashboardStats, bool, error) {
	return nil, false, nil
}

func (NoopStatsCache) Set(_ context.Context, _ string, _ *domain.DashboardStats, _ time.Duration) error {
	return nil
}

func (NoopStatsCache) Delete(_ context.Context, _ ...string) error {
	return nil
}

func StatsKey(branchID string, day time.Time) string {
	return "vendify:stats:" + branchID + ":" + domain.StartOfDay(day).Format("2006-01-02")
}
