package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"vendify/internal/domain"
)

func TestStatsKeyIsPerBranchAndDay(t *testing.T) {
	day := time.Date(2024, 3, 9, 23, 0, 0, 0, time.UTC)
	if got := StatsKey("b1", day); got != "vendify:stats:b1:2024-03-09" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestNoopCacheNeverHits(t *testing.T) {
	var c StatsCache = NoopStatsCache{}
	ctx := context.Background()
	if err := c.Set(ctx, "k", &domain.DashboardStats{TotalRevenue: 1}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatalf("noop cache must not report hits")
	}
}

func TestRedisCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("VENDIFY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set VENDIFY_TEST_REDIS_ADDR to run redis integration test")
	}
	c := NewRedisStatsCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()
	key := StatsKey("it-"+time.Now().Format("150405.000000"), time.Now())

	if err := c.Set(ctx, key, &domain.DashboardStats{TotalRevenue: 42.5}, time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, ok, err := c.Get(ctx, key)
	if err != nil || !ok || got.TotalRevenue != 42.5 {
		t.Fatalf("expected cached stats, got %+v ok=%v err=%v", got, ok, err)
	}
	if err := c.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, key); ok {
		t.Fatalf("expected miss after delete")
	}
}
