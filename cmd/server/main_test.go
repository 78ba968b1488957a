package main

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"vendify/internal/config"
	"vendify/internal/gateway"
)

func TestOpenStoresMemoryBackend(t *testing.T) {
	st, err := openStores(context.Background(), config.Config{StoreBackend: config.BackendMemory}, zap.NewNop())
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	if st.mode != gateway.ModeLocal {
		t.Fatalf("expected local mode, got %s", st.mode)
	}
	if st.primary != st.local {
		t.Fatalf("expected the demo store to back both roles")
	}
}

func TestOpenStoresFallsBackToLocal(t *testing.T) {
	cfg := config.Config{
		StoreBackend:   config.BackendFirestore,
		LocalStorePath: filepath.Join(t.TempDir(), "vendify.json"),
	}
	st, err := openStores(context.Background(), cfg, zap.NewNop())
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	defer func() {
		for _, closeFn := range st.closers {
			_ = closeFn()
		}
	}()
	if st.mode != gateway.ModeLocal {
		t.Fatalf("expected local mode when the remote store is unreachable, got %s", st.mode)
	}
	if st.primary != st.local {
		t.Fatalf("expected local store to serve as primary")
	}
}

func TestOpenStoresRejectsMissingLocalPath(t *testing.T) {
	if _, err := openStores(context.Background(), config.Config{StoreBackend: config.BackendLocal}, zap.NewNop()); err == nil {
		t.Fatalf("expected an error without a local store path")
	}
}
