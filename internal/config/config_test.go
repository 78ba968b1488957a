package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "")
	t.Setenv("WHOLESALE_DISCOUNT_PERCENT", "")
	t.Setenv("WHOLESALE_MIN_ORDER_QTY", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StoreBackend != BackendAuto {
		t.Fatalf("expected auto backend, got %q", cfg.StoreBackend)
	}
	if cfg.WholesaleDiscountPercent != 15 {
		t.Fatalf("expected 15%% wholesale discount, got %v", cfg.WholesaleDiscountPercent)
	}
	if cfg.WholesaleMinOrderQty != 10 {
		t.Fatalf("expected minimum order of 10, got %d", cfg.WholesaleMinOrderQty)
	}
	if cfg.Address() != ":8080" {
		t.Fatalf("unexpected address %q", cfg.Address())
	}
}

func TestLoadRejectsUnknownBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "dynamo")
	if _, err := Load(); err == nil {
		t.Fatalf("expected unknown backend to be rejected")
	}
}

func TestRemoteBackendResolvesAuto(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{"firestore first", Config{StoreBackend: BackendAuto, FirebaseProjectID: "p", MongoURI: "mongodb://x"}, BackendFirestore},
		{"mongo", Config{StoreBackend: BackendAuto, MongoURI: "mongodb://x", DatabaseURL: "postgres://x"}, BackendMongo},
		{"postgres", Config{StoreBackend: BackendAuto, DatabaseURL: "postgres://x"}, BackendPostgres},
		{"nothing configured", Config{StoreBackend: BackendAuto}, BackendLocal},
		{"explicit wins", Config{StoreBackend: BackendLocal, FirebaseProjectID: "p"}, BackendLocal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.RemoteBackend(); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}
