package postgres

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"
)

// openMigratedStore открывает тестовую базу, применяет миграции и очищает staging-таблицы.
func openMigratedStore(t *testing.T) *Store {
	t.Helper()

	store := openIntegrationStore(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := store.MigrateUp(ctx, 0); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, `TRUNCATE TABLE sap_order_details, sap_orders RESTART IDENTITY CASCADE`); err != nil {
		t.Fatalf("truncate staging tables: %v", err)
	}
	return store
}

// openIntegrationStore пропускает тест, если PostgreSQL недоступен.
func openIntegrationStore(t *testing.T) *Store {
	t.Helper()

	candidates := []string{
		strings.TrimSpace(os.Getenv("ORDERSYNC_TEST_POSTGRES_DSN")),
		strings.TrimSpace(os.Getenv("ORDERSYNC_POSTGRES_DSN")),
	}

	var failures []string
	for _, dsn := range candidates {
		if dsn == "" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		store, err := Open(ctx, dsn)
		cancel()
		if err == nil {
			t.Cleanup(func() { _ = store.Close() })
			return store
		}
		failures = append(failures, fmt.Sprintf("%s: %v", dsn, err))
	}

	if len(failures) == 0 {
		t.Skip("ORDERSYNC_TEST_POSTGRES_DSN is not set")
	}
	t.Skipf("postgres is not available for integration tests: %s", strings.Join(failures, " | "))
	return nil
}
