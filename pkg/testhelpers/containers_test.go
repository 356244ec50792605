//go:build integration

package testhelpers

import (
	"context"
	"testing"

	"github.com/ekaya-inc/ekaya-probe/pkg/database"
	"github.com/ekaya-inc/ekaya-probe/pkg/models"
)

func TestEngineDB_MigrationsApplied(t *testing.T) {
	engineDB := GetEngineDB(t)
	ctx := context.Background()

	for _, table := range []string{"remote_servers", "discovered_endpoints", "endpoint_health", "registered_endpoints"} {
		var exists bool
		err := engineDB.DB.Pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		if err != nil {
			t.Fatalf("failed to check table %s: %v", table, err)
		}
		if !exists {
			t.Errorf("expected table %s to exist", table)
		}
	}
}

func TestEngineDB_ScopedContext(t *testing.T) {
	engineDB := GetEngineDB(t)

	ctx, cleanup := engineDB.ScopedContext(t)
	defer cleanup()

	scope, ok := database.GetScope(ctx)
	if !ok {
		t.Fatal("expected scope in context")
	}

	var name string
	err := scope.DB().QueryRow(ctx, "SELECT name FROM remote_servers WHERE id = $1", models.LocalSystemServerID).Scan(&name)
	if err != nil {
		t.Fatalf("failed to read seeded local-system server: %v", err)
	}
	if name != models.LocalSystemServerName {
		t.Errorf("expected %q, got %q", models.LocalSystemServerName, name)
	}
}
