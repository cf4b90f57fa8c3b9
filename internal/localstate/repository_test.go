package localstate_test

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-sync/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-sync/internal/localstate"
	_ "github.com/nerrad567/gray-logic-sync/migrations"
)

func newSQLite(t *testing.T) *localstate.SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, database.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return localstate.NewSQLiteRepository(db.DB)
}

func TestRepositories(t *testing.T) {
	impls := map[string]func(t *testing.T) localstate.Repository{
		"sqlite": func(t *testing.T) localstate.Repository { return newSQLite(t) },
		"memory": func(*testing.T) localstate.Repository { return localstate.NewMemoryRepository() },
	}

	for name, newRepo := range impls {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := newRepo(t)

			if _, err := repo.Get(ctx, localstate.KeyIdentity); !errors.Is(err, localstate.ErrNotFound) {
				t.Fatalf("Get() on empty repo error = %v, want ErrNotFound", err)
			}

			if err := repo.Put(ctx, localstate.KeyIdentity, []byte(`{"id":"a"}`)); err != nil {
				t.Fatalf("Put() error = %v", err)
			}
			if err := repo.Put(ctx, localstate.KeyIdentity, []byte(`{"id":"b"}`)); err != nil {
				t.Fatalf("Put() overwrite error = %v", err)
			}

			got, err := repo.Get(ctx, localstate.KeyIdentity)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if string(got) != `{"id":"b"}` {
				t.Errorf("Get() = %s, want overwritten value", got)
			}

			if _, err := repo.Get(ctx, localstate.KeyWatermark); !errors.Is(err, localstate.ErrNotFound) {
				t.Errorf("unrelated key error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestMemoryRepositoryCopies(t *testing.T) {
	ctx := context.Background()
	repo := localstate.NewMemoryRepository()

	value := []byte("abc")
	if err := repo.Put(ctx, localstate.KeyDevices, value); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	value[0] = 'x'

	got, _ := repo.Get(ctx, localstate.KeyDevices)
	if string(got) != "abc" {
		t.Errorf("stored value aliased caller slice: %s", got)
	}
}
