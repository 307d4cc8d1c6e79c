package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/aussiebroadwan/bastion/internal/auth/store"
	"github.com/aussiebroadwan/bastion/internal/auth/store/drivers/sqlite"
	"github.com/aussiebroadwan/bastion/internal/auth/store/storetest"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) store.Store {
	t.Helper()

	s, err := sqlite.NewStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.ApplyMigrations())
	return s
}

func TestStoreContract(t *testing.T) {
	t.Parallel()

	storetest.Run(t, newStore)
}

func TestApplyMigrationsIsIdempotent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bastion.db")

	s, err := sqlite.NewStore(path)
	require.NoError(t, err)
	require.NoError(t, s.ApplyMigrations())
	require.NoError(t, s.Close())

	s, err = sqlite.NewStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.ApplyMigrations())

	empty, err := s.Users().IsEmpty(t.Context())
	require.NoError(t, err)
	require.True(t, empty)
}
