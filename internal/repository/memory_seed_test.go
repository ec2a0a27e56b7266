package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-erp-approvals/internal/workflow"
)

func TestLoadShippedSeed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	n, err := s.LoadSeed(ctx, filepath.Join("..", "..", "configs", "seed.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	profiles, err := s.ListProfiles(ctx)
	require.NoError(t, err)
	require.Len(t, profiles, 5)

	roles := map[string]bool{}
	for _, p := range profiles {
		roles[p.Role] = true
	}
	for _, r := range []string{workflow.RoleEmployee, workflow.RoleLead, workflow.RoleAdmin, workflow.RoleSuperAdmin} {
		assert.True(t, roles[r], "seed has no %s", r)
	}

	lead, err := s.GetProfile(ctx, "8c1f0a52-0001-4000-8000-000000000003")
	require.NoError(t, err)
	assert.Equal(t, []string{"Finance"}, lead.LeadDepartments)

	require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
		bal, err := tx.GetLeaveBalance(ctx, "8c1f0a52-0001-4000-8000-000000000001", "annual")
		require.NoError(t, err)
		assert.Equal(t, 20.0, bal.RemainingDays)
		return nil
	}))
}

func TestLoadSeedErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := NewMemoryStore().LoadSeed(ctx, filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	noRole := filepath.Join(dir, "norole.yaml")
	require.NoError(t, os.WriteFile(noRole, []byte("profiles:\n  - id: x\n    full_name: X\n"), 0o600))
	_, err = NewMemoryStore().LoadSeed(ctx, noRole)
	assert.Error(t, err)

	garbage := filepath.Join(dir, "garbage.yaml")
	require.NoError(t, os.WriteFile(garbage, []byte("profiles: [:"), 0o600))
	_, err = NewMemoryStore().LoadSeed(ctx, garbage)
	assert.Error(t, err)
}
