package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/claimrelay/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 100, cfg.MinAmount)
	assert.Equal(t, 200, cfg.MaxAmount)
	assert.Equal(t, 3, cfg.RetryAttempts)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.False(t, cfg.Production())
}

func TestLoadFileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.yaml")
	body := `
env: production
port: "9090"
maxAmount: 300
retryDelay: 500ms
globalAdmins:
  - id: 11
    handle: alice
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("RELAY_LOOSE_MATCHING", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.True(t, cfg.Production())
	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, 300, cfg.MaxAmount)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryDelay)
	assert.True(t, cfg.LooseMatching)
	assert.Equal(t, AdminList{{ID: 11, Handle: "alice"}}, cfg.GlobalAdmins)
}

func TestAdminListFromEnvironment(t *testing.T) {
	t.Setenv("RELAY_GLOBAL_ADMINS", "5962096701:ops, 1844353808")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, AdminList{
		{ID: 5962096701, Handle: "ops"},
		{ID: 1844353808},
	}, cfg.GlobalAdmins)
	assert.Equal(t, []int64{5962096701, 1844353808}, cfg.GlobalAdmins.IDs())
}

func TestAdminListRejectsBadID(t *testing.T) {
	var l AdminList
	require.Error(t, l.Decode("abc:ops"))
	require.NoError(t, l.Decode(""))
	assert.Empty(t, l)
	require.NoError(t, l.Decode("1:a"))
	assert.Equal(t, AdminList{domain.Admin{ID: 1, Handle: "a"}}, l)
}

func TestValidate(t *testing.T) {
	t.Setenv("RELAY_STORE_DRIVER", DriverPostgres)
	_, err := Load("")
	require.Error(t, err)

	t.Setenv("DB_SOURCE", "postgres://relay@localhost/relay")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.StoreDriver)

	t.Setenv("RELAY_MIN_AMOUNT", "500")
	_, err = Load("")
	require.Error(t, err)
}
