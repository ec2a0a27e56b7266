package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("APPROVALS_AUTH_JWT_SECRET", "0123456789abcdef-secret")
	t.Setenv("APPROVALS_DATABASE_DRIVER", "memory")
	t.Setenv("APPROVALS_SERVER_PORT", "8181")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sla:\n  schedule: \"@every 5m\"\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8181, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "@every 5m", cfg.SLA.Schedule)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, []string{"super_admin"}, cfg.Workflow.OverrideRoles)
}

func TestValidate(t *testing.T) {
	base := Config{
		Server:   ServerConfig{Port: 8080, GRPCPort: 9090},
		Database: DatabaseConfig{Driver: "postgres"},
		Auth:     AuthConfig{JWTSecret: "0123456789abcdef"},
	}
	require.NoError(t, base.Validate())

	short := base
	short.Auth.JWTSecret = "short"
	assert.Error(t, short.Validate())

	badDriver := base
	badDriver.Database.Driver = "mysql"
	assert.Error(t, badDriver.Validate())

	badPort := base
	badPort.Server.GRPCPort = 70000
	assert.Error(t, badPort.Validate())

	memory := base
	memory.Database.Driver = "memory"
	memory.Service.Environment = "development"
	require.NoError(t, memory.Validate())
	memory.Service.Environment = "production"
	assert.Error(t, memory.Validate())
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{User: "u", Password: "p", Host: "db", Port: 5432, Database: "erp", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/erp?sslmode=disable", d.DSN())
}
