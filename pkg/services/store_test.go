package services

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomdata/fathom-engine/pkg/crypto"
	"github.com/fathomdata/fathom-engine/pkg/models"
)

func TestConnectionsFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.yaml")

	stored := []StoredConnection{
		{
			ID:   "analytics-pg",
			Kind: models.KindPostgres,
			Config: map[string]any{
				"host":     "db.internal",
				"port":     5432,
				"user":     "reader",
				"password": "env:ANALYTICS_DB_PASSWORD",
				"database": "analytics",
			},
		},
		{
			ID:     "exports",
			Kind:   models.KindSpreadsheet,
			Config: map[string]any{"path": "/data/exports"},
		},
	}

	require.NoError(t, SaveConnectionsFile(path, stored))

	loaded, err := LoadConnectionsFile(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	// Order preserved
	assert.Equal(t, "analytics-pg", loaded[0].ID)
	assert.Equal(t, models.KindPostgres, loaded[0].Kind)
	assert.Equal(t, "exports", loaded[1].ID)

	// Credential reference survives as a reference, not a plaintext value
	assert.Equal(t, "env:ANALYTICS_DB_PASSWORD", loaded[0].Config["password"])
}

func TestLoadConnectionsFileRejectsDuplicates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "connections.yaml")
	content := `connections:
  - id: same
    kind: relational-sqlite
    config:
      path: /tmp/a.db
  - id: same
    kind: relational-sqlite
    config:
      path: /tmp/b.db
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadConnectionsFile(path)
	assert.ErrorContains(t, err, "duplicate id")
}

func TestCredentialResolverEnvReference(t *testing.T) {
	t.Setenv("TEST_DB_PASSWORD", "hunter2-but-longer")

	resolver := NewCredentialResolver(nil)
	resolved, err := resolver.Resolve(map[string]any{
		"host":     "db.internal",
		"port":     5432,
		"password": "env:TEST_DB_PASSWORD",
	})
	require.NoError(t, err)

	assert.Equal(t, "hunter2-but-longer", resolved["password"])
	assert.Equal(t, "db.internal", resolved["host"])
	assert.Equal(t, 5432, resolved["port"])
}

func TestCredentialResolverMissingEnvVar(t *testing.T) {
	resolver := NewCredentialResolver(nil)
	_, err := resolver.Resolve(map[string]any{
		"password": "env:DEFINITELY_NOT_SET_ANYWHERE_12345",
	})
	assert.ErrorContains(t, err, "environment variable not set")
}

func TestCredentialResolverEncryptedReference(t *testing.T) {
	encryptor, err := crypto.NewCredentialEncryptor("resolver-test-passphrase")
	require.NoError(t, err)

	ref, err := encryptor.EncryptRef("secret-db-password")
	require.NoError(t, err)

	resolver := NewCredentialResolver(encryptor)
	resolved, err := resolver.Resolve(map[string]any{"password": ref})
	require.NoError(t, err)
	assert.Equal(t, "secret-db-password", resolved["password"])
}

func TestCredentialResolverEncryptedWithoutKey(t *testing.T) {
	encryptor, err := crypto.NewCredentialEncryptor("resolver-test-passphrase")
	require.NoError(t, err)
	ref, err := encryptor.EncryptRef("secret")
	require.NoError(t, err)

	resolver := NewCredentialResolver(nil)
	_, err = resolver.Resolve(map[string]any{"password": ref})
	assert.ErrorContains(t, err, "no credentials key")
}

func TestCredentialResolverCopiesConfig(t *testing.T) {
	resolver := NewCredentialResolver(nil)
	original := map[string]any{"host": "db.internal"}

	resolved, err := resolver.Resolve(original)
	require.NoError(t, err)

	resolved["host"] = "changed"
	assert.Equal(t, "db.internal", original["host"])
}
