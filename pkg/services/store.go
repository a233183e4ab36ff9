package services

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fathomdata/fathom-engine/pkg/crypto"
	"github.com/fathomdata/fathom-engine/pkg/models"
)

// EnvRefPrefix marks a credential reference resolved from the environment.
// The value after the prefix is the environment variable name.
const EnvRefPrefix = "env:"

// CredentialResolver resolves credential references in connection configs to
// their plaintext values at adapter-creation time. References come in two
// forms: env:NAME reads an environment variable, enc:<ciphertext> decrypts
// with the engine's credentials key. Resolution output is handed straight to
// adapters and never stored back on the descriptor.
type CredentialResolver struct {
	encryptor *crypto.CredentialEncryptor
}

// NewCredentialResolver creates a resolver. The encryptor may be nil, in
// which case enc: references fail with a configuration error.
func NewCredentialResolver(encryptor *crypto.CredentialEncryptor) *CredentialResolver {
	return &CredentialResolver{encryptor: encryptor}
}

// Resolve returns a copy of config with every credential reference replaced
// by its plaintext value. Non-reference values pass through untouched, so
// configs without references resolve to an identical copy.
func (r *CredentialResolver) Resolve(config map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(config))
	for key, value := range config {
		str, ok := value.(string)
		if !ok {
			resolved[key] = value
			continue
		}

		switch {
		case strings.HasPrefix(str, EnvRefPrefix):
			name := strings.TrimPrefix(str, EnvRefPrefix)
			plain, found := os.LookupEnv(name)
			if !found {
				return nil, fmt.Errorf("credential reference %q for %q: environment variable not set", str, key)
			}
			resolved[key] = plain

		case crypto.IsEncryptedRef(str):
			if r.encryptor == nil {
				return nil, fmt.Errorf("credential reference for %q is encrypted but no credentials key is configured", key)
			}
			plain, err := r.encryptor.DecryptRef(str)
			if err != nil {
				return nil, fmt.Errorf("decrypting credential reference for %q: %w", key, err)
			}
			resolved[key] = plain

		default:
			resolved[key] = value
		}
	}
	return resolved, nil
}

// StoredConnection is one entry in the connections file.
type StoredConnection struct {
	ID     string            `yaml:"id"`
	Kind   models.SourceKind `yaml:"kind"`
	Config map[string]any    `yaml:"config"`
}

type connectionsFile struct {
	Connections []StoredConnection `yaml:"connections"`
}

// LoadConnectionsFile reads persisted connection descriptors from a YAML
// file. Order is preserved; registration at startup follows file order.
// Credential values in the file stay as references; nothing is resolved here.
func LoadConnectionsFile(path string) ([]StoredConnection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading connections file: %w", err)
	}

	var file connectionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing connections file: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Connections))
	for _, conn := range file.Connections {
		if conn.ID == "" {
			return nil, fmt.Errorf("connections file: entry with empty id")
		}
		if _, dup := seen[conn.ID]; dup {
			return nil, fmt.Errorf("connections file: duplicate id %q", conn.ID)
		}
		seen[conn.ID] = struct{}{}
	}

	return file.Connections, nil
}

// SaveConnectionsFile writes connection descriptors back to a YAML file,
// preserving the given order. Callers must pass configs that still hold
// credential references; plaintext credentials must never reach disk.
func SaveConnectionsFile(path string, connections []StoredConnection) error {
	data, err := yaml.Marshal(connectionsFile{Connections: connections})
	if err != nil {
		return fmt.Errorf("encoding connections file: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing connections file: %w", err)
	}
	return nil
}
