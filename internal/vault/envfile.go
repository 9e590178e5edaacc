package vault

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/joho/godotenv"

	"copydesk/internal/types"
)

// EnvFileBackend reads key=value pairs from a dotenv file. Suited to
// local and single-host deployments; the file itself is the source of
// truth and is re-read on every access.
type EnvFileBackend struct {
	path string
	mu   sync.Mutex
}

// NewEnvFileBackend points the backend at a dotenv file.
func NewEnvFileBackend(path string) *EnvFileBackend {
	return &EnvFileBackend{path: path}
}

func (b *EnvFileBackend) Name() string { return "env_file" }

func (b *EnvFileBackend) read() (map[string]string, error) {
	values, err := godotenv.Read(b.path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", b.path, err)
	}
	return values, nil
}

// Get returns one value from the file.
func (b *EnvFileBackend) Get(ctx context.Context, key string) (string, error) {
	values, err := b.read()
	if err != nil {
		return "", err
	}
	value, ok := values[key]
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", types.ErrCredentialMissing, key)
	}
	return value, nil
}

// List returns the key names in the file.
func (b *EnvFileBackend) List(ctx context.Context) ([]string, error) {
	values, err := b.read()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	return keys, nil
}

// Set rewrites the file with the key added or replaced.
func (b *EnvFileBackend) Set(ctx context.Context, key, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	values, err := b.read()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return err
		}
		values = map[string]string{}
	}
	values[key] = value
	if err := godotenv.Write(values, b.path); err != nil {
		return fmt.Errorf("writing %s: %w", b.path, err)
	}
	return nil
}

// Delete rewrites the file without the key.
func (b *EnvFileBackend) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	values, err := b.read()
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return fmt.Errorf("%w: %s", types.ErrCredentialMissing, key)
	}
	delete(values, key)
	if err := godotenv.Write(values, b.path); err != nil {
		return fmt.Errorf("writing %s: %w", b.path, err)
	}
	return nil
}
