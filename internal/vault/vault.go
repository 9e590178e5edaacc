// Package vault provides uniform read access to secrets regardless of
// deployment target. Values are cached in memory with a TTL; they are
// never logged and never serialized anywhere. Structured logs and the
// audit trail carry only the key name and a source tag.
package vault

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"copydesk/internal/config"
	"copydesk/internal/logging"
	"copydesk/internal/types"
)

// Backend is a secret provider. Implementations must be safe for
// concurrent use.
type Backend interface {
	// Get returns the value for key, or types.ErrCredentialMissing.
	Get(ctx context.Context, key string) (string, error)
	// List returns key names only, never values.
	List(ctx context.Context) ([]string, error)
	// Set writes one secret.
	Set(ctx context.Context, key, value string) error
	// Delete removes one secret.
	Delete(ctx context.Context, key string) error
	// Name tags log entries with the backend kind.
	Name() string
}

type cachedValue struct {
	value    string
	cachedAt time.Time
}

// Vault fronts a Backend with a per-key TTL cache. Reads are
// concurrent; writes are rare and serialized.
type Vault struct {
	backend Backend
	ttl     time.Duration

	mu    sync.RWMutex
	cache map[string]cachedValue

	now func() time.Time
}

// New selects the backend from configuration and wraps it in a cache.
func New(cfg *config.Config) (*Vault, error) {
	var backend Backend
	switch cfg.Credentials.Backend {
	case "env_file":
		backend = NewEnvFileBackend(cfg.Credentials.EnvFile.Path)
	case "cloud_secret_manager":
		b, err := NewCloudBackend(cfg.Credentials.Cloud.ProjectID, cfg.Credentials.Cloud.SecretName)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("unknown credentials backend %q", cfg.Credentials.Backend)
	}
	return NewWithBackend(backend, cfg.CredentialTTL()), nil
}

// NewWithBackend wires an explicit backend, mainly for tests.
func NewWithBackend(backend Backend, ttl time.Duration) *Vault {
	if ttl <= 0 {
		ttl = 300 * time.Second
	}
	return &Vault{
		backend: backend,
		ttl:     ttl,
		cache:   make(map[string]cachedValue),
		now:     time.Now,
	}
}

// Get returns the current value for key. A fresh cache entry is served
// directly; otherwise the backend is consulted. When the backend is
// unreachable an expired cache entry is served as a last resort, and
// only a fully cold miss surfaces VaultUnavailableError.
func (v *Vault) Get(ctx context.Context, key string) (string, error) {
	v.mu.RLock()
	entry, ok := v.cache[key]
	v.mu.RUnlock()

	if ok && v.now().Sub(entry.cachedAt) < v.ttl {
		logging.VaultDebug("credential %s served from cache", key)
		logging.Audit().CredentialAccess(key, v.backend.Name(), true)
		return entry.value, nil
	}

	value, err := v.backend.Get(ctx, key)
	if err != nil {
		if types.Classify(err) == types.KindCredential {
			return "", err
		}
		if ok {
			logging.Vault("backend %s unreachable; serving stale cache for %s", v.backend.Name(), key)
			logging.Audit().CredentialAccess(key, v.backend.Name(), true)
			return entry.value, nil
		}
		return "", &types.VaultUnavailableError{Backend: v.backend.Name(), Err: err}
	}

	v.mu.Lock()
	v.cache[key] = cachedValue{value: value, cachedAt: v.now()}
	v.mu.Unlock()

	logging.Vault("credential %s fetched from %s", key, v.backend.Name())
	logging.Audit().CredentialAccess(key, v.backend.Name(), false)
	return value, nil
}

// List returns the backend's key names, sorted. Values are not touched.
func (v *Vault) List(ctx context.Context) ([]string, error) {
	keys, err := v.backend.List(ctx)
	if err != nil {
		return nil, &types.VaultUnavailableError{Backend: v.backend.Name(), Err: err}
	}
	sort.Strings(keys)
	return keys, nil
}

// Set writes through to the backend and refreshes the cache entry.
func (v *Vault) Set(ctx context.Context, key, value string) error {
	if err := v.backend.Set(ctx, key, value); err != nil {
		return fmt.Errorf("writing credential %s: %w", key, err)
	}
	v.mu.Lock()
	v.cache[key] = cachedValue{value: value, cachedAt: v.now()}
	v.mu.Unlock()
	logging.Vault("credential %s written to %s", key, v.backend.Name())
	return nil
}

// Delete removes the secret from the backend and the cache.
func (v *Vault) Delete(ctx context.Context, key string) error {
	if err := v.backend.Delete(ctx, key); err != nil {
		return fmt.Errorf("deleting credential %s: %w", key, err)
	}
	v.mu.Lock()
	delete(v.cache, key)
	v.mu.Unlock()
	logging.Vault("credential %s deleted from %s", key, v.backend.Name())
	return nil
}

// Invalidate clears one cache entry.
func (v *Vault) Invalidate(key string) {
	v.mu.Lock()
	delete(v.cache, key)
	v.mu.Unlock()
}

// InvalidateAll clears the whole cache.
func (v *Vault) InvalidateAll() {
	v.mu.Lock()
	v.cache = make(map[string]cachedValue)
	v.mu.Unlock()
}

// Close is the teardown hook: it drops all cached values.
func (v *Vault) Close() {
	v.InvalidateAll()
}
