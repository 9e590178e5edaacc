package vault

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"copydesk/internal/types"
)

type mockBackend struct {
	getFunc    func(ctx context.Context, key string) (string, error)
	listFunc   func(ctx context.Context) ([]string, error)
	setFunc    func(ctx context.Context, key, value string) error
	deleteFunc func(ctx context.Context, key string) error

	getCalls int
}

func (m *mockBackend) Get(ctx context.Context, key string) (string, error) {
	m.getCalls++
	return m.getFunc(ctx, key)
}

func (m *mockBackend) List(ctx context.Context) ([]string, error) {
	if m.listFunc == nil {
		return nil, nil
	}
	return m.listFunc(ctx)
}

func (m *mockBackend) Set(ctx context.Context, key, value string) error {
	if m.setFunc == nil {
		return nil
	}
	return m.setFunc(ctx, key, value)
}

func (m *mockBackend) Delete(ctx context.Context, key string) error {
	if m.deleteFunc == nil {
		return nil
	}
	return m.deleteFunc(ctx, key)
}

func (m *mockBackend) Name() string { return "mock" }

func TestGetCachesWithinTTL(t *testing.T) {
	backend := &mockBackend{
		getFunc: func(ctx context.Context, key string) (string, error) {
			return "sesame", nil
		},
	}
	v := NewWithBackend(backend, 5*time.Minute)

	for i := 0; i < 3; i++ {
		value, err := v.Get(context.Background(), "cms_password")
		require.NoError(t, err)
		assert.Equal(t, "sesame", value)
	}
	assert.Equal(t, 1, backend.getCalls, "only the first read should hit the backend")
}

func TestGetRefetchesAfterTTL(t *testing.T) {
	values := []string{"first", "second"}
	backend := &mockBackend{
		getFunc: func(ctx context.Context, key string) (string, error) {
			v := values[0]
			if len(values) > 1 {
				values = values[1:]
			}
			return v, nil
		},
	}
	v := NewWithBackend(backend, 5*time.Minute)

	current := time.Now()
	v.now = func() time.Time { return current }

	value, err := v.Get(context.Background(), "cms_password")
	require.NoError(t, err)
	assert.Equal(t, "first", value)

	current = current.Add(6 * time.Minute)

	value, err = v.Get(context.Background(), "cms_password")
	require.NoError(t, err)
	assert.Equal(t, "second", value)
	assert.Equal(t, 2, backend.getCalls)
}

func TestGetServesStaleOnBackendFailure(t *testing.T) {
	healthy := true
	backend := &mockBackend{
		getFunc: func(ctx context.Context, key string) (string, error) {
			if !healthy {
				return "", errors.New("connection refused")
			}
			return "sesame", nil
		},
	}
	v := NewWithBackend(backend, time.Minute)

	current := time.Now()
	v.now = func() time.Time { return current }

	_, err := v.Get(context.Background(), "cms_password")
	require.NoError(t, err)

	healthy = false
	current = current.Add(time.Hour)

	value, err := v.Get(context.Background(), "cms_password")
	require.NoError(t, err, "expired cache should still cover a backend outage")
	assert.Equal(t, "sesame", value)
}

func TestGetColdMissSurfacesUnavailable(t *testing.T) {
	backend := &mockBackend{
		getFunc: func(ctx context.Context, key string) (string, error) {
			return "", errors.New("connection refused")
		},
	}
	v := NewWithBackend(backend, time.Minute)

	_, err := v.Get(context.Background(), "cms_password")
	var unavailable *types.VaultUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "mock", unavailable.Backend)
	assert.Equal(t, types.KindTransient, types.Classify(err))
}

func TestGetMissingCredentialPassesThrough(t *testing.T) {
	backend := &mockBackend{
		getFunc: func(ctx context.Context, key string) (string, error) {
			return "", types.ErrCredentialMissing
		},
	}
	v := NewWithBackend(backend, time.Minute)

	_, err := v.Get(context.Background(), "cms_password")
	require.ErrorIs(t, err, types.ErrCredentialMissing)
	assert.Equal(t, types.KindCredential, types.Classify(err))
}

func TestSetRefreshesCache(t *testing.T) {
	backend := &mockBackend{
		getFunc: func(ctx context.Context, key string) (string, error) {
			t.Fatal("Get should not reach the backend after Set")
			return "", nil
		},
	}
	v := NewWithBackend(backend, time.Minute)

	require.NoError(t, v.Set(context.Background(), "cms_password", "rotated"))

	value, err := v.Get(context.Background(), "cms_password")
	require.NoError(t, err)
	assert.Equal(t, "rotated", value)
}

func TestDeleteEvictsCache(t *testing.T) {
	backend := &mockBackend{
		getFunc: func(ctx context.Context, key string) (string, error) {
			return "", types.ErrCredentialMissing
		},
	}
	v := NewWithBackend(backend, time.Minute)

	require.NoError(t, v.Set(context.Background(), "cms_password", "sesame"))
	require.NoError(t, v.Delete(context.Background(), "cms_password"))

	_, err := v.Get(context.Background(), "cms_password")
	require.ErrorIs(t, err, types.ErrCredentialMissing)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	backend := &mockBackend{
		getFunc: func(ctx context.Context, key string) (string, error) {
			return "sesame", nil
		},
	}
	v := NewWithBackend(backend, time.Hour)

	_, err := v.Get(context.Background(), "cms_password")
	require.NoError(t, err)

	v.Invalidate("cms_password")

	_, err = v.Get(context.Background(), "cms_password")
	require.NoError(t, err)
	assert.Equal(t, 2, backend.getCalls)
}

func TestListSortsNames(t *testing.T) {
	backend := &mockBackend{
		getFunc: func(ctx context.Context, key string) (string, error) { return "", nil },
		listFunc: func(ctx context.Context) ([]string, error) {
			return []string{"cms_username", "cms_password", "cms_url"}, nil
		},
	}
	v := NewWithBackend(backend, time.Minute)

	keys, err := v.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"cms_password", "cms_url", "cms_username"}, keys)
}

func TestListWrapsBackendFailure(t *testing.T) {
	backend := &mockBackend{
		getFunc: func(ctx context.Context, key string) (string, error) { return "", nil },
		listFunc: func(ctx context.Context) ([]string, error) {
			return nil, errors.New("connection refused")
		},
	}
	v := NewWithBackend(backend, time.Minute)

	_, err := v.List(context.Background())
	var unavailable *types.VaultUnavailableError
	require.ErrorAs(t, err, &unavailable)
}

func TestEnvFileBackendRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	backend := NewEnvFileBackend(path)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "cms_username", "editor"))
	require.NoError(t, backend.Set(ctx, "cms_password", "sesame"))

	value, err := backend.Get(ctx, "cms_username")
	require.NoError(t, err)
	assert.Equal(t, "editor", value)

	keys, err := backend.List(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	require.NoError(t, backend.Delete(ctx, "cms_password"))
	_, err = backend.Get(ctx, "cms_password")
	require.ErrorIs(t, err, types.ErrCredentialMissing)

	err = backend.Delete(ctx, "cms_password")
	require.ErrorIs(t, err, types.ErrCredentialMissing)
}

func TestEnvFileBackendMissingFile(t *testing.T) {
	backend := NewEnvFileBackend(filepath.Join(t.TempDir(), "absent.env"))

	_, err := backend.Get(context.Background(), "cms_password")
	require.Error(t, err)
	require.NotErrorIs(t, err, types.ErrCredentialMissing, "an unreadable file is an outage, not a missing key")
}
