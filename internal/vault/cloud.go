package vault

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"

	secretmanager "google.golang.org/api/secretmanager/v1"

	"copydesk/internal/types"
)

// CloudBackend stores the whole credential set as one JSON document in a
// Google Secret Manager secret. Every write adds a new secret version;
// reads always access "latest". Authentication comes from application
// default credentials.
type CloudBackend struct {
	svc        *secretmanager.Service
	projectID  string
	secretName string
}

// NewCloudBackend builds a Secret Manager client with default credentials.
func NewCloudBackend(projectID, secretName string) (*CloudBackend, error) {
	svc, err := secretmanager.NewService(context.Background())
	if err != nil {
		return nil, fmt.Errorf("secret manager client: %w", err)
	}
	return &CloudBackend{svc: svc, projectID: projectID, secretName: secretName}, nil
}

func (b *CloudBackend) Name() string { return "cloud_secret_manager" }

func (b *CloudBackend) secretPath() string {
	return fmt.Sprintf("projects/%s/secrets/%s", b.projectID, b.secretName)
}

func (b *CloudBackend) fetch(ctx context.Context) (map[string]string, error) {
	resp, err := b.svc.Projects.Secrets.Versions.
		Access(b.secretPath() + "/versions/latest").
		Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("accessing secret %s: %w", b.secretName, err)
	}
	raw, err := base64.StdEncoding.DecodeString(resp.Payload.Data)
	if err != nil {
		return nil, fmt.Errorf("decoding secret payload: %w", err)
	}
	values := map[string]string{}
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parsing secret payload: %w", err)
	}
	return values, nil
}

func (b *CloudBackend) push(ctx context.Context, values map[string]string) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encoding secret payload: %w", err)
	}
	req := &secretmanager.AddSecretVersionRequest{
		Payload: &secretmanager.SecretPayload{
			Data: base64.StdEncoding.EncodeToString(raw),
		},
	}
	_, err = b.svc.Projects.Secrets.
		AddVersion(b.secretPath(), req).
		Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("adding secret version: %w", err)
	}
	return nil
}

// Get returns one key from the latest secret version.
func (b *CloudBackend) Get(ctx context.Context, key string) (string, error) {
	values, err := b.fetch(ctx)
	if err != nil {
		return "", err
	}
	value, ok := values[key]
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", types.ErrCredentialMissing, key)
	}
	return value, nil
}

// List returns the key names present in the latest secret version.
func (b *CloudBackend) List(ctx context.Context) ([]string, error) {
	values, err := b.fetch(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	return keys, nil
}

// Set adds a secret version with the key replaced.
func (b *CloudBackend) Set(ctx context.Context, key, value string) error {
	values, err := b.fetch(ctx)
	if err != nil {
		return err
	}
	values[key] = value
	return b.push(ctx, values)
}

// Delete adds a secret version without the key.
func (b *CloudBackend) Delete(ctx context.Context, key string) error {
	values, err := b.fetch(ctx)
	if err != nil {
		return err
	}
	if _, ok := values[key]; !ok {
		return fmt.Errorf("%w: %s", types.ErrCredentialMissing, key)
	}
	delete(values, key)
	return b.push(ctx, values)
}
