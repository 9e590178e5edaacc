package publish

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	storage "google.golang.org/api/storage/v1"

	"copydesk/internal/config"
	"copydesk/internal/logging"
	"copydesk/internal/metrics"
)

// ShotStore persists publish step screenshots. Files are write-once,
// read-many; the returned reference is what lands on the task row and
// in the API, never the bytes.
type ShotStore interface {
	Save(ctx context.Context, taskID int64, step string, png []byte) (string, error)
	// Sweep removes screenshots created before the cutoff and returns
	// how many were removed.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

// NewShotStore selects the backend from configuration.
func NewShotStore(cfg *config.Config, m *metrics.Metrics) (ShotStore, error) {
	sc := cfg.Storage.Screenshots
	switch sc.Backend {
	case "local_fs":
		return NewLocalShotStore(sc.Directory, m), nil
	case "object_store":
		return NewObjectShotStore(sc.Bucket, m)
	default:
		return nil, fmt.Errorf("unknown screenshot backend %q", sc.Backend)
	}
}

func shotName(step string) string {
	return fmt.Sprintf("%s_%s_%s.png",
		time.Now().UTC().Format("20060102T150405"), step, uuid.NewString()[:8])
}

// LocalShotStore writes screenshots under a per-task directory on the
// local filesystem. References are paths relative to the root.
type LocalShotStore struct {
	root    string
	metrics *metrics.Metrics
}

// NewLocalShotStore builds a filesystem-backed store rooted at dir.
func NewLocalShotStore(dir string, m *metrics.Metrics) *LocalShotStore {
	return &LocalShotStore{root: dir, metrics: m}
}

// Save writes one screenshot. O_EXCL keeps the store write-once even if
// two writers collide on a name.
func (s *LocalShotStore) Save(_ context.Context, taskID int64, step string, png []byte) (string, error) {
	rel := filepath.Join(fmt.Sprintf("task_%d", taskID), shotName(step))
	path := filepath.Join(s.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("screenshot dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return "", fmt.Errorf("screenshot file: %w", err)
	}
	if _, err := f.Write(png); err != nil {
		f.Close()
		return "", fmt.Errorf("writing screenshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("closing screenshot: %w", err)
	}

	if s.metrics != nil {
		s.metrics.ScreenshotsStored.Inc()
	}
	return rel, nil
}

// Sweep removes screenshot files older than the cutoff and prunes
// emptied task directories.
func (s *LocalShotStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, dir := range entries {
		if !dir.IsDir() || !strings.HasPrefix(dir.Name(), "task_") {
			continue
		}
		taskDir := filepath.Join(s.root, dir.Name())
		shots, err := os.ReadDir(taskDir)
		if err != nil {
			continue
		}
		remaining := 0
		for _, shot := range shots {
			info, err := shot.Info()
			if err != nil {
				remaining++
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(filepath.Join(taskDir, shot.Name())); err == nil {
					removed++
					continue
				}
			}
			remaining++
		}
		if remaining == 0 {
			_ = os.Remove(taskDir)
		}
	}
	return removed, nil
}

// Resolve returns the absolute path for a local reference, rejecting
// references that escape the root.
func (s *LocalShotStore) Resolve(ref string) (string, error) {
	path := filepath.Join(s.root, filepath.Clean(ref))
	root, err := filepath.Abs(s.root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("screenshot ref %q escapes the store root", ref)
	}
	return abs, nil
}

const objectPrefix = "tasks/"

// ObjectShotStore writes screenshots to a cloud bucket through the JSON
// storage API, authenticated by application default credentials.
type ObjectShotStore struct {
	svc     *storage.Service
	bucket  string
	metrics *metrics.Metrics
}

// NewObjectShotStore builds a bucket-backed store.
func NewObjectShotStore(bucket string, m *metrics.Metrics) (*ObjectShotStore, error) {
	svc, err := storage.NewService(context.Background())
	if err != nil {
		return nil, fmt.Errorf("storage client: %w", err)
	}
	return &ObjectShotStore{svc: svc, bucket: bucket, metrics: m}, nil
}

// Save uploads one screenshot object.
func (s *ObjectShotStore) Save(ctx context.Context, taskID int64, step string, png []byte) (string, error) {
	name := fmt.Sprintf("%stask_%d/%s", objectPrefix, taskID, shotName(step))
	obj := &storage.Object{Name: name, ContentType: "image/png"}
	_, err := s.svc.Objects.Insert(s.bucket, obj).
		Media(bytes.NewReader(png)).
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("uploading screenshot: %w", err)
	}
	if s.metrics != nil {
		s.metrics.ScreenshotsStored.Inc()
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, name), nil
}

// Sweep deletes objects created before the cutoff.
func (s *ObjectShotStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	removed := 0
	pageToken := ""
	for {
		call := s.svc.Objects.List(s.bucket).Prefix(objectPrefix).Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return removed, fmt.Errorf("listing screenshots: %w", err)
		}
		for _, obj := range resp.Items {
			created, err := time.Parse(time.RFC3339, obj.TimeCreated)
			if err != nil || !created.Before(cutoff) {
				continue
			}
			if err := s.svc.Objects.Delete(s.bucket, obj.Name).Context(ctx).Do(); err == nil {
				removed++
			}
		}
		if resp.NextPageToken == "" {
			return removed, nil
		}
		pageToken = resp.NextPageToken
	}
}

// SweepLoop prunes old screenshots once a day until the context ends.
// A non-positive retention keeps everything forever.
func SweepLoop(ctx context.Context, store ShotStore, retentionDays int) {
	if retentionDays <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	sweep := func() {
		cutoff := time.Now().AddDate(0, 0, -retentionDays)
		n, err := store.Sweep(ctx, cutoff)
		if err != nil {
			logging.PublishWarn("screenshot sweep: %v", err)
			return
		}
		if n > 0 {
			logging.Publish("screenshot sweep removed %d files older than %d days", n, retentionDays)
		}
	}

	sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweep()
		}
	}
}
