package docstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"github.com/yuin/goldmark"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"

	"copydesk/internal/logging"
	"copydesk/internal/types"
)

// documentExtensions are the file types the directory backend exposes.
var documentExtensions = map[string]bool{
	".html":     true,
	".htm":      true,
	".md":       true,
	".markdown": true,
}

// Directory serves documents from a local directory tree. Document ids
// are paths relative to the root, so they stay stable across listings.
type Directory struct {
	root     string
	markdown goldmark.Markdown
	breaker  *gobreaker.CircuitBreaker
}

var _ Client = (*Directory)(nil)

// NewDirectory builds the directory backend rooted at root.
func NewDirectory(root string) *Directory {
	return &Directory{
		root: root,
		// Articles may embed raw HTML fragments.
		markdown: goldmark.New(goldmark.WithRendererOptions(goldmarkhtml.WithUnsafe())),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "docstore",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// Missing or malformed documents are caller problems, not
			// store outages.
			IsSuccessful: func(err error) bool {
				return err == nil ||
					errors.Is(err, types.ErrNotFound) ||
					errors.Is(err, types.ErrInvalidUpstream)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logging.Sync("circuit %s: %s -> %s", name, from, to)
			},
		}),
	}
}

// ListDocuments walks the folder under the root and returns its
// documents sorted by id.
func (d *Directory) ListDocuments(ctx context.Context, folder string) ([]DocumentMeta, error) {
	raw, err := d.breaker.Execute(func() (interface{}, error) {
		return d.list(ctx, folder)
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return raw.([]DocumentMeta), nil
}

func (d *Directory) list(ctx context.Context, folder string) ([]DocumentMeta, error) {
	base := filepath.Join(d.root, folder)
	var docs []DocumentMeta

	err := filepath.WalkDir(base, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if entry.IsDir() || !documentExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		docs = append(docs, DocumentMeta{
			ID:           rel,
			Name:         strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Link:         "file://" + path,
			LastModified: info.ModTime().UTC(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	return docs, nil
}

// FetchDocument reads one document and renders it to HTML.
func (d *Directory) FetchDocument(ctx context.Context, id string) (*Document, error) {
	raw, err := d.breaker.Execute(func() (interface{}, error) {
		return d.fetch(ctx, id)
	})
	if err != nil {
		return nil, wrapStoreErr(err)
	}
	return raw.(*Document), nil
}

func (d *Directory) fetch(ctx context.Context, id string) (*Document, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	clean := filepath.Clean(filepath.FromSlash(id))
	if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return nil, fmt.Errorf("%w: document id escapes store root: %s", types.ErrNotFound, id)
	}
	path := filepath.Join(d.root, clean)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: document %s", types.ErrNotFound, id)
		}
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	html := string(data)
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".md" || ext == ".markdown" {
		html, err = d.renderMarkdown(data)
		if err != nil {
			return nil, fmt.Errorf("%w: rendering %s: %v", types.ErrInvalidUpstream, id, err)
		}
	}

	return &Document{
		Meta: DocumentMeta{
			ID:           id,
			Name:         strings.TrimSuffix(filepath.Base(path), ext),
			Link:         "file://" + path,
			LastModified: info.ModTime().UTC(),
		},
		HTML: html,
	}, nil
}

// renderMarkdown converts a markdown document to HTML. A YAML
// front-matter preamble is passed through verbatim; the parser owns
// interpreting it.
func (d *Directory) renderMarkdown(src []byte) (string, error) {
	preamble, body := splitFrontMatter(src)

	var buf bytes.Buffer
	if err := d.markdown.Convert(body, &buf); err != nil {
		return "", err
	}
	if len(preamble) == 0 {
		return buf.String(), nil
	}
	return string(preamble) + "\n" + buf.String(), nil
}

// splitFrontMatter separates a leading "---" fenced YAML block from the
// document body. Returns the raw preamble including its fences.
func splitFrontMatter(src []byte) (preamble, body []byte) {
	const fence = "---"
	text := string(src)
	if !strings.HasPrefix(strings.TrimLeft(text, "\uFEFF"), fence) {
		return nil, src
	}
	trimmed := strings.TrimLeft(text, "\uFEFF")
	rest := trimmed[len(fence):]
	idx := strings.Index(rest, "\n"+fence)
	if idx < 0 {
		return nil, src
	}
	end := len(fence) + idx + 1 + len(fence)
	// The closing fence must terminate its line.
	tail := trimmed[end:]
	if tail != "" && !strings.HasPrefix(tail, "\n") && !strings.HasPrefix(tail, "\r\n") {
		return nil, src
	}
	return []byte(trimmed[:end]), []byte(strings.TrimPrefix(strings.TrimPrefix(tail, "\r\n"), "\n"))
}

// wrapStoreErr keeps not-found and bad-content causes intact and tags
// everything else as a store outage.
func wrapStoreErr(err error) error {
	if errors.Is(err, types.ErrNotFound) || errors.Is(err, types.ErrInvalidUpstream) {
		return err
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("document store unavailable (circuit open): %w", err)
	}
	return fmt.Errorf("document store unavailable: %w", err)
}
