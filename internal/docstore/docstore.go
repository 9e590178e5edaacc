// Package docstore reads source documents from the upstream store the
// sync job polls. The backend is selected by configuration; every
// backend hands the pipeline HTML, converting from its native format
// where needed.
package docstore

import (
	"context"
	"fmt"
	"time"

	"copydesk/internal/config"
)

// DocumentMeta describes one store entry as seen by a listing.
type DocumentMeta struct {
	ID           string
	Name         string
	Link         string
	Owners       []string
	LastModified time.Time
}

// Document is one fetched document rendered to HTML.
type Document struct {
	Meta DocumentMeta
	HTML string
}

// Client is the document-store access used by the sync job.
type Client interface {
	// ListDocuments returns the documents under a store folder.
	ListDocuments(ctx context.Context, folder string) ([]DocumentMeta, error)
	// FetchDocument returns one document body by store id.
	FetchDocument(ctx context.Context, id string) (*Document, error)
}

// New selects the backend from configuration.
func New(cfg *config.Config) (Client, error) {
	switch cfg.DocumentStore.Backend {
	case "directory":
		return NewDirectory(cfg.DocumentStore.Root), nil
	default:
		return nil, fmt.Errorf("unknown document store backend %q", cfg.DocumentStore.Backend)
	}
}
