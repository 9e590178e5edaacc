// Package cms holds the selector map that describes the target CMS UI
// to the browser provider. Selectors live in a YAML file next to the
// main config so operators can adjust them when the CMS changes its
// markup without redeploying; a watcher hot-reloads the file.
package cms

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// SelectorMap is the full CSS-selector script for one CMS. Paths are
// relative to the configured base URL.
type SelectorMap struct {
	Version int                `yaml:"version"`
	Login   LoginSelectors     `yaml:"login"`
	Compose ComposeSelectors   `yaml:"compose"`
	Media   MediaSelectors     `yaml:"media"`
	Drafts  DraftListSelectors `yaml:"drafts"`
	Waits   WaitTunables       `yaml:"waits"`
}

// LoginSelectors drive the authentication form. Success must match an
// element that only exists after a completed login.
type LoginSelectors struct {
	Path     string `yaml:"path"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Submit   string `yaml:"submit"`
	Success  string `yaml:"success"`
}

// ComposeSelectors drive the new-post editor through saving a draft.
// SavedIndicator is the assertion target: the element that appears once
// the CMS confirms the draft persisted. DraftLink, when present, yields
// the draft's public URL after the save.
type ComposeSelectors struct {
	Path           string       `yaml:"path"`
	Title          string       `yaml:"title"`
	Body           string       `yaml:"body"`
	BodyFrame      string       `yaml:"body_frame,omitempty"` // iframe wrapping the rich editor, empty for plain textareas
	Tags           string       `yaml:"tags"`
	TagConfirm     string       `yaml:"tag_confirm,omitempty"`
	SEO            SEOSelectors `yaml:"seo"`
	SaveDraft      string       `yaml:"save_draft"`
	SavedIndicator string       `yaml:"saved_indicator"`
	DraftLink      string       `yaml:"draft_link,omitempty"`
}

// SEOSelectors cover the meta fields the optimizer fills in.
type SEOSelectors struct {
	MetaDescription string `yaml:"meta_description"`
	FocusKeyword    string `yaml:"focus_keyword,omitempty"`
}

// MediaSelectors drive image attachment. Empty OpenButton disables
// image upload for CMSes without a media dialog.
type MediaSelectors struct {
	OpenButton   string `yaml:"open_button,omitempty"`
	FileInput    string `yaml:"file_input,omitempty"`
	InsertButton string `yaml:"insert_button,omitempty"`
	CloseButton  string `yaml:"close_button,omitempty"`
}

// DraftListSelectors locate existing drafts. The publisher searches
// this list before any retry to adopt a draft a prior attempt created.
// DateFormat is a Go reference layout matching the list's date column.
type DraftListSelectors struct {
	Path       string `yaml:"path"`
	Row        string `yaml:"row"`
	Title      string `yaml:"title"`
	Link       string `yaml:"link,omitempty"`
	Date       string `yaml:"date,omitempty"`
	DateFormat string `yaml:"date_format,omitempty"`
}

// WaitTunables bound element waits. ElementRetries is the N of the
// provider's failure definition: a selector that stays absent through N
// waits of StepTimeout each fails the step.
type WaitTunables struct {
	ElementRetries int `yaml:"element_retries"`
	AssertSeconds  int `yaml:"assert_seconds"`
}

// Default returns a selector map for a stock WordPress classic editor,
// the shape most operators start from.
func Default() *SelectorMap {
	return &SelectorMap{
		Version: 1,
		Login: LoginSelectors{
			Path:     "/wp-login.php",
			Username: "#user_login",
			Password: "#user_pass",
			Submit:   "#wp-submit",
			Success:  "#wpadminbar",
		},
		Compose: ComposeSelectors{
			Path:       "/wp-admin/post-new.php",
			Title:      "#title",
			Body:       "#content",
			Tags:       "#new-tag-post_tag",
			TagConfirm: ".tagadd",
			SEO: SEOSelectors{
				MetaDescription: "#yoast_wpseo_metadesc",
				FocusKeyword:    "#yoast_wpseo_focuskw",
			},
			SaveDraft:      "#save-post",
			SavedIndicator: "#message.updated",
			DraftLink:      "#sample-permalink a",
		},
		Media: MediaSelectors{
			OpenButton:   "#insert-media-button",
			FileInput:    ".media-modal input[type=file]",
			InsertButton: ".media-button-insert",
			CloseButton:  ".media-modal-close",
		},
		Drafts: DraftListSelectors{
			Path:       "/wp-admin/edit.php?post_status=draft",
			Row:        "tbody#the-list tr",
			Title:      "a.row-title",
			Link:       "a.row-title",
			Date:       "td.date",
			DateFormat: "2006/01/02 3:04 pm",
		},
		Waits: WaitTunables{
			ElementRetries: 3,
			AssertSeconds:  10,
		},
	}
}

// Parse decodes and validates a selector map.
func Parse(data []byte) (*SelectorMap, error) {
	m := &SelectorMap{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("selector map: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.applyDefaults()
	return m, nil
}

// Load reads the selector map from disk.
func Load(path string) (*SelectorMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("selector map: %w", err)
	}
	return Parse(data)
}

// WriteDefault writes the stock selector map to path, creating parent
// directories. Used by config scaffolding; refuses to overwrite.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("selector map already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks that every selector the provider script depends on is
// present. Optional features (media, SEO focus keyword, draft link)
// may be empty.
func (m *SelectorMap) Validate() error {
	required := []struct {
		field, value string
	}{
		{"login.path", m.Login.Path},
		{"login.username", m.Login.Username},
		{"login.password", m.Login.Password},
		{"login.submit", m.Login.Submit},
		{"login.success", m.Login.Success},
		{"compose.path", m.Compose.Path},
		{"compose.title", m.Compose.Title},
		{"compose.body", m.Compose.Body},
		{"compose.save_draft", m.Compose.SaveDraft},
		{"compose.saved_indicator", m.Compose.SavedIndicator},
		{"drafts.path", m.Drafts.Path},
		{"drafts.row", m.Drafts.Row},
		{"drafts.title", m.Drafts.Title},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("selector map: %s is required", r.field)
		}
	}
	if m.Media.OpenButton != "" && m.Media.FileInput == "" {
		return fmt.Errorf("selector map: media.file_input is required when media.open_button is set")
	}
	return nil
}

// MediaEnabled reports whether the map describes an image upload flow.
func (m *SelectorMap) MediaEnabled() bool {
	return m.Media.OpenButton != "" && m.Media.FileInput != ""
}

func (m *SelectorMap) applyDefaults() {
	if m.Waits.ElementRetries <= 0 {
		m.Waits.ElementRetries = 3
	}
	if m.Waits.AssertSeconds <= 0 {
		m.Waits.AssertSeconds = 10
	}
	if m.Drafts.Link == "" {
		m.Drafts.Link = m.Drafts.Title
	}
	if m.Drafts.DateFormat == "" {
		m.Drafts.DateFormat = "2006/01/02 3:04 pm"
	}
}
