// Package prompt is the template library for model calls. Templates are
// plug-in resources: the defaults are baked into the binary and a
// deployment can override any of them from a directory, without code
// changes. Callers address templates by ID and never carry prompt text.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"copydesk/internal/logging"
)

// Template is one externalized prompt.
type Template struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	// System is the system instruction, sent verbatim.
	System string `yaml:"system"`
	// User is a Go text/template rendered against the call variables.
	User string `yaml:"user"`
}

// Well-known template IDs.
const (
	ParseArticle    = "parse.article"
	OptimizeArticle = "optimize.article"
	PublishGoal     = "publish.goal"
)

//go:embed templates/*.yaml
var embedded embed.FS

// Registry holds the loaded templates. Reads are concurrent; overrides
// are rare and serialized.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

var (
	global *Registry
	once   sync.Once
)

// Get returns the process-wide registry, loading the embedded defaults
// on first use.
func Get() *Registry {
	once.Do(func() {
		global = &Registry{templates: make(map[string]*Template)}
		if err := global.loadEmbedded(); err != nil {
			// Embedded templates are compiled in; a failure here is a
			// programming error, not a runtime condition.
			panic(fmt.Sprintf("prompt: embedded templates: %v", err))
		}
	})
	return global
}

func (r *Registry) loadEmbedded() error {
	return fs.WalkDir(embedded, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := embedded.ReadFile(path)
		if err != nil {
			return err
		}
		return r.register(data, path)
	})
}

func (r *Registry) register(data []byte, origin string) error {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return fmt.Errorf("parsing %s: %w", origin, err)
	}
	if t.ID == "" {
		return fmt.Errorf("template %s has no id", origin)
	}
	if _, err := template.New(t.ID).Parse(t.User); err != nil {
		return fmt.Errorf("template %s: %w", origin, err)
	}
	r.mu.Lock()
	r.templates[t.ID] = &t
	r.mu.Unlock()
	return nil
}

// LoadDirectory overlays templates from *.yaml files in dir. Matching
// IDs replace the embedded defaults.
func (r *Registry) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading prompt directory: %w", err)
	}
	loaded := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		if err := r.register(data, path); err != nil {
			return err
		}
		loaded++
	}
	logging.LLM("loaded %d prompt overrides from %s", loaded, dir)
	return nil
}

// Lookup returns a template by ID.
func (r *Registry) Lookup(id string) (*Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, fmt.Errorf("prompt template not found: %s", id)
	}
	return t, nil
}

// Render resolves a template and executes its user part against vars.
// Returns the system instruction and the rendered user prompt.
func (r *Registry) Render(id string, vars map[string]any) (system, user string, err error) {
	t, err := r.Lookup(id)
	if err != nil {
		return "", "", err
	}
	tmpl, err := template.New(t.ID).Parse(t.User)
	if err != nil {
		return "", "", fmt.Errorf("template %s: %w", id, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", "", fmt.Errorf("rendering %s: %w", id, err)
	}
	return t.System, buf.String(), nil
}

// IDs lists the registered template IDs, for the config CLI.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.templates))
	for id := range r.templates {
		ids = append(ids, id)
	}
	return ids
}
