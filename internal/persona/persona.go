// Package persona maps persona labels to the system prompts that seed a
// thread's conversations. Built-in prompts are embedded; a <name>.md file in
// the personas directory overrides a built-in or adds a new persona.
package persona

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

//go:embed defaults/*.md
var defaultsFS embed.FS

// Builtin lists the shipped personas in display order.
var Builtin = []string{"neuromind", "coder", "roaster", "teacher", "logician"}

type Persona struct {
	Name        string
	Description string
	Prompt      string
}

type Registry struct {
	dir      string
	fallback string
	log      *slog.Logger

	mu       sync.RWMutex
	personas map[string]Persona
}

// NewRegistry loads the built-ins plus any overrides from dir. dir may be
// empty or missing. fallback names the persona used for unknown labels.
func NewRegistry(dir, fallback string, log *slog.Logger) (*Registry, error) {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{dir: dir, fallback: fallback, log: log}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	if _, ok := r.Get(fallback); !ok {
		return nil, fmt.Errorf("default persona %q is not defined", fallback)
	}
	return r, nil
}

// Reload re-reads built-ins and the personas directory.
func (r *Registry) Reload() error {
	loaded := make(map[string]Persona)

	for _, name := range Builtin {
		data, err := defaultsFS.ReadFile("defaults/" + name + ".md")
		if err != nil {
			return fmt.Errorf("read builtin persona %s: %w", name, err)
		}
		loaded[name] = newPersona(name, string(data))
	}

	if r.dir != "" {
		entries, err := os.ReadDir(r.dir)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read personas dir: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
				continue
			}
			name := strings.TrimSuffix(e.Name(), ".md")
			data, err := os.ReadFile(filepath.Join(r.dir, e.Name()))
			if err != nil {
				return fmt.Errorf("read persona %s: %w", name, err)
			}
			if strings.TrimSpace(string(data)) == "" {
				if _, builtin := loaded[name]; builtin {
					r.log.Warn("persona file is empty, using built-in prompt", "persona", name)
				} else {
					r.log.Warn("persona file is empty, skipping", "persona", name)
				}
				continue
			}
			loaded[name] = newPersona(name, string(data))
		}
	}

	r.mu.Lock()
	r.personas = loaded
	r.mu.Unlock()
	return nil
}

func newPersona(name, prompt string) Persona {
	return Persona{
		Name:        name,
		Description: title(name) + " persona",
		Prompt:      strings.TrimSpace(prompt),
	}
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (r *Registry) Get(name string) (Persona, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.personas[name]
	return p, ok
}

func (r *Registry) Known(name string) bool {
	_, ok := r.Get(name)
	return ok
}

func (r *Registry) Default() string {
	return r.fallback
}

// Prompt returns the system prompt for name, falling back to the default
// persona when name is unknown.
func (r *Registry) Prompt(name string) string {
	if p, ok := r.Get(name); ok {
		return p.Prompt
	}
	p, _ := r.Get(r.fallback)
	return p.Prompt
}

// List returns built-ins in their fixed order, then extra personas by name.
func (r *Registry) List() []Persona {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Persona, 0, len(r.personas))
	seen := make(map[string]bool, len(Builtin))
	for _, name := range Builtin {
		if p, ok := r.personas[name]; ok {
			out = append(out, p)
			seen[name] = true
		}
	}
	var extra []string
	for name := range r.personas {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		out = append(out, r.personas[name])
	}
	return out
}
