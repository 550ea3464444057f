// pkg/registry/registry.go
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"bloodlink/internal/common/validation"
)

var ErrTemplateNotFound = errors.New("template not found")

func LoadRegistry(path string) (*TemplateRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	return Parse(data)
}

// Parse decodes and checks a registry document.
func Parse(data []byte) (*TemplateRegistry, error) {
	var reg TemplateRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if err := reg.Validate(); err != nil {
		return nil, err
	}
	return &reg, nil
}

// Validate checks ids are unique, channels are known and schemas compile.
func (r *TemplateRegistry) Validate() error {
	seen := make(map[string]bool, len(r.Templates))
	for _, t := range r.Templates {
		if t.ID == "" {
			return fmt.Errorf("template without id")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate template %q", t.ID)
		}
		seen[t.ID] = true

		if len(t.Channels) == 0 {
			return fmt.Errorf("template %q has no channels", t.ID)
		}
		for _, c := range t.Channels {
			if c != "email" && c != "sms" {
				return fmt.Errorf("template %q: unknown channel %q", t.ID, c)
			}
		}
		if len(t.Schema) > 0 {
			if _, err := validation.Compile(t.Schema); err != nil {
				return fmt.Errorf("template %q: %w", t.ID, err)
			}
		}
	}
	return nil
}

func (r *TemplateRegistry) Lookup(id string) (*Template, error) {
	for i := range r.Templates {
		if r.Templates[i].ID == id {
			return &r.Templates[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
}

// ValidateData checks data against the template's schema, if it has one.
func (t *Template) ValidateData(data map[string]interface{}) error {
	if len(t.Schema) == 0 {
		return nil
	}
	if data == nil {
		data = map[string]interface{}{}
	}
	res, err := validation.ValidateInput(data, t.Schema)
	if err != nil {
		return err
	}
	if !res.Valid {
		return fmt.Errorf("data validation failed: %s", res.Error())
	}
	return nil
}

// Store serves templates from a registry file, reloading it once the cached
// copy is older than ttl.
type Store struct {
	path string
	ttl  time.Duration
	now  func() time.Time

	mu       sync.RWMutex
	reg      *TemplateRegistry
	loadedAt time.Time
}

func NewStore(path string, ttl time.Duration) *Store {
	return &Store{path: path, ttl: ttl, now: time.Now}
}

// NewStaticStore serves a fixed registry that never reloads.
func NewStaticStore(reg *TemplateRegistry) *Store {
	return &Store{reg: reg, now: time.Now}
}

func (s *Store) Get(id string) (*Template, error) {
	reg, err := s.registry()
	if err != nil {
		return nil, err
	}
	return reg.Lookup(id)
}

func (s *Store) registry() (*TemplateRegistry, error) {
	s.mu.RLock()
	reg, loadedAt := s.reg, s.loadedAt
	s.mu.RUnlock()

	if reg != nil && (s.path == "" || s.now().Sub(loadedAt) < s.ttl) {
		return reg, nil
	}

	fresh, err := LoadRegistry(s.path)
	if err != nil {
		// keep serving the last good copy
		if reg != nil {
			return reg, nil
		}
		return nil, err
	}

	s.mu.Lock()
	s.reg = fresh
	s.loadedAt = s.now()
	s.mu.Unlock()
	return fresh, nil
}

// Render replaces {{key}} placeholders with values from data. Dotted keys
// walk nested maps; unknown placeholders render as empty strings.
func Render(tmpl string, data map[string]interface{}) string {
	var b strings.Builder
	rest := tmpl
	for {
		start := strings.Index(rest, "{{")
		if start == -1 {
			b.WriteString(rest)
			break
		}
		end := strings.Index(rest[start:], "}}")
		if end == -1 {
			b.WriteString(rest)
			break
		}
		end += start

		b.WriteString(rest[:start])
		key := strings.TrimSpace(rest[start+2 : end])
		if v := lookupNestedValue(data, key); v != nil {
			b.WriteString(formatValue(v))
		}
		rest = rest[end+2:]
	}
	return b.String()
}

func lookupNestedValue(data map[string]interface{}, key string) interface{} {
	current := interface{}(data)
	for _, part := range strings.Split(key, ".") {
		currentMap, ok := current.(map[string]interface{})
		if !ok {
			return nil
		}
		val, exists := currentMap[part]
		if !exists {
			return nil
		}
		current = val
	}
	return current
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%.2f", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
