package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ModelSpec describes one model's capabilities.
type ModelSpec struct {
	Name      string   `yaml:"name" json:"name"`
	Provider  string   `yaml:"provider" json:"provider"`
	Agent     string   `yaml:"agent,omitempty" json:"agent,omitempty"`
	Aliases   []string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	MaxTokens int      `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
}

// catalogFile is the on-disk models.yaml shape.
type catalogFile struct {
	Models []ModelSpec `yaml:"models" json:"models"`
}

// Catalog is the model capability registry. It resolves caller-supplied
// model names (canonical or alias) to specs and to agent names. The backing
// file is schema-validated on every load and reloads atomically.
type Catalog struct {
	path   string
	logger zerolog.Logger

	byName map[string]*ModelSpec // canonical names plus aliases
	models []ModelSpec
	mu     sync.RWMutex

	watcher *watcher
}

// New loads the catalog from path
func New(path string, logger zerolog.Logger) (*Catalog, error) {
	c := &Catalog{
		path:   path,
		logger: logger,
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads and validates the backing file, swapping the index only
// on success so a bad edit never leaves the catalog empty.
func (c *Catalog) Reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return fmt.Errorf("failed to read catalog file: %w", err)
	}

	// Validate the raw document so unknown fields are caught before the
	// struct decode silently drops them.
	var raw interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to parse catalog yaml: %w", err)
	}
	if err := validate(raw); err != nil {
		return err
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse catalog yaml: %w", err)
	}

	byName := make(map[string]*ModelSpec)
	for i := range file.Models {
		spec := &file.Models[i]
		key := strings.ToLower(spec.Name)
		if _, exists := byName[key]; exists {
			return fmt.Errorf("duplicate model name %q in catalog", spec.Name)
		}
		byName[key] = spec

		for _, alias := range spec.Aliases {
			aliasKey := strings.ToLower(alias)
			if _, exists := byName[aliasKey]; exists {
				return fmt.Errorf("duplicate model alias %q in catalog", alias)
			}
			byName[aliasKey] = spec
		}
	}

	c.mu.Lock()
	c.byName = byName
	c.models = file.Models
	c.mu.Unlock()

	c.logger.Info().
		Int("models", len(file.Models)).
		Str("path", c.path).
		Msg("Model catalog loaded")

	return nil
}

// validate checks the decoded document against the embedded JSON schema.
func validate(raw interface{}) error {
	doc, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("failed to serialize catalog for validation: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(catalogSchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("catalog schema validation failed: %w", err)
	}

	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return fmt.Errorf("invalid catalog: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Get returns the spec for a model name or alias.
func (c *Catalog) Get(model string) (*ModelSpec, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	spec, ok := c.byName[strings.ToLower(model)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, model)
	}
	return spec, nil
}

// ResolveAgent maps a model name to its CLI agent name. The two failure
// modes stay distinct: unknown model (likely a typo) versus a known model
// with no agent (API-only).
func (c *Catalog) ResolveAgent(model string) (string, error) {
	spec, err := c.Get(model)
	if err != nil {
		return "", err
	}
	if spec.Agent == "" {
		return "", fmt.Errorf("%w: %s is API-only", ErrNoAgentForModel, spec.Name)
	}
	return spec.Agent, nil
}

// List returns all model specs sorted by canonical name.
func (c *Catalog) List() []ModelSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()

	models := make([]ModelSpec, len(c.models))
	copy(models, c.models)
	sort.Slice(models, func(i, j int) bool {
		return models[i].Name < models[j].Name
	})
	return models
}

// StartWatching begins hot reload on file changes.
func (c *Catalog) StartWatching() error {
	w, err := newWatcher(c.path, func() {
		if err := c.Reload(); err != nil {
			c.logger.Error().Err(err).Msg("Catalog reload failed, keeping previous catalog")
		}
	}, c.logger)
	if err != nil {
		return err
	}
	c.watcher = w
	return c.watcher.start()
}

// StopWatching stops hot reload.
func (c *Catalog) StopWatching() {
	if c.watcher != nil {
		c.watcher.stop()
	}
}
