package config

import (
	"os"

	"github.com/aria-ai/aria/internal/errdefs"
)

// Catalog is the model catalog: which models exist, what they can do,
// and what they cost. The router consults it before every call.
type Catalog struct {
	// Primary is the default chat model.
	Primary string `yaml:"primary"`

	// Fallbacks are tried in order when the primary fails.
	Fallbacks []string `yaml:"fallbacks"`

	// EmbeddingModel produces vectors for semantic memory.
	EmbeddingModel string `yaml:"embedding_model"`

	// Models declares per-model capabilities and pricing.
	Models map[string]ModelSpec `yaml:"models"`
}

// ModelSpec declares one model's capabilities.
type ModelSpec struct {
	Provider      string  `yaml:"provider"`
	ToolCalling   bool    `yaml:"tool_calling"`
	Reasoning     bool    `yaml:"reasoning"`
	ContextWindow int     `yaml:"context_window"`
	CostInPerM    float64 `yaml:"cost_in_per_m"`  // USD per million input tokens
	CostOutPerM   float64 `yaml:"cost_out_per_m"` // USD per million output tokens
	EmbeddingDim  int     `yaml:"embedding_dim"`
}

// LoadCatalog reads and validates the model catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindConfiguration, err, "read model catalog %s", path)
	}
	cat := &Catalog{}
	if err := decodeStrict(expandEnv(data), cat); err != nil {
		return nil, errdefs.Wrap(errdefs.KindConfiguration, err, "parse model catalog %s", path)
	}
	if err := cat.Validate(); err != nil {
		return nil, err
	}
	return cat, nil
}

// Validate checks that every referenced model is declared.
func (c *Catalog) Validate() error {
	if c.Primary == "" {
		return errdefs.New(errdefs.KindConfiguration, "catalog: primary model must be set")
	}
	if _, ok := c.Models[c.Primary]; !ok {
		return errdefs.New(errdefs.KindConfiguration, "catalog: primary model %q is not declared", c.Primary)
	}
	for _, f := range c.Fallbacks {
		if _, ok := c.Models[f]; !ok {
			return errdefs.New(errdefs.KindConfiguration, "catalog: fallback model %q is not declared", f)
		}
	}
	if c.EmbeddingModel != "" {
		spec, ok := c.Models[c.EmbeddingModel]
		if !ok {
			return errdefs.New(errdefs.KindConfiguration, "catalog: embedding model %q is not declared", c.EmbeddingModel)
		}
		if spec.EmbeddingDim <= 0 {
			return errdefs.New(errdefs.KindConfiguration, "catalog: embedding model %q must declare embedding_dim", c.EmbeddingModel)
		}
	}
	for name, spec := range c.Models {
		if spec.ContextWindow <= 0 {
			return errdefs.New(errdefs.KindConfiguration, "catalog: model %q must declare context_window", name)
		}
	}
	return nil
}

// Spec returns the declared spec for a model.
func (c *Catalog) Spec(model string) (ModelSpec, bool) {
	s, ok := c.Models[model]
	return s, ok
}

// SupportsTools reports whether a model can receive a tool-bearing request.
// Unknown models report false; the router treats that as incompatible.
func (c *Catalog) SupportsTools(model string) bool {
	s, ok := c.Models[model]
	return ok && s.ToolCalling
}
