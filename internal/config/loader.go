package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aria-ai/aria/internal/errdefs"
)

var envRefPattern = regexp.MustCompile(`\$\{([A-Z][A-Z0-9_]*)\}`)

// Load reads the root config file, applies defaults, expands ${ENV}
// references, overlays ARIA_* variables, and validates the result.
// A missing file is not an error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errdefs.Wrap(errdefs.KindConfiguration, err, "read config %s", path)
			}
		} else {
			if err := decodeStrict(expandEnv(data), cfg); err != nil {
				return nil, errdefs.Wrap(errdefs.KindConfiguration, err, "parse config %s", path)
			}
			// Relative companion paths resolve against the config file.
			dir := filepath.Dir(path)
			cfg.ToolsPath = resolvePath(dir, cfg.ToolsPath)
			cfg.CatalogPath = resolvePath(dir, cfg.CatalogPath)
			cfg.JobsPath = resolvePath(dir, cfg.JobsPath)
		}
	}

	cfg.ApplyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeStrict parses YAML rejecting unknown fields, so a typoed key
// fails at startup instead of silently using a default.
func decodeStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

// expandEnv replaces ${NAME} with the environment value. Unset variables
// expand to the empty string.
func expandEnv(data []byte) []byte {
	return envRefPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		name := envRefPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// ResolveSecret resolves an "env:NAME" reference to the variable's value.
// Literal values pass through so tests can inline tokens.
func ResolveSecret(ref string) (string, error) {
	if !strings.HasPrefix(ref, "env:") {
		return ref, nil
	}
	name := strings.TrimPrefix(ref, "env:")
	v := os.Getenv(name)
	if v == "" {
		return "", errdefs.New(errdefs.KindConfiguration, "secret env %s is not set", name)
	}
	return v, nil
}

// Validate checks cross-field constraints that the type system cannot.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return errdefs.New(errdefs.KindConfiguration, "store.path must not be empty")
	}
	if c.Router.BaseURL == "" {
		return errdefs.New(errdefs.KindConfiguration, "router.base_url must not be empty")
	}
	if c.Router.Timeout <= 0 {
		return errdefs.New(errdefs.KindConfiguration, "router.timeout must be positive")
	}
	if c.Router.DailyTokenBudget < 0 {
		return errdefs.New(errdefs.KindConfiguration, "router.daily_token_budget must not be negative")
	}
	if c.Session.CheckpointEvery <= 0 {
		return errdefs.New(errdefs.KindConfiguration, "session.checkpoint_every must be positive")
	}
	if c.Pipeline.MaxInFlight <= 0 {
		return errdefs.New(errdefs.KindConfiguration, "pipeline.max_in_flight must be positive")
	}
	if c.Pipeline.ContextTokenBudget <= 0 {
		return errdefs.New(errdefs.KindConfiguration, "pipeline.context_token_budget must be positive")
	}
	if c.Coordinator.Decay <= 0 || c.Coordinator.Decay > 1 {
		return errdefs.New(errdefs.KindConfiguration, "coordinator.decay must be in (0, 1]")
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.ID == "" {
			return errdefs.New(errdefs.KindConfiguration, "agent id must not be empty")
		}
		if seen[a.ID] {
			return errdefs.New(errdefs.KindConfiguration, "duplicate agent id %q", a.ID)
		}
		seen[a.ID] = true
		if a.PrimaryModel == "" {
			return errdefs.New(errdefs.KindConfiguration, "agent %q has no primary model", a.ID)
		}
	}
	return nil
}
