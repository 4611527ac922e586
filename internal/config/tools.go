package config

import (
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/aria-ai/aria/internal/errdefs"
)

// ToolsDescriptor maps skill names to their runtime settings. Unknown
// keys inside a skill block are preserved and handed to the skill's
// Initialize, so skills can declare their own options without the
// loader knowing about them.
type ToolsDescriptor struct {
	Skills map[string]SkillSettings `yaml:"skills"`
}

// SkillSettings is one skill's block in the tools descriptor.
type SkillSettings struct {
	Enabled      bool           `yaml:"enabled"`
	APIURL       string         `yaml:"api_url"`
	APIKey       string         `yaml:"api_key"` // env:NAME reference
	TimeoutSec   int            `yaml:"timeout_sec"`
	MaxPerMinute int            `yaml:"max_per_minute"`
	Extra        map[string]any `yaml:",inline"`
}

// LoadTools reads the tools descriptor. A missing file yields an empty
// descriptor: no skills configured, nothing enabled.
func LoadTools(path string) (*ToolsDescriptor, error) {
	td := &ToolsDescriptor{Skills: map[string]SkillSettings{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return td, nil
		}
		return nil, errdefs.Wrap(errdefs.KindConfiguration, err, "read tools descriptor %s", path)
	}
	// Inline Extra maps conflict with KnownFields, so skill blocks are
	// parsed permissively on purpose.
	if err := yaml.Unmarshal(expandEnv(data), td); err != nil {
		return nil, errdefs.Wrap(errdefs.KindConfiguration, err, "parse tools descriptor %s", path)
	}
	if td.Skills == nil {
		td.Skills = map[string]SkillSettings{}
	}
	for name, s := range td.Skills {
		if s.MaxPerMinute < 0 {
			return nil, errdefs.New(errdefs.KindConfiguration, "skill %q: max_per_minute must not be negative", name)
		}
		if s.TimeoutSec < 0 {
			return nil, errdefs.New(errdefs.KindConfiguration, "skill %q: timeout_sec must not be negative", name)
		}
	}
	return td, nil
}

// EnabledSkills returns the enabled skill names in sorted order.
func (t *ToolsDescriptor) EnabledSkills() []string {
	names := make([]string, 0, len(t.Skills))
	for name, s := range t.Skills {
		if s.Enabled {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Settings returns the block for a skill, with found reporting whether
// the skill appears in the descriptor at all.
func (t *ToolsDescriptor) Settings(skill string) (SkillSettings, bool) {
	s, ok := t.Skills[skill]
	return s, ok
}
