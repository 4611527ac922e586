package config

import (
	"os"

	"github.com/aria-ai/aria/internal/errdefs"
)

// JobsFile declares the heartbeat jobs. Runtime state (last run, last
// error, enabled toggles flipped at runtime) lives in the store; this
// file is the desired set.
type JobsFile struct {
	Jobs []JobSpec `yaml:"jobs"`
}

// JobSpec declares one scheduled job.
type JobSpec struct {
	ID       string `yaml:"id"`
	Schedule string `yaml:"schedule"`
	Kind     string `yaml:"kind"`     // "message" or "skill"
	Delivery string `yaml:"delivery"` // "announce", "none", "error_only"
	Enabled  *bool  `yaml:"enabled"`  // nil means enabled

	// Message is the synthetic message injected for kind "message".
	Message string `yaml:"message"`

	// Skill and Tool name the invocation for kind "skill".
	Skill string         `yaml:"skill"`
	Tool  string         `yaml:"tool"`
	Args  map[string]any `yaml:"args"`
}

// IsEnabled applies the nil-means-enabled default.
func (j JobSpec) IsEnabled() bool {
	return j.Enabled == nil || *j.Enabled
}

// LoadJobs reads the jobs file. A missing file yields no jobs.
func LoadJobs(path string) (*JobsFile, error) {
	jf := &JobsFile{}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return jf, nil
		}
		return nil, errdefs.Wrap(errdefs.KindConfiguration, err, "read jobs file %s", path)
	}
	if err := decodeStrict(expandEnv(data), jf); err != nil {
		return nil, errdefs.Wrap(errdefs.KindConfiguration, err, "parse jobs file %s", path)
	}
	seen := make(map[string]bool, len(jf.Jobs))
	for _, j := range jf.Jobs {
		if j.ID == "" {
			return nil, errdefs.New(errdefs.KindConfiguration, "job id must not be empty")
		}
		if seen[j.ID] {
			return nil, errdefs.New(errdefs.KindConfiguration, "duplicate job id %q", j.ID)
		}
		seen[j.ID] = true
		if j.Schedule == "" {
			return nil, errdefs.New(errdefs.KindConfiguration, "job %q: schedule must not be empty", j.ID)
		}
		switch j.Kind {
		case "message":
			if j.Message == "" {
				return nil, errdefs.New(errdefs.KindConfiguration, "job %q: message kind requires a message", j.ID)
			}
		case "skill":
			if j.Skill == "" || j.Tool == "" {
				return nil, errdefs.New(errdefs.KindConfiguration, "job %q: skill kind requires skill and tool", j.ID)
			}
		default:
			return nil, errdefs.New(errdefs.KindConfiguration, "job %q: unknown kind %q", j.ID, j.Kind)
		}
		switch j.Delivery {
		case "", "announce", "none", "error_only":
		default:
			return nil, errdefs.New(errdefs.KindConfiguration, "job %q: unknown delivery %q", j.ID, j.Delivery)
		}
	}
	return jf, nil
}
