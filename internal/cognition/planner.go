package cognition

import (
	"context"
	"encoding/json"
	"strings"
)

// RulePlanner maps message shapes onto builtin tool calls. It is the
// default plan source when no model-driven planner is configured:
// explicit memory requests persist, lookups search, goal talk lists the
// board. Anything else plans nothing and the reply comes straight from
// the model.
type RulePlanner struct{}

// rememberCues introduce content the user wants kept.
var rememberCues = []string{"remember ", "remember:", "note that ", "don't forget ", "keep in mind "}

func (RulePlanner) Plan(_ context.Context, in PlanInput) ([]PlanStep, error) {
	text := strings.TrimSpace(in.Message)
	lower := strings.ToLower(text)

	var steps []PlanStep
	add := func(skill, tool string, args any, critical bool) {
		if in.Agent != nil && !allows(in.Agent.AllowedSkills, skill) {
			return
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return
		}
		steps = append(steps, PlanStep{Skill: skill, Tool: tool, Args: raw, Critical: critical})
	}

	for _, cue := range rememberCues {
		if idx := strings.Index(lower, cue); idx >= 0 {
			content := strings.TrimSpace(text[idx+len(cue):])
			if content == "" {
				content = text
			}
			// A remember the user asked for must not be dropped silently.
			add("memory", "remember", map[string]any{"content": content}, true)
			break
		}
	}

	if strings.Contains(lower, "?") && len(keywords(text)) > 0 {
		add("memory", "search", map[string]any{"query": text, "limit": 5}, false)
	}

	if strings.Contains(lower, "goal") || strings.Contains(lower, "objective") {
		add("goals", "list", map[string]any{"limit": 10}, false)
	}

	return steps, nil
}

func allows(allowed []string, skill string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == skill {
			return true
		}
	}
	return false
}
