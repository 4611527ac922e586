// Package skills implements the skill registry: the single chokepoint
// through which every tool call passes. Registration validates tool
// signatures, invocation enforces status, rate limits, and argument
// schemas, and every call leaves an audit row.
package skills

import (
	"context"
	"encoding/json"

	"github.com/aria-ai/aria/internal/config"
)

// Layer orders skills by trust and cost. Lower layers are cheap local
// operations; higher layers reach external services.
type Layer int

const (
	// LayerCore covers in-process state operations (goals, memory).
	LayerCore Layer = iota

	// LayerStore covers persistent store operations.
	LayerStore

	// LayerModel covers skills that spend model tokens.
	LayerModel

	// LayerNetwork covers skills calling external APIs.
	LayerNetwork

	// LayerSystem covers skills touching the host system.
	LayerSystem
)

// Status is a skill's operational state in the registry.
type Status string

const (
	// StatusUninitialized means Initialize has not run or failed.
	StatusUninitialized Status = "uninitialized"

	// StatusReady means the skill is serving invocations.
	StatusReady Status = "ready"

	// StatusDegraded means recent failures crossed the threshold. Calls
	// fail Unavailable while health checks probe for recovery.
	StatusDegraded Status = "degraded"

	// StatusDisabled means the descriptor disabled the skill. Calls fail
	// fast.
	StatusDisabled Status = "disabled"
)

// Tool describes one callable operation of a skill.
type Tool struct {
	// Name is unique within the skill.
	Name string

	// Description is surfaced to the planner.
	Description string

	// Schema is the JSON schema for the tool's arguments.
	Schema json.RawMessage

	// Args is a zero value of the Go struct the handler decodes into.
	// Registration cross-checks it against Schema so a drifted handler
	// fails at startup instead of at call time.
	Args any
}

// Skill is the contract every capability implements.
type Skill interface {
	// Name is the registry key, unique across skills.
	Name() string

	// Layer orders the skill in the trust hierarchy.
	Layer() Layer

	// Tools lists the callable operations.
	Tools() []Tool

	// Initialize prepares the skill with its descriptor settings.
	Initialize(ctx context.Context, settings config.SkillSettings) error

	// HealthCheck probes the skill's dependencies.
	HealthCheck(ctx context.Context) error

	// Invoke executes one tool call. Args have already passed schema
	// validation.
	Invoke(ctx context.Context, tool string, args json.RawMessage) (json.RawMessage, error)
}
