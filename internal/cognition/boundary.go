// Package cognition is the main control loop: one user message (or one
// heartbeat tick) flows through the boundary guard, sentiment scan,
// memory retrieval, agent selection, skill plan, and persistence.
package cognition

import (
	"regexp"
	"strings"

	"github.com/aria-ai/aria/internal/errdefs"
)

// RefusalMessage is the fixed reply for rejected input. The guard never
// explains which rule fired.
const RefusalMessage = "I can't help with that request."

const defaultMaxLength = 8000

// GuardPolicy configures the layer-zero input guard.
type GuardPolicy struct {
	// MaxLength rejects messages longer than this many characters.
	MaxLength int

	// Blocked are regex patterns that reject the message outright.
	Blocked []string

	// Redact are regex patterns whose matches are removed before the
	// message continues down the pipeline.
	Redact []string
}

// defaultBlocked covers prompt-injection shapes seen in the wild.
var defaultBlocked = []string{
	`(?i)ignore (all |any )?(prior|previous) (instructions|prompts)`,
	`(?i)disregard (your|the) system prompt`,
	`(?i)you are now (dan|developer mode)`,
}

// defaultRedact strips control characters that break downstream JSON.
var defaultRedact = []string{
	"[\x00-\x08\x0b\x0c\x0e-\x1f]",
}

// Guard is the rule-based input filter. Rules compile once at startup.
type Guard struct {
	maxLength int
	blocked   []*regexp.Regexp
	redact    []*regexp.Regexp
}

// Verdict is the guard's decision for one message.
type Verdict struct {
	Allowed bool
	Text    string
	Reason  string
}

// NewGuard compiles the policy. Empty fields fall back to the built-in
// rules; a pattern that does not compile is a Configuration error.
func NewGuard(policy GuardPolicy) (*Guard, error) {
	g := &Guard{maxLength: policy.MaxLength}
	if g.maxLength <= 0 {
		g.maxLength = defaultMaxLength
	}

	blocked := policy.Blocked
	if blocked == nil {
		blocked = defaultBlocked
	}
	redact := policy.Redact
	if redact == nil {
		redact = defaultRedact
	}

	for _, pattern := range blocked {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindConfiguration, err, "blocked pattern %q", pattern)
		}
		g.blocked = append(g.blocked, re)
	}
	for _, pattern := range redact {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, errdefs.Wrap(errdefs.KindConfiguration, err, "redact pattern %q", pattern)
		}
		g.redact = append(g.redact, re)
	}
	return g, nil
}

// Check applies the policy: length, block rules, then redaction.
func (g *Guard) Check(text string) Verdict {
	if len(text) > g.maxLength {
		return Verdict{Reason: "message exceeds length limit"}
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Verdict{Reason: "empty message"}
	}
	for _, re := range g.blocked {
		if re.MatchString(trimmed) {
			return Verdict{Reason: "blocked pattern"}
		}
	}
	for _, re := range g.redact {
		trimmed = re.ReplaceAllString(trimmed, "")
	}
	return Verdict{Allowed: true, Text: trimmed}
}
