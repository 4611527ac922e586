package skills

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/aria-ai/aria/internal/errdefs"
)

// checkSignature verifies a tool's declared schema against the schema
// derived from its handler's argument struct. A property the schema
// requires but the struct cannot decode means the handler drifted from
// the declaration; that is a startup failure, not a runtime surprise.
func checkSignature(skill string, tool Tool) error {
	if tool.Args == nil {
		return nil
	}

	var declared struct {
		Properties map[string]json.RawMessage `json:"properties"`
		Required   []string                   `json:"required"`
	}
	if err := json.Unmarshal(tool.Schema, &declared); err != nil {
		return errdefs.Wrap(errdefs.KindConfiguration, err,
			"skill %s tool %s: invalid schema", skill, tool.Name)
	}

	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	derived := reflector.Reflect(tool.Args)

	derivedProps := map[string]bool{}
	if derived.Properties != nil {
		for pair := derived.Properties.Oldest(); pair != nil; pair = pair.Next() {
			derivedProps[pair.Key] = true
		}
	}

	for name := range declared.Properties {
		if !derivedProps[name] {
			return errdefs.New(errdefs.KindConfiguration,
				"skill %s tool %s: schema declares %q but the handler struct has no such field",
				skill, tool.Name, name)
		}
	}
	for _, name := range declared.Required {
		if _, ok := declared.Properties[name]; !ok {
			return errdefs.New(errdefs.KindConfiguration,
				"skill %s tool %s: required property %q is not declared",
				skill, tool.Name, name)
		}
	}
	return nil
}

// argsHash fingerprints invocation args for the audit trail without
// persisting the raw payload.
func argsHash(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	return fmt.Sprintf("%08x", fnv32(args))
}

func fnv32(b []byte) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for _, c := range b {
		h ^= uint32(c)
		h *= prime
	}
	return h
}
