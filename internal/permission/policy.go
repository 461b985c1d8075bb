package permission

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Verdict is an allow/deny decision for a capability or pattern.
type Verdict string

const (
	Allow Verdict = "allow"
	Deny  Verdict = "deny"
)

// Wildcard matches any pattern within a pattern-scoped capability.
const Wildcard = "*"

// Rule is the verdict for one capability: either a plain verdict, or a
// pattern→verdict map for pattern-scoped capabilities.
type Rule struct {
	Verdict  Verdict
	Patterns map[string]Verdict
}

// MarshalJSON serializes a Rule as a bare verdict string or a pattern map.
func (r Rule) MarshalJSON() ([]byte, error) {
	if r.Patterns != nil {
		return json.Marshal(r.Patterns)
	}
	return json.Marshal(r.Verdict)
}

// UnmarshalJSON accepts both serialized forms.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var v Verdict
	if err := json.Unmarshal(data, &v); err == nil {
		r.Verdict = v
		r.Patterns = nil
		return nil
	}
	var patterns map[string]Verdict
	if err := json.Unmarshal(data, &patterns); err != nil {
		return fmt.Errorf("rule must be a verdict or a pattern map: %w", err)
	}
	r.Verdict = ""
	r.Patterns = patterns
	return nil
}

// Policy maps capability names to rules. The zero value is an empty
// policy that denies nothing and allows nothing explicitly.
type Policy map[string]Rule

// policySchema constrains the serialized policy document: every
// capability maps to "allow"/"deny" or to a pattern map of the same
// verdicts.
const policySchema = `{
  "type": "object",
  "additionalProperties": {
    "oneOf": [
      {"enum": ["allow", "deny"]},
      {
        "type": "object",
        "additionalProperties": {"enum": ["allow", "deny"]}
      }
    ]
  }
}`

var compiledPolicySchema = mustCompilePolicySchema()

func mustCompilePolicySchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("policy.schema.json", strings.NewReader(policySchema)); err != nil {
		panic(err)
	}
	return compiler.MustCompile("policy.schema.json")
}

// ParsePolicy decodes a serialized policy string, validating it against
// the policy schema first. An empty string is an empty policy. Invalid
// documents fail with ErrPolicyUnresolvable so callers do not silently
// drop a user's pre-seeded policy.
func ParsePolicy(s string) (Policy, error) {
	if strings.TrimSpace(s) == "" {
		return Policy{}, nil
	}

	var doc any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyUnresolvable, err)
	}
	if err := compiledPolicySchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyUnresolvable, err)
	}

	var p Policy
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyUnresolvable, err)
	}
	return p, nil
}

// String serializes the policy for the environment.
func (p Policy) String() string {
	if len(p) == 0 {
		return "{}"
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Merge returns a copy of p with delta applied. Pattern-scoped grants
// add entries without clobbering what is already there; in particular
// an existing wildcard deny stays in place. Plain-verdict grants replace
// the capability's rule outright.
func (p Policy) Merge(delta Policy) Policy {
	out := make(Policy, len(p)+len(delta))
	for name, rule := range p {
		out[name] = rule.clone()
	}
	for name, rule := range delta {
		if rule.Patterns == nil {
			out[name] = rule
			continue
		}
		merged := out[name].clone()
		if merged.Patterns == nil {
			merged.Patterns = make(map[string]Verdict, len(rule.Patterns))
		}
		for pattern, verdict := range rule.Patterns {
			merged.Patterns[pattern] = verdict
		}
		merged.Verdict = ""
		out[name] = merged
	}
	return out
}

func (r Rule) clone() Rule {
	if r.Patterns == nil {
		return r
	}
	patterns := make(map[string]Verdict, len(r.Patterns))
	for k, v := range r.Patterns {
		patterns[k] = v
	}
	return Rule{Patterns: patterns}
}

// AllowPatterns builds a delta granting the given patterns for a
// pattern-scoped capability.
func AllowPatterns(capability string, patterns []string) Policy {
	grants := make(map[string]Verdict, len(patterns))
	for _, pat := range patterns {
		grants[pat] = Allow
	}
	return Policy{capability: Rule{Patterns: grants}}
}

// AllowCapability builds a delta granting a simple capability outright.
func AllowCapability(capability string) Policy {
	return Policy{capability: Rule{Verdict: Allow}}
}
