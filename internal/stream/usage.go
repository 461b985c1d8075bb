package stream

import "encoding/json"

// Token count field synonyms, probed in priority order; the first
// present name wins. Engines disagree on naming, so each logical
// quantity has an explicit accessor chain instead of ad-hoc probing.
var (
	tokensInFields  = []string{"total", "input", "prompt", "request", "input_tokens", "prompt_tokens"}
	tokensOutFields = []string{"output", "completion", "response", "output_tokens", "completion_tokens"}
	cachedFields    = []string{"cached", "cache_read", "cached_tokens", "cache_read_input_tokens"}
)

// extractUsage probes a parsed record for token usage. Containers are
// tried in order: a nested "token_count" object, a nested "usage"
// object, then the record itself. Returns ok=false when no recognizable
// token field is present anywhere: absent data is "no snapshot", not
// zeros.
func extractUsage(raw map[string]any) (UsageSnapshot, bool) {
	for _, key := range []string{"token_count", "usage"} {
		if nested, ok := raw[key].(map[string]any); ok {
			if snap, found := usageFromFields(nested); found {
				return snap, true
			}
		}
	}
	return usageFromFields(raw)
}

func usageFromFields(m map[string]any) (UsageSnapshot, bool) {
	var snap UsageSnapshot
	found := false
	if v, ok := firstInt(m, tokensInFields); ok {
		snap.TokensIn = v
		found = true
	}
	if v, ok := firstInt(m, tokensOutFields); ok {
		snap.TokensOut = v
		found = true
	}
	if v, ok := firstInt(m, cachedFields); ok {
		snap.Cached = v
		found = true
	}
	return snap, found
}

// firstInt returns the first present numeric field from an ordered
// candidate list.
func firstInt(m map[string]any, candidates []string) (int, bool) {
	for _, name := range candidates {
		if v, ok := m[name]; ok {
			if n, ok := asInt(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
	}
	return 0, false
}
