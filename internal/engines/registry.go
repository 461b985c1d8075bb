package engines

import "sort"

// Registry holds registered engine definitions by name.
var Registry = map[string]*Def{}

// Register adds an engine definition. External code can register new
// engines alongside the built-ins.
func Register(def *Def) {
	Registry[def.Name] = def
}

// Lookup returns the definition for name.
func Lookup(name string) (*Def, bool) {
	def, ok := Registry[name]
	return def, ok
}

// Names returns the registered engine names, sorted.
func Names() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// init registers the built-in engines.
func init() {
	Register(&Def{
		Name:   "claude",
		Binary: "claude",
		Mode:   ModePrint,
		BuildArgs: func(inv Invocation) []string {
			args := []string{"--output-format", "stream-json", "--verbose"}
			if inv.Model != "" {
				args = append(args, "--model", inv.Model)
			}
			args = append(args, inv.Args...)
			return append(args, "-p", inv.Prompt)
		},
		Install:     "npm install -g @anthropic-ai/claude-code",
		AuthEnvVars: []string{"ANTHROPIC_API_KEY"},
		AuthHints: []string{
			"invalid api key",
			"authentication_error",
			"please run /login",
		},
		Policy: patternPolicy,
	})

	Register(&Def{
		Name:           "codex",
		Binary:         "codex",
		Mode:           ModePrint,
		PromptViaStdin: true,
		BuildArgs: func(inv Invocation) []string {
			args := []string{"exec", "--json"}
			if inv.Model != "" {
				args = append(args, "-m", inv.Model)
			}
			args = append(args, inv.Args...)
			return append(args, "-")
		},
		Install:     "npm install -g @openai/codex",
		AuthEnvVars: []string{"OPENAI_API_KEY"},
		AuthHints: []string{
			"401 unauthorized",
			"invalid_api_key",
			"not authenticated",
		},
		Policy: patternPolicy,
	})

	Register(&Def{
		Name:          "sprite",
		Binary:        "sprite",
		Mode:          ModeWire,
		KeepStdinOpen: true,
		BuildArgs: func(inv Invocation) []string {
			args := []string{"--wire"}
			return append(args, inv.Args...)
		},
		Install:     "npm install -g @sprite-ai/sprite",
		AuthEnvVars: []string{"SPRITE_API_KEY"},
		AuthHints: []string{
			"missing api key",
			"unauthorized",
		},
		Policy: patternPolicy,
	})
}
