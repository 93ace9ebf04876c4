package logprovider

import "fmt"

// New builds the provider named by kind ("codex", "gemini", "opencode"),
// rooted at pathPattern (provider-specific default when empty). Returns an
// error for "" (claudecode has no log provider) or any unrecognized kind.
func New(kind, pathPattern string) (Provider, error) {
	switch kind {
	case "codex":
		return NewCodexProvider(pathPattern), nil
	case "gemini":
		return NewGeminiProvider(pathPattern), nil
	case "opencode":
		return NewOpenCodeProvider(pathPattern), nil
	default:
		return nil, fmt.Errorf("logprovider: unknown kind %q", kind)
	}
}
