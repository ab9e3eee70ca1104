package command

import (
	"strings"

	"vaultbot/internal/domain"
)

// Parsed is a resolved chat command.
type Parsed struct {
	Name string   // command name without the prefix
	Args []string // arguments after the command
	Raw  string   // original full text
}

// defaultPrefix is used when the owner has not configured one.
const defaultPrefix = "."

// Resolve maps raw text to a command using the owner's configuration. An
// exact match against the shortcut table takes precedence over prefix
// parsing; if neither matches, the text is not a command and falls through
// to cache-only handling.
func Resolve(text string, cfg domain.UserConfig) (Parsed, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Parsed{}, false
	}

	if name, ok := cfg.Shortcuts[trimmed]; ok {
		return Parsed{Name: strings.ToLower(name), Raw: trimmed}, true
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	if !strings.HasPrefix(trimmed, prefix) {
		return Parsed{}, false
	}

	parts := strings.Fields(strings.TrimPrefix(trimmed, prefix))
	if len(parts) == 0 {
		return Parsed{}, false
	}

	p := Parsed{
		Name: strings.ToLower(parts[0]),
		Raw:  trimmed,
	}
	if len(parts) > 1 {
		p.Args = parts[1:]
	}
	return p, true
}

// ResolveShortcut maps a bare reaction emoji to a command name.
func ResolveShortcut(emoji string, cfg domain.UserConfig) (string, bool) {
	name, ok := cfg.Shortcuts[strings.TrimSpace(emoji)]
	return strings.ToLower(name), ok
}

// IsQuestion is the passive auto-reply heuristic applied to the owner's own
// outgoing text when it is not a command.
func IsQuestion(text string) bool {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return false
	}
	if strings.HasSuffix(trimmed, "?") {
		return true
	}
	lower := strings.ToLower(trimmed)
	for _, w := range []string{"how ", "what ", "when ", "where ", "why ", "who "} {
		if strings.HasPrefix(lower, w) {
			return true
		}
	}
	return false
}
