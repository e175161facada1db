// Package secret resolves ${secret:NAME} placeholders at egress and redacts
// configured sensitive patterns from text before it reaches a log sink.
package secret

import (
	"fmt"
	"log/slog"
	"regexp"
)

// RedactedPlaceholder replaces every matched substring during redaction.
const RedactedPlaceholder = "[REDACTED]"

// placeholderPattern matches the literal ${secret:NAME} form, NAME in [A-Z0-9_]+.
var placeholderPattern = regexp.MustCompile(`\$\{secret:([A-Z0-9_]+)\}`)

// Source resolves a named secret's value on demand. Implementations may read
// from the environment, a keychain, or any other external store — the
// injector never caches resolved values itself.
type Source interface {
	Resolve(name string) (string, bool)
}

// EnvSource resolves secrets from OS environment variables, optionally
// applying a name prefix (e.g. "SWARMGATE_SECRET_").
type EnvSource struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvSource creates an EnvSource that resolves names through lookup
// (for example os.LookupEnv). A nil lookup resolves nothing.
func NewEnvSource(prefix string, lookup func(string) (string, bool)) *EnvSource {
	return &EnvSource{Prefix: prefix, lookup: lookup}
}

// Resolve implements Source.
func (s *EnvSource) Resolve(name string) (string, bool) {
	if s.lookup == nil {
		return "", false
	}
	return s.lookup(s.Prefix + name)
}

// UnresolvedSecretError is returned by Inject when a placeholder names a
// secret no configured source can resolve.
type UnresolvedSecretError struct{ Name string }

func (e *UnresolvedSecretError) Error() string {
	return fmt.Sprintf("unresolved secret placeholder: %s", e.Name)
}

// CompiledPattern is a single compiled redaction regex with a human label.
type CompiledPattern struct {
	Name  string
	Regex *regexp.Regexp
}

// Config configures a Redactor.
type Config struct {
	// RedactPatterns are regular expressions whose matches are replaced with
	// RedactedPlaceholder wherever redact() runs.
	RedactPatterns []string
	// Sources holds the secret sources under arbitrary labels (the label is
	// not used for lookup). Every placeholder NAME is offered to the sources
	// in map iteration order and the first hit wins; when more than one
	// source resolves the same NAME, which value is used is not defined.
	Sources map[string]Source
}

// Redactor implements the Secret Injector / Redactor (component B): it
// resolves ${secret:NAME} placeholders at egress and rewrites sensitive
// substrings out of text before it is logged. Safe for concurrent use —
// state is immutable after construction.
type Redactor struct {
	patterns []*CompiledPattern
	sources  map[string]Source
}

// New compiles cfg.RedactPatterns eagerly. Invalid patterns are logged and
// skipped rather than failing construction, matching the masking service's
// fail-soft posture for operator-supplied regexes.
func New(cfg Config) *Redactor {
	r := &Redactor{sources: cfg.Sources}
	if r.sources == nil {
		r.sources = map[string]Source{}
	}
	for i, p := range cfg.RedactPatterns {
		compiled, err := regexp.Compile(p)
		if err != nil {
			slog.Error("skipping invalid redact pattern", "index", i, "pattern", p, "error", err)
			continue
		}
		r.patterns = append(r.patterns, &CompiledPattern{Name: fmt.Sprintf("pattern:%d", i), Regex: compiled})
	}
	return r
}

// Inject replaces every ${secret:NAME} occurrence in template with its
// resolved value. The resolved value itself is never logged by this method —
// only the placeholder name may appear in a returned error.
func (r *Redactor) Inject(template string) (string, error) {
	var firstErr error
	result := placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		if firstErr != nil {
			return match
		}
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := r.resolve(name)
		if !ok {
			firstErr = &UnresolvedSecretError{Name: name}
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func (r *Redactor) resolve(name string) (string, bool) {
	for _, src := range r.sources {
		if v, ok := src.Resolve(name); ok {
			return v, true
		}
	}
	return "", false
}

// Redact rewrites every match of every configured pattern with
// RedactedPlaceholder. Applied to request-argument dumps and response dumps
// before they reach a log sink.
func (r *Redactor) Redact(text string) string {
	for _, p := range r.patterns {
		text = p.Regex.ReplaceAllString(text, RedactedPlaceholder)
	}
	return text
}

// PatternCount returns the number of successfully compiled redact patterns
// (for diagnostics / health reporting).
func (r *Redactor) PatternCount() int { return len(r.patterns) }
