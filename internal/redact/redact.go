// Package redact removes personally identifiable information from text using
// regex patterns. It backs the SDK's built-in redaction plugin.
package redact

import "regexp"

// Pattern names accepted by Options.Patterns.
const (
	PatternEmail       = "email"
	PatternPhone       = "phone"
	PatternSSN         = "ssn"
	PatternCreditCard  = "credit_card"
	PatternCredentials = "credentials"
	PatternAddress     = "address"
	PatternPassword    = "password"
)

type pattern struct {
	name string
	re   *regexp.Regexp
}

// builtin holds the compiled built-in patterns. Order matters: more specific
// patterns run before broader ones (e.g. SSN before credit card).
var builtin = []pattern{
	{PatternEmail, regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{PatternPhone, regexp.MustCompile(`(\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
	{PatternSSN, regexp.MustCompile(`\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`)},
	{PatternCreditCard, regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)},
	{PatternCredentials, regexp.MustCompile(`(?i)\b(api[_-]?key|token|bearer|authorization|auth[_-]?token|access[_-]?token|secret[_-]?key)\s*[:=]\s*["']?[\w-]+["']?`)},
	{PatternAddress, regexp.MustCompile(`(?i)\b\d+\s+[A-Za-z\s]+\s+(street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|plaza|pl|terrace|ter|way|parkway|pkwy)\b`)},
	{PatternPassword, regexp.MustCompile(`(?i)\b(pass(word|phrase)?|secret|pwd|passwd)\s*[:=]\s*\S+`)},
}

// specificReplacements maps pattern names to typed replacement tokens, used
// when Options.SpecificTokens is set.
var specificReplacements = map[string]string{
	PatternEmail:       "<REDACTED_EMAIL>",
	PatternPhone:       "<REDACTED_PHONE>",
	PatternSSN:         "<REDACTED_SSN>",
	PatternCreditCard:  "<REDACTED_CREDIT_CARD>",
	PatternCredentials: "<REDACTED_CREDENTIALS>",
	PatternAddress:     "<REDACTED_ADDRESS>",
	PatternPassword:    "<REDACTED_SECRET>",
}

// Options configures a Redactor.
type Options struct {
	// Patterns selects which built-in patterns run. Empty means all.
	Patterns []string
	// CustomPatterns are additional regexes, replaced with the generic token.
	CustomPatterns []*regexp.Regexp
	// AllowList contains exact strings that are never redacted.
	AllowList []string
	// Replacement is the generic token. Defaults to "<REDACTED>".
	Replacement string
	// SpecificTokens replaces matches with typed tokens such as
	// <REDACTED_EMAIL> instead of the generic token.
	SpecificTokens bool
}

// Redactor rewrites text in place of PII matches.
type Redactor struct {
	patterns    []pattern
	custom      []*regexp.Regexp
	allow       map[string]bool
	replacement string
	specific    bool
}

// New creates a Redactor from options.
func New(opts Options) *Redactor {
	r := &Redactor{
		custom:      opts.CustomPatterns,
		allow:       make(map[string]bool, len(opts.AllowList)),
		replacement: opts.Replacement,
		specific:    opts.SpecificTokens,
	}
	if r.replacement == "" {
		r.replacement = "<REDACTED>"
	}
	for _, s := range opts.AllowList {
		r.allow[s] = true
	}

	enabled := make(map[string]bool, len(opts.Patterns))
	for _, p := range opts.Patterns {
		enabled[p] = true
	}
	for _, b := range builtin {
		if len(opts.Patterns) == 0 || enabled[b.name] {
			r.patterns = append(r.patterns, b)
		}
	}
	return r
}

func (r *Redactor) tokenFor(pattern string) string {
	if r.specific {
		if tok, ok := specificReplacements[pattern]; ok {
			return tok
		}
	}
	return r.replacement
}

// Redact rewrites all PII matches in text.
func (r *Redactor) Redact(text string) string {
	result := text
	for _, p := range r.patterns {
		token := r.tokenFor(p.name)
		result = p.re.ReplaceAllStringFunc(result, func(m string) string {
			if r.allow[m] {
				return m
			}
			return token
		})
	}
	for _, re := range r.custom {
		result = re.ReplaceAllStringFunc(result, func(m string) string {
			if r.allow[m] {
				return m
			}
			return r.replacement
		})
	}
	return result
}

// RedactValue recursively redacts strings inside arbitrary decoded values
// (strings, slices, and string-keyed maps). Other types pass through
// unchanged.
func (r *Redactor) RedactValue(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return r.Redact(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = r.RedactValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = r.RedactValue(item)
		}
		return out
	default:
		return v
	}
}
