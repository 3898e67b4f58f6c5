package dewdrop

import (
	"regexp"

	"github.com/dewdrop-ai/dewdrop-go/internal/redact"
	"github.com/dewdrop-ai/dewdrop-go/telemetry"
)

// RedactionOptions configures the built-in PII redaction plugin.
type RedactionOptions struct {
	// Patterns selects which built-in patterns run (see the redact pattern
	// names: "email", "phone", "ssn", "credit_card", "credentials",
	// "address", "password"). Empty enables all of them.
	Patterns []string

	// CustomPatterns are additional regexes redacted with the generic token.
	CustomPatterns []*regexp.Regexp

	// AllowList contains exact strings never redacted.
	AllowList []string

	// Replacement overrides the generic token, "<REDACTED>" by default.
	Replacement string

	// SpecificTokens replaces matches with typed tokens such as
	// <REDACTED_EMAIL>.
	SpecificTokens bool
}

// RedactionPlugin scrubs PII from interaction, span, and trace data before
// it leaves the process. Register it first so later plugins and the
// transport only ever see scrubbed data.
type RedactionPlugin struct {
	redactor *redact.Redactor
}

// NewRedactionPlugin creates a redaction plugin. The zero options value runs
// every built-in pattern with the generic replacement token.
func NewRedactionPlugin(opts RedactionOptions) *RedactionPlugin {
	return &RedactionPlugin{
		redactor: redact.New(redact.Options{
			Patterns:       opts.Patterns,
			CustomPatterns: opts.CustomPatterns,
			AllowList:      opts.AllowList,
			Replacement:    opts.Replacement,
			SpecificTokens: opts.SpecificTokens,
		}),
	}
}

func (p *RedactionPlugin) Name() string { return "redact" }

func (p *RedactionPlugin) OnInteractionEnd(i *telemetry.Interaction) {
	i.Input = p.redactor.Redact(i.Input)
	i.Output = p.redactor.Redact(i.Output)
	i.Properties = p.redactValueMap(i.Properties)
	for idx := range i.Attachments {
		i.Attachments[idx].Value = p.redactor.Redact(i.Attachments[idx].Value)
	}
}

func (p *RedactionPlugin) OnSpan(s *telemetry.Span) {
	s.Input = p.redactor.RedactValue(s.Input)
	s.Output = p.redactor.RedactValue(s.Output)
	s.Properties = p.redactValueMap(s.Properties)
}

func (p *RedactionPlugin) OnTrace(t *telemetry.Trace) {
	t.Input = p.redactor.RedactValue(t.Input)
	t.Output = p.redactor.RedactValue(t.Output)
	t.Properties = p.redactValueMap(t.Properties)
}

func (p *RedactionPlugin) redactValueMap(props map[string]any) map[string]any {
	if props == nil {
		return nil
	}
	out, _ := p.redactor.RedactValue(props).(map[string]any)
	return out
}
