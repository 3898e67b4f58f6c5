package telemetry

// BeginOptions configures a new interaction.
type BeginOptions struct {
	// EventID overrides the generated interaction ID (e.g. to correlate with
	// an external system). Leave empty to auto-generate.
	EventID        string
	UserID         string
	Event          string
	Input          string
	Model          string
	ConversationID string
	Properties     map[string]any
	Attachments    []Attachment
}

// FinishOptions carries final data merged into an interaction at finish time.
// Zero-value fields leave the interaction untouched.
type FinishOptions struct {
	Output      string
	Properties  map[string]any
	Attachments []Attachment
}

// FeedbackOptions configures a feedback signal for a prior trace or
// interaction.
type FeedbackOptions struct {
	// Type is "thumbs_up" or "thumbs_down". Ignored when Score is set.
	Type string
	// Score in [0,1]; >= 0.5 maps to POSITIVE sentiment.
	Score   *float64
	Comment string
	// SignalType defaults to "feedback".
	SignalType   string
	AttachmentID string
	// Timestamp overrides the signal timestamp (ISO-8601). Defaults to now.
	Timestamp  string
	Properties map[string]any
}

// SignalOptions configures an arbitrary signal with full control. Use
// FeedbackOptions for simple thumbs/score feedback.
type SignalOptions struct {
	// EventID links the signal to a prior trace or interaction.
	EventID string
	Name    string
	// Type defaults to "default".
	Type string
	// Sentiment defaults to NEGATIVE when unset.
	Sentiment    string
	Comment      string
	After        string
	AttachmentID string
	Properties   map[string]any
}
