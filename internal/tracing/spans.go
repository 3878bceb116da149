package tracing

// Span attribute keys for turn execution tracing.
const (
	AttrProvider   = "provider.name"
	AttrProjectID  = "project.id"
	AttrTurnID     = "turn.id"
	AttrSessionID  = "session.id"
	AttrModel      = "model.name"
	AttrInitial    = "turn.initial_prompt"
	AttrEventCount = "turn.event_count"
	AttrHasChanges = "turn.has_changes"
	AttrHasError   = "turn.has_error"
	AttrErrMessage = "error.message"
	AttrAvailable  = "provider.available"
)

// Span names.
const (
	SpanTurnExecute       = "turn.execute"
	SpanProviderStream    = "provider.stream"
	SpanAvailabilityCheck = "availability.check"
)

// Event names for span events.
const (
	EventSessionResumed  = "session.resumed"
	EventSessionCaptured = "session.captured"
	EventTurnCancelled   = "turn.cancelled"
)
