package model

// Brand is a tenant persona served by the assistant. Brands are loaded once
// at startup and treated as immutable afterwards, so lookups need no locking.
type Brand struct {
	ID         int64
	Key        string // stable identifier carried by webhook routing (e.g. "fes")
	Name       string
	Collection string // vector collection holding the brand's knowledge base

	Persona Persona

	SchedulingEnabled bool
	EventTypeURI      string // calendar event type bookings are created against
	Timezone          string
}

// Persona holds the brand voice used for prompts and canned replies.
type Persona struct {
	Description       string // who the assistant is, injected into the system prompt
	GreetingStyle     string
	FollowUpStyle     string
	ToneKeywords      string
	FallbackNoContext string
	FallbackLLMError  string
	Farewell          string
	ContactNotes      string
}
