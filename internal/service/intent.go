package service

import (
	"context"
	"log/slog"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"vozlab.mx/conversa/common/llm"
)

// Intent classifies what the user wants from a turn.
type Intent string

const (
	IntentChat     Intent = "chat"
	IntentSchedule Intent = "schedule"
	IntentReset    Intent = "reset"
	IntentFarewell Intent = "farewell"
	IntentOptOut   Intent = "opt_out"
	IntentOptIn    Intent = "opt_in"
)

// Trigger phrases are matched against normalized text: lowercased and with
// diacritics stripped, so "reunión" and "reunion" behave the same. Single
// words match whole tokens only; phrases match as substrings.
var (
	optOutTriggers = []string{
		"baja", "darme de baja", "no me escribas", "no molestar", "stop", "unsubscribe",
	}
	optInTriggers = []string{
		"alta", "darme de alta", "start", "suscribirme",
	}
	resetTriggers = []string{
		"reiniciar", "reinicia", "reset", "empezar de nuevo", "borrar conversacion",
	}
	farewellTriggers = []string{
		"adios", "hasta luego", "nos vemos", "bye",
	}
	scheduleTriggers = []string{
		"agendar", "agendame", "agenda una", "cita", "reunion", "schedule", "meeting",
	}
)

var foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func normalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if folded, _, err := transform.String(foldTransformer, s); err == nil {
		s = folded
	}
	return s
}

// DetectIntent runs the keyword fast path. Opt-out is checked first so a
// goodbye that also asks to unsubscribe is honored as an opt-out.
func DetectIntent(text string) Intent {
	normalized := normalizeText(text)
	if normalized == "" {
		return IntentChat
	}

	switch {
	case matchesAny(normalized, optOutTriggers):
		return IntentOptOut
	case matchesAny(normalized, optInTriggers):
		return IntentOptIn
	case matchesAny(normalized, resetTriggers):
		return IntentReset
	case matchesAny(normalized, farewellTriggers):
		return IntentFarewell
	case matchesAny(normalized, scheduleTriggers):
		return IntentSchedule
	}
	return IntentChat
}

func matchesAny(normalized string, triggers []string) bool {
	for _, trigger := range triggers {
		if strings.ContainsRune(trigger, ' ') {
			if strings.Contains(normalized, trigger) {
				return true
			}
			continue
		}
		if containsWord(normalized, trigger) {
			return true
		}
	}
	return false
}

func containsWord(normalized, word string) bool {
	for _, token := range strings.FieldsFunc(normalized, nonWord) {
		if token == word {
			return true
		}
	}
	return false
}

func nonWord(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsNumber(r)
}

// intentClassifier is the subset of the chat client the detector needs.
type intentClassifier interface {
	Chat(ctx context.Context, req llm.Request, result any) (*llm.Response, error)
}

type intentClassification struct {
	Intent string `json:"intent" jsonschema:"enum=chat,enum=schedule,enum=farewell"`
}

var intentSchema = llm.GenerateSchema[intentClassification]()

// IntentDetector combines the keyword fast path with an optional model
// classifier. The classifier only runs when keywords found nothing, gets a
// single attempt, and loses to the keyword result on any failure.
type IntentDetector struct {
	classifier intentClassifier
	enabled    bool
}

func NewIntentDetector(classifier intentClassifier, enabled bool) *IntentDetector {
	return &IntentDetector{classifier: classifier, enabled: enabled}
}

func (d *IntentDetector) Detect(ctx context.Context, text string) Intent {
	if intent := DetectIntent(text); intent != IntentChat {
		return intent
	}
	if !d.enabled || d.classifier == nil {
		return IntentChat
	}

	var out intentClassification
	_, err := d.classifier.Chat(ctx, llm.Request{
		SystemPrompt: "Clasifica la intención del mensaje de un usuario de WhatsApp. " +
			"Responde schedule solo si pide explícitamente agendar una reunión o cita, " +
			"farewell si se despide, chat en cualquier otro caso.",
		UserPrompt:  text,
		SchemaName:  "intent_classification",
		Schema:      intentSchema,
		MaxTokens:   50,
		Temperature: llm.Temp(0),
	}, &out)
	if err != nil {
		slog.WarnContext(ctx, "intent classifier failed, keeping keyword result", "error", err)
		return IntentChat
	}

	switch Intent(out.Intent) {
	case IntentSchedule:
		return IntentSchedule
	case IntentFarewell:
		return IntentFarewell
	default:
		return IntentChat
	}
}
