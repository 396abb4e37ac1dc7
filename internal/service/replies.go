package service

import (
	"fmt"
	"strings"

	"vozlab.mx/conversa/internal/model"
	"vozlab.mx/conversa/internal/rag"
	"vozlab.mx/conversa/internal/scheduling"
)

// Default reply texts used when a brand's persona leaves the matching field
// empty. Spanish is the operating language of every current brand.
const (
	defaultFallbackNoContext = "Por el momento no tengo esa información a la mano. ¿Hay algo más en lo que te pueda ayudar?"
	defaultFallbackLLMError  = "Disculpa, estoy teniendo un problema técnico. ¿Me escribes de nuevo en unos minutos?"
	defaultFarewell          = "¡Gracias por escribirnos, [Nombre]! Que tengas un excelente día."

	optOutReply  = "Entendido, no te enviaremos más mensajes. Si cambias de opinión, escribe \"alta\" y con gusto te atendemos de nuevo."
	optInReply   = "¡Bienvenido de vuelta, [Nombre]! ¿En qué te puedo ayudar?"
	resetReply   = "Listo, empezamos de nuevo. ¿En qué te puedo ayudar?"
	staleButton  = "Esa opción ya no está disponible. Si quieres agendar, escríbeme \"agendar\" y te comparto los horarios vigentes."
	disabledWarn = "Por este medio no puedo agendar citas."

	offerHeader       = "Estos son los horarios disponibles, [Nombre]:"
	offerFooter       = "Responde con el número del horario que prefieras."
	noSlotsReply      = "Por ahora no tengo horarios disponibles en los próximos días. Escríbeme \"agendar\" más adelante y lo intentamos de nuevo."
	schedulingError   = "No pude consultar la agenda en este momento. ¿Lo intentamos de nuevo en unos minutos?"
	bookingError      = "No pude confirmar la cita por un problema con la agenda. ¿Lo intentamos de nuevo en unos minutos?"
	invalidSelection  = "No reconocí esa opción. Responde con el número del horario que prefieras."
	selectionGiveUp   = "Parece que no logramos agendar por aquí."
	schedulingDropped = "De acuerdo, dejamos la agenda pendiente. ¿En qué más te puedo ayudar?"
	bookingConfirmed  = "¡Listo, [Nombre]! Tu cita quedó agendada para %s. Te esperamos."
)

// replyFor resolves a persona-overridable canned reply and fills the
// [Nombre] placeholder.
func replyFor(override, fallback, userName string) string {
	text := strings.TrimSpace(override)
	if text == "" {
		text = fallback
	}
	return rag.Personalize(text, userName)
}

func fallbackNoContextReply(p model.Persona, userName string) string {
	return replyFor(p.FallbackNoContext, defaultFallbackNoContext, userName)
}

func fallbackLLMErrorReply(p model.Persona, userName string) string {
	return replyFor(p.FallbackLLMError, defaultFallbackLLMError, userName)
}

func farewellReply(p model.Persona, userName string) string {
	return replyFor(p.Farewell, defaultFarewell, userName)
}

// schedulingUnavailableReply is sent when a user asks to schedule but the
// brand has no calendar. Contact notes give them somewhere to go instead.
func schedulingUnavailableReply(p model.Persona, userName string) string {
	text := disabledWarn
	if p.ContactNotes != "" {
		text += " " + p.ContactNotes
	}
	return rag.Personalize(text, userName)
}

// escalationReply is sent after the confirmation retry budget is exhausted.
func escalationReply(p model.Persona, userName string) string {
	text := selectionGiveUp
	if p.ContactNotes != "" {
		text += " " + p.ContactNotes
	} else {
		text += " Escríbeme \"agendar\" cuando quieras volver a intentarlo."
	}
	return rag.Personalize(text, userName)
}

// offerReply renders the numbered slot list plus the quick reply buttons.
// Button titles stay within the channel's 20 character limit, so they carry
// only day and hour.
func offerReply(slots []model.Slot, userName string) (string, []model.Button) {
	var sb strings.Builder
	sb.WriteString(rag.Personalize(offerHeader, userName))
	sb.WriteString("\n")
	for i, s := range slots {
		fmt.Fprintf(&sb, "\n%d. %s", i+1, scheduling.FormatSlot(s))
	}
	sb.WriteString("\n\n")
	sb.WriteString(offerFooter)

	buttons := make([]model.Button, 0, len(slots))
	for i, s := range slots {
		buttons = append(buttons, model.Button{
			ID:    fmt.Sprintf("slot_%d", i+1),
			Title: scheduling.FormatSlotShort(s),
		})
	}
	return sb.String(), buttons
}

func bookingConfirmedReply(slot model.Slot, userName string) string {
	return rag.Personalize(fmt.Sprintf(bookingConfirmed, scheduling.FormatSlot(slot)), userName)
}
