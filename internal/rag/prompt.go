package rag

import (
	"strings"

	"vozlab.mx/conversa/common/llm"
	"vozlab.mx/conversa/internal/model"
)

// PromptInput carries everything needed to build the chat messages for a turn.
type PromptInput struct {
	Persona   model.Persona
	BrandName string
	Context   Context
	History   []model.Turn // already windowed, most recent last
	UserText  string
	UserName  string
	FirstTurn bool
}

// BuildMessages renders the turn prompt: one system message carrying the
// persona and the context block, the recent history as chat turns, then the
// user message. History order is preserved.
func BuildMessages(in PromptInput) []llm.Message {
	messages := make([]llm.Message, 0, len(in.History)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: buildSystemPrompt(in)})

	for _, t := range in.History {
		role := llm.RoleUser
		if t.Role == model.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Content: t.Content})
	}

	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: in.UserText})
	return messages
}

func buildSystemPrompt(in PromptInput) string {
	var sb strings.Builder

	sb.WriteString(in.Persona.Description)
	sb.WriteString("\n")

	if in.Persona.ToneKeywords != "" {
		sb.WriteString("\n## Tono\n")
		sb.WriteString(in.Persona.ToneKeywords)
		sb.WriteString("\n")
	}

	sb.WriteString("\n## Instrucciones\n")
	sb.WriteString("- Responde únicamente con la información del contexto de la marca.\n")
	sb.WriteString("- Si el contexto no cubre la pregunta, dilo brevemente y comparte los datos de contacto.\n")
	sb.WriteString("- Responde en el idioma del usuario, en dos o tres oraciones como máximo.\n")
	sb.WriteString("- No inventes precios, fechas ni enlaces.\n")

	if in.FirstTurn {
		if g := Personalize(in.Persona.GreetingStyle, in.UserName); g != "" {
			sb.WriteString("\n## Saludo\nEs el primer mensaje del usuario. Abre con: ")
			sb.WriteString(g)
			sb.WriteString("\n")
		}
	} else if in.Persona.FollowUpStyle != "" {
		sb.WriteString("\n## Saludo\nLa conversación ya está en curso. ")
		sb.WriteString(in.Persona.FollowUpStyle)
		sb.WriteString("\n")
	}

	sb.WriteString("\n## Contexto de la marca\n")
	if in.Context.Empty() {
		sb.WriteString("(sin contexto disponible)\n")
	} else {
		sb.WriteString(in.Context.Text)
		sb.WriteString("\n")
	}

	if in.Persona.ContactNotes != "" {
		sb.WriteString("\n## Contacto\n")
		sb.WriteString(in.Persona.ContactNotes)
		sb.WriteString("\n")
	}

	return sb.String()
}

// Personalize fills the [Nombre] placeholder with the user's first name,
// or strips it when the name is unknown.
func Personalize(text, userName string) string {
	fields := strings.Fields(userName)
	if len(fields) > 0 {
		return strings.ReplaceAll(text, "[Nombre]", fields[0])
	}
	stripped := strings.ReplaceAll(text, "[Nombre]", "")
	stripped = strings.ReplaceAll(stripped, "  ", " ")
	stripped = strings.ReplaceAll(stripped, " ,", ",")
	stripped = strings.ReplaceAll(stripped, " !", "!")
	return strings.TrimSpace(stripped)
}
