package scheduling

import (
	"fmt"
	"time"
	"unicode"
	"unicode/utf8"

	"vozlab.mx/conversa/internal/model"
)

var spanishDays = [...]string{
	"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado",
}

var spanishDaysShort = [...]string{
	"dom", "lun", "mar", "mié", "jue", "vie", "sáb",
}

var spanishMonths = [...]string{
	"enero", "febrero", "marzo", "abril", "mayo", "junio",
	"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
}

// FormatSlot renders a slot in its own timezone for user-facing messages,
// e.g. "Lunes 24 de agosto, 16:00".
func FormatSlot(s model.Slot) string {
	loc := time.UTC
	if s.Timezone != "" {
		if l, err := time.LoadLocation(s.Timezone); err == nil {
			loc = l
		}
	}

	t := s.Start.In(loc)
	day := capitalize(spanishDays[int(t.Weekday())])
	month := spanishMonths[int(t.Month())-1]
	return fmt.Sprintf("%s %d de %s, %02d:%02d", day, t.Day(), month, t.Hour(), t.Minute())
}

// FormatSlotShort renders a slot compactly for button titles, which the
// channel caps at 20 characters, e.g. "Lun 24, 16:00".
func FormatSlotShort(s model.Slot) string {
	loc := time.UTC
	if s.Timezone != "" {
		if l, err := time.LoadLocation(s.Timezone); err == nil {
			loc = l
		}
	}

	t := s.Start.In(loc)
	day := capitalize(spanishDaysShort[int(t.Weekday())])
	return fmt.Sprintf("%s %d, %02d:%02d", day, t.Day(), t.Hour(), t.Minute())
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
