package service

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"vozlab.mx/conversa/common/id"
	"vozlab.mx/conversa/internal/model"
	"vozlab.mx/conversa/internal/rag"
	"vozlab.mx/conversa/internal/scheduling"
)

// offerSlots starts the scheduling flow: list availability, present the
// first few slots as a numbered list with quick replies, and wait for a
// confirmation. Calendar trouble drops the conversation back to idle with
// an apology rather than wedging the flow.
func (o *orchestrator) offerSlots(ctx context.Context, b model.Brand, conv *model.Conversation) turnOutcome {
	tz := b.Timezone
	if tz == "" {
		tz = o.cfg.Timezone
	}

	conv.Stage = model.StageOffering
	slots, err := o.deps.Scheduler.ListSlots(ctx, b.EventTypeURI, o.cfg.DaysAhead, tz)
	if err != nil {
		slog.ErrorContext(ctx, "listing slots failed", "error", err)
		conv.ResetFlow()
		return reply(schedulingError, model.InteractionFallback)
	}
	if len(slots) == 0 {
		slog.InfoContext(ctx, "no slots available", "days_ahead", o.cfg.DaysAhead)
		conv.ResetFlow()
		return reply(noSlotsReply, model.InteractionFallback)
	}
	if len(slots) > o.cfg.OfferLimit {
		slots = slots[:o.cfg.OfferLimit]
	}

	conv.Stage = model.StageConfirming
	conv.OfferedSlots = slots
	conv.Retries = 0

	text, buttons := offerReply(slots, conv.UserName)
	out := reply(text, model.InteractionSchedulingOffer)
	out.buttons = buttons
	return out
}

// continueScheduling interprets a message that arrived while slots were on
// the table. A recognizable pick books it; a pick that matches nothing
// re-prompts until the retry budget runs out; anything else abandons the
// flow and returns to idle.
func (o *orchestrator) continueScheduling(ctx context.Context, b model.Brand, conv *model.Conversation, msg model.InboundMessage, userText string, kwIntent Intent) turnOutcome {
	idx, sel := parseSelection(msg, conv.OfferedSlots)

	switch sel {
	case selectionHit:
		return o.book(ctx, b, conv, msg, conv.OfferedSlots[idx])

	case selectionInvalid:
		conv.Retries++
		if conv.Retries > o.cfg.MaxRetries {
			slog.InfoContext(ctx, "confirmation retries exhausted", "retries", conv.Retries)
			conv.ResetFlow()
			return reply(escalationReply(b.Persona, conv.UserName), model.InteractionFallback)
		}
		return reply(invalidSelection, model.InteractionFallback)
	}

	// Not a pick at all. A fresh scheduling request restarts the offer,
	// a goodbye closes politely, anything else abandons the flow.
	switch kwIntent {
	case IntentSchedule:
		return o.offerSlots(ctx, b, conv)
	case IntentFarewell:
		conv.ResetFlow()
		return reply(farewellReply(b.Persona, conv.UserName), model.InteractionFarewell)
	}

	slog.InfoContext(ctx, "scheduling flow abandoned", "text", userText)
	conv.ResetFlow()
	return reply(rag.Personalize(schedulingDropped, conv.UserName), model.InteractionFallback)
}

// book creates the calendar event for the chosen slot. Booking is a single
// shot: invitee creation is not idempotent, so a failure apologizes and
// resets instead of retrying.
func (o *orchestrator) book(ctx context.Context, b model.Brand, conv *model.Conversation, msg model.InboundMessage, slot model.Slot) turnOutcome {
	attendee := scheduling.Attendee{
		Name:  conv.UserName,
		Email: syntheticEmail(msg.UserID),
		Phone: msg.UserID,
	}
	if attendee.Name == "" {
		attendee.Name = "Invitado"
	}

	booking, err := o.deps.Scheduler.Book(ctx, b.EventTypeURI, slot, attendee)
	if err != nil {
		slog.ErrorContext(ctx, "booking failed", "slot", slot.Start, "error", err)
		conv.ResetFlow()
		return reply(bookingError, model.InteractionFallback)
	}

	booking.ID = id.New()
	booking.BrandID = b.ID
	booking.UserID = msg.UserID
	if o.deps.Bookings != nil {
		if err := o.deps.Bookings.Create(ctx, booking); err != nil {
			// The event exists remotely, so the user still gets their
			// confirmation. The row can be backfilled from the calendar.
			slog.WarnContext(ctx, "booking created remotely but not persisted",
				"invitee_uri", booking.InviteeURI, "error", err)
		}
	}

	slog.InfoContext(ctx, "booking confirmed",
		"slot", slot.Start,
		"event_uri", booking.EventURI)

	// Terminal for this flow. StageBooked routes like idle, so a later
	// message can chat or start a new booking.
	conv.ResetFlow()
	conv.Stage = model.StageBooked
	return reply(bookingConfirmedReply(slot, conv.UserName), model.InteractionBooking)
}

type selection int

const (
	selectionNone    selection = iota // message does not look like a slot pick
	selectionInvalid                  // looked like a pick but matched nothing offered
	selectionHit
)

// parseSelection matches a message against the offered slots: a quick reply
// ID, a bare number, or a weekday name that identifies exactly one slot.
func parseSelection(msg model.InboundMessage, slots []model.Slot) (int, selection) {
	if msg.ButtonID != "" {
		raw, ok := strings.CutPrefix(msg.ButtonID, "slot_")
		if !ok {
			return 0, selectionInvalid
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > len(slots) {
			return 0, selectionInvalid
		}
		return n - 1, selectionHit
	}

	normalized := normalizeText(msg.Text)
	for _, tok := range strings.FieldsFunc(normalized, nonWord) {
		n, err := strconv.Atoi(tok)
		if err != nil {
			continue
		}
		if n >= 1 && n <= len(slots) {
			return n - 1, selectionHit
		}
		return 0, selectionInvalid
	}

	// "el lunes" picks the slot on that day, as long as only one qualifies
	matched := -1
	for i, s := range slots {
		day := normalizeText(strings.Fields(scheduling.FormatSlot(s))[0])
		if !containsWord(normalized, day) {
			continue
		}
		if matched >= 0 {
			return 0, selectionInvalid
		}
		matched = i
	}
	if matched >= 0 {
		return matched, selectionHit
	}

	return 0, selectionNone
}

// syntheticEmail derives the invitee email the calendar API requires from
// the channel identifier, which is a phone number.
func syntheticEmail(userID string) string {
	var digits strings.Builder
	for _, r := range userID {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return "invitado@invitados.vozlab.mx"
	}
	return digits.String() + "@invitados.vozlab.mx"
}
