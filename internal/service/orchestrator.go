package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vozlab.mx/conversa/common/id"
	"vozlab.mx/conversa/common/llm"
	"vozlab.mx/conversa/common/logger"
	"vozlab.mx/conversa/internal/brand"
	"vozlab.mx/conversa/internal/conversation"
	llmx "vozlab.mx/conversa/internal/llm"
	"vozlab.mx/conversa/internal/model"
	"vozlab.mx/conversa/internal/rag"
	"vozlab.mx/conversa/internal/retriever"
	"vozlab.mx/conversa/internal/scheduling"
	"vozlab.mx/conversa/internal/store"
)

var ErrInvalidMessage = errors.New("invalid inbound message")

// Per-call budgets for the retrieval hops. The LLM client carries its own
// per-attempt timeout.
const (
	embedTimeout  = 10 * time.Second
	searchTimeout = 10 * time.Second
)

// Orchestrator runs one conversation turn end to end: dedup, brand
// resolution, intent routing, retrieval, generation, and the scheduling
// flow. A nil reply with a nil error means the turn was consumed without
// anything to send (duplicate, unknown brand, opted-out user).
type Orchestrator interface {
	Handle(ctx context.Context, msg model.InboundMessage) (*model.OutboundMessage, error)
}

type OrchestratorConfig struct {
	DefaultK        int     // chunks requested per answer
	FetchMultiplier int     // over-fetch factor before assembly
	MinContextChars int     // below this the model is not consulted
	HistoryWindow   int     // recent turns kept per conversation
	MaxTokens       int     // completion budget
	Temperature     float64 // completion temperature
	DaysAhead       int     // scheduling lookahead window
	Timezone        string  // default scheduling timezone
	OfferLimit      int     // slots offered per scheduling round
	MaxRetries      int     // invalid confirmations tolerated before escalating
}

// OrchestratorDeps wires the orchestrator's collaborators. Scheduler,
// intents, interactions, and bookings may be nil: scheduling falls back to
// the persona's contact notes and audit writes are skipped.
type OrchestratorDeps struct {
	Registry      *brand.Registry
	Conversations conversation.Store
	Locks         *conversation.Locks
	Dedup         conversation.Dedup
	Embedder      rag.Embedder
	Retriever     retriever.Retriever
	Assembler     *rag.Assembler
	LLM           llmx.Client
	Scheduler     scheduling.Client
	Intents       *IntentDetector
	Interactions  store.InteractionStore
	Bookings      store.BookingStore
}

type orchestrator struct {
	deps OrchestratorDeps
	cfg  OrchestratorConfig
}

func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) (Orchestrator, error) {
	if deps.Registry == nil || deps.Conversations == nil || deps.Locks == nil || deps.Dedup == nil {
		return nil, fmt.Errorf("registry, conversation store, locks, and dedup are required")
	}
	if deps.Embedder == nil || deps.Retriever == nil || deps.Assembler == nil || deps.LLM == nil {
		return nil, fmt.Errorf("embedder, retriever, assembler, and llm client are required")
	}
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 3
	}
	if cfg.FetchMultiplier <= 0 {
		cfg.FetchMultiplier = 2
	}
	if cfg.MinContextChars <= 0 {
		cfg.MinContextChars = 50
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 300
	}
	if cfg.DaysAhead <= 0 {
		cfg.DaysAhead = 7
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "America/Mexico_City"
	}
	if cfg.OfferLimit <= 0 {
		cfg.OfferLimit = 3
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	return &orchestrator{deps: deps, cfg: cfg}, nil
}

// turnOutcome is what a routed turn decided, before the commit step applies
// it to history, storage, and the audit log.
type turnOutcome struct {
	replyText   string
	buttons     []model.Button
	kind        model.InteractionKind // empty skips the audit row
	recordUser  bool                  // append the user's message to history
	recordReply bool                  // append the reply to history
	markGreeted bool                  // this reply counts as first contact
	save        bool
	silent      bool // consume the turn without an outbound message
}

func reply(text string, kind model.InteractionKind) turnOutcome {
	return turnOutcome{replyText: text, kind: kind, recordUser: true, recordReply: true, markGreeted: true, save: true}
}

func (o *orchestrator) Handle(ctx context.Context, msg model.InboundMessage) (out *model.OutboundMessage, err error) {
	if msg.BrandKey == "" || msg.UserID == "" || msg.MessageID == "" {
		return nil, fmt.Errorf("%w: missing brand, user, or message ID", ErrInvalidMessage)
	}
	userText := msg.Text
	if userText == "" && msg.ButtonID == "" {
		return nil, fmt.Errorf("%w: no text or button", ErrInvalidMessage)
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		BrandKey:  logger.Ptr(msg.BrandKey),
		UserID:    logger.Ptr(msg.UserID),
		MessageID: logger.Ptr(msg.MessageID),
		Component: "conversa.service.orchestrator",
	})

	won, err := o.deps.Dedup.Acquire(ctx, msg.MessageID)
	if err != nil {
		return nil, fmt.Errorf("acquiring dedup marker: %w", err)
	}
	if !won {
		slog.InfoContext(ctx, "duplicate message suppressed")
		return nil, nil
	}
	// On failure the marker is withdrawn so a redelivery can try again. On
	// success it stays, which is what makes redeliveries no-ops.
	defer func() {
		if err != nil {
			if relErr := o.deps.Dedup.Release(ctx, msg.MessageID); relErr != nil {
				slog.WarnContext(ctx, "failed to release dedup marker", "error", relErr)
			}
		}
	}()

	b, err := o.deps.Registry.Get(msg.BrandKey)
	if err != nil {
		if errors.Is(err, brand.ErrUnknownBrand) {
			// Dropped for good: there is no persona to reply with, and
			// the kept marker stops redeliveries from retrying.
			slog.WarnContext(ctx, "message for unknown brand dropped")
			return nil, nil
		}
		return nil, fmt.Errorf("resolving brand: %w", err)
	}

	lockKey := b.Key + ":" + msg.UserID
	if err = o.deps.Locks.Acquire(ctx, lockKey); err != nil {
		return nil, fmt.Errorf("acquiring turn lock: %w", err)
	}
	defer o.deps.Locks.Release(lockKey)

	conv, err := o.deps.Conversations.Load(ctx, b.Key, msg.UserID)
	if err != nil {
		return nil, fmt.Errorf("loading conversation: %w", err)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{Stage: logger.Ptr(string(conv.Stage))})
	if msg.UserName != "" {
		conv.UserName = msg.UserName
	}

	now := msg.ReceivedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	outcome := o.route(ctx, b, conv, msg, userText)
	return o.commit(ctx, b, conv, msg, userText, now, outcome)
}

// route decides what this turn does. It mutates conv freely; nothing is
// persisted until commit.
func (o *orchestrator) route(ctx context.Context, b model.Brand, conv *model.Conversation, msg model.InboundMessage, userText string) turnOutcome {
	kwIntent := DetectIntent(userText)

	// Opted-out users stay silent until an explicit opt-in.
	if !conv.Subscribed {
		if kwIntent == IntentOptIn {
			conv.Subscribed = true
			conv.ResetFlow()
			return reply(rag.Personalize(optInReply, conv.UserName), model.InteractionOptIn)
		}
		slog.InfoContext(ctx, "message from opted-out user dropped")
		return turnOutcome{silent: true}
	}

	switch kwIntent {
	case IntentOptOut:
		conv.Subscribed = false
		conv.ResetFlow()
		return reply(optOutReply, model.InteractionOptOut)
	case IntentReset:
		conv.History = nil
		conv.Greeted = false
		conv.ResetFlow()
		// Fresh start: neither the request nor the acknowledgement enters
		// the new history.
		return turnOutcome{replyText: resetReply, kind: model.InteractionReset, save: true}
	}

	if conv.Stage == model.StageConfirming || conv.Stage == model.StageOffering {
		return o.continueScheduling(ctx, b, conv, msg, userText, kwIntent)
	}

	if msg.ButtonID != "" {
		// A quick reply from an offer that has since expired.
		slog.InfoContext(ctx, "stale quick reply ignored", "button_id", msg.ButtonID)
		return turnOutcome{replyText: rag.Personalize(staleButton, conv.UserName)}
	}

	intent := kwIntent
	if intent == IntentChat && o.deps.Intents != nil {
		intent = o.deps.Intents.Detect(ctx, userText)
	}

	switch intent {
	case IntentFarewell:
		return reply(farewellReply(b.Persona, conv.UserName), model.InteractionFarewell)
	case IntentSchedule:
		if b.SchedulingEnabled && o.deps.Scheduler != nil {
			return o.offerSlots(ctx, b, conv)
		}
		return reply(schedulingUnavailableReply(b.Persona, conv.UserName), model.InteractionFallback)
	}

	return o.answer(ctx, b, conv, userText)
}

// answer is the retrieval path: embed the query, search the brand's
// collection, assemble the context, and generate. Retrieval failures
// degrade to an empty context rather than failing the turn.
func (o *orchestrator) answer(ctx context.Context, b model.Brand, conv *model.Conversation, userText string) turnOutcome {
	var assembled rag.Context

	embedCtx, cancel := context.WithTimeout(ctx, embedTimeout)
	vector, err := o.deps.Embedder.EmbedQuery(embedCtx, userText)
	cancel()
	if err != nil {
		slog.WarnContext(ctx, "query embedding failed, answering without context", "error", err)
	} else {
		searchCtx, cancel := context.WithTimeout(ctx, searchTimeout)
		chunks, err := o.deps.Retriever.Search(searchCtx, b.Collection, vector, o.cfg.DefaultK*o.cfg.FetchMultiplier)
		cancel()
		if err != nil {
			slog.WarnContext(ctx, "vector search failed, answering without context", "error", err)
		} else {
			assembled = o.deps.Assembler.Assemble(chunks)
		}
	}

	if assembled.Len() < o.cfg.MinContextChars {
		slog.InfoContext(ctx, "context below minimum, sending fallback",
			"context_chars", assembled.Len(),
			"min_chars", o.cfg.MinContextChars)
		return reply(fallbackNoContextReply(b.Persona, conv.UserName), model.InteractionFallback)
	}

	messages := rag.BuildMessages(rag.PromptInput{
		Persona:   b.Persona,
		BrandName: b.Name,
		Context:   assembled,
		History:   conv.History,
		UserText:  userText,
		UserName:  conv.UserName,
		FirstTurn: !conv.Greeted,
	})

	result, err := o.deps.LLM.Complete(ctx, llmx.CompletionRequest{
		Messages:    messages,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: llm.Temp(o.cfg.Temperature),
	})
	if err != nil {
		slog.ErrorContext(ctx, "completion failed, sending fallback", "error", err)
		// The user's turn still enters history so a follow-up keeps its
		// place in the dialogue, but the canned apology does not.
		return turnOutcome{
			replyText:   fallbackLLMErrorReply(b.Persona, conv.UserName),
			kind:        model.InteractionFallback,
			recordUser:  true,
			markGreeted: true,
			save:        true,
		}
	}

	slog.InfoContext(ctx, "turn answered",
		"attempts", result.Attempts,
		"prompt_tokens", result.PromptTokens,
		"completion_tokens", result.CompletionTokens,
		"context_docs", len(assembled.DocIDs))

	return reply(result.Content, model.InteractionRAGAnswer)
}

// commit applies an outcome: history, persistence, the audit row, and the
// outbound message. Save failures abort the turn so the dedup marker is
// released and a redelivery replays it against unchanged state.
func (o *orchestrator) commit(ctx context.Context, b model.Brand, conv *model.Conversation, msg model.InboundMessage, userText string, now time.Time, out turnOutcome) (*model.OutboundMessage, error) {
	if out.recordUser {
		historyText := userText
		if historyText == "" {
			historyText = msg.ButtonID
		}
		conv.Append(model.RoleUser, historyText, now)
	}
	if out.recordReply && out.replyText != "" {
		conv.Append(model.RoleAssistant, out.replyText, now)
	}

	if out.save {
		if out.markGreeted && out.replyText != "" {
			conv.Greeted = true
		}
		conv.LastActivity = now
		conv.TrimHistory(o.cfg.HistoryWindow * 2)
		if err := o.deps.Conversations.Save(ctx, conv); err != nil {
			return nil, fmt.Errorf("saving conversation: %w", err)
		}
	}

	o.recordInteraction(ctx, b, msg, userText, out)

	if out.silent || out.replyText == "" {
		return nil, nil
	}
	return &model.OutboundMessage{
		UserID:  msg.UserID,
		Text:    out.replyText,
		Buttons: out.buttons,
	}, nil
}

// recordInteraction writes the per-turn audit row. Best effort: a failed
// write never fails an otherwise delivered turn.
func (o *orchestrator) recordInteraction(ctx context.Context, b model.Brand, msg model.InboundMessage, userText string, out turnOutcome) {
	if o.deps.Interactions == nil || out.kind == "" {
		return
	}
	interaction := &model.Interaction{
		ID:        id.New(),
		BrandID:   b.ID,
		UserID:    msg.UserID,
		Kind:      out.kind,
		UserText:  userText,
		ReplyText: out.replyText,
	}
	if err := o.deps.Interactions.Create(ctx, interaction); err != nil {
		slog.WarnContext(ctx, "failed to record interaction", "kind", out.kind, "error", err)
	}
}
