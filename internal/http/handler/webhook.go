package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"

	"vozlab.mx/conversa/internal/http/dto"
	"vozlab.mx/conversa/internal/service"
)

type WebhookHandler struct {
	ingest      service.IngestService
	verifyToken string
}

func NewWebhookHandler(ingest service.IngestService, verifyToken string) *WebhookHandler {
	return &WebhookHandler{
		ingest:      ingest,
		verifyToken: verifyToken,
	}
}

// Verify answers the channel's subscription handshake by echoing the
// challenge when the token matches.
func (h *WebhookHandler) Verify(c *gin.Context) {
	mode := c.Query("hub.mode")
	token := c.Query("hub.verify_token")
	challenge := c.Query("hub.challenge")

	if mode == "subscribe" && token == h.verifyToken {
		c.String(http.StatusOK, challenge)
		return
	}

	slog.WarnContext(c.Request.Context(), "webhook verification rejected",
		"mode", mode,
		"brand_key", c.Param("brand"))
	c.JSON(http.StatusForbidden, gin.H{"error": "verification failed"})
}

// Receive ingests a webhook delivery. It always answers 200 once the
// payload is read: a non-200 makes the channel redeliver the whole batch,
// and redelivery is already covered by the queue and the dedup marker.
func (h *WebhookHandler) Receive(c *gin.Context) {
	ctx := c.Request.Context()
	brandKey := c.Param("brand")

	var payload dto.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		slog.WarnContext(ctx, "undecodable webhook payload", "brand_key", brandKey, "error", err)
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
		return
	}

	var traceID *string
	if spanCtx := trace.SpanContextFromContext(ctx); spanCtx.IsValid() {
		tid := spanCtx.TraceID().String()
		traceID = &tid
	}

	accepted := 0
	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			if change.Field != "messages" {
				continue
			}

			names := contactNames(change.Value.Contacts)
			for _, m := range change.Value.Messages {
				params := messageParams(brandKey, m, names)
				params.TraceID = traceID

				result, err := h.ingest.Ingest(ctx, params)
				if err != nil {
					// One bad message must not block the rest of the batch
					slog.ErrorContext(ctx, "failed to ingest webhook message",
						"brand_key", brandKey,
						"message_id", m.ID,
						"error", err)
					continue
				}
				if result.Status == service.IngestAccepted {
					accepted++
				}
			}
		}
	}

	slog.InfoContext(ctx, "webhook delivery processed",
		"brand_key", brandKey,
		"accepted", accepted)
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// messageParams flattens one channel message into ingest params. Unhandled
// message types (media, location, reactions) keep an empty text and are
// skipped downstream.
func messageParams(brandKey string, m dto.WebhookMessage, names map[string]string) service.IngestParams {
	params := service.IngestParams{
		BrandKey:  brandKey,
		UserID:    m.From,
		UserName:  names[m.From],
		MessageID: m.ID,
	}

	if ts, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
		params.ReceivedAt = time.Unix(ts, 0).UTC()
	}

	switch {
	case m.Text != nil:
		params.Text = m.Text.Body
	case m.Interactive != nil && m.Interactive.ButtonReply != nil:
		params.ButtonID = m.Interactive.ButtonReply.ID
		params.Text = m.Interactive.ButtonReply.Title
	case m.Button != nil:
		params.ButtonID = m.Button.Payload
		params.Text = m.Button.Text
	}

	return params
}

func contactNames(contacts []dto.WebhookContact) map[string]string {
	names := make(map[string]string, len(contacts))
	for _, c := range contacts {
		if c.Profile.Name != "" {
			names[c.WaID] = c.Profile.Name
		}
	}
	return names
}
