package channel_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"vozlab.mx/conversa/internal/channel"
	"vozlab.mx/conversa/internal/model"
)

var _ = Describe("Client", func() {
	type captured struct {
		path string
		auth string
		body map[string]any
	}

	newServer := func(status int, response any, got *captured) *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got.path = r.URL.Path
			got.auth = r.Header.Get("Authorization")
			Expect(json.NewDecoder(r.Body).Decode(&got.body)).To(Succeed())
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(response)
		}))
	}

	newClient := func(server *httptest.Server) channel.Client {
		client, err := channel.New(channel.Config{
			BaseURL:       server.URL,
			AccessToken:   "wa-token",
			PhoneNumberID: "123456789",
		})
		Expect(err).NotTo(HaveOccurred())
		return client
	}

	okResponse := map[string]any{
		"messages": []map[string]any{{"id": "wamid.OUT1"}},
	}

	Describe("SendText", func() {
		It("posts a text payload to the phone number endpoint", func() {
			var got captured
			server := newServer(http.StatusOK, okResponse, &got)
			defer server.Close()

			err := newClient(server).SendText(context.Background(), "+52 1 55 0000 0001", "hola")
			Expect(err).NotTo(HaveOccurred())

			Expect(got.path).To(Equal("/123456789/messages"))
			Expect(got.auth).To(Equal("Bearer wa-token"))
			Expect(got.body["messaging_product"]).To(Equal("whatsapp"))
			Expect(got.body["to"]).To(Equal("5215500000001"))
			Expect(got.body["type"]).To(Equal("text"))

			text, ok := got.body["text"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(text["body"]).To(Equal("hola"))
			Expect(text["preview_url"]).To(BeFalse())
		})

		It("maps an expired token to ErrTokenExpired", func() {
			var got captured
			server := newServer(http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"message": "Error validating access token", "type": "OAuthException", "code": 190},
			}, &got)
			defer server.Close()

			err := newClient(server).SendText(context.Background(), "5215500000001", "hola")
			Expect(err).To(MatchError(channel.ErrTokenExpired))
		})

		It("surfaces other channel errors with their code", func() {
			var got captured
			server := newServer(http.StatusBadRequest, map[string]any{
				"error": map[string]any{"message": "Recipient not in allowed list", "code": 131030},
			}, &got)
			defer server.Close()

			err := newClient(server).SendText(context.Background(), "5215500000001", "hola")
			Expect(err).To(HaveOccurred())
			Expect(err.Error()).To(ContainSubstring("131030"))
		})
	})

	Describe("SendButtons", func() {
		It("posts an interactive payload with reply buttons", func() {
			var got captured
			server := newServer(http.StatusOK, okResponse, &got)
			defer server.Close()

			err := newClient(server).SendButtons(context.Background(), "5215500000001", "Elige un horario:", []model.Button{
				{ID: "slot_1", Title: "Lunes 24, 16:00"},
				{ID: "slot_2", Title: "Martes 25, 16:00"},
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(got.body["type"]).To(Equal("interactive"))
			interactive, ok := got.body["interactive"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(interactive["type"]).To(Equal("button"))

			body, ok := interactive["body"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(body["text"]).To(Equal("Elige un horario:"))

			action, ok := interactive["action"].(map[string]any)
			Expect(ok).To(BeTrue())
			buttons, ok := action["buttons"].([]any)
			Expect(ok).To(BeTrue())
			Expect(buttons).To(HaveLen(2))

			first, ok := buttons[0].(map[string]any)
			Expect(ok).To(BeTrue())
			reply, ok := first["reply"].(map[string]any)
			Expect(ok).To(BeTrue())
			Expect(reply["id"]).To(Equal("slot_1"))
			Expect(reply["title"]).To(Equal("Lunes 24, 16:00"))
		})

		It("truncates titles past the channel limit and caps at three buttons", func() {
			var got captured
			server := newServer(http.StatusOK, okResponse, &got)
			defer server.Close()

			err := newClient(server).SendButtons(context.Background(), "5215500000001", "Elige:", []model.Button{
				{ID: "1", Title: "Miércoles 26 de agosto, 16:00"},
				{ID: "2", Title: "corto"},
				{ID: "3", Title: "tres"},
				{ID: "4", Title: "cuatro"},
			})
			Expect(err).NotTo(HaveOccurred())

			interactive := got.body["interactive"].(map[string]any)
			action := interactive["action"].(map[string]any)
			buttons := action["buttons"].([]any)
			Expect(buttons).To(HaveLen(3))

			first := buttons[0].(map[string]any)["reply"].(map[string]any)
			title, ok := first["title"].(string)
			Expect(ok).To(BeTrue())
			Expect([]rune(title)).To(HaveLen(20))
		})

		It("falls back to plain text when no buttons are given", func() {
			var got captured
			server := newServer(http.StatusOK, okResponse, &got)
			defer server.Close()

			err := newClient(server).SendButtons(context.Background(), "5215500000001", "sin botones", nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(got.body["type"]).To(Equal("text"))
		})
	})
})
