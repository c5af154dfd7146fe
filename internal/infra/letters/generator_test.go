package letters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/outreach"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completion(content string) []byte {
	raw, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
	return raw
}

func newTestGenerator(t *testing.T, lastPrompt *string, reply string) *Generator {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		if lastPrompt != nil && len(body.Messages) > 0 {
			*lastPrompt = body.Messages[len(body.Messages)-1].Content
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(completion(reply))
	}))
	t.Cleanup(srv.Close)

	return NewGenerator(Config{
		APIKey:     "sk-test",
		BaseURL:    srv.URL + "/",
		Model:      "gpt-4o-mini",
		SenderName: "Max Mustermann",
		OurCompany: "Beispiel GmbH",
	}, option.WithMaxRetries(0))
}

func TestGenerateLetter(t *testing.T) {
	var prompt string
	g := newTestGenerator(t, &prompt, "```json\n{\"betreff\":\"Zusammenarbeit\",\"anrede\":\"Sehr geehrte Frau Smith,\",\"brieftext\":\"Text\"}\n```")

	letter, err := g.GenerateLetter(context.Background(), outreach.LetterRequest{
		Contact: outreach.Contact{FullName: "Jane Smith"},
		Profile: outreach.Profile{Headline: "CTO"},
		Dossier: outreach.DossierResult{CompanyName: "Acme", PersonDossier: "person", CompanyDossier: "company"},
	})
	require.NoError(t, err)
	assert.Equal(t, outreach.LetterContent{
		Subject:       "Zusammenarbeit",
		Greeting:      "Sehr geehrte Frau Smith,",
		Body:          "Text",
		SenderName:    "Max Mustermann",
		RecipientName: "Jane Smith",
		CompanyName:   "Acme",
	}, letter)
	assert.Contains(t, prompt, "Position: CTO")
	assert.Contains(t, prompt, "Firmendossier:\ncompany")
}

func TestRegenerateLetterIncludesHistoryAndFeedback(t *testing.T) {
	var prompt string
	g := newTestGenerator(t, &prompt, `{"betreff":"Neu","anrede":"Hallo","brieftext":"Kürzer"}`)

	letter, err := g.RegenerateLetter(context.Background(), outreach.RegenerationRequest{
		RecipientName: "Jane Smith",
		CompanyName:   "Acme",
		Current:       outreach.LetterContent{Subject: "Alt", Body: "Lang"},
		History:       []outreach.Revision{{Iteration: 1, Content: outreach.LetterContent{Subject: "Alt"}, Feedback: "too formal"}},
		Feedback:      "too formal",
		Address:       outreach.MailingAddress{Street: "Weg 1", City: "Berlin", PostalCode: "10115", Country: "Germany"},
	})
	require.NoError(t, err)
	assert.Equal(t, "Kürzer", letter.Body)
	assert.Equal(t, "Acme", letter.CompanyName)
	assert.Contains(t, prompt, "--- Fassung 1 ---")
	assert.Contains(t, prompt, "Feedback: too formal")
}

func TestUnreadableModelOutput(t *testing.T) {
	g := newTestGenerator(t, nil, "Sehr geehrte Frau Smith, ...")
	_, err := g.GenerateLetter(context.Background(), outreach.LetterRequest{})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.KindDeserialization))
}

func TestParseDraftRequiresBody(t *testing.T) {
	_, err := parseDraft(`{"betreff":"x","anrede":"y","brieftext":"  "}`, "Max")
	assert.True(t, apperror.Is(err, apperror.KindValidation))
}
