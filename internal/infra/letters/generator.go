// internal/infra/letters/generator.go
package letters

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/outreach"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"
)

// Config selects the model and the sender the letters are written for.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	SenderName  string
	OurCompany  string
	Temperature float64
}

// Generator drafts outreach letters with a chat completion model.
type Generator struct {
	client openai.Client
	cfg    Config
	logger *logrus.Entry
}

var _ outreach.LetterGenerator = (*Generator)(nil)

func NewGenerator(cfg Config, opts ...option.RequestOption) *Generator {
	clientOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.BaseURL))
	}
	clientOpts = append(clientOpts, opts...)
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	return &Generator{
		client: openai.NewClient(clientOpts...),
		cfg:    cfg,
		logger: logger.Component("letters"),
	}
}

// draft is the JSON object the model is asked to return.
type draft struct {
	Subject  string `json:"betreff"`
	Greeting string `json:"anrede"`
	Body     string `json:"brieftext"`
}

const systemPrompt = `Du schreibst persönliche Geschäftsbriefe auf Deutsch für %s (%s).
Der Brief muss auf eine DIN-A4-Seite passen. Antworte ausschließlich mit einem JSON-Objekt
mit den Feldern "betreff", "anrede" und "brieftext". Keine Grußformel und keine Signatur im
Brieftext.`

func (g *Generator) GenerateLetter(ctx context.Context, req outreach.LetterRequest) (outreach.LetterContent, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Empfänger: %s\n", req.Contact.FullName)
	if req.Profile.Headline != "" {
		fmt.Fprintf(&b, "Position: %s\n", req.Profile.Headline)
	}
	fmt.Fprintf(&b, "Firma: %s\n", req.Dossier.CompanyName)
	if req.Profile.Location != "" {
		fmt.Fprintf(&b, "Ort: %s\n", req.Profile.Location)
	}
	fmt.Fprintf(&b, "\nPersonendossier:\n%s\n\nFirmendossier:\n%s\n", req.Dossier.PersonDossier, req.Dossier.CompanyDossier)
	b.WriteString("\nSchreibe einen Einführungsbrief, der an die Person und ihre Firma anknüpft.")

	g.logger.WithFields(logrus.Fields{
		"recipient":     req.Contact.FullName,
		"company":       req.Dossier.CompanyName,
		"person_chars":  len(req.Dossier.PersonDossier),
		"company_chars": len(req.Dossier.CompanyDossier),
	}).Info("Requesting letter draft")

	letter, err := g.complete(ctx, b.String())
	if err != nil {
		return outreach.LetterContent{}, err
	}
	letter.RecipientName = req.Contact.FullName
	letter.CompanyName = req.Dossier.CompanyName
	return letter, nil
}

func (g *Generator) RegenerateLetter(ctx context.Context, req outreach.RegenerationRequest) (outreach.LetterContent, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Empfänger: %s\n", req.RecipientName)
	if req.RecipientTitle != "" {
		fmt.Fprintf(&b, "Position: %s\n", req.RecipientTitle)
	}
	fmt.Fprintf(&b, "Firma: %s\n", req.CompanyName)
	fmt.Fprintf(&b, "Adresse: %s, %s %s, %s\n", req.Address.Street, req.Address.PostalCode, req.Address.City, req.Address.Country)
	fmt.Fprintf(&b, "\nPersonendossier:\n%s\n\nFirmendossier:\n%s\n", req.PersonDossier, req.CompanyDossier)

	b.WriteString("\nBisherige Fassungen:\n")
	for _, rev := range req.History {
		fmt.Fprintf(&b, "--- Fassung %d ---\n%s\n%s\n%s\n", rev.Iteration, rev.Content.Subject, rev.Content.Greeting, rev.Content.Body)
		if rev.Feedback != "" {
			fmt.Fprintf(&b, "Feedback: %s\n", rev.Feedback)
		}
	}
	fmt.Fprintf(&b, "\nAktuelle Fassung:\n%s\n%s\n%s\n", req.Current.Subject, req.Current.Greeting, req.Current.Body)
	fmt.Fprintf(&b, "\nÜberarbeite die aktuelle Fassung anhand dieses Feedbacks: %s", req.Feedback)

	g.logger.WithFields(logrus.Fields{
		"recipient": req.RecipientName,
		"company":   req.CompanyName,
		"revisions": len(req.History),
	}).Info("Requesting improved letter")

	letter, err := g.complete(ctx, b.String())
	if err != nil {
		return outreach.LetterContent{}, err
	}
	letter.RecipientName = req.RecipientName
	letter.CompanyName = req.CompanyName
	return letter, nil
}

func (g *Generator) complete(ctx context.Context, prompt string) (outreach.LetterContent, error) {
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: g.cfg.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(fmt.Sprintf(systemPrompt, g.cfg.SenderName, g.cfg.OurCompany)),
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(g.cfg.Temperature),
	})
	if err != nil {
		return outreach.LetterContent{}, apperror.Wrap(apperror.KindServiceUnavailable, err, "letter generation request failed")
	}
	if len(resp.Choices) == 0 {
		return outreach.LetterContent{}, apperror.ServiceUnavailable("no letter returned by the model")
	}
	return parseDraft(resp.Choices[0].Message.Content, g.cfg.SenderName)
}

// parseDraft decodes the model output. Markdown code fences around the JSON are tolerated.
func parseDraft(content, sender string) (outreach.LetterContent, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var d draft
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &d); err != nil {
		return outreach.LetterContent{}, apperror.Wrap(apperror.KindDeserialization, err, "model returned an unreadable letter")
	}
	if strings.TrimSpace(d.Body) == "" {
		return outreach.LetterContent{}, apperror.Validation("model returned a letter without body")
	}
	return outreach.LetterContent{
		Subject:    strings.TrimSpace(d.Subject),
		Greeting:   strings.TrimSpace(d.Greeting),
		Body:       strings.TrimSpace(d.Body),
		SenderName: sender,
	}, nil
}
