// internal/infra/dossier/client.go
package dossier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/outreach"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/sirupsen/logrus"
)

// Client asks the research service for a person and a company dossier.
type Client struct {
	baseURL string
	http    *http.Client
	logDir  string // when set, every exchange is written there for later inspection
	now     func() time.Time
	logger  *logrus.Entry
}

var _ outreach.DossierGenerator = (*Client)(nil)

func NewClient(baseURL string, timeout time.Duration, logDir string) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logDir:  logDir,
		now:     time.Now,
		logger:  logger.Component("dossier"),
	}
}

type generateRequest struct {
	ZohoContactID       string `json:"zoho_contact_id"`
	LinkedInID          string `json:"linkedin_id"`
	LinkedInProfileJSON string `json:"linkedin_profile_json"`
	ExtractAddress      bool   `json:"extract_address"`
	ExtractCompanyName  bool   `json:"extract_company_name"`
}

type address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

type generateResponse struct {
	PersonDossier *struct {
		Content string `json:"content"`
	} `json:"person_dossier"`
	CompanyDossier *struct {
		Content        string   `json:"content"`
		CompanyName    string   `json:"company_name"`
		MailingAddress *address `json:"mailing_address"`
	} `json:"company_dossier"`
}

// GenerateDossiers researches the profile's person and employer. The company dossier is
// required; the person dossier may be empty.
func (c *Client) GenerateDossiers(ctx context.Context, profile *outreach.Profile, contactID outreach.ContactID) (*outreach.DossierResult, error) {
	profileJSON, err := json.Marshal(profile.RawData)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindSerialization, err, "failed to encode LinkedIn profile")
	}
	payload, err := json.Marshal(generateRequest{
		ZohoContactID:       string(contactID),
		LinkedInID:          profile.ProfileID,
		LinkedInProfileJSON: string(profileJSON),
		ExtractAddress:      true,
		ExtractCompanyName:  true,
	})
	if err != nil {
		return nil, apperror.Wrap(apperror.KindSerialization, err, "failed to encode dossier request")
	}

	stamp := c.now().UTC().Format("20060102_150405.000000")
	c.record(stamp, contactID, "request", payload)
	log := c.logger.WithField("contact_id", contactID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/dossiers", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("error building dossier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.record(stamp, contactID, "error", []byte(fmt.Sprintf("%q", err.Error())))
		return nil, apperror.Wrap(apperror.KindServiceUnavailable, err, "dossier service request failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindServiceUnavailable, err, "failed to read dossier response")
	}
	c.record(stamp, contactID, "response", body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperror.ServiceUnavailable("dossier service returned %d: %s", resp.StatusCode, string(body))
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, apperror.Wrap(apperror.KindDeserialization, err, "failed to decode dossier response")
	}
	if out.CompanyDossier == nil {
		return nil, apperror.ServiceUnavailable("no company dossier in response")
	}

	result := &outreach.DossierResult{
		CompanyDossier: out.CompanyDossier.Content,
		CompanyName:    strings.TrimSpace(out.CompanyDossier.CompanyName),
	}
	if out.PersonDossier != nil {
		result.PersonDossier = out.PersonDossier.Content
	}
	if a := out.CompanyDossier.MailingAddress; a != nil {
		addr := outreach.MailingAddress{
			Street:     a.Street,
			City:       a.City,
			PostalCode: a.PostalCode,
			Country:    a.Country,
		}
		if a.State != "" {
			state := a.State
			addr.State = &state
		}
		result.MailingAddress = &addr
	}

	log.WithFields(logrus.Fields{
		"company":       result.CompanyName,
		"has_address":   result.MailingAddress != nil,
		"person_chars":  len(result.PersonDossier),
		"company_chars": len(result.CompanyDossier),
	}).Info("Dossiers generated")
	return result, nil
}

// record writes one exchange to the log directory. Failures only produce a warning.
func (c *Client) record(stamp string, contactID outreach.ContactID, kind string, payload []byte) {
	if c.logDir == "" {
		return
	}
	entry, err := json.MarshalIndent(map[string]any{
		"timestamp":  stamp,
		"contact_id": contactID,
		"type":       kind,
		"payload":    json.RawMessage(validJSON(payload)),
	}, "", "  ")
	if err == nil {
		err = os.MkdirAll(c.logDir, 0o755)
	}
	if err == nil {
		name := fmt.Sprintf("%s_%s_%s.json", stamp, contactID, kind)
		err = os.WriteFile(filepath.Join(c.logDir, name), entry, 0o644)
	}
	if err != nil {
		c.logger.WithError(err).Warn("Failed to record dossier exchange")
	}
}

func validJSON(b []byte) []byte {
	if json.Valid(b) {
		return b
	}
	quoted, _ := json.Marshal(string(b))
	return quoted
}
