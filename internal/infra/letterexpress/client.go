// internal/infra/letterexpress/client.go
package letterexpress

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/outreach"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Config holds the print-and-mail account. Mode is "test" or "live"; test jobs are never
// printed.
type Config struct {
	BaseURL  string
	Username string
	APIKey   string
	Mode     string
}

// Client submits PDF letters to the print-and-mail service.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *logrus.Entry
}

var _ outreach.MailDispatcher = (*Client)(nil)

func NewClient(cfg Config) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 60 * time.Second},
		logger: logger.Component("letterexpress"),
	}
}

type auth struct {
	Username string `json:"username"`
	APIKey   string `json:"apikey"`
	Mode     string `json:"mode"`
}

type specification struct {
	Color int    `json:"color"`
	Mode  string `json:"mode"`
	Ship  string `json:"ship"`
}

type letter struct {
	Base64File     string        `json:"base64_file"`
	Base64Checksum string        `json:"base64_checksum"`
	Specification  specification `json:"specification"`
}

type setJobRequest struct {
	Auth   auth   `json:"auth"`
	Letter letter `json:"letter"`
}

// Send submits the letter and returns the job id. "unknown" is returned when the service
// accepts the job without naming it.
func (c *Client) Send(ctx context.Context, req outreach.MailRequest) (string, error) {
	if len(req.Document) == 0 {
		return "", apperror.Validation("cannot send an empty document")
	}
	encoded := base64.StdEncoding.EncodeToString(req.Document)
	sum := md5.Sum([]byte(encoded))

	payload, err := json.Marshal(setJobRequest{
		Auth: c.auth(),
		Letter: letter{
			Base64File:     encoded,
			Base64Checksum: hex.EncodeToString(sum[:]),
			Specification:  specFor(req.Options),
		},
	})
	if err != nil {
		return "", apperror.Wrap(apperror.KindSerialization, err, "failed to encode mail job")
	}

	body, err := c.do(ctx, http.MethodPost, "/setJob", payload)
	if err != nil {
		return "", err
	}

	jobID := "unknown"
	for _, key := range []string{"job_id", "id", "jid", "data.jid", "data.id"} {
		if v := gjson.GetBytes(body, key); v.Exists() && v.String() != "" {
			jobID = v.String()
			break
		}
	}
	c.logger.WithFields(logrus.Fields{
		"job_id":  jobID,
		"mode":    c.cfg.Mode,
		"bytes":   len(req.Document),
		"country": req.RecipientAddress.Country,
	}).Info("Letter submitted for mailing")
	return jobID, nil
}

// Balance returns the account balance in EUR.
func (c *Client) Balance(ctx context.Context) (float64, error) {
	payload, err := json.Marshal(map[string]auth{"auth": c.auth()})
	if err != nil {
		return 0, apperror.Wrap(apperror.KindSerialization, err, "failed to encode balance request")
	}
	// The service expects the credentials as a JSON body even on GET.
	body, err := c.do(ctx, http.MethodGet, "/balance", payload)
	if err != nil {
		return 0, err
	}
	balance := gjson.GetBytes(body, "data.balance")
	if gjson.GetBytes(body, "status").Int() != 200 || !balance.Exists() {
		return 0, apperror.ServiceUnavailable("unexpected balance response: %s", string(body))
	}
	return balance.Float(), nil
}

// TestConnection reports whether the credentials are accepted.
func (c *Client) TestConnection(ctx context.Context) bool {
	balance, err := c.Balance(ctx)
	if err != nil {
		c.logger.WithError(err).Warn("LetterExpress connection test failed")
		return false
	}
	c.logger.WithField("balance_eur", balance).Info("LetterExpress authentication successful")
	return true
}

func (c *Client) auth() auth {
	return auth{Username: c.cfg.Username, APIKey: c.cfg.APIKey, Mode: c.cfg.Mode}
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("error building letterexpress request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindServiceUnavailable, err, "letterexpress request failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindServiceUnavailable, err, "failed to read letterexpress response")
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperror.Auth("letterexpress rejected credentials: %s", string(body))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, apperror.ServiceUnavailable("letterexpress returned %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func specFor(opts outreach.PrintOptions) specification {
	spec := specification{Color: 0, Mode: "simplex", Ship: "international"}
	if opts.Color == outreach.PrintColorColor {
		spec.Color = 1
	}
	if opts.Mode == outreach.PrintModeDuplex {
		spec.Mode = "duplex"
	}
	if opts.Shipping == outreach.ShippingStandard {
		spec.Ship = "national"
	}
	return spec
}
