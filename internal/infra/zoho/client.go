// internal/infra/zoho/client.go
package zoho

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/outreach"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const (
	DefaultBaseURL = "https://www.zohoapis.com"

	followUpSubject = "Follow-up: Brief nachfassen"
	followUpDelay   = 14 * 24 * time.Hour
)

// TokenSource hands out OAuth access tokens for the CRM connection.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
	RefreshToken(ctx context.Context) (string, error)
}

// Client is an unauthenticated CRM client. It exposes no CRM operations; call Authenticate to
// obtain a Session.
type Client struct {
	baseURL string
	tokens  TokenSource
	http    *http.Client
	now     func() time.Time
	logger  *logrus.Entry
}

// Option configures a Client.
type Option func(*Client)

func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithNow(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 30 * time.Second},
		now:     time.Now,
		logger:  logger.Component("zoho"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authenticate verifies that a token can be obtained and returns the session that carries the
// CRM operations.
func (c *Client) Authenticate(ctx context.Context) (*Session, error) {
	if _, err := c.tokens.AccessToken(ctx); err != nil {
		return nil, apperror.Wrap(apperror.KindAuth, err, "zoho authentication failed")
	}
	c.logger.Info("Authenticated with Zoho CRM")
	return &Session{client: c}, nil
}

// Session is an authenticated CRM connection.
type Session struct {
	client *Client
}

var _ outreach.CRM = (*Session)(nil)

func (s *Session) GetTask(ctx context.Context, id outreach.TaskID) (*outreach.Task, error) {
	status, body, err := s.do(ctx, http.MethodGet, "/crm/v2/Tasks/"+url.PathEscape(string(id)), nil, "")
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || status == http.StatusNoContent {
		return nil, nil
	}
	if err := checkStatus(status, body, "get task"); err != nil {
		return nil, err
	}
	first := gjson.GetBytes(body, "data.0")
	if !first.Exists() {
		return nil, nil
	}
	task := parseTask(first)
	return &task, nil
}

// SearchTasks runs an equality search. Owner is matched on the owner id.
func (s *Session) SearchTasks(ctx context.Context, filters []outreach.TaskFilter) ([]outreach.Task, error) {
	path := "/crm/v2/Tasks/search?" + url.Values{"criteria": {searchCriteria(filters)}}.Encode()
	status, body, err := s.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		s.client.logger.Info("Zoho search returned no tasks")
		return nil, nil
	}
	if err := checkStatus(status, body, "search tasks"); err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, apperror.ServiceUnavailable("zoho search returned an empty response")
	}
	if !gjson.ValidBytes(body) {
		return nil, apperror.ServiceUnavailable("failed to parse zoho search response")
	}

	var tasks []outreach.Task
	gjson.GetBytes(body, "data").ForEach(func(_, v gjson.Result) bool {
		tasks = append(tasks, parseTask(v))
		return true
	})
	return tasks, nil
}

func (s *Session) GetContact(ctx context.Context, id outreach.ContactID) (*outreach.Contact, error) {
	status, body, err := s.do(ctx, http.MethodGet, "/crm/v2/Contacts/"+url.PathEscape(string(id)), nil, "")
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound || status == http.StatusNoContent {
		return nil, nil
	}
	if err := checkStatus(status, body, "get contact"); err != nil {
		return nil, err
	}
	first := gjson.GetBytes(body, "data.0")
	if !first.Exists() {
		return nil, nil
	}
	contact := parseContact(first)
	return &contact, nil
}

func (s *Session) UpdateContactAddress(ctx context.Context, id outreach.ContactID, address outreach.MailingAddress) error {
	payload := map[string]any{"data": []map[string]any{{
		"id":              string(id),
		"Mailing_Street":  address.Street,
		"Mailing_City":    address.City,
		"Mailing_State":   address.StateOrEmpty(),
		"Mailing_Code":    address.PostalCode,
		"Mailing_Country": address.Country,
	}}}
	if err := s.putJSON(ctx, "/crm/v2/Contacts/"+url.PathEscape(string(id)), payload, "update contact address"); err != nil {
		return err
	}
	s.client.logger.WithField("contact_id", id).Info("Updated contact mailing address")
	return nil
}

func (s *Session) UpdateTaskStatus(ctx context.Context, id outreach.TaskID, status, description string) error {
	record := map[string]any{"Status": status}
	if description != "" {
		record["Description"] = description
	}
	payload := map[string]any{"data": []map[string]any{record}}
	if err := s.putJSON(ctx, "/crm/v2/Tasks/"+url.PathEscape(string(id)), payload, "update task"); err != nil {
		return err
	}
	s.client.logger.WithFields(logrus.Fields{"task_id": id, "status": status}).Info("Updated task status")
	return nil
}

func (s *Session) AttachFile(ctx context.Context, id outreach.TaskID, data []byte, filename string) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return fmt.Errorf("error building attachment: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("error building attachment: %w", err)
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("error building attachment: %w", err)
	}

	status, body, err := s.do(ctx, http.MethodPost, "/crm/v2/Tasks/"+url.PathEscape(string(id))+"/Attachments", buf.Bytes(), mw.FormDataContentType())
	if err != nil {
		return err
	}
	if err := checkStatus(status, body, "attach file"); err != nil {
		return err
	}
	s.client.logger.WithFields(logrus.Fields{"task_id": id, "filename": filename}).Info("Attached file to task")
	return nil
}

// CreateFollowUpTask opens a reminder task for the contact, due two weeks from now.
func (s *Session) CreateFollowUpTask(ctx context.Context, contactID outreach.ContactID, relatedTask outreach.TaskID) (outreach.TaskID, error) {
	payload := map[string]any{"data": []map[string]any{{
		"Subject":     followUpSubject,
		"Status":      outreach.TaskStatusNotStarted,
		"Due_Date":    s.client.now().Add(followUpDelay).Format("2006-01-02"),
		"Who_Id":      map[string]string{"id": string(contactID)},
		"Description": fmt.Sprintf("Nachfassen zum Brief aus Task %s", relatedTask),
	}}}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", apperror.Wrap(apperror.KindSerialization, err, "failed to encode follow-up task")
	}
	status, body, err := s.do(ctx, http.MethodPost, "/crm/v2/Tasks", raw, "application/json")
	if err != nil {
		return "", err
	}
	if err := checkStatus(status, body, "create follow-up task"); err != nil {
		return "", err
	}
	id := gjson.GetBytes(body, "data.0.details.id").String()
	if id == "" {
		return "", apperror.ServiceUnavailable("zoho did not return the id of the follow-up task")
	}
	return outreach.TaskID(id), nil
}

func (s *Session) putJSON(ctx context.Context, path string, payload any, op string) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return apperror.Wrap(apperror.KindSerialization, err, "failed to encode %s request", op)
	}
	status, body, err := s.do(ctx, http.MethodPut, path, raw, "application/json")
	if err != nil {
		return err
	}
	return checkStatus(status, body, op)
}

// do sends one request with a bearer token. A 401 refreshes the token and retries once.
func (s *Session) do(ctx context.Context, method, path string, body []byte, contentType string) (int, []byte, error) {
	token, err := s.client.tokens.AccessToken(ctx)
	if err != nil {
		return 0, nil, apperror.Wrap(apperror.KindAuth, err, "failed to obtain zoho token")
	}
	status, respBody, err := s.send(ctx, method, path, body, contentType, token)
	if err != nil || status != http.StatusUnauthorized {
		return status, respBody, err
	}

	s.client.logger.WithField("path", path).Warn("Zoho rejected token, refreshing")
	token, err = s.client.tokens.RefreshToken(ctx)
	if err != nil {
		return 0, nil, apperror.Wrap(apperror.KindAuth, err, "failed to refresh zoho token")
	}
	return s.send(ctx, method, path, body, contentType, token)
}

func (s *Session) send(ctx context.Context, method, path string, body []byte, contentType, token string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.client.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("error building zoho request: %w", err)
	}
	req.Header.Set("Authorization", "Zoho-oauthtoken "+token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.http.Do(req)
	if err != nil {
		return 0, nil, apperror.Wrap(apperror.KindServiceUnavailable, err, "zoho request failed")
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, apperror.Wrap(apperror.KindServiceUnavailable, err, "failed to read zoho response")
	}
	return resp.StatusCode, respBody, nil
}

func checkStatus(status int, body []byte, op string) error {
	switch {
	case status >= 200 && status <= 299:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperror.Auth("zoho %s rejected (status %d): %s", op, status, string(body))
	default:
		return apperror.ServiceUnavailable("zoho %s failed (status %d): %s", op, status, string(body))
	}
}

// searchCriteria renders filters in the search API syntax, e.g.
// ((Subject:equals:Connect on LinkedIn)and(Owner.id:equals:42)).
func searchCriteria(filters []outreach.TaskFilter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		field := f.Field
		if field == "Owner" {
			field = "Owner.id"
		}
		parts = append(parts, fmt.Sprintf("(%s:equals:%s)", field, f.Value))
	}
	if len(parts) > 1 {
		return "(" + strings.Join(parts, "and") + ")"
	}
	return strings.Join(parts, "")
}

func parseTask(v gjson.Result) outreach.Task {
	task := outreach.Task{
		ID:          outreach.TaskID(v.Get("id").String()),
		Subject:     v.Get("Subject").String(),
		Status:      v.Get("Status").String(),
		OwnerID:     v.Get("Owner.id").String(),
		CreatedTime: v.Get("Created_Time").String(),
	}
	if who := v.Get("Who_Id"); who.IsObject() && who.Get("id").String() != "" {
		task.Contact = &outreach.ContactRef{
			ID:   outreach.ContactID(who.Get("id").String()),
			Name: who.Get("name").String(),
		}
	}
	return task
}

func parseContact(v gjson.Result) outreach.Contact {
	contact := outreach.Contact{
		ID:         outreach.ContactID(v.Get("id").String()),
		FullName:   v.Get("Full_Name").String(),
		Email:      v.Get("Email").String(),
		Phone:      v.Get("Phone").String(),
		LinkedInID: v.Get("LinkedIn_ID").String(),
	}
	// Account_Name is a lookup object in v2, a plain string in older layouts.
	if account := v.Get("Account_Name"); account.IsObject() {
		contact.Company = account.Get("name").String()
	} else {
		contact.Company = account.String()
	}
	contact.MailingAddress = parseMailingAddress(v)
	return contact
}

// parseMailingAddress returns nil unless street, city, code and country are all present.
func parseMailingAddress(v gjson.Result) *outreach.MailingAddress {
	fields := []gjson.Result{v.Get("Mailing_Street"), v.Get("Mailing_City"), v.Get("Mailing_Code"), v.Get("Mailing_Country")}
	for _, f := range fields {
		if f.Type != gjson.String {
			return nil
		}
	}
	addr := &outreach.MailingAddress{
		Street:     fields[0].String(),
		City:       fields[1].String(),
		PostalCode: fields[2].String(),
		Country:    fields[3].String(),
	}
	if st := v.Get("Mailing_State"); st.Type == gjson.String && st.String() != "" {
		state := st.String()
		addr.State = &state
	}
	return addr
}
