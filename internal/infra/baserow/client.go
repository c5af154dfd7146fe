// internal/infra/baserow/client.go
package baserow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/outreach"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Fields of the LinkedIn export table: one holds the profile id, the other the full JSON export.
const (
	DefaultProfileIDField   = 4866518
	DefaultProfileJSONField = 4866519
)

// Config locates the profile table.
type Config struct {
	BaseURL          string
	APIKey           string
	TableID          int64
	ProfileIDField   int64
	ProfileJSONField int64
}

// Client reads LinkedIn profiles from a Baserow table.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *logrus.Entry
}

var _ outreach.ProfileStore = (*Client)(nil)

func NewClient(cfg Config) *Client {
	if cfg.ProfileIDField == 0 {
		cfg.ProfileIDField = DefaultProfileIDField
	}
	if cfg.ProfileJSONField == 0 {
		cfg.ProfileJSONField = DefaultProfileJSONField
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger.Component("baserow"),
	}
}

type filter struct {
	Type  string `json:"type"`
	Field int64  `json:"field"`
	Value string `json:"value"`
}

type filterTree struct {
	FilterType string   `json:"filter_type"`
	Filters    []filter `json:"filters"`
}

// GetProfile returns the profile whose id field equals linkedInID, or nil if there is none.
func (c *Client) GetProfile(ctx context.Context, linkedInID string) (*outreach.Profile, error) {
	tree, err := json.Marshal(filterTree{
		FilterType: "AND",
		Filters:    []filter{{Type: "equal", Field: c.cfg.ProfileIDField, Value: linkedInID}},
	})
	if err != nil {
		return nil, apperror.Wrap(apperror.KindSerialization, err, "failed to encode baserow filter")
	}
	endpoint := fmt.Sprintf("%s/api/database/rows/table/%d/?%s", c.cfg.BaseURL, c.cfg.TableID, url.Values{"filters": {string(tree)}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("error building baserow request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindServiceUnavailable, err, "baserow request failed")
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindServiceUnavailable, err, "failed to read baserow response")
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, apperror.Auth("baserow rejected the API key")
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, apperror.ServiceUnavailable("baserow returned %d: %s", resp.StatusCode, string(body))
	}

	row := gjson.GetBytes(body, "results.0")
	if !row.Exists() {
		c.logger.WithField("linkedin_id", linkedInID).Info("No profile found")
		return nil, nil
	}
	return c.parseProfile(row)
}

// parseProfile decodes the JSON export stored as a string in the profile JSON field.
func (c *Client) parseProfile(row gjson.Result) (*outreach.Profile, error) {
	field := "field_" + strconv.FormatInt(c.cfg.ProfileJSONField, 10)
	raw := row.Get(field)
	if raw.Type != gjson.String {
		return nil, apperror.Workflow("missing LinkedIn JSON data in %s", field)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(raw.String()), &data); err != nil {
		return nil, apperror.Wrap(apperror.KindDeserialization, err, "failed to parse LinkedIn JSON")
	}
	export := gjson.Parse(raw.String())
	return &outreach.Profile{
		ProfileID:  export.Get("id").String(),
		ProfileURL: export.Get("profile_url").String(),
		FullName:   export.Get("full_name").String(),
		Headline:   export.Get("headline").String(),
		Location:   export.Get("location_name").String(),
		Company:    export.Get("current_company").String(),
		RawData:    data,
	}, nil
}
