// internal/infra/pdf/renderer.go
package pdf

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"letter_outreach_bot/internal/domain/apperror"
	"letter_outreach_bot/internal/domain/outreach"
	"letter_outreach_bot/internal/infra/logger"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

const odtMimeType = "application/vnd.oasis.opendocument.text"

var generatedPages = regexp.MustCompile(`generated (\d+) pages`)

// Renderer fills ODT templates through the document conversion service.
type Renderer struct {
	baseURL      string
	templatesDir string
	http         *http.Client
	logger       *logrus.Entry
}

var _ outreach.DocumentRenderer = (*Renderer)(nil)

func NewRenderer(baseURL, templatesDir string, timeout time.Duration) *Renderer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Renderer{
		baseURL:      strings.TrimRight(baseURL, "/"),
		templatesDir: templatesDir,
		http:         &http.Client{Timeout: timeout},
		logger:       logger.Component("pdf"),
	}
}

// Render posts the template and its bookmark data and returns the PDF bytes. A letter that
// overflows one page yields *outreach.PageLimitError.
func (r *Renderer) Render(ctx context.Context, template string, data outreach.LetterTemplateData) ([]byte, error) {
	odt, err := os.ReadFile(filepath.Join(r.templatesDir, template))
	if err != nil {
		return nil, apperror.Wrap(apperror.KindConfig, err, "letter template %s not readable", template)
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindSerialization, err, "failed to encode template data")
	}

	body, contentType, err := buildForm(template, odt, payload)
	if err != nil {
		return nil, fmt.Errorf("error building pdf request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/generate-pdf", body)
	if err != nil {
		return nil, fmt.Errorf("error building pdf request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindServiceUnavailable, err, "pdf service request failed")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindServiceUnavailable, err, "failed to read pdf response")
	}

	if resp.StatusCode == http.StatusBadRequest {
		if pages, ok := pageLimitExceeded(raw); ok {
			r.logger.WithField("pages", pages).Warn("Letter exceeds one page")
			return nil, &outreach.PageLimitError{Pages: pages}
		}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperror.ServiceUnavailable("pdf service returned %d: %s", resp.StatusCode, string(raw))
	}
	if !bytes.HasPrefix(raw, []byte("%PDF")) {
		return nil, apperror.ServiceUnavailable("pdf service returned a non-PDF document")
	}

	r.logger.WithFields(logrus.Fields{
		"template": template,
		"bytes":    len(raw),
	}).Info("Letter rendered")
	return raw, nil
}

func buildForm(template string, odt, payload []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="odt_file"; filename=%q`, template))
	h.Set("Content-Type", odtMimeType)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(odt); err != nil {
		return nil, "", err
	}

	h = make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="json_data"; filename="data.json"`)
	h.Set("Content-Type", "application/json")
	if part, err = w.CreatePart(h); err != nil {
		return nil, "", err
	}
	if _, err := part.Write(payload); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

// pageLimitExceeded recognises the service's one-page rejection. The page count defaults to
// two when the detail does not state it.
func pageLimitExceeded(body []byte) (int, bool) {
	detail := gjson.GetBytes(body, "detail").String()
	if detail == "" {
		detail = string(body)
	}
	if !strings.Contains(detail, "exceeds one page limit") {
		return 0, false
	}
	pages := 2
	if m := generatedPages.FindStringSubmatch(detail); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			pages = n
		}
	}
	return pages, true
}
