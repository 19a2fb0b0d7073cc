package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Extractor is the contract to the field-extraction backend: one page of
// recognized text in, six string fields out.
type Extractor interface {
	ExtractFields(ctx context.Context, pageText string) (Fields, error)
}

// extractTimeout bounds one backend call. A timeout fails that page's
// extraction only, never the whole batch.
const extractTimeout = 60 * time.Second

// ErrNotConfigured is returned by NewAzureClient when credentials are
// missing; extraction endpoints stay disabled in that case.
var ErrNotConfigured = errors.New("extraction backend credentials are not configured")

// AzureConfig carries Azure OpenAI connection settings. Key comes from the
// environment, the rest from the config file.
type AzureConfig struct {
	Endpoint   string
	Deployment string
	APIVersion string
	APIKey     string
}

// AzureClient calls the Azure OpenAI chat-completions REST endpoint with a
// JSON-object response format.
type AzureClient struct {
	cfg        AzureConfig
	httpClient *http.Client
}

func NewAzureClient(cfg AzureConfig) (*AzureClient, error) {
	if cfg.Endpoint == "" || cfg.Deployment == "" || cfg.APIKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = "2024-08-01-preview"
	}
	return &AzureClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: extractTimeout},
	}, nil
}

var _ Extractor = (*AzureClient)(nil)

type chatRequest struct {
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func buildPrompt(pageText string) string {
	return "You are an information extraction assistant. Given OCR text from an invoice page, " +
		"extract the following fields as concise strings. If missing, return empty string. " +
		"Fields: Invoice Number, Invoice Date, Vendor Name, Customer Name, Total Amount, Tax Amount.\n\n" +
		"OCR Page Text:\n" + pageText + "\n\n" +
		"Return strict JSON with keys: invoice_number, invoice_date, vendor_name, customer_name, total_amount, tax_amount."
}

func (c *AzureClient) ExtractFields(ctx context.Context, pageText string) (Fields, error) {
	url := fmt.Sprintf("%s/openai/deployments/%s/chat/completions?api-version=%s",
		strings.TrimRight(c.cfg.Endpoint, "/"), c.cfg.Deployment, c.cfg.APIVersion)

	body, err := json.Marshal(chatRequest{
		Messages:       []chatMessage{{Role: "user", Content: buildPrompt(pageText)}},
		Temperature:    0,
		ResponseFormat: responseFormat{Type: "json_object"},
	})
	if err != nil {
		return Fields{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Fields{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.cfg.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Fields{}, fmt.Errorf("extraction backend unreachable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Fields{}, fmt.Errorf("read response: %w", err)
	}
	log.Debug().Int("status", resp.StatusCode).Int("bytes", len(raw)).
		Dur("elapsed", time.Since(start)).Msg("extraction backend responded")

	if resp.StatusCode/100 != 2 {
		return Fields{}, fmt.Errorf("extraction backend returned status %d", resp.StatusCode)
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil || len(cr.Choices) == 0 {
		return ParseFields("{}"), nil
	}
	return ParseFields(cr.Choices[0].Message.Content), nil
}

// ParseFields decodes the backend's reply. A malformed reply is salvaged
// by retrying on the first balanced {...} substring; if that fails too,
// all-empty fields come back rather than an error.
func ParseFields(content string) Fields {
	var f Fields
	if json.Unmarshal([]byte(content), &f) == nil {
		return f
	}
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start != -1 && end != -1 && start < end {
		if json.Unmarshal([]byte(content[start:end+1]), &f) == nil {
			return f
		}
	}
	return Fields{}
}
