package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"snapclaim/internal/reconcile"

	"github.com/shopspring/decimal"
)

var _ Extractor = (*AnthropicExtractor)(nil)

const (
	anthropicVersion = "2023-06-01"
	maxResponseBytes = 64 * 1024

	systemPrompt = `You read supplier invoices from photos taken by delivery drivers.
Return ONLY a JSON object, no markdown, with exactly these keys:
{
  "invoice_number": "<invoice number as printed, or null>",
  "date": "<invoice date as YYYY-MM-DD, or null>",
  "total_amount": <grand total as a number without currency symbols, or null>,
  "supplier_name": "<issuing supplier name, or null>"
}
Use null for any value you cannot read with confidence. Never guess.`
)

// AnthropicExtractor calls the Anthropic Messages API with the photo as an image block.
type AnthropicExtractor struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicExtractor builds the adapter. baseURL defaults to the public API.
func NewAnthropicExtractor(apiKey, model, baseURL string, timeout time.Duration) *AnthropicExtractor {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return &AnthropicExtractor{
		apiKey:     apiKey,
		model:      model,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// payload mirrors the JSON the model is asked for. The amount may come back as a number or a string.
type payload struct {
	InvoiceNumber *string         `json:"invoice_number"`
	Date          *string         `json:"date"`
	TotalAmount   json.RawMessage `json:"total_amount"`
	SupplierName  *string         `json:"supplier_name"`
}

var jsonBlockRe = regexp.MustCompile(`(?s)\{.*\}`)

// Extract sends the image and parses the model's JSON answer.
func (a *AnthropicExtractor) Extract(ctx context.Context, image []byte, mediaType string) (reconcile.Extracted, error) {
	if a.apiKey == "" {
		return reconcile.Extracted{}, ErrNotConfigured
	}
	if !SupportedMediaTypes[mediaType] {
		return reconcile.Extracted{}, fmt.Errorf("extraction: unsupported media type %q", mediaType)
	}

	body, err := json.Marshal(messagesRequest{
		Model:     a.model,
		MaxTokens: 512,
		System:    systemPrompt,
		Messages: []message{{
			Role: "user",
			Content: []contentBlock{
				{Type: "image", Source: &imageSource{Type: "base64", MediaType: mediaType, Data: base64.StdEncoding.EncodeToString(image)}},
				{Type: "text", Text: "Extract the invoice fields from this photo."},
			},
		}},
	})
	if err != nil {
		return reconcile.Extracted{}, fmt.Errorf("extraction: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return reconcile.Extracted{}, fmt.Errorf("extraction: build request: %w", err)
	}
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)
	req.Header.Set("content-type", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return reconcile.Extracted{}, fmt.Errorf("extraction: %w", ctx.Err())
		}
		return reconcile.Extracted{}, fmt.Errorf("extraction: call failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return reconcile.Extracted{}, fmt.Errorf("extraction: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp messagesResponse
		if jsonErr := json.Unmarshal(raw, &errResp); jsonErr == nil && errResp.Error != nil {
			return reconcile.Extracted{}, fmt.Errorf("extraction: api error (%s): %s", errResp.Error.Type, errResp.Error.Message)
		}
		return reconcile.Extracted{}, fmt.Errorf("extraction: api status %d", resp.StatusCode)
	}

	var msg messagesResponse
	if err := json.Unmarshal(raw, &msg); err != nil {
		return reconcile.Extracted{}, fmt.Errorf("extraction: decode response: %w", err)
	}
	var text string
	for _, c := range msg.Content {
		if c.Type == "text" {
			text = c.Text
			break
		}
	}
	clean := extractJSON(text)
	if clean == "" {
		return reconcile.Extracted{}, fmt.Errorf("extraction: no JSON object in model answer")
	}

	var p payload
	if err := json.Unmarshal([]byte(clean), &p); err != nil {
		return reconcile.Extracted{}, fmt.Errorf("extraction: parse model answer: %w", err)
	}
	return p.toExtracted(), nil
}

func (p payload) toExtracted() reconcile.Extracted {
	out := reconcile.Extracted{
		InvoiceNumber: p.InvoiceNumber,
		Date:          p.Date,
		SupplierName:  p.SupplierName,
	}
	if amt, ok := parseAmount(p.TotalAmount); ok {
		out.TotalAmount = &amt
	}
	return out
}

// parseAmount accepts a JSON number or a numeric string. null or anything unparsable is absent.
func parseAmount(raw json.RawMessage) (decimal.Decimal, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Decimal{}, false
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return decimal.Decimal{}, false
		}
		s = strings.TrimSpace(strings.ReplaceAll(str, ",", ""))
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

// extractJSON strips markdown fences and returns the outermost {...} block.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if idx := strings.Index(text, "```"); idx != -1 {
		after := text[idx+3:]
		if nl := strings.Index(after, "\n"); nl != -1 {
			after = after[nl+1:]
		}
		if end := strings.LastIndex(after, "```"); end != -1 {
			after = after[:end]
		}
		text = strings.TrimSpace(after)
	}
	if strings.HasPrefix(text, "{") {
		return text
	}
	return strings.TrimSpace(jsonBlockRe.FindString(text))
}
