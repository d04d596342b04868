package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cognicore/dossier/pkg/dossier/extract"
)

// DefaultTimeout bounds one outbound call. Exceeding it is treated the
// same as a malformed response: retry, then fail the entity.
const DefaultTimeout = 60 * time.Second

// Client calls an OpenAI-compatible chat completion endpoint.
type Client struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration

	HTTPClient *http.Client
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends one chat request and returns the assistant content plus
// the call's consumed compute-units as reported by the service.
func (c *Client) Complete(ctx context.Context, system, user string) (string, int64, error) {
	if c.BaseURL == "" || c.Model == "" {
		return "", 0, fmt.Errorf("enrich: base URL and model required")
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	messages := []chatMessage{{Role: "system", Content: system}, {Role: "user", Content: user}}
	reqBody, err := json.Marshal(chatRequest{Model: c.Model, Messages: messages})
	if err != nil {
		return "", 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()

	var payload chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", 0, fmt.Errorf("enrich: decode response: %w", err)
	}
	if payload.Error != nil {
		return "", payload.Usage.TotalTokens, fmt.Errorf("enrich: service error: %s", payload.Error.Message)
	}
	if len(payload.Choices) == 0 {
		return "", payload.Usage.TotalTokens, fmt.Errorf("enrich: empty response")
	}
	return payload.Choices[0].Message.Content, payload.Usage.TotalTokens, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

const systemPrompt = "You are a grounded analyst. Using ONLY the provided document excerpts, " +
	"produce short factual statements about the subject. Respond with a JSON object " +
	`{"statements": ["..."], "confidence": 0.0} and nothing else. Confidence is your ` +
	"overall certainty in [0,1]. Never invent facts absent from the excerpts."

func formatPrompt(who extract.Identity, excerpts []extract.Excerpt) string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Subject: %s\n", who.Name)
	if len(who.Variants) > 0 {
		fmt.Fprintf(&buf, "Also known as:")
		for _, v := range who.Variants {
			fmt.Fprintf(&buf, " %s;", v)
		}
		fmt.Fprintln(&buf)
	}
	fmt.Fprintf(&buf, "\nDocument excerpts:\n")
	for idx, ex := range excerpts {
		fmt.Fprintf(&buf, "%d. [%s #%d] %s\n", idx+1, ex.DocID, ex.Position, ex.Text)
	}
	return buf.String()
}
