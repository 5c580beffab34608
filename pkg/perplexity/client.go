// Package perplexity asks a Perplexity-compatible chat completion endpoint
// for a short summary, trivia and recommendations for one title. The whole
// feature is optional: without an API key the client reports itself
// disabled and never makes a call.
package perplexity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

type ClientOptions struct {
	BaseURL   string
	APIkey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

var DefaultClientOpts = ClientOptions{
	BaseURL:   "https://api.perplexity.ai",
	Model:     "sonar",
	MaxTokens: 512,
	Timeout:   30 * time.Second,
}

type Client struct {
	baseURL    string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func NewClient(opts ClientOptions) *Client {
	return &Client{
		baseURL:   opts.BaseURL,
		apiKey:    opts.APIkey,
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		httpClient: &http.Client{
			Timeout: opts.Timeout,
		},
	}
}

// Enabled reports whether an API key was configured. Callers must check it
// before Summarize; a disabled client returns an error from every call.
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Summarize returns a short AI-written summary, trivia and three similar
// recommendations for the given title and plot.
func (c *Client) Summarize(ctx context.Context, title, plot string) (string, error) {
	if !c.Enabled() {
		return "", fmt.Errorf("AI insights are disabled: no API key configured")
	}

	prompt := fmt.Sprintf(
		"Give a short, fun summary, trivia, and 3 similar movie recommendations for the movie. Don't use any fancy markdown formats'%s'. Here is the plot:\n\n%s\n\n"+
			"Format your answer as:\n- Short summary\n- Trivia bullets\n- Recommended movies",
		title, plot)
	payload := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": "You are a friendly movie expert."},
			{"role": "user", "content": prompt},
		},
		"temperature": 0.5,
		"max_tokens":  c.maxTokens,
		"stream":      false,
	}
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("Couldn't marshal chat completion request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("Couldn't create chat completion request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	res, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Couldn't POST chat completion request: %v", err)
	}
	defer res.Body.Close()
	resBody, err := ioutil.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("Couldn't read chat completion response body: %v", err)
	}
	if res.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(resBody, "error.message").String()
		if msg == "" {
			msg = res.Status
		}
		return "", fmt.Errorf("Chat completion request failed: %v", msg)
	}
	content := gjson.GetBytes(resBody, "choices.0.message.content").String()
	if content == "" {
		return "", fmt.Errorf("Unexpected chat completion response: no message content")
	}
	return content, nil
}
