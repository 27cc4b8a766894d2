// Package ollama implements the vision client contract against a local or
// remote Ollama server.
package ollama

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/jpamaran/gourdsight/pkg/client"
)

// defaultTimeout bounds a single chat call when the caller supplies no
// deadline; vision models on CPU can take minutes.
const defaultTimeout = 300 * time.Second

// Client wraps the Ollama API client.
type Client struct {
	client *api.Client
}

// NewClient creates an Ollama-backed vision client for the given server URL.
func NewClient(ollamaURL string) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	// Base URL only; paths like /api/chat are added by the SDK.
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{client: api.NewClient(baseURL, http.DefaultClient)}, nil
}

// Query sends one prompt plus image to the model and returns the raw reply
// text. The reply is passed through untouched; parsing is the caller's job.
func (c *Client) Query(ctx context.Context, model, prompt, imgB64 string) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultTimeout)
		defer cancel()
	}

	imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64 image: %w", err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream: &streamFalse,
		// No Format field: the prompt guides the format, and malformed
		// replies are salvaged downstream.
	}

	var responseContent string
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent = resp.Message.Content
		return nil
	})
	if err != nil {
		return "", classify(err)
	}

	if responseContent == "" {
		return "", fmt.Errorf("empty response from ollama")
	}
	return responseContent, nil
}

// classify maps transport errors onto the shared failure classes.
func classify(err error) error {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.StatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("ollama chat: %w: %v", client.ErrRateLimited, err)
		case http.StatusServiceUnavailable:
			return fmt.Errorf("ollama chat: %w: %v", client.ErrUnavailable, err)
		}
	}
	if strings.Contains(err.Error(), "connection refused") {
		return fmt.Errorf("ollama chat: %w: %v", client.ErrUnavailable, err)
	}
	return fmt.Errorf("ollama chat error: %w", err)
}
