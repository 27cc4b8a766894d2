// Package client defines the backend-neutral contract for vision model
// access and the failure classes shared by all backends.
package client

import (
	"context"
	"errors"
)

// Backend failure classes. Backends wrap these so callers can classify
// without knowing transport details.
var (
	// ErrRateLimited means the backend refused the request due to quota.
	ErrRateLimited = errors.New("vision backend rate limited")
	// ErrUnavailable means the backend cannot be reached or is disabled.
	ErrUnavailable = errors.New("vision backend unavailable")
)

// VisionClient sends one prompt plus one base64-encoded image to a
// multimodal model and returns the raw text reply. Callers own all parsing;
// model replies are not assumed to be well-formed.
type VisionClient interface {
	Query(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
