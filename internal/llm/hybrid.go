package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/JackTn/azure-sdk-usage-agent/internal/observability"
)

// DefaultHybridLocalTimeout is how long the local model gets before the cloud model is tried
const DefaultHybridLocalTimeout = 15 * time.Second

// HybridClient tries a local backend first and falls back to a cloud backend
type HybridClient struct {
	local        Client
	cloud        Client
	localTimeout time.Duration
	logger       *observability.Logger
}

// NewHybridClient creates a hybrid client
func NewHybridClient(local, cloud Client, localTimeout time.Duration) *HybridClient {
	if localTimeout <= 0 {
		localTimeout = DefaultHybridLocalTimeout
	}
	return &HybridClient{
		local:        local,
		cloud:        cloud,
		localTimeout: localTimeout,
		logger:       observability.NewLogger("llm-hybrid"),
	}
}

// Name implements Client
func (h *HybridClient) Name() string {
	return fmt.Sprintf("hybrid(%s,%s)", h.local.Name(), h.cloud.Name())
}

// Complete implements Client
func (h *HybridClient) Complete(ctx context.Context, prompt string) (string, error) {
	localCtx, cancel := context.WithTimeout(ctx, h.localTimeout)
	text, err := h.local.Complete(localCtx, prompt)
	cancel()
	if err == nil {
		return text, nil
	}

	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	h.logger.Warn(ctx, "Local model failed, trying cloud model", map[string]interface{}{
		"local": h.local.Name(),
		"cloud": h.cloud.Name(),
		"error": err.Error(),
	})

	text, cloudErr := h.cloud.Complete(ctx, prompt)
	if cloudErr != nil {
		return "", fmt.Errorf("local: %v; cloud: %w", err, cloudErr)
	}
	return text, nil
}
