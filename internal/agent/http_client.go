package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/spec-kit/support-pipeline/internal/config"
	"github.com/spec-kit/support-pipeline/pkg/util"
)

// HTTPResponder calls a remote reasoning engine over JSON/HTTP. Every call
// carries a hard timeout; a stalled engine must not stall the partition.
type HTTPResponder struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPResponder builds the client from config.
func NewHTTPResponder(cfg config.AgentConfig, logger *zap.Logger) *HTTPResponder {
	return &HTTPResponder{
		endpoint: cfg.Endpoint,
		client:   &http.Client{Timeout: cfg.Timeout()},
		logger:   logger,
	}
}

// Respond posts the conversation context and decodes the engine's reply.
// Transport failures and timeouts surface as transient errors so the worker
// retries them.
func (r *HTTPResponder) Respond(ctx context.Context, conversation ConversationContext) (*Reply, error) {
	body, err := json.Marshal(conversation)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, util.NewTransientError("reasoning engine unreachable", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, util.NewTransientError(
			fmt.Sprintf("reasoning engine returned status %d", resp.StatusCode), nil)
	}

	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, util.NewTransientError("malformed reasoning engine reply", err)
	}

	r.logger.Debug("reasoning engine replied",
		zap.String("conversation_id", conversation.ConversationID),
		zap.Bool("escalate", reply.Escalate))
	return &reply, nil
}
