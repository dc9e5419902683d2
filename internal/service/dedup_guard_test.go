package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/support-pipeline/internal/domain"
)

func TestDedupGuard(t *testing.T) {
	messages := newFakeMessageRepo()
	guard := NewDedupGuard(messages, zap.NewNop())

	id := "em-1"
	require.NoError(t, messages.Create(context.Background(), &domain.Message{
		ConversationID:   "conv-1",
		Channel:          domain.ChannelEmail,
		Direction:        domain.DirectionInbound,
		Role:             domain.RoleCustomer,
		Content:          "hi",
		ChannelMessageID: &id,
	}))

	assert.True(t, guard.IsDuplicate(context.Background(), domain.ChannelEmail, "em-1"))
	assert.False(t, guard.IsDuplicate(context.Background(), domain.ChannelWhatsApp, "em-1"))
	assert.False(t, guard.IsDuplicate(context.Background(), domain.ChannelEmail, "em-2"))
}

func TestDedupGuardFailsClosed(t *testing.T) {
	messages := newFakeMessageRepo()
	messages.existsErr = errForced
	guard := NewDedupGuard(messages, zap.NewNop())

	// A broken lookup must not drop the message; the unique constraint on the
	// insert is the backstop.
	assert.False(t, guard.IsDuplicate(context.Background(), domain.ChannelEmail, "em-1"))
}
