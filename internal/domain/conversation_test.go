package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConversationWithinWindow(t *testing.T) {
	now := time.Now()
	window := 24 * time.Hour

	fresh := &Conversation{StartedAt: now.Add(-23 * time.Hour)}
	assert.True(t, fresh.WithinWindow(now, window))

	old := &Conversation{StartedAt: now.Add(-25 * time.Hour)}
	assert.False(t, old.WithinWindow(now, window))

	// Exactly at the boundary counts as expired.
	boundary := &Conversation{StartedAt: now.Add(-window)}
	assert.False(t, boundary.WithinWindow(now, window))
}

func TestConversationIsActive(t *testing.T) {
	assert.True(t, (&Conversation{Status: ConversationActive}).IsActive())
	assert.False(t, (&Conversation{Status: ConversationClosed}).IsActive())
}
