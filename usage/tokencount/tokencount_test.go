package tokencount

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/plexus/gateway/unified"
)

func TestCountMessagesCountsContentAndParts(t *testing.T) {
	req := &unified.Request{
		Messages: []unified.Message{
			{Role: unified.RoleUser, Content: "hello there"},
			{Role: unified.RoleAssistant, Parts: []unified.Part{{Type: unified.PartText, Text: "hi"}}},
		},
	}
	count := CountMessages(req)
	assert.Greater(t, count, 8) // at least the per-message overhead for two messages
}

func TestCountMessagesIncludesThinkingContent(t *testing.T) {
	withThinking := &unified.Request{
		Messages: []unified.Message{
			{Role: unified.RoleAssistant, Content: "ok", Thinking: &unified.Thinking{Content: "a long chain of reasoning about the problem"}},
		},
	}
	withoutThinking := &unified.Request{
		Messages: []unified.Message{{Role: unified.RoleAssistant, Content: "ok"}},
	}
	assert.Greater(t, CountMessages(withThinking), CountMessages(withoutThinking))
}

func TestDefaultMaxTokensLeavesRoomForCompletion(t *testing.T) {
	req := &unified.Request{Messages: []unified.Message{{Role: unified.RoleUser, Content: "hi"}}}
	got := DefaultMaxTokens(req, 8192, 256)
	assert.Less(t, got, 8192)
	assert.GreaterOrEqual(t, got, 256)
}

func TestDefaultMaxTokensClampsToMinCompletionWhenPromptIsHuge(t *testing.T) {
	big := ""
	for i := 0; i < 5000; i++ {
		big += "word "
	}
	req := &unified.Request{Messages: []unified.Message{{Role: unified.RoleUser, Content: big}}}
	got := DefaultMaxTokens(req, 1024, 256)
	assert.Equal(t, 256, got)
}
