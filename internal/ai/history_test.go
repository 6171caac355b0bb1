package ai

import (
	"fmt"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
)

func TestConversation_TrimsOldestFirst(t *testing.T) {
	conv := newConversation(4)
	for i := 0; i < 3; i++ {
		conv.push(openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("q%d", i)})
		conv.commit(openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: fmt.Sprintf("a%d", i)})
	}

	msgs := conv.snapshot()
	assert.Len(t, msgs, 4)
	assert.Equal(t, "q1", msgs[0].Content)
	assert.Equal(t, "a2", msgs[3].Content)
}

func TestConversation_Rollback(t *testing.T) {
	conv := newConversation(10)
	conv.push(openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "q0"})
	conv.commit(openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: "a0"})

	rollback := conv.push(openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: "q1"})
	assert.Equal(t, 3, conv.len())
	rollback()
	rollback()
	assert.Equal(t, 2, conv.len())

	conv.reset()
	assert.Equal(t, 0, conv.len())
}

func TestConversation_DefaultLimit(t *testing.T) {
	assert.Equal(t, defaultHistoryLimit, newConversation(0).limit)
}
