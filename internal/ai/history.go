package ai

import "github.com/sashabaranov/go-openai"

const defaultHistoryLimit = 10

// conversation 保存最近的对话轮次，超过上限时丢弃最早的消息。
type conversation struct {
	limit    int
	messages []openai.ChatCompletionMessage
}

func newConversation(limit int) *conversation {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return &conversation{limit: limit}
}

// push 追加用户轮次，返回撤销函数供请求失败时回滚。
func (c *conversation) push(msg openai.ChatCompletionMessage) func() {
	n := len(c.messages)
	c.messages = append(c.messages, msg)
	return func() {
		if len(c.messages) > n {
			c.messages = c.messages[:n]
		}
	}
}

func (c *conversation) commit(msg openai.ChatCompletionMessage) {
	c.messages = append(c.messages, msg)
	if over := len(c.messages) - c.limit; over > 0 {
		trimmed := make([]openai.ChatCompletionMessage, c.limit)
		copy(trimmed, c.messages[over:])
		c.messages = trimmed
	}
}

func (c *conversation) snapshot() []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(c.messages))
	copy(out, c.messages)
	return out
}

func (c *conversation) len() int {
	return len(c.messages)
}

func (c *conversation) reset() {
	c.messages = nil
}
