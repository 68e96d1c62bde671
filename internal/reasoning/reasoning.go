// Package reasoning talks to the chat-completion service that writes queries
// and judges relevance.
package reasoning

import "context"

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role
	Content string
}

// System returns a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User returns a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Service completes a conversation with a single text answer.
//
// Implementations report unreachable services, rate limiting and timeouts as
// transport errors, and malformed envelopes as validation errors.
type Service interface {
	Complete(ctx context.Context, messages []Message, maxTokens int) (string, error)
}

// ServiceFunc adapts a function to Service.
type ServiceFunc func(ctx context.Context, messages []Message, maxTokens int) (string, error)

// Complete calls f.
func (f ServiceFunc) Complete(ctx context.Context, messages []Message, maxTokens int) (string, error) {
	return f(ctx, messages, maxTokens)
}
