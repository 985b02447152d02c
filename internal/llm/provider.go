// Package llm defines the provider-agnostic interface for LLM calls made
// from inside skill handlers. The engine never calls a provider directly;
// it only threads the capability into the per-execution context.
package llm

import "context"

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// SendMessage sends a conversation to the LLM and returns its response.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "anthropic").
	Name() string
}

// Request represents a full conversation sent to the LLM.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in the conversation.
type Message struct {
	Role    Role
	Content string
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Response is the LLM's reply.
type Response struct {
	Content string
	Usage   Usage
	// CostUSD is the provider-computed cost of this call, when known.
	CostUSD float64
}
