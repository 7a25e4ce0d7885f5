// Package model provides the language-model collaborator interface used by
// workflow executors, with adapters for OpenAI, Anthropic, and Google Gemini
// plus a mock for tests.
//
// The engine treats the model as an opaque call: prompt in, text out. An
// executor that needs structured output asks for JSON in its prompt (or
// relies on the provider's JSON mode) and decodes the reply itself; a model
// failure is an ordinary executor error and terminates the run.
package model

import "context"

// ChatModel is the provider-neutral chat interface.
//
// Implementations handle provider authentication, convert the standard
// message format, respect context cancellation, and translate provider
// errors into ordinary Go errors.
//
// Example:
//
//	m := openai.New(os.Getenv("OPENAI_API_KEY"), "")
//	out, err := m.Chat(ctx, []model.Message{
//	    {Role: model.RoleUser, Content: "Suggest a 3-day trip to Denver."},
//	})
type ChatModel interface {
	// Chat sends the conversation to the model and returns its reply.
	Chat(ctx context.Context, messages []Message) (ChatOut, error)
}

// Message is one message in a model conversation.
type Message struct {
	// Role is one of the Role* constants.
	Role string

	// Content is the message text.
	Content string
}

// Standard role constants, aligned with the conventions of the major
// providers.
const (
	// RoleSystem sets context and behavior; it appears first when present.
	RoleSystem = "system"

	// RoleUser carries user input.
	RoleUser = "user"

	// RoleAssistant carries a model reply.
	RoleAssistant = "assistant"
)

// ChatOut is a model reply.
type ChatOut struct {
	// Text is the generated response. For JSON-mode calls this is the raw
	// JSON document.
	Text string

	// TokensUsed is the total token count the provider reported, zero when
	// unavailable.
	TokensUsed int
}
