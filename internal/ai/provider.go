package ai

import "context"

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Result is one completed generation with its token accounting.
type Result struct {
	Text      string
	TokensIn  int
	TokensOut int
}

// Generator is the text-generation backend. Implementations must honour ctx
// cancellation; the caller enforces the deadline.
type Generator interface {
	Generate(ctx context.Context, messages []Message) (Result, error)
}

// GeneratorFunc adapts a plain function to Generator.
type GeneratorFunc func(ctx context.Context, messages []Message) (Result, error)

func (f GeneratorFunc) Generate(ctx context.Context, messages []Message) (Result, error) {
	return f(ctx, messages)
}
