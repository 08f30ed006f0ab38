// Package llm defines the contract every completion provider implements.
package llm

import "context"

// Request is a single system+user completion.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Completer returns the raw text of the model's reply.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req Request) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}
