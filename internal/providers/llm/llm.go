package llm

import "context"

type Provider interface {
	// Stream returns the generated text in incremental chunks. errs carries
	// at most one error and both channels are closed when generation ends.
	Stream(ctx context.Context, prompt string) (chunks <-chan string, errs <-chan error)
	Close() error
}
