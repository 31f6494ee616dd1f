package llm

import (
	"context"

	"github.com/rs/zerolog"
)

// Client provides a provider-neutral interface for making LLM API calls.
// Implementations should handle provider-specific details internally.
type Client interface {
	// Synchronous sends a request and returns a complete response.
	// This is for non-streaming use cases.
	Synchronous(ctx context.Context, req *Request) (*Response, error)

	// Stream sends a request and returns a stream of events.
	// The caller should read from the returned Stream until it's done or an error occurs.
	Stream(ctx context.Context, req *Request) (Stream, error)
}

// Stream represents a streaming response from an LLM.
type Stream interface {
	// Next advances to the next event in the stream.
	// Returns false when the stream is complete or an error occurs.
	Next() bool

	// Event returns the current event.
	// Should only be called after Next() returns true.
	Event() *StreamEvent

	// Err returns any error that occurred during streaming.
	Err() error

	// Close closes the stream and releases resources.
	Close() error
}

// WithRequestLogging wraps a Client so every request and response is logged.
// The wrapped client is otherwise transparent; errors pass through unchanged.
func WithRequestLogging(client Client, logger zerolog.Logger) Client {
	return &loggingClient{
		client: client,
		logger: logger.With().Str("component", "llm").Logger(),
	}
}

type loggingClient struct {
	client Client
	logger zerolog.Logger
}

func (c *loggingClient) Synchronous(ctx context.Context, req *Request) (*Response, error) {
	c.logger.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("Sending synchronous request")

	resp, err := c.client.Synchronous(ctx, req)
	if err != nil {
		c.logger.Error().Str("model", req.Model).Err(err).Msg("Synchronous request failed")
		return nil, err
	}

	if resp.Usage != nil {
		c.logger.Debug().
			Str("model", req.Model).
			Int64("input_tokens", resp.Usage.InputTokens).
			Int64("output_tokens", resp.Usage.OutputTokens).
			Str("stop_reason", resp.StopReason).
			Msg("Synchronous request completed")
	}
	return resp, nil
}

func (c *loggingClient) Stream(ctx context.Context, req *Request) (Stream, error) {
	c.logger.Debug().
		Str("model", req.Model).
		Int("messages", len(req.Messages)).
		Int("tools", len(req.Tools)).
		Msg("Opening stream")

	stream, err := c.client.Stream(ctx, req)
	if err != nil {
		c.logger.Error().Str("model", req.Model).Err(err).Msg("Failed to open stream")
		return nil, err
	}
	return stream, nil
}

// Ensure loggingClient implements Client
var _ Client = (*loggingClient)(nil)
