package llm

import (
	"context"

	coreerrors "github.com/adalundhe/hindsight/core/errors"
)

// retryingClient wraps a Client so each call is retried once with jitter
// before the failure surfaces.
type retryingClient struct {
	inner  Client
	policy coreerrors.RetryPolicy
}

// WithRetry wraps client with the engine's model-call retry policy.
func WithRetry(client Client) Client {
	return &retryingClient{inner: client, policy: coreerrors.DefaultRetryPolicy()}
}

func (r *retryingClient) ExtractFacts(ctx context.Context, req ExtractionRequest) (*Extraction, error) {
	var out *Extraction
	err := coreerrors.Retry(ctx, r.policy, func(ctx context.Context) error {
		var err error
		out, err = r.inner.ExtractFacts(ctx, req)
		return err
	})
	return out, err
}

func (r *retryingClient) ResolveEntity(ctx context.Context, req DisambiguationRequest) (string, error) {
	var out string
	err := coreerrors.Retry(ctx, r.policy, func(ctx context.Context) error {
		var err error
		out, err = r.inner.ResolveEntity(ctx, req)
		return err
	})
	return out, err
}

func (r *retryingClient) SynthesizeObservations(ctx context.Context, req ObservationRequest) ([]string, error) {
	var out []string
	err := coreerrors.Retry(ctx, r.policy, func(ctx context.Context) error {
		var err error
		out, err = r.inner.SynthesizeObservations(ctx, req)
		return err
	})
	return out, err
}
