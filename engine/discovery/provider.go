package discovery

import (
	"context"
	"time"

	"github.com/Attendry/attendry-sub001/engine/domain"
)

// Options bound one provider call.
type Options struct {
	Region     string
	Window     domain.Window
	Timeout    time.Duration
	MaxResults int
}

// Provider is one discovery backend. Implementations return candidates with
// canonical URLs and classify their own failures through the error taxonomy
// (wrap domain.ErrProviderTimeout, ErrQuotaExceeded and friends) so the
// engine can weigh them for the circuit breaker.
type Provider interface {
	ID() domain.ProviderID
	Search(ctx context.Context, variant domain.QueryVariant, opts Options) ([]domain.Candidate, error)
}
