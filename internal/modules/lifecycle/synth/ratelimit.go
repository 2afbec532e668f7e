package synth

import (
	"context"

	"golang.org/x/time/rate"
	"gorm.io/datatypes"

	types "github.com/yungbote/neurobridge-lifecycle/internal/domain"
	"github.com/yungbote/neurobridge-lifecycle/internal/platform/errs"
)

// RateLimited bounds the call rate into another synthesizer.
type RateLimited struct {
	inner   ContentSynthesizer
	limiter *rate.Limiter
}

func NewRateLimited(inner ContentSynthesizer, perSecond float64, burst int) *RateLimited {
	if perSecond <= 0 {
		perSecond = 5
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

func (r *RateLimited) Personalize(ctx context.Context, unit *types.ContentUnit, profile LearnerProfile) (datatypes.JSON, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, errs.Retryable(err)
	}
	return r.inner.Personalize(ctx, unit, profile)
}
