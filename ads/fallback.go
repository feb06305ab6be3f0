package ads

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-ads/faults"
	"github.com/saiset-co/sai-ads/types"
)

// runFallback walks the recovery chain after a failed attempt: retry the
// network while the fault allows it, then fall back per the configured
// strategy. No-inventory failures skip the retry stage entirely, they
// cannot be fixed by asking again. The classified fault that ended the
// chain travels back to the caller untouched.
func (m *Manager) runFallback(ctx context.Context, placement types.Placement, cctx types.ConversationContext, req *types.AdRequest, fault *faults.Fault) (*types.Ad, string, error) {
	if m.fallback == nil || !m.fallback.Enabled {
		return nil, "", fault
	}

	if fault.Retryable && fault.Kind != faults.KindNoInventory && m.fallback.MaxRetries > 0 {
		ad, retryFault := m.retryLoop(ctx, placement, cctx, req, fault)
		if retryFault == nil {
			return ad, "network", nil
		}
		fault = retryFault
	}

	switch m.fallback.Strategy {
	case types.FallbackCachedAds:
		if m.cache != nil {
			if resp, ok := m.cache.AnyCachedResponse(); ok {
				m.logger.Info("Serving cached fallback ad",
					zap.String("placement_id", placement.ID),
					zap.String("fault", string(fault.Kind)))
				return &resp.Ads[0], "fallback_cached", nil
			}
		}
		// nothing cached; degrade to the default pool
		fallthrough

	case types.FallbackDefaultAds:
		if ad := m.defaultAd(); ad != nil {
			m.logger.Info("Serving default fallback ad",
				zap.String("placement_id", placement.ID),
				zap.String("ad_id", ad.ID),
				zap.String("fault", string(fault.Kind)))
			return ad, "fallback_default", nil
		}

	case types.FallbackNoAds, types.FallbackRetryOnly:
		// retries were the whole budget
	}

	m.logger.Warn("Fallback chain exhausted",
		zap.String("placement_id", placement.ID),
		zap.String("fault", string(fault.Kind)),
		zap.Error(fault))

	return nil, "", fault
}

// retryLoop re-attempts the network call with exponentially growing
// delays (retryDelay doubled per attempt). A non-retryable or
// no-inventory failure aborts the remaining budget.
func (m *Manager) retryLoop(ctx context.Context, placement types.Placement, cctx types.ConversationContext, req *types.AdRequest, fault *faults.Fault) (*types.Ad, *faults.Fault) {
	for attempt := 0; attempt < m.fallback.MaxRetries; attempt++ {
		delay := m.fallback.RetryDelay * (1 << attempt)

		m.logger.Debug("Retrying ad request",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", m.fallback.MaxRetries),
			zap.Duration("delay", delay),
			zap.String("fault", string(fault.Kind)))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, faults.New(faults.KindTimeout, "retry interrupted", ctx.Err())
		case <-m.ctx.Done():
			return nil, faults.New(faults.KindSDKIntegration, "manager shutting down", m.ctx.Err())
		}

		resp, err := m.attempt(ctx, req)
		if err == nil {
			m.finishSuccess(placement, cctx, resp)
			return &resp.Ads[0], nil
		}

		fault = faults.From(err)
		m.report(fault)

		if !fault.Retryable || fault.Kind == faults.KindNoInventory {
			break
		}
	}

	return nil, fault
}

// defaultAd picks uniformly from the configured pool so a single
// evergreen creative does not dominate impressions.
func (m *Manager) defaultAd() *types.Ad {
	pool := m.fallback.FallbackAds
	if len(pool) == 0 {
		return nil
	}

	ad := pool[rand.Intn(len(pool))]
	return &ad
}
