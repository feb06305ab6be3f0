package types

import (
	"time"
)

type AdFormat string

const (
	FormatBanner       AdFormat = "banner"
	FormatNative       AdFormat = "native"
	FormatInterstitial AdFormat = "interstitial"
)

// Placement identifies where an ad will be shown. Supplied by the caller
// per request and never mutated by the SDK.
type Placement struct {
	ID     string   `json:"id" validate:"required"`
	Format AdFormat `json:"format"`
	Width  int      `json:"width"`
	Height int      `json:"height"`
}

// ConversationContext carries the conversation signal used for targeting.
// The SDK only derives cache keys from it and forwards it to the backend.
type ConversationContext struct {
	Topics     []string `json:"topics"`
	Intent     string   `json:"intent"`
	Sentiment  float64  `json:"sentiment"`
	Engagement float64  `json:"engagement"`
	Stage      string   `json:"stage"`
}

type Ad struct {
	ID         string   `json:"id" validate:"required"`
	CampaignID string   `json:"campaign_id"`
	CreativeID string   `json:"creative_id"`
	Format     AdFormat `json:"format"`
	Title      string   `json:"title"`
	Body       string   `json:"body"`
	MediaURL   string   `json:"media_url"`
	ClickURL   string   `json:"click_url"`
	Advertiser string   `json:"advertiser"`
}

type DeviceInfo struct {
	Platform  string `json:"platform"`
	OSVersion string `json:"os_version"`
	Model     string `json:"model"`
	Locale    string `json:"locale"`
}

type UserProfile struct {
	ID        string   `json:"id,omitempty"`
	Interests []string `json:"interests,omitempty"`
	AgeRange  string   `json:"age_range,omitempty"`
}

type PrivacySettings struct {
	Consent              bool `json:"consent"`
	AllowPersonalization bool `json:"allow_personalization"`
	DoNotSell            bool `json:"do_not_sell"`
}

type AdRequest struct {
	RequestID string              `json:"request_id"`
	SessionID string              `json:"session_id"`
	Placement Placement           `json:"placement"`
	Context   ConversationContext `json:"context"`
	Device    DeviceInfo          `json:"device"`
	User      *UserProfile        `json:"user,omitempty"`
	Privacy   PrivacySettings     `json:"privacy"`
	Timestamp time.Time           `json:"timestamp"`
}

type AdMetadata struct {
	ProcessingTimeMS int64   `json:"processing_time_ms" validate:"min=0"`
	TargetingScore   float64 `json:"targeting_score" validate:"min=0,max=1"`
}

// AdResponse is the backend payload after validation. TTLSeconds is the
// backend-specified freshness window; it always wins over local defaults.
type AdResponse struct {
	RequestID   string     `json:"request_id" validate:"required"`
	Ads         []Ad       `json:"ads"`
	FallbackAds []Ad       `json:"fallback_ads,omitempty"`
	Metadata    AdMetadata `json:"metadata"`
	Timestamp   time.Time  `json:"timestamp"`
	TTLSeconds  int64      `json:"ttl" validate:"min=0"`
}

func (r *AdResponse) TTL() time.Duration {
	return time.Duration(r.TTLSeconds) * time.Second
}

type FallbackStrategy string

const (
	FallbackCachedAds  FallbackStrategy = "cached_ads"
	FallbackDefaultAds FallbackStrategy = "default_ads"
	FallbackNoAds      FallbackStrategy = "no_ads"
	FallbackRetryOnly  FallbackStrategy = "retry_only"
)
