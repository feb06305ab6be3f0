package validate

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/saiset-co/sai-ads/faults"
	"github.com/saiset-co/sai-ads/types"
	"github.com/saiset-co/sai-ads/utils"
)

// validator instances are concurrency-safe and cache struct metadata
var structValidator = validator.New()

// AdResponse parses and normalizes a raw ad-server payload. Every
// rejection names the offending field, with the index for array fields.
// A response failing here is treated downstream exactly like a network
// failure.
func AdResponse(raw []byte) (*types.AdResponse, error) {
	if len(raw) == 0 {
		return nil, faults.New(faults.KindValidation, "response body is empty", nil)
	}

	var resp types.AdResponse
	if err := utils.Unmarshal(raw, &resp); err != nil {
		return nil, faults.New(faults.KindValidation, fmt.Sprintf("malformed response body: %v", err), err)
	}

	if resp.RequestID == "" {
		return nil, fieldFault("request_id", "is required")
	}
	if resp.TTLSeconds < 0 {
		return nil, fieldFault("ttl", fmt.Sprintf("must be >= 0, got %d", resp.TTLSeconds))
	}
	if resp.Metadata.TargetingScore < 0 || resp.Metadata.TargetingScore > 1 {
		return nil, fieldFault("metadata.targeting_score",
			fmt.Sprintf("must be in [0,1], got %v", resp.Metadata.TargetingScore))
	}
	if resp.Metadata.ProcessingTimeMS < 0 {
		return nil, fieldFault("metadata.processing_time_ms", "must be >= 0")
	}

	for i, ad := range resp.Ads {
		if err := checkAd("ads", i, ad); err != nil {
			return nil, err
		}
	}
	for i, ad := range resp.FallbackAds {
		if err := checkAd("fallback_ads", i, ad); err != nil {
			return nil, err
		}
	}

	if err := structValidator.Struct(&resp); err != nil {
		return nil, faults.New(faults.KindValidation, fmt.Sprintf("response failed validation: %v", err), err)
	}

	if resp.Timestamp.IsZero() {
		resp.Timestamp = time.Now()
	}

	return &resp, nil
}

func checkAd(field string, index int, ad types.Ad) error {
	if ad.ID == "" {
		return fieldFault(fmt.Sprintf("%s[%d].id", field, index), "is required")
	}
	if ad.MediaURL == "" && ad.Title == "" && ad.Body == "" {
		return fieldFault(fmt.Sprintf("%s[%d]", field, index), "has no renderable content")
	}
	return nil
}

func fieldFault(field, problem string) *faults.Fault {
	f := faults.New(faults.KindValidation, fmt.Sprintf("%s %s", field, problem), nil)
	return f.WithContext("field", field)
}
