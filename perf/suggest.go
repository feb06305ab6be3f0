package perf

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

type SuggestionType string

const (
	SuggestIncreaseCacheTTL  SuggestionType = "increase_cache_ttl"
	SuggestEnablePreload     SuggestionType = "enable_preload"
	SuggestReduceTimeout     SuggestionType = "reduce_timeout"
	SuggestSimplifyCreatives SuggestionType = "simplify_creatives"
	SuggestShrinkCache       SuggestionType = "shrink_cache"
	SuggestCheckConnectivity SuggestionType = "check_connectivity"
)

type SuggestionSeverity string

const (
	SeverityLow      SuggestionSeverity = "low"
	SeverityMedium   SuggestionSeverity = "medium"
	SeverityHigh     SuggestionSeverity = "high"
	SeverityCritical SuggestionSeverity = "critical"
)

// OptimizationSuggestion is a concrete, actionable finding. Suggestions
// are deduplicated by type; a repeat violation refreshes the existing
// entry instead of stacking a duplicate.
type OptimizationSuggestion struct {
	Type      SuggestionType     `json:"type"`
	Severity  SuggestionSeverity `json:"severity"`
	Message   string             `json:"message"`
	Action    string             `json:"action"`
	Impact    string             `json:"impact"`
	Observed  float64            `json:"observed"`
	Threshold float64            `json:"threshold"`
	RaisedAt  time.Time          `json:"raised_at"`
}

type MeasurementSummary struct {
	Count uint64  `json:"count"`
	Avg   float64 `json:"avg"`
	Max   float64 `json:"max"`
	Last  float64 `json:"last"`
}

type Report struct {
	GeneratedAt  time.Time                     `json:"generated_at"`
	Requests     uint64                        `json:"requests"`
	Errors       uint64                        `json:"errors"`
	Measurements map[string]MeasurementSummary `json:"measurements"`
	Suggestions  []OptimizationSuggestion      `json:"suggestions"`
}

type thresholdRule struct {
	limit      func(o *Observer) float64
	belowIsBad bool
	suggestion SuggestionType
	action     string
	impact     string
}

func (o *Observer) rules() map[string]thresholdRule {
	return map[string]thresholdRule{
		MetricAdRequestTime: {
			limit:      func(o *Observer) float64 { return o.config.AdRequestTime.Seconds() },
			suggestion: SuggestEnablePreload,
			action:     "enable cache preloading or raise the cache TTL",
			impact:     "slow ad delivery degrades conversation flow",
		},
		MetricRenderTime: {
			limit:      func(o *Observer) float64 { return o.config.RenderTime.Seconds() },
			suggestion: SuggestSimplifyCreatives,
			action:     "prefer text formats over media-heavy creatives",
			impact:     "render stalls are visible to the end user",
		},
		MetricCacheHitRate: {
			limit:      func(o *Observer) float64 { return o.config.MinCacheHitRate },
			belowIsBad: true,
			suggestion: SuggestIncreaseCacheTTL,
			action:     "increase default_ttl or max_entries",
			impact:     "low hit rate multiplies ad-server round trips",
		},
		MetricMemoryBytes: {
			limit:      func(o *Observer) float64 { return float64(o.config.MaxMemoryBytes) },
			suggestion: SuggestShrinkCache,
			action:     "lower max_size_bytes or max_entries",
			impact:     "memory pressure risks host-level eviction",
		},
		MetricErrorRate: {
			limit:      func(o *Observer) float64 { return o.config.MaxErrorRate },
			suggestion: SuggestCheckConnectivity,
			action:     "inspect fault reports and ad-server availability",
			impact:     "sustained failures exhaust the fallback pool",
		},
	}
}

// evaluate compares one observation against its rule and raises or
// refreshes a suggestion on violation.
func (o *Observer) evaluate(name string, value float64) {
	if !o.config.Enabled {
		return
	}

	rule, ok := o.rules()[name]
	if !ok {
		return
	}

	limit := rule.limit(o)
	if limit <= 0 {
		return
	}

	violated := value > limit
	if rule.belowIsBad {
		violated = value < limit
	}
	if !violated {
		return
	}

	severity := bucketSeverity(value, limit, rule.belowIsBad)

	suggestion := OptimizationSuggestion{
		Type:      rule.suggestion,
		Severity:  severity,
		Message:   fmt.Sprintf("%s is %v against a limit of %v", name, value, limit),
		Action:    rule.action,
		Impact:    rule.impact,
		Observed:  value,
		Threshold: limit,
		RaisedAt:  time.Now(),
	}

	o.raise(suggestion)
}

// bucketSeverity grades how far past the limit the observation landed.
func bucketSeverity(value, limit float64, belowIsBad bool) SuggestionSeverity {
	ratio := value / limit
	if belowIsBad {
		if value <= 0 {
			return SeverityCritical
		}
		ratio = limit / value
	}

	switch {
	case ratio >= 2.0:
		return SeverityCritical
	case ratio >= 1.5:
		return SeverityHigh
	case ratio >= 1.25:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func (o *Observer) raise(suggestion OptimizationSuggestion) {
	o.mu.Lock()

	existing, seen := o.suggestions[suggestion.Type]
	if !seen && len(o.suggestions) >= o.config.MaxSuggestionCount {
		o.mu.Unlock()
		return
	}
	o.suggestions[suggestion.Type] = suggestion

	var apply func()
	if o.config.AutoApply && !seen {
		apply = o.applyFns[suggestion.Type]
	}
	o.mu.Unlock()

	if !seen || existing.Severity != suggestion.Severity {
		o.logger.Warn("Performance threshold violated",
			zap.String("type", string(suggestion.Type)),
			zap.String("severity", string(suggestion.Severity)),
			zap.Float64("observed", suggestion.Observed),
			zap.Float64("threshold", suggestion.Threshold),
			zap.String("action", suggestion.Action))
	}

	if o.metrics != nil {
		o.metrics.Counter("perf_suggestions_total", map[string]string{
			"type":     string(suggestion.Type),
			"severity": string(suggestion.Severity),
		}).Inc()
	}

	if apply != nil {
		o.logger.Info("Auto-applying optimization",
			zap.String("type", string(suggestion.Type)))
		apply()
	}
}

// OnSuggestion registers a handler invoked once per distinct suggestion
// type when auto-apply is enabled.
func (o *Observer) OnSuggestion(t SuggestionType, fn func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.applyFns[t] = fn
}

// Suggestions returns the open findings, most severe first.
func (o *Observer) Suggestions() []OptimizationSuggestion {
	o.mu.Lock()
	out := make([]OptimizationSuggestion, 0, len(o.suggestions))
	for _, s := range o.suggestions {
		out = append(out, s)
	}
	o.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if severityRank(out[i].Severity) != severityRank(out[j].Severity) {
			return severityRank(out[i].Severity) > severityRank(out[j].Severity)
		}
		return out[i].Type < out[j].Type
	})

	return out
}

// ClearSuggestions drops the open findings so resolved violations can
// re-raise fresh ones.
func (o *Observer) ClearSuggestions() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.suggestions = make(map[SuggestionType]OptimizationSuggestion)
}

// Report snapshots measurements and open suggestions.
func (o *Observer) Report() *Report {
	o.mu.Lock()
	measurements := make(map[string]MeasurementSummary, len(o.samples))
	for name, s := range o.samples {
		measurements[name] = MeasurementSummary{
			Count: s.count,
			Avg:   s.sum / float64(s.count),
			Max:   s.max,
			Last:  s.last,
		}
	}
	o.mu.Unlock()

	return &Report{
		GeneratedAt:  time.Now(),
		Requests:     o.requests.Load(),
		Errors:       o.errors.Load(),
		Measurements: measurements,
		Suggestions:  o.Suggestions(),
	}
}

func severityRank(s SuggestionSeverity) int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}
