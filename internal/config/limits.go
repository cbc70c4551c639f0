package config

const (
	// MinToolCalls and MaxToolCalls bound maxToolCalls on StartRun options.
	// Enforced by the Run Coordinator's tool-constraint validation.
	MinToolCalls = 1
	MaxToolCalls = 16

	// DenseHistoryEventThreshold is the eventCount at or above which the History
	// Planner prefers the vendor strategy over replay, absent an explicit
	// "prefer_replay" preference.
	DenseHistoryEventThreshold = 500

	// DenseHistoryTokenFraction is the fraction of the context window that,
	// combined with DenseHistoryEventThreshold, tips the planner to vendor.
	DenseHistoryTokenFraction = 0.6

	// RateLimitHistorySize is the per-tenant sliding window of captured
	// rate-limit snapshots the tracker retains.
	RateLimitHistorySize = 50

	// RateLimitAlertThreshold is the remaining-percentage at or below which
	// GetTenantSummaries tags a tenant with an alert.
	RateLimitAlertThreshold = 0.1

	// DefaultCostPerThousandTokens is the fallback cost estimate used by the
	// Operations Service summary when no model-registry entry or
	// RESPONSES_COST_PER_1K_TOKENS override applies.
	DefaultCostPerThousandTokens = 0.002

	// RateLimiterRequestsPerSecond and RateLimiterBurst tune the proactive
	// per-tenant limiter guarding ProviderClient.Create, independent of the
	// provider's own advertised limits the Rate-Limit Tracker observes.
	RateLimiterRequestsPerSecond = 5.0
	RateLimiterBurst             = 10
)
