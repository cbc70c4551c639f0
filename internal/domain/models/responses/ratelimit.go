package responses

import "time"

// RateLimitSnapshot captures one parsed set of provider rate-limit headers.
type RateLimitSnapshot struct {
	LimitRequests      *int64    `json:"limit_requests,omitempty"`
	RemainingRequests  *int64    `json:"remaining_requests,omitempty"`
	ResetRequests      *int64    `json:"reset_requests,omitempty"`
	LimitTokens        *int64    `json:"limit_tokens,omitempty"`
	RemainingTokens    *int64    `json:"remaining_tokens,omitempty"`
	ResetTokens        *int64    `json:"reset_tokens,omitempty"`
	ProcessingMs       *int64    `json:"processing_ms,omitempty"`
	RequestID          string    `json:"request_id,omitempty"`
	TenantID           string    `json:"tenant_id,omitempty"`
	ObservedAt         time.Time `json:"observed_at"`
}

// TenantSummary aggregates a tenant's rate-limit history for reporting.
type TenantSummary struct {
	TenantID              string             `json:"tenant_id"`
	Latest                *RateLimitSnapshot `json:"latest,omitempty"`
	MeanProcessingMs       float64            `json:"mean_processing_ms"`
	RemainingRequestsPct  *float64           `json:"remaining_requests_pct,omitempty"`
	RemainingTokensPct    *float64           `json:"remaining_tokens_pct,omitempty"`
	Alert                 string             `json:"alert,omitempty"`
}
