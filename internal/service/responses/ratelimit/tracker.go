// Package ratelimit implements the Rate-Limit Tracker: parses provider
// rate-limit headers into snapshots, keeps a per-tenant rolling history,
// and summarizes remaining-capacity alerts.
package ratelimit

import (
	"sort"
	"strconv"
	"sync"
	"time"

	models "meridian/internal/domain/models/responses"
)

const historySize = 50
const alertThreshold = 0.1

// Tracker guards its per-tenant history behind a single lock; contention is
// low since captures happen once per provider response.
type Tracker struct {
	mu      sync.Mutex
	last    *models.RateLimitSnapshot
	history map[string][]models.RateLimitSnapshot
}

// New constructs an empty rate-limit tracker.
func New() *Tracker {
	return &Tracker{history: make(map[string][]models.RateLimitSnapshot)}
}

// Capture parses headers into a snapshot, stores it as the tenant's most
// recent entry (sliding window capped at 50) and as the tracker's global
// last snapshot.
func (t *Tracker) Capture(headers models.Headers, tenantID string) models.RateLimitSnapshot {
	snapshot := models.RateLimitSnapshot{
		LimitRequests:     parseInt(headers, "x-ratelimit-limit-requests"),
		RemainingRequests: parseInt(headers, "x-ratelimit-remaining-requests"),
		ResetRequests:     parseInt(headers, "x-ratelimit-reset-requests"),
		LimitTokens:       parseInt(headers, "x-ratelimit-limit-tokens"),
		RemainingTokens:   parseInt(headers, "x-ratelimit-remaining-tokens"),
		ResetTokens:       parseInt(headers, "x-ratelimit-reset-tokens"),
		ProcessingMs:      parseInt(headers, "openai-processing-ms"),
		RequestID:         headers["x-request-id"],
		TenantID:          tenantID,
		ObservedAt:        time.Now().UTC(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = &snapshot
	hist := append(t.history[tenantID], snapshot)
	if len(hist) > historySize {
		hist = hist[len(hist)-historySize:]
	}
	t.history[tenantID] = hist
	return snapshot
}

// LastSnapshot returns the most recently captured snapshot across all
// tenants, or nil if none has been captured yet.
func (t *Tracker) LastSnapshot() *models.RateLimitSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return nil
	}
	s := *t.last
	return &s
}

// GetTenantSummaries returns one summary per tenant, sorted by tenant id
// ascending.
func (t *Tracker) GetTenantSummaries() []models.TenantSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	tenants := make([]string, 0, len(t.history))
	for id := range t.history {
		tenants = append(tenants, id)
	}
	sort.Strings(tenants)

	out := make([]models.TenantSummary, 0, len(tenants))
	for _, id := range tenants {
		hist := t.history[id]
		if len(hist) == 0 {
			continue
		}
		latest := hist[len(hist)-1]
		out = append(out, summarize(id, latest, hist))
	}
	return out
}

// TenantSummary returns the single tenant's summary, or false if the
// tracker has never captured a snapshot for it.
func (t *Tracker) TenantSummary(tenantID string) (models.TenantSummary, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	hist := t.history[tenantID]
	if len(hist) == 0 {
		return models.TenantSummary{}, false
	}
	return summarize(tenantID, hist[len(hist)-1], hist), true
}

func summarize(tenantID string, latest models.RateLimitSnapshot, hist []models.RateLimitSnapshot) models.TenantSummary {
	var totalMs int64
	var count int
	for _, s := range hist {
		if s.ProcessingMs != nil {
			totalMs += *s.ProcessingMs
			count++
		}
	}
	mean := 0.0
	if count > 0 {
		mean = float64(totalMs) / float64(count)
	}

	summary := models.TenantSummary{
		TenantID:         tenantID,
		Latest:           &latest,
		MeanProcessingMs: mean,
	}
	if latest.LimitRequests != nil && *latest.LimitRequests > 0 && latest.RemainingRequests != nil {
		pct := float64(*latest.RemainingRequests) / float64(*latest.LimitRequests)
		summary.RemainingRequestsPct = &pct
	}
	if latest.LimitTokens != nil && *latest.LimitTokens > 0 && latest.RemainingTokens != nil {
		pct := float64(*latest.RemainingTokens) / float64(*latest.LimitTokens)
		summary.RemainingTokensPct = &pct
	}
	if summary.RemainingRequestsPct != nil && *summary.RemainingRequestsPct <= alertThreshold {
		summary.Alert = "requests"
	} else if summary.RemainingTokensPct != nil && *summary.RemainingTokensPct <= alertThreshold {
		summary.Alert = "tokens"
	}
	return summary
}

func parseInt(headers models.Headers, key string) *int64 {
	raw, ok := headers[key]
	if !ok {
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}
