package responses

import (
	"context"
	"time"

	models "meridian/internal/domain/models/responses"
)

// ConversationStore is the small KV abstraction the Conversation State
// Manager persists tenant -> conversation id mappings through. TTL-based
// entries expire on their own; Delete is used for explicit cleanup.
type ConversationStore interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// ConversationStateManager decides, per run, whether to reuse a vendor
// conversation id or operate statelessly, per the tenant's
// ConversationPolicy.
type ConversationStateManager interface {
	Resolve(ctx context.Context, input models.ConversationContextInput) (*models.ConversationContext, error)
}
