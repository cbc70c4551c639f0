package conversation

import (
	"context"
	"fmt"
	"time"

	models "meridian/internal/domain/models/responses"
	"meridian/internal/domain/services/responses"
)

// Manager is the Conversation State Manager: it decides per run whether to
// reuse a vendor-side conversation id or operate statelessly, per the
// tenant's ConversationPolicy.
type Manager struct {
	store Store
}

// Store is the subset of the domain's ConversationStore the manager needs;
// declared locally so this package doesn't import the interface package
// just to re-export it.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// New constructs a conversation state manager backed by store.
func New(store Store) *Manager {
	return &Manager{store: store}
}

var _ responses.ConversationStateManager = (*Manager)(nil)

func tenantKey(tenantID string) string {
	return fmt.Sprintf("conversation:%s", tenantID)
}

// Resolve implements the Conversation State Manager per the stateless/vendor
// policy split.
func (m *Manager) Resolve(ctx context.Context, input models.ConversationContextInput) (*models.ConversationContext, error) {
	if input.Policy.Strategy == models.PolicyStateless {
		return &models.ConversationContext{
			StoreFlag:          false,
			PreviousResponseID: input.PreviousResponseID,
		}, nil
	}

	key := tenantKey(input.TenantID)
	if input.ExistingConversationID != "" {
		return &models.ConversationContext{
			Conversation:       input.ExistingConversationID,
			StoreFlag:          true,
			PreviousResponseID: input.PreviousResponseID,
			Cleanup:            func() { m.store.Delete(ctx, key) },
		}, nil
	}

	existing, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		return &models.ConversationContext{
			Conversation:       existing,
			StoreFlag:          true,
			PreviousResponseID: input.PreviousResponseID,
			Cleanup:            func() { m.store.Delete(ctx, key) },
		}, nil
	}

	conversation := fmt.Sprintf("conv_%s", input.RunID)
	ttl := time.Duration(input.Policy.TTLSeconds) * time.Second
	if err := m.store.Set(ctx, key, conversation, ttl); err != nil {
		return nil, err
	}
	return &models.ConversationContext{
		Conversation:       conversation,
		StoreFlag:          true,
		PreviousResponseID: input.PreviousResponseID,
		Cleanup:            func() { m.store.Delete(ctx, key) },
	}, nil
}
