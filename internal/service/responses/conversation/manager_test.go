package conversation

import (
	"context"
	"testing"

	models "meridian/internal/domain/models/responses"
)

func TestResolveStatelessNeverTouchesStore(t *testing.T) {
	manager := New(NewMemoryStore())
	ctx, err := manager.Resolve(context.Background(), models.ConversationContextInput{
		TenantID: "tenant-a",
		RunID:    "run_1",
		Policy:   models.ConversationPolicy{Strategy: models.PolicyStateless},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.StoreFlag {
		t.Fatal("expected StoreFlag false for a stateless policy")
	}
	if ctx.Conversation != "" {
		t.Fatalf("expected no conversation id for a stateless policy, got %q", ctx.Conversation)
	}
}

func TestResolveVendorCreatesAndReusesConversation(t *testing.T) {
	manager := New(NewMemoryStore())
	policy := models.ConversationPolicy{Strategy: models.PolicyVendor, TTLSeconds: 60}

	first, err := manager.Resolve(context.Background(), models.ConversationContextInput{
		TenantID: "tenant-a",
		RunID:    "run_1",
		Policy:   policy,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Conversation == "" {
		t.Fatal("expected a conversation id to be created")
	}
	if !first.StoreFlag {
		t.Fatal("expected StoreFlag true for a vendor policy")
	}

	second, err := manager.Resolve(context.Background(), models.ConversationContextInput{
		TenantID: "tenant-a",
		RunID:    "run_2",
		Policy:   policy,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Conversation != first.Conversation {
		t.Fatalf("expected the same tenant to reuse its conversation id, got %q vs %q", second.Conversation, first.Conversation)
	}
}

func TestResolveVendorHonorsExistingConversationID(t *testing.T) {
	manager := New(NewMemoryStore())
	ctx, err := manager.Resolve(context.Background(), models.ConversationContextInput{
		TenantID:               "tenant-a",
		RunID:                  "run_1",
		ExistingConversationID: "conv_preexisting",
		Policy:                 models.ConversationPolicy{Strategy: models.PolicyVendor, TTLSeconds: 60},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Conversation != "conv_preexisting" {
		t.Fatalf("expected the caller-supplied conversation id to be honored, got %q", ctx.Conversation)
	}
}

func TestResolveVendorCleanupDeletesMapping(t *testing.T) {
	store := NewMemoryStore()
	manager := New(store)
	policy := models.ConversationPolicy{Strategy: models.PolicyVendor, TTLSeconds: 60}

	ctx, err := manager.Resolve(context.Background(), models.ConversationContextInput{TenantID: "tenant-a", RunID: "run_1", Policy: policy})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ctx.Cleanup == nil {
		t.Fatal("expected a non-nil cleanup func for a vendor policy")
	}
	ctx.Cleanup()

	_, ok, err := store.Get(context.Background(), tenantKey("tenant-a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected cleanup to remove the stored conversation mapping")
	}
}
