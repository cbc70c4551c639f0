package provider

import "testing"

func TestNewAnthropicClientRejectsEmptyAPIKey(t *testing.T) {
	if _, err := NewAnthropicClient(""); err == nil {
		t.Fatal("expected an error constructing a client with no api key")
	}
}

func TestNewAnthropicClientAcceptsAPIKey(t *testing.T) {
	client, err := NewAnthropicClient("test-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client == nil {
		t.Fatal("expected a non-nil client")
	}
}
