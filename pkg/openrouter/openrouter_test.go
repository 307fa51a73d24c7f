package openrouter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	t.Parallel()

	if c := NewClient(Config{}); c != nil {
		t.Fatal("expected nil client without an api key")
	}
	if c := NewClient(Config{APIKey: "sk-test"}); c == nil {
		t.Fatal("expected a client with an api key")
	}
}

func TestModelAvailable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[{"id":"vendor/listed-model","object":"model"}]}`))
	}))
	defer srv.Close()

	client := NewClient(Config{APIKey: "sk-test", BaseURL: srv.URL})
	if client == nil {
		t.Fatal("expected a client")
	}

	if err := ModelAvailable(context.Background(), client, "vendor/listed-model"); err != nil {
		t.Fatalf("listed model reported unavailable: %v", err)
	}
	if err := ModelAvailable(context.Background(), client, "vendor/other-model"); err == nil {
		t.Fatal("expected an error for a model the endpoint does not offer")
	}
}

func TestModelAvailableRequiresClient(t *testing.T) {
	t.Parallel()

	if err := ModelAvailable(context.Background(), nil, "any"); err == nil {
		t.Fatal("expected an error for a nil client")
	}
}
