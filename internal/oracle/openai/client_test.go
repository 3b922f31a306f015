package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "gasless-agent/internal/errors"
	"gasless-agent/internal/feed"
	"gasless-agent/internal/oracle"
)

var testProposal = oracle.Params{Amount: 100, From: "USDC", To: "WETH"}

func completion(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{}); err == nil {
		t.Fatalf("expected error when api key is missing")
	}
}

func TestDecideSuccess(t *testing.T) {
	var captured struct {
		Authorization string
		Body          map[string]any
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Authorization = r.Header.Get("Authorization")
		defer r.Body.Close()
		if err := json.NewDecoder(r.Body).Decode(&captured.Body); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completion(`{"decision":"act","reason":"price dipped"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	signal := feed.Signal{Asset: "ethereum", Quote: "usd", Value: 2500}
	decision, err := client.Decide(context.Background(), signal, oracle.NewContext(signal, testProposal, 1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decision.Action != oracle.ActionAct || decision.Params != testProposal {
		t.Fatalf("unexpected decision: %+v", decision)
	}

	if !strings.HasPrefix(captured.Authorization, "Bearer ") {
		t.Fatalf("authorization header missing: %q", captured.Authorization)
	}
	if captured.Body["model"] != defaultModelName {
		t.Fatalf("unexpected model %v", captured.Body["model"])
	}
	messages, _ := captured.Body["messages"].([]any)
	if len(messages) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(messages))
	}
	user, _ := messages[1].(map[string]any)
	if content, _ := user["content"].(string); !strings.Contains(content, "ETH is $2500. Should I swap 100 USDC to WETH?") {
		t.Fatalf("user prompt missing proposal: %q", content)
	}
}

func TestDecideMalformedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completion(`{"decision":"act","amount":-5,"from":"USDC","to":"WETH"}`))
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	signal := feed.Signal{Asset: "ethereum", Value: 2500}
	_, err = client.Decide(context.Background(), signal, oracle.NewContext(signal, testProposal, 1))
	if xerrors.CodeOf(err) != xerrors.CodeOracleFailure {
		t.Fatalf("expected oracle failure, got %v", err)
	}
}

func TestDecideHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewClient(Config{APIKey: "test", BaseURL: srv.URL, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	client.httpClient = srv.Client()

	signal := feed.Signal{Asset: "ethereum", Value: 2500}
	_, err = client.Decide(context.Background(), signal, oracle.NewContext(signal, testProposal, 1))
	if err == nil {
		t.Fatalf("expected error when http status is not success")
	}
	typed, ok := xerrors.From(err)
	if !ok || typed.Metadata()["status"] != "400" || typed.Metadata()["body"] != "boom" {
		t.Fatalf("expected status metadata, got %v", err)
	}
}
