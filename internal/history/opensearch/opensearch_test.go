package opensearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/mcconsole/internal/history"
)

func TestSinkSend(t *testing.T) {
	var receivedBody []byte
	var receivedURL string
	var receivedMethod string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedMethod = r.Method
		receivedURL = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		receivedBody = body

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"_id":"test","_index":"test-index","result":"created"}`))
	}))
	defer server.Close()

	sink := New(server.URL, "test-index")

	event := history.Event{
		Type:       history.EventPlayerJoin,
		OccurredAt: time.Now().UTC(),
		Server:     "survival",
		Username:   "alice",
		Count:      3,
	}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if receivedMethod != "POST" {
		t.Errorf("Expected POST method, got: %s", receivedMethod)
	}
	if receivedURL != "/test-index/_doc" {
		t.Errorf("Expected URL path /test-index/_doc, got: %s", receivedURL)
	}

	var got map[string]interface{}
	if err := json.Unmarshal(receivedBody, &got); err != nil {
		t.Fatalf("Failed to parse received JSON: %v", err)
	}
	if got["type"] != string(history.EventPlayerJoin) {
		t.Errorf("Expected type %s, got: %v", history.EventPlayerJoin, got["type"])
	}
	if got["server"] != "survival" || got["username"] != "alice" {
		t.Errorf("unexpected event body: %v", got)
	}
	if got["count"] != float64(3) {
		t.Errorf("Expected count 3, got: %v", got["count"])
	}
}

func TestSinkSendError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"bad request"}`))
	}))
	defer server.Close()

	sink := New(server.URL, "test-index")
	event := history.Event{
		Type:       history.EventServerStop,
		OccurredAt: time.Now().UTC(),
		Server:     "survival",
	}

	err := sink.Send(context.Background(), event)
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !strings.Contains(err.Error(), "opensearch sink status 400") {
		t.Errorf("Expected status error message, got: %v", err)
	}
}

func TestSinkTrimsTrailingSlash(t *testing.T) {
	var receivedURL string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedURL = r.URL.String()
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	sink := New(server.URL+"/", "events")
	event := history.Event{Type: history.EventServerStart, OccurredAt: time.Now(), Server: "s"}
	if err := sink.Send(context.Background(), event); err != nil {
		t.Fatalf("send: %v", err)
	}
	if receivedURL != "/events/_doc" {
		t.Errorf("Expected URL path /events/_doc, got: %s", receivedURL)
	}
}
