package reason

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"response":"{\"goalNumber\":1,\"confidence\":0.8}","done":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(&Config{BaseURL: srv.URL, Model: "test", Timeout: 5 * time.Second})
	out, err := c.Generate(context.Background(), "match this task")
	if err != nil {
		t.Fatalf("Generate() failed: %v", err)
	}
	if out != `{"goalNumber":1,"confidence":0.8}` {
		t.Errorf("Generate() = %q", out)
	}
}

func TestHTTPClient_GenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(&Config{BaseURL: srv.URL, Model: "test", Timeout: 5 * time.Second})
	if _, err := c.Generate(context.Background(), "prompt"); err == nil {
		t.Fatal("expected error on 500 response")
	}
}

func TestHTTPClient_GenerateTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{"response":"late","done":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(&Config{BaseURL: srv.URL, Model: "test", Timeout: 50 * time.Millisecond})
	if _, err := c.Generate(context.Background(), "prompt"); err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestHTTPClient_Available(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"models":[]}`))
	}))

	c := NewHTTPClient(&Config{BaseURL: srv.URL, Model: "test", Timeout: time.Second})
	if !c.Available(context.Background()) {
		t.Error("Available() = false against a healthy server")
	}

	srv.Close()
	if c.Available(context.Background()) {
		t.Error("Available() = true against a closed server")
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare object", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"prose around", `Sure! Here is the result: {"a":1}. Hope it helps.`, `{"a":1}`},
		{"nested", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
		{"braces in string", `{"reason":"matches {goal}"}`, `{"reason":"matches {goal}"}`},
		{"no object", "no json here", ""},
		{"unterminated", `{"a":1`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractJSON(tt.in); got != tt.want {
				t.Errorf("ExtractJSON(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
