package generation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vipplay/content-backend/internal/domain"
)

func TestClientGenerateSuccessPerRoute(t *testing.T) {
	cases := []struct {
		jobType   domain.JobType
		path      string
		body      string
		resultKey string
		want      string
	}{
		{domain.JobTypeArticle, "/api/generation/topic", `{"success":true,"content":"an article"}`, "content", "an article"},
		{domain.JobTypeImage, "/api/images/generate", `{"success":true,"image_url":"https://cdn/img.png"}`, "image_url", "https://cdn/img.png"},
		{domain.JobTypeVideo, "/api/videos/generate", `{"success":true,"video_url":"https://cdn/clip.mp4"}`, "video_url", "https://cdn/clip.mp4"},
	}

	for _, testCase := range cases {
		t.Run(string(testCase.jobType), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != testCase.path {
					t.Errorf("expected path %s, got %s", testCase.path, r.URL.Path)
				}
				if r.Header.Get("Authorization") != "Bearer test-key" {
					t.Errorf("missing bearer token, got %q", r.Header.Get("Authorization"))
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(testCase.body))
			}))
			defer server.Close()

			client := NewClient(ClientConfig{BaseURL: server.URL, APIKey: "test-key"})
			result, err := client.Generate(context.Background(), testCase.jobType, []byte(`{"prompt":"x"}`))
			if err != nil {
				t.Fatalf("generate failed: %v", err)
			}

			var decoded map[string]any
			if err := json.Unmarshal(result, &decoded); err != nil {
				t.Fatalf("failed decoding result: %v", err)
			}
			if decoded[testCase.resultKey] != testCase.want {
				t.Fatalf("expected %s=%q, got %v", testCase.resultKey, testCase.want, decoded)
			}
		})
	}
}

func TestClientGenerateCarriesMetadata(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"success":true,"content":"text","metadata":{"model":"m1"}}`))
	}))
	defer server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL})
	result, err := client.Generate(context.Background(), domain.JobTypeArticle, []byte(`{"topic":"x"}`))
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}

	var decoded struct {
		Metadata map[string]string `json:"metadata"`
	}
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("failed decoding result: %v", err)
	}
	if decoded.Metadata["model"] != "m1" {
		t.Fatalf("expected metadata to pass through, got %v", decoded.Metadata)
	}
}

func TestClientGenerateClassification(t *testing.T) {
	cases := []struct {
		name          string
		statusCode    int
		body          string
		wantTransient bool
	}{
		{"server error", http.StatusInternalServerError, "boom", true},
		{"throttled", http.StatusTooManyRequests, "slow down", true},
		{"bad request", http.StatusBadRequest, "invalid prompt", false},
		{"unauthorized", http.StatusUnauthorized, "bad key", false},
		{"declared failure", http.StatusOK, `{"success":false,"error":"nsfw prompt"}`, false},
		{"empty result", http.StatusOK, `{"success":true,"content":""}`, true},
		{"garbled body", http.StatusOK, `not json`, true},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(testCase.statusCode)
				_, _ = w.Write([]byte(testCase.body))
			}))
			defer server.Close()

			client := NewClient(ClientConfig{BaseURL: server.URL})
			_, err := client.Generate(context.Background(), domain.JobTypeArticle, []byte(`{"topic":"x"}`))
			if err == nil {
				t.Fatal("expected error")
			}
			if IsTransient(err) != testCase.wantTransient {
				t.Fatalf("expected transient=%v, got error %v", testCase.wantTransient, err)
			}
		})
	}
}

func TestClientGenerateTransportErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close()

	client := NewClient(ClientConfig{BaseURL: server.URL})
	_, err := client.Generate(context.Background(), domain.JobTypeArticle, []byte(`{"topic":"x"}`))
	if err == nil {
		t.Fatal("expected transport error")
	}
	if !IsTransient(err) {
		t.Fatalf("expected transient classification, got %v", err)
	}
}

func TestClientGenerateCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient(ClientConfig{BaseURL: server.URL})
	_, err := client.Generate(ctx, domain.JobTypeArticle, []byte(`{"topic":"x"}`))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClientGenerateUnknownType(t *testing.T) {
	client := NewClient(ClientConfig{BaseURL: "http://localhost:0"})
	_, err := client.Generate(context.Background(), domain.JobType("podcast"), []byte(`{}`))
	if err == nil || IsTransient(err) {
		t.Fatalf("expected permanent error for unroutable type, got %v", err)
	}
}

func TestIsTransientDefaultsToRetry(t *testing.T) {
	if !IsTransient(errors.New("some wire error")) {
		t.Fatal("expected unclassified errors to count as transient")
	}
	if IsTransient(permanentError("rejected")) {
		t.Fatal("expected permanent error to be non-transient")
	}
}
