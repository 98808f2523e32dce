package sentiment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func completionBody(content string) string {
	b, _ := json.Marshal(map[string]any{
		"model": "test-model",
		"choices": []map[string]any{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	})
	return string(b)
}

func TestNewLLMClassifier_Validation(t *testing.T) {
	if _, err := NewLLMClassifier(LLMOpts{Model: "m"}); err == nil {
		t.Error("expected error for missing base url")
	}
	if _, err := NewLLMClassifier(LLMOpts{BaseURL: "http://x"}); err == nil {
		t.Error("expected error for missing model")
	}
}

func TestLLMClassifier_Classify(t *testing.T) {
	var got completionRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionBody(`{"IsToxic": true, "Alignment": "ChaoticEvil"}`)))
	}))
	defer srv.Close()

	c, err := NewLLMClassifier(LLMOpts{BaseURL: srv.URL + "/v1/", APIKey: "sk-test", Model: "test-model", Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewLLMClassifier: %v", err)
	}
	res, err := c.Classify(context.Background(), "you are terrible")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if !res.IsToxic || res.Alignment != ChaoticEvil {
		t.Errorf("result = %+v", res)
	}
	if auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", auth)
	}
	if got.Model != "test-model" {
		t.Errorf("model = %q", got.Model)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "you are terrible" {
		t.Errorf("messages = %+v", got.Messages)
	}
	if got.Messages[0].Content != DefaultSystemPrompt {
		t.Errorf("system prompt not defaulted")
	}
	if got.ResponseFormat.Type != "json_schema" || got.ResponseFormat.JSONSchema.Name != "SentimentAnalysisResult" {
		t.Errorf("response_format = %+v", got.ResponseFormat)
	}
	if !got.ResponseFormat.JSONSchema.Strict {
		t.Error("schema should be strict")
	}
}

func TestLLMClassifier_Responses(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    Result
		wantErr string
	}{
		{
			name:   "fenced json",
			status: http.StatusOK,
			body:   completionBody("```json\n{\"IsToxic\": false, \"Alignment\": \"LawfulGood\"}\n```"),
			want:   Result{IsToxic: false, Alignment: LawfulGood},
		},
		{
			name:   "unknown alignment",
			status: http.StatusOK,
			body:   completionBody(`{"IsToxic": false, "Alignment": "Paladin"}`),
			want:   Result{Alignment: AlignmentUnknown},
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `{"error":"boom"}`,
			wantErr: "status 500",
		},
		{
			name:    "no choices",
			status:  http.StatusOK,
			body:    `{"choices":[]}`,
			wantErr: "empty response",
		},
		{
			name:    "not json",
			status:  http.StatusOK,
			body:    completionBody("I think it is toxic"),
			wantErr: "decode verdict",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c, err := NewLLMClassifier(LLMOpts{BaseURL: srv.URL, Model: "m"})
			if err != nil {
				t.Fatalf("NewLLMClassifier: %v", err)
			}
			res, err := c.Classify(context.Background(), "hello")
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if res != tt.want {
				t.Errorf("result = %+v, want %+v", res, tt.want)
			}
		})
	}
}

func TestLLMClassifier_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c, _ := NewLLMClassifier(LLMOpts{BaseURL: srv.URL, Model: "m"})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Classify(ctx, "hello"); err == nil {
		t.Fatal("expected error on cancelled context")
	}
}
