package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"scriptchat/internal/domain"
	"scriptchat/internal/infra/config"
)

func TestNewEngine(t *testing.T) {
	tests := []struct {
		provider string
		template string
		want     string
		wantErr  error
	}{
		{provider: "echo", want: "echo"},
		{provider: "openai", template: "llama3", want: "openai"},
		{provider: "ollama", template: "llama3", want: "ollama"},
		{provider: "ollama", template: "alpaca", wantErr: domain.ErrUnknownTemplate},
		{provider: "llamafile", wantErr: domain.ErrEngineNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.provider+"/"+tt.template, func(t *testing.T) {
			cfg := config.Defaults()
			cfg.Engine.Provider = tt.provider
			cfg.Model.Template = tt.template

			eng, err := NewEngine(context.Background(), cfg, newTestLogger())
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewEngine: %v", err)
			}
			if eng.Name() != tt.want {
				t.Errorf("Name = %q, want %q", eng.Name(), tt.want)
			}
		})
	}
}

func TestNewEngineOllamaWarmup(t *testing.T) {
	var generated bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/generate" {
			generated = true
		}
	}))
	defer server.Close()

	cfg := config.Defaults()
	cfg.Engine.Provider = "ollama"
	cfg.Engine.BaseURL = server.URL
	cfg.Engine.Warmup = true

	if _, err := NewEngine(context.Background(), cfg, newTestLogger()); err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	if !generated {
		t.Error("warmup request not sent")
	}
}
