package ai

import (
	"context"
	"fmt"
	"os"
	"strings"
)

const (
	defaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "gemma:2b"
)

type ollamaConfig struct {
	Host string `json:"host"`
}

type ollamaProvider struct {
	host string
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (p *ollamaProvider) Name() string {
	return "ollama"
}

func (p *ollamaProvider) Generate(ctx context.Context, model string, prompt string) (string, error) {
	if model == "" {
		model = DefaultOllamaModel
	}
	var out ollamaGenerateResponse
	req := ollamaGenerateRequest{Model: model, Prompt: prompt, Stream: false}
	if err := postJSON(ctx, p.Name(), p.host+"/api/generate", nil, req, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Response), nil
}

func (p *ollamaProvider) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	var out ollamaEmbedResponse
	if err := postJSON(ctx, p.Name(), p.host+"/api/embed", nil, ollamaEmbedRequest{Model: model, Input: texts}, &out); err != nil {
		return nil, err
	}
	if len(out.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama returned %d embeddings for %d inputs", len(out.Embeddings), len(texts))
	}
	return out.Embeddings, nil
}

// ollamaHost prefers the configured host, then OLLAMA_HOST.
func ollamaHost(configured string) string {
	host := strings.TrimSpace(configured)
	if host == "" {
		host = strings.TrimSpace(os.Getenv("OLLAMA_HOST"))
	}
	if host == "" {
		host = defaultOllamaHost
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return strings.TrimRight(host, "/")
}

func newOllamaProvider(args interface{}) (*ollamaProvider, error) {
	cfg := &ollamaConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	return &ollamaProvider{host: ollamaHost(cfg.Host)}, nil
}

func init() {
	Register("ollama", func(args interface{}) (IAIProvider, error) {
		return newOllamaProvider(args)
	})
	RegisterEmbed("ollama", func(args interface{}) (IEmbedProvider, error) {
		return newOllamaProvider(args)
	})
}
