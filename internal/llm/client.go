package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"github.com/yungbote/loom-backend/internal/logger"
	"github.com/yungbote/loom-backend/internal/utils"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Completion struct {
	Text      string
	ModelUsed string
}

// Client is the model call port: one best-effort RPC. The implementation owns
// the ordered candidate list and fallback on permission/availability errors.
type Client interface {
	Call(ctx context.Context, messages []Message) (*Completion, error)
}

type httpClient struct {
	httpClient *http.Client
	log        *logger.Logger
	apiKey     string
	baseURL    string
	candidates []string
}

type modelsFile struct {
	Models []string `yaml:"models"`
}

var defaultCandidates = []string{"gpt-5-mini", "gpt-4.1-mini"}

func NewClient(log *logger.Logger) (Client, error) {
	clientLog := log.With("service", "LLMClient")

	apiKey := utils.GetEnv("OPENAI_API_KEY", "", log)
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is not set")
	}
	baseURL := utils.GetEnv("OPENAI_BASE_URL", "https://api.openai.com/v1", log)

	candidates, err := loadCandidates(log)
	if err != nil {
		return nil, err
	}

	return &httpClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		log:        clientLog,
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		candidates: candidates,
	}, nil
}

// loadCandidates reads the ordered model list: LEARN_MODELS (comma separated)
// wins, then a yaml file at LEARN_MODELS_FILE, then the built-in default.
func loadCandidates(log *logger.Logger) ([]string, error) {
	if csv := strings.TrimSpace(utils.GetEnv("LEARN_MODELS", "", log)); csv != "" {
		var models []string
		for _, m := range strings.Split(csv, ",") {
			if m = strings.TrimSpace(m); m != "" {
				models = append(models, m)
			}
		}
		if len(models) > 0 {
			return models, nil
		}
	}
	if path := strings.TrimSpace(utils.GetEnv("LEARN_MODELS_FILE", "", log)); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read models file: %w", err)
		}
		var f modelsFile
		if err := yaml.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("parse models file: %w", err)
		}
		if len(f.Models) > 0 {
			return f.Models, nil
		}
	}
	return defaultCandidates, nil
}

// apiError carries the HTTP status so fallback can distinguish
// permission/availability failures from everything else.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("llm api error (status %d): %s", e.StatusCode, e.Message)
}

func (c *httpClient) Call(ctx context.Context, messages []Message) (*Completion, error) {
	tracer := otel.Tracer("loom/llm")
	ctx, span := tracer.Start(ctx, "llm.Call")
	defer span.End()

	var lastErr error
	for i, model := range c.candidates {
		completion, err := c.callModel(ctx, model, messages)
		if err == nil {
			span.SetAttributes(attribute.String("llm.model", model))
			return completion, nil
		}
		lastErr = err
		if i < len(c.candidates)-1 && isFallbackError(err) {
			c.log.Warn("model unavailable, falling back to next candidate", "model", model, "error", err)
			continue
		}
		break
	}
	return nil, lastErr
}

func (c *httpClient) callModel(ctx context.Context, model string, messages []Message) (*Completion, error) {
	payload := map[string]any{
		"model":           model,
		"messages":        messages,
		"temperature":     0.7,
		"response_format": map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &apiError{StatusCode: resp.StatusCode, Message: truncate(string(raw), 300)}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode completion envelope: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, &apiError{StatusCode: resp.StatusCode, Message: "no choices in response"}
	}
	return &Completion{Text: parsed.Choices[0].Message.Content, ModelUsed: model}, nil
}

// isFallbackError reports whether the next candidate should be tried:
// permission, availability and not-found failures by status code, plus the
// message patterns the providers actually emit.
func isFallbackError(err error) bool {
	if api, ok := err.(*apiError); ok {
		switch api.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusTooManyRequests:
			return true
		}
		if api.StatusCode >= 500 {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, pat := range []string{"permission", "not found", "quota", "unavailable", "overloaded"} {
		if strings.Contains(msg, pat) {
			return true
		}
	}
	return false
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
