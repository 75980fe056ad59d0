package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultTimeout     = 30 * time.Second
	defaultTemperature = 0.7
	defaultMaxTokens   = 2048
)

const questionPrompt = `Generate exactly %d multiple-choice questions about "%s".
Respond with a JSON array only. Each element must have this shape:
{"question": "...", "options": ["...", "...", "...", "..."], "answer": "..."}
Rules:
- exactly four options per question
- "answer" must repeat the full text of the correct option
- questions must be factually accurate and suited to school students
Return only the JSON array, nothing else.`

const topicPrompt = `List 5 to 8 concise study-topic names closely related to "%s".
Respond with a JSON array of strings only, for example ["Topic one", "Topic two"].`

// Config configures the Synthesizer.
type Config struct {
	APIURL      string
	Model       string
	APIKeys     []string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Cache       *Cache
	Store       *Store
	Logger      *zap.Logger
	Temperature float64
	MaxTokens   int
}

// Synthesizer manufactures questions for a topic through an external
// chat-completion provider, trying credentials in priority order. Every
// provider, network and persistence failure is soft: logged and absorbed,
// never returned as an aborting error.
type Synthesizer struct {
	apiURL      string
	model       string
	apiKeys     []string
	httpClient  *http.Client
	cache       *Cache
	store       *Store
	logger      *zap.Logger
	temperature float64
	maxTokens   int
}

// NewSynthesizer constructs a Synthesizer with sane defaults.
func NewSynthesizer(cfg Config) *Synthesizer {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	temperature := cfg.Temperature
	if temperature <= 0 {
		temperature = defaultTemperature
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &Synthesizer{
		apiURL:      strings.TrimSuffix(cfg.APIURL, "/"),
		model:       cfg.Model,
		apiKeys:     cfg.APIKeys,
		httpClient:  client,
		cache:       cfg.Cache,
		store:       cfg.Store,
		logger:      logger,
		temperature: temperature,
		maxTokens:   maxTokens,
	}
}

// Available reports whether at least one credential is configured.
func (s *Synthesizer) Available() bool {
	return len(s.apiKeys) > 0
}

// Generate returns up to count well-formed questions for the topic. The TTL
// cache is checked first; on miss each credential is tried in priority order
// until one returns a usable payload. Results are persisted to the
// AI-question store and the TTL cache before they are returned.
func (s *Synthesizer) Generate(ctx context.Context, topic string, count int) []Item {
	if count <= 0 || strings.TrimSpace(topic) == "" {
		return nil
	}
	if cached := s.cache.Get(ctx, topic, count); len(cached) > 0 {
		return cached
	}

	prompt := fmt.Sprintf(questionPrompt, count, topic)
	content, ok := s.complete(ctx, prompt)
	if !ok {
		return nil
	}

	items := parseItems(content)
	if len(items) == 0 {
		s.logger.Warn("provider returned no usable questions", zap.String("topic", topic))
		return nil
	}
	if len(items) > count {
		items = items[:count]
	}

	if s.store != nil {
		if err := s.store.Append(ctx, topic, items); err != nil {
			s.logger.Warn("persisting synthesized questions failed", zap.String("topic", topic), zap.Error(err))
		}
	}
	s.cache.Put(ctx, topic, count, items)
	return items
}

// DiscoverTopics proposes related topic names for a free-text query. When
// the provider is unusable the query itself is returned as the sole topic.
func (s *Synthesizer) DiscoverTopics(ctx context.Context, query string) []string {
	fallback := []string{strings.TrimSpace(query)}
	if strings.TrimSpace(query) == "" {
		return nil
	}

	content, ok := s.complete(ctx, fmt.Sprintf(topicPrompt, query))
	if !ok {
		return fallback
	}

	array := extractJSONArray(content)
	if array == "" {
		return fallback
	}
	var topics []string
	if err := json.Unmarshal([]byte(array), &topics); err != nil {
		s.logger.Warn("topic discovery payload malformed", zap.Error(err))
		return fallback
	}
	cleaned := make([]string, 0, len(topics))
	for _, topic := range topics {
		if trimmed := strings.TrimSpace(topic); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	if len(cleaned) == 0 {
		return fallback
	}
	return cleaned
}

// complete issues one chat-completion request per credential until one
// returns non-empty message content.
func (s *Synthesizer) complete(ctx context.Context, prompt string) (string, bool) {
	if !s.Available() {
		s.logger.Warn("no provider credentials configured")
		return "", false
	}
	for index, key := range s.apiKeys {
		content, err := s.completeWithKey(ctx, key, prompt)
		if err != nil {
			s.logger.Warn("provider request failed",
				zap.Int("credential_index", index), zap.Error(err))
			continue
		}
		if strings.TrimSpace(content) == "" {
			s.logger.Warn("provider returned empty content", zap.Int("credential_index", index))
			continue
		}
		return content, true
	}
	return "", false
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *Synthesizer) completeWithKey(ctx context.Context, key, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       s.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+key)

	response, err := s.httpClient.Do(request)
	if err != nil {
		return "", fmt.Errorf("provider request: %w", err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("provider status %d", response.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("provider returned no choices")
	}
	return parsed.Choices[0].Message.Content, nil
}

// parseItems extracts the outermost JSON array from the content, tolerating
// surrounding prose and code fences, and keeps only well-formed items.
func parseItems(content string) []Item {
	array := extractJSONArray(content)
	if array == "" {
		return nil
	}

	var raw []struct {
		Question string   `json:"question"`
		Options  []string `json:"options"`
		Answer   string   `json:"answer"`
	}
	if err := json.Unmarshal([]byte(array), &raw); err != nil {
		return nil
	}

	items := make([]Item, 0, len(raw))
	for _, candidate := range raw {
		question := strings.TrimSpace(candidate.Question)
		answer := strings.TrimSpace(candidate.Answer)
		if question == "" || answer == "" {
			continue
		}
		if len(candidate.Options) != 4 {
			continue
		}
		var options [4]string
		valid := true
		for i, option := range candidate.Options {
			trimmed := strings.TrimSpace(option)
			if trimmed == "" {
				valid = false
				break
			}
			options[i] = trimmed
		}
		if !valid {
			continue
		}
		items = append(items, Item{Question: question, Options: options, CorrectText: answer})
	}
	return items
}

// extractJSONArray returns the first bracket-balanced JSON array embedded in
// the text, or "" when none is present.
func extractJSONArray(content string) string {
	start := strings.IndexByte(content, '[')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(content); i++ {
		ch := content[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return content[start : i+1]
			}
		}
	}
	return ""
}
