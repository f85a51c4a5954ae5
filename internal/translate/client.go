// Package translate rewrites transcript text into a target language
// through an OpenAI-compatible chat completion endpoint. Batches that
// fail after retries are left untranslated; partial failure never fails
// a task.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"log/slog"

	"subforge/internal/config"
	"subforge/internal/logging"
)

const (
	defaultHTTPTimeout = 120 * time.Second
	retryBaseDelay     = time.Second
	retryMaxDelay      = 10 * time.Second
)

const systemPrompt = `You are a subtitle translator. You receive JSON with a target language and a list of subtitle lines. Translate every line into the target language, preserving meaning, tone, and approximate length. Respond with JSON only: {"translations": ["...", ...]} with exactly one entry per input line, in order.`

// Result is one line's translation outcome.
type Result struct {
	Text       string
	Translated bool
}

// Engine is the translation boundary the pipeline depends on.
type Engine interface {
	TranslateBatch(ctx context.Context, texts []string, targetLang string) ([]Result, error)
}

// Client talks to the configured chat completion API.
type Client struct {
	cfg        config.Translation
	httpClient *http.Client
	sleeper    func(time.Duration)
	logger     *slog.Logger
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithSleeper overrides how retry sleeps are performed (useful for tests).
func WithSleeper(sleeper func(time.Duration)) Option {
	return func(c *Client) {
		c.sleeper = sleeper
	}
}

// NewClient constructs a translation client from configuration.
func NewClient(cfg *config.Config, logger *slog.Logger, opts ...Option) *Client {
	timeout := defaultHTTPTimeout
	if cfg.Translation.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.Translation.TimeoutSeconds) * time.Second
	}
	client := &Client{
		cfg:        cfg.Translation,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger(logger, "translate"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// TranslateBatch translates the texts in configured-size chunks. Every
// input line gets a result: translated text when its chunk succeeded,
// the original text otherwise. Only cancellation aborts the whole call.
func (c *Client) TranslateBatch(ctx context.Context, texts []string, targetLang string) ([]Result, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, errors.New("translate: api key required")
	}
	if strings.TrimSpace(targetLang) == "" {
		return nil, errors.New("translate: target language required")
	}

	results := make([]Result, len(texts))
	for i, text := range texts {
		results[i] = Result{Text: text}
	}

	batch := c.cfg.BatchSize
	if batch <= 0 {
		batch = 20
	}
	failedChunks := 0
	for start := 0; start < len(texts); start += batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := start + batch
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]

		translations, err := c.translateChunkWithRetry(ctx, chunk, targetLang)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			failedChunks++
			c.logger.Warn("translation chunk failed, keeping original text",
				logging.Int("chunk_start", start),
				logging.Int("chunk_size", len(chunk)),
				logging.Error(err),
			)
			continue
		}
		for i, translated := range translations {
			if text := strings.TrimSpace(translated); text != "" {
				results[start+i] = Result{Text: text, Translated: true}
			}
		}
	}

	if failedChunks > 0 {
		c.logger.Warn("translation finished with partial failures",
			logging.Int("failed_chunks", failedChunks),
			logging.Int("total_lines", len(texts)),
		)
	}
	return results, nil
}

func (c *Client) translateChunkWithRetry(ctx context.Context, chunk []string, targetLang string) ([]string, error) {
	attempts := c.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		translations, err := c.translateChunkOnce(ctx, chunk, targetLang)
		if err == nil {
			return translations, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		if attempt < attempts {
			if err := c.sleep(ctx, backoffDelay(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
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
	} `json:"error"`
}

type batchPayload struct {
	TargetLang string   `json:"target_lang"`
	Lines      []string `json:"lines"`
}

type batchResult struct {
	Translations []string `json:"translations"`
}

func (c *Client) translateChunkOnce(ctx context.Context, chunk []string, targetLang string) ([]string, error) {
	userPayload, err := json.Marshal(batchPayload{TargetLang: targetLang, Lines: chunk})
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: string(userPayload)},
		},
		Temperature:    0,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var completion chatResponse
	if err := json.Unmarshal(payload, &completion); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if completion.Error != nil {
		return nil, fmt.Errorf("api error: %s", strings.TrimSpace(completion.Error.Message))
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("empty choices")
	}

	var parsed batchResult
	if err := decodeModelJSON(completion.Choices[0].Message.Content, &parsed); err != nil {
		return nil, fmt.Errorf("parse translations: %w", err)
	}
	if len(parsed.Translations) != len(chunk) {
		return nil, fmt.Errorf("translation count mismatch: sent %d, got %d", len(chunk), len(parsed.Translations))
	}
	return parsed.Translations, nil
}

// decodeModelJSON tolerates the code fences some models wrap JSON in.
func decodeModelJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "json"))
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	return json.Unmarshal([]byte(trimmed), target)
}

func backoffDelay(attempt int) time.Duration {
	delay := retryBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= retryMaxDelay {
			return retryMaxDelay
		}
	}
	return delay
}

func (c *Client) sleep(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	if c.sleeper != nil {
		c.sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
