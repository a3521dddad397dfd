package embeddings

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

	"github.com/strataline/graphmind/internal/domain"
	"github.com/strataline/graphmind/internal/pkg/httpx"
	"github.com/strataline/graphmind/internal/platform/envutil"
	"github.com/strataline/graphmind/internal/platform/logger"
)

// Mode selects the asymmetric encoding strategy. Queries and documents are
// encoded differently by the provider; every call must set it explicitly.
type Mode string

const (
	ModeQuery    Mode = "query"
	ModeDocument Mode = "document"
)

// maxBatchSize bounds one provider call. EmbedBatch chunks larger inputs.
const maxBatchSize = 128

// ErrAuth marks a provider auth rejection. Sustained by nature; batch jobs
// abort instead of retrying.
var ErrAuth = errors.New("embeddings: auth rejected")

type Client interface {
	// Embed encodes up to maxBatchSize texts in one provider call,
	// preserving input order.
	Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error)
	// EmbedBatch chunks arbitrarily many texts into provider-safe calls.
	EmbedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error)
	Dimensions() int
}

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	TimeoutSec int
	MaxRetries int
}

func ConfigFromEnv() Config {
	return Config{
		BaseURL:    envutil.Str("EMBEDDINGS_BASE_URL", "https://api.openai.com"),
		APIKey:     envutil.Str("EMBEDDINGS_API_KEY", ""),
		Model:      envutil.Str("EMBEDDINGS_MODEL", "text-embedding-3-small"),
		Dimensions: envutil.Int("EMBEDDINGS_DIMENSIONS", 1536),
		TimeoutSec: envutil.Int("EMBEDDINGS_TIMEOUT_SECONDS", 60),
		MaxRetries: envutil.Int("EMBEDDINGS_MAX_RETRIES", 4),
	}
}

type client struct {
	log        *logger.Logger
	cfg        Config
	baseURL    string
	httpClient *http.Client
}

func New(cfg Config, log *logger.Logger) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("embeddings: logger required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("embeddings: base url required: %w", domain.ErrInvalid)
	}
	if cfg.TimeoutSec <= 0 {
		cfg.TimeoutSec = 60
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = 1536
	}
	return &client{
		log:        log.With("client", "Embeddings"),
		cfg:        cfg,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: time.Duration(cfg.TimeoutSec) * time.Second},
	}, nil
}

func NewFromEnv(log *logger.Logger) (Client, error) {
	return New(ConfigFromEnv(), log)
}

func (c *client) Dimensions() int { return c.cfg.Dimensions }

type embeddingsRequest struct {
	Model     string   `json:"model"`
	Input     []string `json:"input"`
	InputType string   `json:"input_type"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

func (c *client) Embed(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	if mode != ModeQuery && mode != ModeDocument {
		return nil, fmt.Errorf("embeddings: mode must be query or document: %w", domain.ErrInvalid)
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if len(texts) > maxBatchSize {
		return nil, fmt.Errorf("embeddings: batch of %d exceeds limit %d: %w",
			len(texts), maxBatchSize, domain.ErrInvalid)
	}

	clean := make([]string, len(texts))
	for i := range texts {
		s := strings.TrimSpace(texts[i])
		if s == "" {
			return nil, fmt.Errorf("embeddings: input %d is empty: %w", i, domain.ErrInvalid)
		}
		clean[i] = s
	}

	inputType := "search_document"
	if mode == ModeQuery {
		inputType = "search_query"
	}
	req := embeddingsRequest{
		Model:     c.cfg.Model,
		Input:     clean,
		InputType: inputType,
	}

	var resp embeddingsResponse
	if err := c.do(ctx, "POST", "/v1/embeddings", req, &resp); err != nil {
		return nil, err
	}

	out := make([][]float32, len(clean))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			continue
		}
		vec := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			vec[i] = float32(f)
		}
		out[d.Index] = vec
	}
	for i := range out {
		if out[i] == nil {
			return nil, fmt.Errorf("embeddings: provider returned %d vectors for %d inputs",
				len(resp.Data), len(clean))
		}
	}
	return out, nil
}

func (c *client) EmbedBatch(ctx context.Context, texts []string, mode Mode) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxBatchSize {
		end := start + maxBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		vecs, err := c.Embed(ctx, texts[start:end], mode)
		if err != nil {
			return nil, fmt.Errorf("embeddings: chunk %d-%d: %w", start, end, err)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

type providerHTTPError struct {
	StatusCode int
	Body       string
}

func (e *providerHTTPError) Error() string {
	return fmt.Sprintf("embeddings http %d: %s", e.StatusCode, e.Body)
}

func (e *providerHTTPError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

func (c *client) doOnce(ctx context.Context, method, path string, body any) (*http.Response, []byte, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &buf)
	if err != nil {
		return nil, nil, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", err, domain.ErrUnavailable)
	}

	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return resp, nil, readErr
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, raw, &providerHTTPError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return resp, raw, nil
}

func (c *client) do(ctx context.Context, method, path string, body any, out any) error {
	backoff := 1 * time.Second

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		resp, raw, err := c.doOnce(ctx, method, path, body)
		if err == nil {
			if out == nil {
				return nil
			}
			if uErr := json.Unmarshal(raw, out); uErr != nil {
				return fmt.Errorf("embeddings decode error: %w", uErr)
			}
			return nil
		}

		// Auth-class failures are sustained; retrying would loop forever.
		var httpErr *providerHTTPError
		if errors.As(err, &httpErr) {
			if httpErr.StatusCode == 401 || httpErr.StatusCode == 403 {
				return fmt.Errorf("%w: %w", ErrAuth, err)
			}
			if httpErr.StatusCode == 429 && attempt == c.cfg.MaxRetries {
				return fmt.Errorf("%w: %w", err, domain.ErrRateLimited)
			}
		}

		if !httpx.IsRetryableError(err) {
			return err
		}
		if attempt == c.cfg.MaxRetries {
			return err
		}

		sleepFor := httpx.RetryAfterDuration(resp, backoff, 10*time.Second)
		sleepFor = httpx.JitterSleep(sleepFor)

		c.log.Warn("Embeddings request retrying",
			"path", path,
			"attempt", attempt+1,
			"max_retries", c.cfg.MaxRetries,
			"sleep", sleepFor.String(),
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepFor):
		}
		backoff *= 2
	}
	return fmt.Errorf("embeddings: unreachable retry loop")
}
