package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/signalnine/ccobench/internal/workspace"
)

const (
	anthropicVersion   = "2023-06-01"
	defaultMaxRetries  = 3
	defaultBaseBackoff = time.Second
	judgeMaxTokens     = 1024
)

type JudgeOptions struct {
	URL               string
	Model             string
	APIKey            string
	Samples           int
	MaxSourceChars    int
	RequestsPerSecond float64
	MaxRetries        int // negative disables retries
	RetryBackoff      time.Duration
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// Judge is an Evaluator backed by the Anthropic Messages API. Each
// evaluation asks for several independent samples and keeps the median per
// dimension.
type Judge struct {
	opts    JudgeOptions
	client  *http.Client
	limiter *rate.Limiter
	logger  *zap.Logger
}

func NewJudge(opts JudgeOptions) (*Judge, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("judge API key required")
	}
	if opts.URL == "" {
		return nil, fmt.Errorf("judge URL required")
	}
	if opts.Samples < 1 {
		opts.Samples = 1
	}
	if opts.MaxSourceChars < 1 {
		opts.MaxSourceChars = 100_000
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultBaseBackoff
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Judge{
		opts:    opts,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		logger:  logger,
	}, nil
}

func (j *Judge) Evaluate(ctx context.Context, dir, prompt string) (*AIResult, error) {
	source, err := CollectSource(dir, j.opts.MaxSourceChars)
	if err != nil {
		return nil, err
	}
	judgePrompt := buildJudgePrompt(prompt, source)

	all := make(map[string][]float64)
	var (
		usable  int
		lastErr error
	)
	for i := 0; i < j.opts.Samples; i++ {
		text, err := j.complete(ctx, judgePrompt)
		if err == nil {
			var scores map[string]float64
			scores, err = ParseJudgeResponse(text)
			if err == nil {
				usable++
				for _, dim := range Dimensions {
					if v, ok := scores[dim]; ok {
						all[dim] = append(all[dim], clampScore(v))
					}
				}
				continue
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		j.logger.Warn("judge sample failed", zap.Int("attempt", i+1), zap.String("dir", dir), zap.Error(err))
	}
	if usable == 0 {
		return nil, fmt.Errorf("judge produced no usable sample: %w", lastErr)
	}

	res := &AIResult{
		Dimensions: make(map[string]float64, len(all)),
		Model:      j.opts.Model,
		Samples:    usable,
	}
	var sum float64
	for dim, v := range all {
		res.Dimensions[dim] = MedianScore(v)
		sum += res.Dimensions[dim]
	}
	if len(res.Dimensions) == 0 {
		return nil, fmt.Errorf("judge response scored none of %s", strings.Join(Dimensions, ", "))
	}
	res.OverallScore = math.Round(sum/float64(len(res.Dimensions))*100) / 100
	return res, nil
}

// complete sends one prompt, retrying transient failures with exponential
// backoff.
func (j *Judge) complete(ctx context.Context, prompt string) (string, error) {
	req := messagesRequest{
		Model:       j.opts.Model,
		MaxTokens:   judgeMaxTokens,
		Temperature: 0,
		Messages:    []message{{Role: "user", Content: prompt}},
	}

	var lastErr error
	for attempt := 0; attempt <= j.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := j.opts.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		// Retries spend limiter tokens too.
		if err := j.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("rate limiter: %w", err)
		}
		text, err := j.doRequest(ctx, req)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if !isRetryable(err) {
			return "", err
		}
	}
	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (j *Judge) doRequest(ctx context.Context, req messagesRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, j.opts.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", j.opts.APIKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := j.client.Do(httpReq)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("judge request: %w", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading judge response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &retryableError{err: fmt.Errorf("rate limited (429)")}
	case resp.StatusCode >= 500:
		return "", &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, data)}
	case resp.StatusCode != http.StatusOK:
		var apiErr apiError
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("judge API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("judge API error (%d): %s", resp.StatusCode, data)
	}

	var out messagesResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("parsing judge response: %w", err)
	}
	for _, block := range out.Content {
		if block.Type == "text" || block.Type == "" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("empty response from judge")
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type apiError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

func buildJudgePrompt(projectPrompt, source string) string {
	return fmt.Sprintf(`You are a senior code reviewer. Score the project below against the task it was built for.

Task:
%s

Score each dimension from 0 to 100: %s.

Source:
%s

Respond with ONLY a JSON object mapping dimension name to score, e.g.:
{"correctness": 80, "code_quality": 70}`, projectPrompt, strings.Join(Dimensions, ", "), source)
}

// CollectSource concatenates the project's source files, each under a
// header line, truncated to maxChars.
func CollectSource(dir string, maxChars int) (string, error) {
	var b strings.Builder
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && workspace.SkipDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if _, ok := workspace.Language(d.Name()); !ok || !d.Type().IsRegular() {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		fmt.Fprintf(&b, "=== %s ===\n%s\n", filepath.ToSlash(rel), data)
		if b.Len() > maxChars {
			return fs.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("collecting source from %s: %w", dir, err)
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("collecting source from %s: no source files", dir)
	}
	out := b.String()
	if len(out) > maxChars {
		cut := maxChars
		for cut > 0 && !utf8.RuneStart(out[cut]) {
			cut--
		}
		out = out[:cut] + fmt.Sprintf("\n\n... [source truncated to %d chars] ...", maxChars)
	}
	return out, nil
}

// ParseJudgeResponse extracts the JSON score object from a model reply,
// tolerating markdown fences and surrounding prose.
func ParseJudgeResponse(content string) (map[string]float64, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("parsing judge response: no JSON object found")
	}
	var scores map[string]float64
	if err := json.Unmarshal([]byte(content[start:end+1]), &scores); err != nil {
		return nil, fmt.Errorf("parsing judge response: %w", err)
	}
	return scores, nil
}

// MedianScore returns the median of scores, or 0 for none.
func MedianScore(scores []float64) float64 {
	if len(scores) == 0 {
		return 0.0
	}
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
