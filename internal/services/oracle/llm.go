package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ivankudzin/modqueue/internal/config"
	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
)

const (
	anthropicVersion = "2023-06-01"
	maxResponseBytes = 1 << 20

	decisionViolation = "violation"
)

// RequestError describes a failed call to the model endpoint. Retryable
// marks failures that may succeed on a later attempt; the rest also match
// model.ErrOracleRejected.
type RequestError struct {
	Op         string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Err != nil && e.StatusCode > 0:
		return fmt.Sprintf("%s: status=%d: %v", e.Op, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s: status=%d", e.Op, e.StatusCode)
	default:
		return e.Op
	}
}

func (e *RequestError) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := []error{model.ErrOracleUnavailable}
	if !e.Retryable {
		errs = append(errs, model.ErrOracleRejected)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// LLMOracle asks a Messages API compatible model for a verdict.
type LLMOracle struct {
	endpoint   string
	apiKey     string
	model      string
	maxTokens  int
	httpClient *http.Client
}

func NewLLMOracle(cfg config.LLMOracleConfig, httpClient *http.Client) (*LLMOracle, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse oracle base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid oracle base url: %q", base)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("oracle api key is empty")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("oracle model is empty")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	return &LLMOracle{
		endpoint:   strings.TrimRight(base, "/") + "/v1/messages",
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      strings.TrimSpace(cfg.Model),
		maxTokens:  maxTokens,
		httpClient: httpClient,
	}, nil
}

type messagesRequest struct {
	Model     string           `json:"model"`
	MaxTokens int              `json:"max_tokens"`
	System    string           `json:"system"`
	Messages  []messageContent `json:"messages"`
}

type messageContent struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type moderationResult struct {
	Decision   string   `json:"decision"`
	Confidence float64  `json:"confidence"`
	Feedback   string   `json:"feedback"`
	Violations []string `json:"violations"`
}

func (o *LLMOracle) Evaluate(ctx context.Context, text string, kind enums.ContentKind, ec model.EvaluationContext) (model.Verdict, error) {
	system, user := buildPrompt(text, kind, ec)
	payload, err := json.Marshal(messagesRequest{
		Model:     o.model,
		MaxTokens: o.maxTokens,
		System:    system,
		Messages:  []messageContent{{Role: "user", Content: user}},
	})
	if err != nil {
		return model.Verdict{}, &RequestError{Op: "marshal oracle request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(payload))
	if err != nil {
		return model.Verdict{}, &RequestError{Op: "create oracle request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", o.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := o.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(ctxErr, context.DeadlineExceeded) {
			return model.Verdict{}, fmt.Errorf("%w: %v", model.ErrOracleTimeout, err)
		}
		return model.Verdict{}, &RequestError{Op: "execute oracle request", Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return model.Verdict{}, fmt.Errorf("%w: %v", model.ErrOracleTimeout, err)
		}
		return model.Verdict{}, &RequestError{Op: "read oracle response", StatusCode: resp.StatusCode, Retryable: true, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return model.Verdict{}, &RequestError{
			Op:         "unexpected oracle status",
			StatusCode: resp.StatusCode,
			Retryable:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
			Err:        errors.New(msg),
		}
	}

	var decoded messagesResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return model.Verdict{}, &RequestError{Op: "decode oracle response", StatusCode: resp.StatusCode, Retryable: true, Err: err}
	}
	var out strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			out.WriteString(block.Text)
		}
	}
	return parseVerdict(out.String())
}

func parseVerdict(raw string) (model.Verdict, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return model.Verdict{}, &RequestError{Op: "parse oracle verdict", Retryable: true, Err: errors.New("no json object in model output")}
	}

	var result moderationResult
	if err := json.Unmarshal([]byte(raw[start:end+1]), &result); err != nil {
		return model.Verdict{}, &RequestError{Op: "parse oracle verdict", Retryable: true, Err: err}
	}

	decision := strings.ToLower(strings.TrimSpace(result.Decision))
	switch decision {
	case decisionViolation, "warning", "no violation", "praise":
	default:
		return model.Verdict{}, &RequestError{Op: "parse oracle verdict", Retryable: true, Err: fmt.Errorf("unknown decision %q", result.Decision)}
	}

	confidence := result.Confidence
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	verdict := model.Verdict{
		Approved:   decision != decisionViolation,
		Feedback:   strings.TrimSpace(result.Feedback),
		Confidence: confidence,
	}
	if !verdict.Approved && len(result.Violations) > 0 {
		v := strings.TrimSpace(result.Violations[0])
		if v != "" {
			verdict.ViolationType = &v
		}
	}
	return verdict, nil
}
