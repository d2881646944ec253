package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ivankudzin/modqueue/internal/config"
	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
)

func TestRuleOracleVerdicts(t *testing.T) {
	o, err := NewRuleOracle(config.RuleOracleConfig{
		MinLength:   10,
		BannedTerms: []string{"Crypto Giveaway"},
		Expressions: []config.RuleExpression{
			{
				Name:      "shouting",
				Expr:      `length > 20 && text.upperAscii() == text`,
				Violation: "shouting",
				Feedback:  "Lower your voice, citizen.",
			},
			{
				Name:      "links_in_dm",
				Expr:      `kind == "private_message" && text.contains("http")`,
				Violation: "link_in_private_message",
				Feedback:  "Links are not allowed in private messages.",
			},
		},
	})
	if err != nil {
		t.Fatalf("new rule oracle: %v", err)
	}

	tests := []struct {
		name      string
		text      string
		kind      enums.ContentKind
		approved  bool
		violation string
		feedback  string
	}{
		{name: "too short", text: "  hi there ", kind: enums.ContentKindPost, violation: ViolationTooShort, feedback: "Content must be at least 10 characters long."},
		{name: "exactly min length", text: "0123456789", kind: enums.ContentKindPost, approved: true},
		{name: "banned phrase", text: "Join my CRYPTO, giveaway today please", kind: enums.ContentKindPost, violation: ViolationBannedTerm, feedback: bannedTermMessage},
		{name: "banned word inside another word", text: "Discussing cryptography giveaways in general", kind: enums.ContentKindPost, approved: true},
		{name: "shouting", text: "THIS IS A VERY LOUD POST INDEED", kind: enums.ContentKindPost, violation: "shouting", feedback: "Lower your voice, citizen."},
		{name: "link in dm", text: "check out http://example.com now", kind: enums.ContentKindPrivateMessage, violation: "link_in_private_message", feedback: "Links are not allowed in private messages."},
		{name: "link in post", text: "check out http://example.com now", kind: enums.ContentKindPost, approved: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			v, err := o.Evaluate(context.Background(), tc.text, tc.kind, model.EvaluationContext{})
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if v.Approved != tc.approved {
				t.Fatalf("approved=%v want %v", v.Approved, tc.approved)
			}
			if tc.approved {
				if v.Confidence != ruleConfidence || v.Feedback != "" {
					t.Fatalf("unexpected approval verdict: %+v", v)
				}
				return
			}
			if v.ViolationType == nil || *v.ViolationType != tc.violation {
				t.Fatalf("unexpected violation: %v", v.ViolationType)
			}
			if v.Feedback != tc.feedback {
				t.Fatalf("unexpected feedback: %q", v.Feedback)
			}
		})
	}
}

func TestRuleOracleRejectsBadExpressions(t *testing.T) {
	for _, expr := range []string{"length >", `text + "x"`, ""} {
		_, err := NewRuleOracle(config.RuleOracleConfig{
			Expressions: []config.RuleExpression{{Name: "bad", Expr: expr}},
		})
		if err == nil {
			t.Fatalf("expected compile error for %q", expr)
		}
	}
}

func TestNewSelectsProvider(t *testing.T) {
	if _, err := New(config.OracleConfig{Provider: "rules"}, nil); err != nil {
		t.Fatalf("rules provider: %v", err)
	}
	if _, err := New(config.OracleConfig{Provider: "llm"}, nil); err == nil {
		t.Fatalf("llm provider without api key must fail")
	}
	if _, err := New(config.OracleConfig{Provider: "magic"}, nil); err == nil {
		t.Fatalf("unknown provider must fail")
	}
}

func newLLMServer(t *testing.T, handler http.HandlerFunc) *LLMOracle {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	o, err := NewLLMOracle(config.LLMOracleConfig{
		BaseURL: srv.URL,
		APIKey:  "sk-test",
		Model:   "test-model",
	}, srv.Client())
	if err != nil {
		t.Fatalf("new llm oracle: %v", err)
	}
	return o
}

func modelReply(t *testing.T, w http.ResponseWriter, text string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
	}); err != nil {
		t.Errorf("encode reply: %v", err)
	}
}

func TestLLMOracleParsesVerdict(t *testing.T) {
	o := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("missing api key header")
		}
		var req messagesRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !strings.Contains(req.System, "Content type: appeal") || !strings.Contains(req.System, "Author: Ada") {
			t.Errorf("system prompt is missing context: %s", req.System)
		}
		if len(req.Messages) != 1 || !strings.Contains(req.Messages[0].Content, "please unban me") {
			t.Errorf("user message is missing text: %+v", req.Messages)
		}
		modelReply(t, w, "Here you go:\n"+`{"decision":"Violation","confidence":0.82,"feedback":"Restating the insult is not an appeal.","violations":["abuse"]}`)
	})

	v, err := o.Evaluate(context.Background(), "please unban me", enums.ContentKindAppeal, model.EvaluationContext{AuthorDisplayName: "Ada", Language: "en"})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if v.Approved || v.Confidence != 0.82 {
		t.Fatalf("unexpected verdict: %+v", v)
	}
	if v.ViolationType == nil || *v.ViolationType != "abuse" {
		t.Fatalf("unexpected violation type: %v", v.ViolationType)
	}
	if v.Feedback != "Restating the insult is not an appeal." {
		t.Fatalf("unexpected feedback: %q", v.Feedback)
	}
}

func TestLLMOracleWarningApproves(t *testing.T) {
	o := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
		modelReply(t, w, `{"decision":"Warning","confidence":0.6,"feedback":"Cite a source next time.","violations":[]}`)
	})
	v, err := o.Evaluate(context.Background(), "The moon is made of cheese.", enums.ContentKindPost, model.EvaluationContext{})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !v.Approved || v.ViolationType != nil {
		t.Fatalf("warning must approve: %+v", v)
	}
}

func TestLLMOracleFailuresAreUnavailable(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		retryable bool
	}{
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{"error":"slow down"}`, retryable: true},
		{name: "server error", status: http.StatusBadGateway, body: "", retryable: true},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error":"bad model"}`, retryable: false},
		{name: "garbage output", status: http.StatusOK, body: `{"content":[{"type":"text","text":"I refuse"}]}`, retryable: true},
		{name: "unknown decision", status: http.StatusOK, body: `{"content":[{"type":"text","text":"{\"decision\":\"Maybe\"}"}]}`, retryable: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			})
			_, err := o.Evaluate(context.Background(), "some post text here", enums.ContentKindPost, model.EvaluationContext{})
			if !errors.Is(err, model.ErrOracleUnavailable) {
				t.Fatalf("expected ErrOracleUnavailable, got %v", err)
			}
			var reqErr *RequestError
			if !errors.As(err, &reqErr) {
				t.Fatalf("expected RequestError, got %T", err)
			}
			if reqErr.Retryable != tc.retryable {
				t.Fatalf("retryable=%v want %v", reqErr.Retryable, tc.retryable)
			}
			if errors.Is(err, model.ErrOracleRejected) == tc.retryable {
				t.Fatalf("ErrOracleRejected match must be the inverse of retryable (%v)", tc.retryable)
			}
		})
	}
}

func TestLLMOracleDeadlineIsTimeout(t *testing.T) {
	release := make(chan struct{})
	o := newLLMServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := o.Evaluate(ctx, "some post text here", enums.ContentKindPost, model.EvaluationContext{})
	if !errors.Is(err, model.ErrOracleTimeout) {
		t.Fatalf("expected ErrOracleTimeout, got %v", err)
	}
}
