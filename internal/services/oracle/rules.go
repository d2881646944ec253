package oracle

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/ext"

	"github.com/ivankudzin/modqueue/internal/config"
	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
)

const (
	ViolationTooShort   = "too_short"
	ViolationBannedTerm = "banned_term"

	ruleConfidence    = 0.9
	defaultMinLength  = 10
	bannedTermMessage = "Content contains language that is not permitted here."
)

type compiledRule struct {
	name      string
	violation string
	feedback  string
	prog      cel.Program
}

// RuleOracle judges content with local checks only: a minimum length,
// a banned term list and configured CEL expressions. A true expression
// rejects the content.
type RuleOracle struct {
	minLength int
	banned    []string
	rules     []compiledRule
}

func NewRuleOracle(cfg config.RuleOracleConfig) (*RuleOracle, error) {
	env, err := cel.NewEnv(
		cel.Variable("text", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("length", cel.IntType),
		cel.Variable("language", cel.StringType),
		cel.Variable("author", cel.StringType),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("create rule environment: %w", err)
	}

	rules := make([]compiledRule, 0, len(cfg.Expressions))
	for _, expr := range cfg.Expressions {
		source := strings.TrimSpace(expr.Expr)
		if source == "" {
			return nil, fmt.Errorf("rule %q: expression is empty", expr.Name)
		}
		ast, iss := env.Compile(source)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("rule %q: %w", expr.Name, iss.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("rule %q: expression must evaluate to bool, got %s", expr.Name, ast.OutputType())
		}
		prog, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", expr.Name, err)
		}
		violation := strings.TrimSpace(expr.Violation)
		if violation == "" {
			violation = strings.TrimSpace(expr.Name)
		}
		rules = append(rules, compiledRule{
			name:      expr.Name,
			violation: violation,
			feedback:  strings.TrimSpace(expr.Feedback),
			prog:      prog,
		})
	}

	minLength := cfg.MinLength
	if minLength <= 0 {
		minLength = defaultMinLength
	}

	banned := make([]string, 0, len(cfg.BannedTerms))
	for _, term := range cfg.BannedTerms {
		if normalized := normalizeWords(term); normalized != "" {
			banned = append(banned, normalized)
		}
	}

	return &RuleOracle{minLength: minLength, banned: banned, rules: rules}, nil
}

func (o *RuleOracle) Evaluate(ctx context.Context, text string, kind enums.ContentKind, ec model.EvaluationContext) (model.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return model.Verdict{}, fmt.Errorf("%w: %v", model.ErrOracleTimeout, err)
	}

	trimmed := strings.TrimSpace(text)
	length := utf8.RuneCountInString(trimmed)
	if length < o.minLength {
		return reject(ViolationTooShort, fmt.Sprintf("Content must be at least %d characters long.", o.minLength)), nil
	}

	if containsTerm(trimmed, o.banned) {
		return reject(ViolationBannedTerm, bannedTermMessage), nil
	}

	vars := map[string]any{
		"text":     trimmed,
		"kind":     string(kind),
		"length":   int64(length),
		"language": ec.Language,
		"author":   ec.AuthorDisplayName,
	}
	for _, rule := range o.rules {
		out, _, err := rule.prog.ContextEval(ctx, vars)
		if err != nil {
			if ctx.Err() != nil {
				return model.Verdict{}, fmt.Errorf("%w: %v", model.ErrOracleTimeout, ctx.Err())
			}
			return model.Verdict{}, fmt.Errorf("%w: rule %q: %v", model.ErrOracleUnavailable, rule.name, err)
		}
		if matched, ok := out.Value().(bool); ok && matched {
			return reject(rule.violation, rule.feedback), nil
		}
	}

	return model.Verdict{Approved: true, Confidence: ruleConfidence}, nil
}

func reject(violation, feedback string) model.Verdict {
	v := violation
	return model.Verdict{
		Approved:      false,
		Feedback:      feedback,
		Confidence:    1,
		ViolationType: &v,
	}
}

// containsTerm matches whole words or phrases, ignoring case and punctuation.
func containsTerm(text string, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	haystack := " " + normalizeWords(text) + " "
	for _, term := range terms {
		if strings.Contains(haystack, " "+term+" ") {
			return true
		}
	}
	return false
}

func normalizeWords(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
