package oracle

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ivankudzin/modqueue/internal/config"
	"github.com/ivankudzin/modqueue/internal/domain/enums"
	"github.com/ivankudzin/modqueue/internal/domain/model"
)

type Oracle interface {
	Evaluate(ctx context.Context, text string, kind enums.ContentKind, ec model.EvaluationContext) (model.Verdict, error)
}

// New builds the oracle named by cfg.Provider.
func New(cfg config.OracleConfig, httpClient *http.Client) (Oracle, error) {
	switch cfg.Provider {
	case "", "rules":
		o, err := NewRuleOracle(cfg.Rules)
		if err != nil {
			return nil, err
		}
		return o, nil
	case "llm":
		o, err := NewLLMOracle(cfg.LLM, httpClient)
		if err != nil {
			return nil, err
		}
		return o, nil
	default:
		return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
	}
}
