package model

type EvaluationContext struct {
	AuthorDisplayName string
	Language          string
}

type Verdict struct {
	Approved      bool    `json:"approved"`
	Feedback      string  `json:"feedback"`
	Confidence    float64 `json:"confidence"`
	ViolationType *string `json:"violation_type,omitempty"`
}
