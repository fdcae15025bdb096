package model

import "context"

// Objective verbs from the three-verb taxonomy used for lärandemål titles.
// The model is instructed to use exactly one of these per objective.
const (
	VerbLista      = "Lista"
	VerbAterge     = "Återge"
	VerbRedogorFor = "Redogör för"
)

// LearningObjective is one generated lärandemål with its supporting
// indicators and a verbatim excerpt from the fact base. The JSON field
// names are the Swedish wire names the model is asked to produce.
type LearningObjective struct {
	Title      string   `json:"larandemal"`
	Indicators []string `json:"indikatorer"`
	Reference  string   `json:"referens"`
}

// MCQ is one multiple-choice question generated for a learning objective.
type MCQ struct {
	Question      string   `json:"fraga"`
	CorrectAnswer string   `json:"ratt_svar"`
	Distractors   []string `json:"distraktorer"`
	Explanation   string   `json:"forklaring"`
	Reference     string   `json:"referens"`
}

// AppConfig holds runtime parameters set via CLI flags.
type AppConfig struct {
	LLMBaseURL     string
	LLMModel       string
	DefaultAPIKey  string // optional server-side key; users may override per session
	BasePath       string // URL prefix for sub-path deployments (e.g. "/sv")
	SecureCookies  bool   // Set Secure flag on cookies (disable for local dev)
	MaxUploadBytes int64
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}
